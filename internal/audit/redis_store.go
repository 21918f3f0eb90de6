package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream audit records are appended to.
const DefaultStream = "merchant-shield:audit"

// RedisStore appends audit records to a capped Redis stream.
type RedisStore struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisStore creates a stream-backed store. maxLen caps the stream
// (approximately); 0 leaves it uncapped.
func NewRedisStore(rdb *redis.Client, stream string, maxLen int64) *RedisStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStore{rdb: rdb, stream: stream, maxLen: maxLen}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, stream string, maxLen int64) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return NewRedisStore(rdb, stream, maxLen), nil
}

func (s *RedisStore) Record(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"id": rec.ID, "record": string(data)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	msgs, err := s.rdb.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	out := make([]*Record, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["record"].(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("audit stream entry %s: %w", m.ID, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
