package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/audit"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/logging"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/metrics"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/risk"
)

// captureLogs routes the default logger into a buffer for the test's duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.NewWithWriter(&buf, "info", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func droppedCount(t *testing.T, reason string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.AuditDropped.WithLabelValues(reason).Write(&m))
	return m.GetCounter().GetValue()
}

// funcStore lets each test control Record's behaviour.
type funcStore struct {
	record func(ctx context.Context, rec *audit.Record) error
	calls  atomic.Int32
}

func (s *funcStore) Record(ctx context.Context, rec *audit.Record) error {
	s.calls.Add(1)
	return s.record(ctx, rec)
}

func (s *funcStore) List(context.Context, int) ([]*audit.Record, error) { return nil, nil }
func (s *funcStore) Close() error                                      { return nil }

func TestDispatcher_PersistsRecord(t *testing.T) {
	store := audit.NewMemoryStore(10)
	d := audit.NewDispatcher(context.Background(), store, audit.Options{Backend: "memory", Workers: 2, QueueDepth: 8})

	req := map[string]any{"amount": json.Number("250.0"), "hour": json.Number("3")}
	res := risk.NewResult(0.7321)
	d.Dispatch(context.Background(), req, res)
	d.Close()

	recs, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, req, recs[0].Request)
	assert.Equal(t, res, recs[0].Response)
	assert.NotEmpty(t, recs[0].ID)
	assert.WithinDuration(t, time.Now(), recs[0].Timestamp, 5*time.Second)
}

func TestDispatcher_DoesNotAliasCallerRequest(t *testing.T) {
	release := make(chan struct{})
	var got atomic.Value
	store := &funcStore{record: func(_ context.Context, rec *audit.Record) error {
		<-release
		got.Store(rec.Request)
		return nil
	}}
	d := audit.NewDispatcher(context.Background(), store, audit.Options{Workers: 1, QueueDepth: 1})

	req := map[string]any{"amount": json.Number("1"), "meta": map[string]any{"k": "v"}}
	d.Dispatch(context.Background(), req, risk.NewResult(0.1))

	// Caller mutates its map after handoff.
	req["amount"] = json.Number("999")
	req["meta"].(map[string]any)["k"] = "changed"
	close(release)
	d.Close()

	stored := got.Load().(map[string]any)
	assert.Equal(t, json.Number("1"), stored["amount"])
	assert.Equal(t, "v", stored["meta"].(map[string]any)["k"])
}

func TestDispatcher_DispatchNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	store := &funcStore{record: func(_ context.Context, _ *audit.Record) error {
		<-release
		return nil
	}}
	d := audit.NewDispatcher(context.Background(), store, audit.Options{Workers: 1, QueueDepth: 2})

	start := time.Now()
	for i := 0; i < 50; i++ {
		d.Dispatch(context.Background(), map[string]any{"i": i}, risk.NewResult(0.2))
	}
	assert.Less(t, time.Since(start), time.Second, "Dispatch must not wait on the store")

	close(release)
	d.Close()
	// One in flight plus at most QueueDepth queued; the rest were dropped.
	assert.LessOrEqual(t, store.calls.Load(), int32(3))
	assert.GreaterOrEqual(t, store.calls.Load(), int32(1))
}

func TestDispatcher_StoreFailureIsSwallowed(t *testing.T) {
	store := &funcStore{record: func(context.Context, *audit.Record) error {
		return errors.New("database unavailable")
	}}
	d := audit.NewDispatcher(context.Background(), store, audit.Options{Workers: 1, QueueDepth: 4})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), map[string]any{"a": 1}, risk.NewResult(0.9))
	})
	d.Close()
	assert.Equal(t, int32(1), store.calls.Load(), "failed writes are not retried")
}

func TestDispatcher_WriteOutlivesRequestContext(t *testing.T) {
	var writeErr atomic.Value
	store := &funcStore{record: func(ctx context.Context, _ *audit.Record) error {
		time.Sleep(10 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			writeErr.Store(err)
		}
		return nil
	}}
	d := audit.NewDispatcher(context.Background(), store, audit.Options{Workers: 1, QueueDepth: 1, WriteTimeout: time.Second})

	reqCtx, cancel := context.WithCancel(context.Background())
	d.Dispatch(reqCtx, map[string]any{"a": 1}, risk.NewResult(0.3))
	cancel() // client went away
	d.Close()

	assert.Nil(t, writeErr.Load())
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestDispatcher_WriteTimeout(t *testing.T) {
	var sawDeadline atomic.Bool
	store := &funcStore{record: func(ctx context.Context, _ *audit.Record) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		return nil
	}}
	d := audit.NewDispatcher(context.Background(), store, audit.Options{WriteTimeout: 50 * time.Millisecond})
	d.Dispatch(context.Background(), nil, risk.NewResult(0))
	d.Close()
	assert.True(t, sawDeadline.Load())
}

func TestDispatcher_AfterCloseDrops(t *testing.T) {
	logs := captureLogs(t)
	closedBefore := droppedCount(t, "closed")
	fullBefore := droppedCount(t, "queue_full")

	store := audit.NewMemoryStore(4)
	d := audit.NewDispatcher(context.Background(), store, audit.Options{})
	d.Close()
	d.Dispatch(context.Background(), map[string]any{"a": 1}, risk.NewResult(0.5))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0.0, d.QueueUtilization())

	assert.Contains(t, logs.String(), "audit dispatcher closed, record dropped")
	assert.NotContains(t, logs.String(), "audit queue full")
	assert.Equal(t, closedBefore+1, droppedCount(t, "closed"))
	assert.Equal(t, fullBefore, droppedCount(t, "queue_full"))
}

func TestDispatcher_FullQueueDropReason(t *testing.T) {
	logs := captureLogs(t)
	closedBefore := droppedCount(t, "closed")
	fullBefore := droppedCount(t, "queue_full")

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	store := &funcStore{record: func(context.Context, *audit.Record) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}
	d := audit.NewDispatcher(context.Background(), store, audit.Options{Workers: 1, QueueDepth: 1})

	d.Dispatch(context.Background(), map[string]any{"i": 1}, risk.NewResult(0.1))
	<-started // worker busy
	d.Dispatch(context.Background(), map[string]any{"i": 2}, risk.NewResult(0.1))
	d.Dispatch(context.Background(), map[string]any{"i": 3}, risk.NewResult(0.1))
	close(release)
	d.Close()

	assert.Contains(t, logs.String(), "audit queue full, record dropped")
	assert.NotContains(t, logs.String(), "audit dispatcher closed")
	assert.Equal(t, fullBefore+1, droppedCount(t, "queue_full"))
	assert.Equal(t, closedBefore, droppedCount(t, "closed"))
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestMemoryStore_RingNewestFirst(t *testing.T) {
	s := audit.NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, &audit.Record{ID: string(rune('a' + i))}))
	}
	assert.Equal(t, 3, s.Len())

	recs, err := s.List(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"e", "d", "c"}, ids)

	recs, err = s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "e", recs[0].ID)

	_, err = s.List(ctx, 0)
	assert.ErrorIs(t, err, audit.ErrInvalidLimit)
}
