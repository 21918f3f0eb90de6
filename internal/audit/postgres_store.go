package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/gyaneshwarpardhi/merchant-shield/migrations"
)

// PostgresStore persists audit records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	p, err := goose.NewProvider(goose.DialectPostgres, s.db, migrations.FS)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, rec *Record) error {
	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	respJSON, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_audit_log (id, request, response, fraud_probability, flagged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		rec.ID,
		reqJSON,
		respJSON,
		rec.Response.FraudProbability,
		rec.Response.Flagged,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request, response, created_at
		FROM risk_audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var (
			rec       Record
			reqJSON   []byte
			respJSON  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &reqJSON, &respJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal(reqJSON, &rec.Request); err != nil {
			return nil, fmt.Errorf("audit entry %s: decode request: %w", rec.ID, err)
		}
		if err := json.Unmarshal(respJSON, &rec.Response); err != nil {
			return nil, fmt.Errorf("audit entry %s: decode response: %w", rec.ID, err)
		}
		rec.Timestamp = createdAt.UTC()
		result = append(result, &rec)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
