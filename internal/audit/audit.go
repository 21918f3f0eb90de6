// Package audit persists a record of every scored request.
//
// Writes are fire-and-forget: Dispatch copies the request, places it on a
// bounded queue and returns immediately. Background workers write to the
// Store with their own timeout. A full queue or a closed dispatcher drops the
// record. A failed write is logged and counted, never retried.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/logging"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/metrics"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/risk"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/tracing"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/worker"
)

// MaxListLimit caps List page sizes.
const MaxListLimit = 1000

// ErrInvalidLimit is returned by List for a non-positive limit.
var ErrInvalidLimit = errors.New("limit must be positive")

// Record is one scored request and its result.
type Record struct {
	ID        string         `json:"id"`
	Request   map[string]any `json:"request"`
	Response  risk.Result    `json:"response"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is the durable audit sink.
type Store interface {
	// Record persists rec.
	Record(ctx context.Context, rec *Record) error
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]*Record, error)
	// Close releases the store's resources.
	Close() error
}

// Options tunes the Dispatcher.
type Options struct {
	Backend      string // label for metrics and logs
	Workers      int
	QueueDepth   int
	WriteTimeout time.Duration
}

// Dispatcher hands records to Store on background workers.
type Dispatcher struct {
	store   Store
	backend string
	timeout time.Duration
	pool    *worker.Pool[*Record, struct{}]
	now     func() time.Time
}

// NewDispatcher starts opts.Workers background writers. Workers stop after
// Close drains the queue or when ctx is cancelled.
func NewDispatcher(ctx context.Context, store Store, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Backend == "" {
		opts.Backend = "unknown"
	}
	d := &Dispatcher{
		store:   store,
		backend: opts.Backend,
		timeout: opts.WriteTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	d.pool = worker.New(ctx, opts.Workers, opts.QueueDepth, d.write)
	return d
}

// Dispatch enqueues an audit record for req/res and returns immediately.
// req is deep-copied, so the caller may reuse or mutate it afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, req map[string]any, res risk.Result) {
	rec := &Record{
		ID:        uuid.NewString(),
		Request:   copyMap(req),
		Response:  res,
		Timestamp: d.now(),
	}
	switch err := d.pool.Submit(rec); {
	case errors.Is(err, worker.ErrClosed):
		metrics.AuditDropped.WithLabelValues("closed").Inc()
		slog.Warn("audit dispatcher closed, record dropped",
			"audit_id", rec.ID, "request_id", logging.RequestID(ctx))
		return
	case err != nil:
		metrics.AuditDropped.WithLabelValues("queue_full").Inc()
		slog.Warn("audit queue full, record dropped",
			"audit_id", rec.ID, "request_id", logging.RequestID(ctx), "queue_cap", d.pool.QueueCap())
		return
	}
	metrics.AuditEnqueued.Inc()
	metrics.AuditQueueUtilization.Set(d.pool.Utilization())
}

// write runs on a worker. Its context is detached from the originating
// request so a client disconnect cannot cancel the write.
func (d *Dispatcher) write(ctx context.Context, rec *Record) (struct{}, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	wctx, span := tracing.StartSpan(wctx, "audit.write", tracing.AuditID(rec.ID))
	defer span.End()

	if err := d.store.Record(wctx, rec); err != nil {
		tracing.Fail(span, err)
		metrics.AuditWrites.WithLabelValues(d.backend, "error").Inc()
		slog.Error("audit write failed", "audit_id", rec.ID, "backend", d.backend, "err", err)
		return struct{}{}, nil
	}
	metrics.AuditWrites.WithLabelValues(d.backend, "success").Inc()
	metrics.AuditQueueUtilization.Set(d.pool.Utilization())
	return struct{}{}, nil
}

// QueueUtilization returns queue used / capacity (0–1).
func (d *Dispatcher) QueueUtilization() float64 {
	u := d.pool.Utilization()
	metrics.AuditQueueUtilization.Set(u)
	return u
}

// Close stops accepting records and waits for queued writes to finish.
func (d *Dispatcher) Close() {
	d.pool.Drain()
	metrics.AuditQueueUtilization.Set(0)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
