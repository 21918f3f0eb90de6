package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/metrics"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/worker"
)

// ErrInvalidProbability is returned when a classifier yields a value outside [0,1].
var ErrInvalidProbability = errors.New("classifier returned an invalid probability")

// EngineOptions tunes how the Engine shares its classifier.
type EngineOptions struct {
	// Serialize forces every call through one owning goroutine even when the
	// classifier reports itself safe for concurrent use.
	Serialize bool
	// QueueDepth bounds callers waiting for the owning goroutine.
	QueueDepth int
}

// Engine is the process-wide inference entry point. Score is safe for
// concurrent use: a classifier that is not ConcurrentSafe is only ever
// touched by a single dedicated goroutine.
type Engine struct {
	clf    Classifier
	owner  *worker.Pool[[]float64, float64]
	cancel context.CancelFunc
}

// NewEngine wraps clf.
func NewEngine(clf Classifier, opts EngineOptions) *Engine {
	e := &Engine{clf: clf}
	safe := false
	if cs, ok := clf.(concurrencySafe); ok {
		safe = cs.ConcurrentSafe()
	}
	if opts.Serialize || !safe {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.owner = worker.New(ctx, 1, opts.QueueDepth, func(_ context.Context, x []float64) (float64, error) {
			return clf.PredictProba(x)
		})
	}
	return e
}

// Serialized reports whether calls are funnelled through a single owner.
func (e *Engine) Serialized() bool { return e.owner != nil }

// Score returns the fraud probability for vec.
func (e *Engine) Score(ctx context.Context, vec []float64) (float64, error) {
	start := time.Now()
	var (
		p   float64
		err error
	)
	if e.owner != nil {
		// The owner may keep the slice after ctx expires; hand it a copy.
		x := append([]float64(nil), vec...)
		p, err = e.owner.Do(ctx, x)
	} else {
		p, err = e.clf.PredictProba(vec)
	}
	metrics.InferenceDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		metrics.InferenceErrors.Inc()
		return 0, fmt.Errorf("inference: %w", err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		metrics.InferenceErrors.Inc()
		return 0, fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}
	return p, nil
}

// Close stops the owning goroutine, if any.
func (e *Engine) Close() {
	if e.owner != nil {
		e.owner.Drain()
		e.cancel()
	}
}
