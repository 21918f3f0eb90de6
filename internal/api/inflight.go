package api

import (
	"context"
	"net/http"
	"sync"
)

// Inflight counts requests currently inside a handler so shutdown can wait
// for them before closing what they depend on.
type Inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed while n == 0
}

// NewInflight returns an idle tracker.
func NewInflight() *Inflight {
	idle := make(chan struct{})
	close(idle)
	return &Inflight{idle: idle}
}

// Wrap tracks every request served by next.
func (f *Inflight) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.begin()
		defer f.end()
		next.ServeHTTP(w, r)
	})
}

func (f *Inflight) begin() {
	f.mu.Lock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *Inflight) end() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
	f.mu.Unlock()
}

// Len returns the number of requests in flight.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// Wait blocks until no request is in flight or ctx is done.
func (f *Inflight) Wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
