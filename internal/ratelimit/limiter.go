// Package ratelimit keeps a token bucket per client key.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client. A zero or negative rate
// disables limiting. Settings can be changed at runtime with Update.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Limiter allowing rps requests per second per client with the
// given burst. Clients idle for longer than ttl are forgotten by Cleanup.
func New(rps float64, burst int, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := &Limiter{
		clients: make(map[string]*client),
		ttl:     ttl,
		now:     time.Now,
	}
	l.set(rps, burst)
	return l
}

func (l *Limiter) set(rps float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	l.rps = rate.Limit(rps)
	l.burst = burst
}

// Enabled reports whether requests are being limited.
func (l *Limiter) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rps > 0
}

// Allow reports whether the client identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	if l.rps <= 0 {
		l.mu.Unlock()
		return true
	}
	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	lim := c.limiter
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Update applies new settings to every tracked client and to clients seen later.
func (l *Limiter) Update(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(rps, burst)
	now := l.now()
	for _, c := range l.clients {
		c.limiter.SetLimitAt(now, l.rps)
		c.limiter.SetBurstAt(now, l.burst)
	}
	slog.Info("rate limit updated", "rps", rps, "burst", l.burst)
}

// Cleanup drops clients idle for longer than the ttl and returns how many
// were removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run calls Cleanup every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				slog.Debug("rate limiter cleanup", "removed", n)
			}
		}
	}
}
