package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(l *Limiter, t *time.Time) {
	l.now = func() time.Time { return *t }
}

func TestAllow_BurstThenDeny(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(1, 2, time.Minute)
	fixedClock(l, &now)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// Other clients have their own bucket.
	assert.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestAllow_DisabledWhenRateZero(t *testing.T) {
	l := New(0, 1, time.Minute)
	assert.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.Zero(t, l.Len())
}

func TestUpdate_AppliesToExistingClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(1, 1, time.Minute)
	fixedClock(l, &now)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	l.Update(0, 1)
	assert.True(t, l.Allow("a"))

	l.Update(1000, 5)
	now = now.Add(time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("a"), "request %d", i)
	}
}

func TestCleanup_RemovesIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(10, 10, time.Minute)
	fixedClock(l, &now)

	l.Allow("old")
	now = now.Add(45 * time.Second)
	l.Allow("new")
	now = now.Add(30 * time.Second)

	assert.Equal(t, 1, l.Cleanup())
	assert.Equal(t, 1, l.Len())
}
