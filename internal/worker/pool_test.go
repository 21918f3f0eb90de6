package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/worker"
)

func TestPool_DoReturnsResult(t *testing.T) {
	p := worker.New(context.Background(), 2, 4, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	})
	defer p.Drain()

	got, err := p.Do(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestPool_DoPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	p := worker.New(context.Background(), 1, 1, func(_ context.Context, _ int) (int, error) {
		return 0, boom
	})
	defer p.Drain()

	_, err := p.Do(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
}

func TestPool_SubmitFullQueue(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := worker.New(context.Background(), 1, 1, func(_ context.Context, _ int) (struct{}, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return struct{}{}, nil
	})

	require.NoError(t, p.Submit(1))
	<-started // worker is now busy with job 1
	require.NoError(t, p.Submit(2), "queue slot should be free")
	assert.ErrorIs(t, p.Submit(3), worker.ErrFull, "queue is full, submit must not block")

	close(release)
	p.Drain()
}

func TestPool_DrainProcessesQueuedJobs(t *testing.T) {
	var processed atomic.Int64
	p := worker.New(context.Background(), 2, 16, func(_ context.Context, _ int) (struct{}, error) {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return struct{}{}, nil
	})
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(i))
	}
	p.Drain()
	assert.Equal(t, int64(10), processed.Load())

	assert.ErrorIs(t, p.Submit(11), worker.ErrClosed, "submit after drain must fail")
	_, err := p.Do(context.Background(), 12)
	assert.ErrorIs(t, err, worker.ErrClosed)
	p.Drain() // idempotent
}

func TestPool_SingleWorkerSerializesCalls(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	p := worker.New(context.Background(), 1, 0, func(_ context.Context, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(100 * time.Microsecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})
	defer p.Drain()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Do(context.Background(), i)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), maxInFlight.Load())
}

func TestPool_DoHonoursContext(t *testing.T) {
	release := make(chan struct{})
	p := worker.New(context.Background(), 1, 0, func(_ context.Context, _ int) (int, error) {
		<-release
		return 0, nil
	})
	defer func() {
		close(release)
		p.Drain()
	}()

	go func() { _, _ = p.Do(context.Background(), 1) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_Utilization(t *testing.T) {
	p := worker.New(context.Background(), 1, 0, func(_ context.Context, _ int) (int, error) { return 0, nil })
	defer p.Drain()
	assert.Equal(t, 0.0, p.Utilization())
	assert.Equal(t, 0, p.QueueCap())
}
