package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesAllWork(t *testing.T) {
	var processed int64
	var wg sync.WaitGroup

	pool := NewPool(4, 32, func(_ context.Context, _ int) error {
		atomic.AddInt64(&processed, 1)
		wg.Done()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(20), atomic.LoadInt64(&processed))
}

func TestPoolCountsFailures(t *testing.T) {
	var wg sync.WaitGroup
	pool := NewPool(2, 8, func(_ context.Context, n int) error {
		defer wg.Done()
		if n%2 == 1 {
			return errors.New("odd")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestPoolLifecycle(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ struct{}) error { return nil })

	assert.ErrorIs(t, pool.Submit(struct{}{}), ErrPoolNotStarted)
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(struct{}{}), ErrPoolStopped)

	assert.Panics(t, func() { NewPool[int](1, 1, nil) })
}

func TestPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	// one in flight, one queued, the next is dropped
	require.NoError(t, pool.Submit(1))
	var dropped bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(i); errors.Is(err, ErrQueueFull) {
			dropped = true
			break
		}
	}
	assert.True(t, dropped)
	assert.Greater(t, pool.Stats().Dropped, int64(0))

	close(block)
	require.NoError(t, pool.Stop(5*time.Second))
}

func TestPoolPrometheusRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	var wg sync.WaitGroup
	pool := NewPool(1, 4, func(_ context.Context, _ int) error {
		wg.Done()
		return nil
	}, WithPrometheus[int](reg, "geopatch_pool"))
	require.NoError(t, pool.Start(context.Background()))

	wg.Add(1)
	require.NoError(t, pool.Submit(1))
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["geopatch_pool_submitted_total"])
	assert.True(t, names["geopatch_pool_processed_total"])
}
