package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPool_RunsSubmittedWork(t *testing.T) {
	pool := NewRunPool(2)
	defer pool.Shutdown()

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(5), ran.Load())
	m := pool.Metrics()
	assert.Equal(t, int64(5), m.Completed)
	assert.Equal(t, int64(0), m.Active)
}

func TestRunPool_BoundsConcurrency(t *testing.T) {
	pool := NewRunPool(2)
	defer pool.Shutdown()

	var mu sync.Mutex
	active, peak := 0, 0
	for i := 0; i < 8; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, 2)
}

func TestRunPool_CountsFailures(t *testing.T) {
	pool := NewRunPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		return errors.New("run failed")
	}))
	pool.Wait()

	assert.Equal(t, int64(1), pool.Metrics().Failed)
}

func TestRunPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewRunPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestRunPool_SubmitRespectsContextWhileBlocked(t *testing.T) {
	pool := NewRunPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}

func TestRunPool_RecoverFromPanic(t *testing.T) {
	pool := NewRunPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("run blew up")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(0), m.Active)

	// The pool still accepts work afterwards.
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}
