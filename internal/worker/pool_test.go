package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsJobs(t *testing.T) {
	pool := NewPool(2, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		pool.Go(context.Background(), func(ctx context.Context) {
			ran.Add(1)
		})
	}
	pool.Stop()

	assert.Equal(t, int32(10), ran.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(2, zap.NewNop())

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		pool.Go(context.Background(), func(ctx context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
		})
	}
	pool.Stop()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_GoDoesNotBlock(t *testing.T) {
	pool := NewPool(1, zap.NewNop())
	release := make(chan struct{})

	pool.Go(context.Background(), func(ctx context.Context) { <-release })

	done := make(chan struct{})
	go func() {
		pool.Go(context.Background(), func(ctx context.Context) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Go blocked while the pool was busy")
	}
	close(release)
	pool.Stop()
}

func TestPool_CancelledWhileQueued(t *testing.T) {
	pool := NewPool(1, zap.NewNop())
	release := make(chan struct{})
	pool.Go(context.Background(), func(ctx context.Context) { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	pool.Go(ctx, func(ctx context.Context) { errCh <- ctx.Err() })
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("queued job did not observe cancellation")
	}
	close(release)
	pool.Stop()
}

func TestRecover(t *testing.T) {
	err := Recover(func() error { panic("kaboom") })

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "panic: kaboom", err.Error())
	assert.NotEmpty(t, pe.Stack)

	assert.NoError(t, Recover(func() error { return nil }))
}

func TestPool_Size(t *testing.T) {
	assert.Equal(t, 3, NewPool(3, zap.NewNop()).Size())
	assert.Equal(t, 1, NewPool(0, zap.NewNop()).Size())
}
