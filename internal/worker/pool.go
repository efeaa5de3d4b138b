package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of background work. Its context is cancelled when the job
// is cancelled or the pool shuts down.
type Job func(ctx context.Context)

// Pool runs at most count jobs at a time while their contexts are live. Jobs
// beyond that wait for a free slot without blocking the submitter. A job whose
// context ends while it waits runs without a slot, so that it can record its
// outcome, and may briefly push the number of running jobs past count.
type Pool struct {
	slots  chan struct{}
	count  int
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewPool(count int, logger *zap.Logger) *Pool {
	if count <= 0 {
		logger.Warn("invalid worker count, using 1", zap.Int("count", count))
		count = 1
	}
	return &Pool{
		slots:  make(chan struct{}, count),
		count:  count,
		logger: logger.Named("worker"),
	}
}

func (p *Pool) Size() int {
	return p.count
}

// Go schedules job and returns at once. If ctx is done before a slot frees
// up, job still runs with that ctx so it can record its own outcome.
func (p *Pool) Go(ctx context.Context, job Job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-ctx.Done():
		}

		job(ctx)
	}()
}

// Stop waits until every scheduled job has returned.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.logger.Info("all workers stopped")
}

type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
