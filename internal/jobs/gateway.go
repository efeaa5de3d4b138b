// Package jobs turns asynchronous operations into tasks tracked by a
// task.Registry.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/podushkina/linkarchive/internal/failurelog"
	"github.com/podushkina/linkarchive/internal/task"
	"github.com/podushkina/linkarchive/internal/worker"
)

// Operation is the work behind a task. It should return promptly once ctx
// is done.
type Operation func(ctx context.Context) (any, error)

type FailureRecorder interface {
	Append(rec failurelog.Record) error
}

type Gateway struct {
	registry *task.Registry
	pool     *worker.Pool
	failures FailureRecorder
	base     context.Context
	stop     context.CancelFunc
	logger   *zap.Logger
}

// NewGateway wires a gateway. failures may be nil, in which case failed
// inputs are only logged.
func NewGateway(registry *task.Registry, pool *worker.Pool, failures FailureRecorder, logger *zap.Logger) *Gateway {
	base, stop := context.WithCancel(context.Background())
	return &Gateway{
		registry: registry,
		pool:     pool,
		failures: failures,
		base:     base,
		stop:     stop,
		logger:   logger.Named("jobs"),
	}
}

// Submit registers op as an in-progress task, schedules it and returns the
// task id without waiting for it.
func (g *Gateway) Submit(route string, input json.RawMessage, op Operation) task.ID {
	ctx, cancel := context.WithCancel(g.base)
	id := g.registry.Create(task.NewHandle(cancel))

	g.logger.Debug("task submitted", zap.Uint64("task_id", uint64(id)), zap.String("path", route))

	g.pool.Go(ctx, func(ctx context.Context) {
		defer cancel()
		g.run(ctx, id, route, input, op)
	})
	return id
}

func (g *Gateway) run(ctx context.Context, id task.ID, route string, input json.RawMessage, op Operation) {
	logger := g.logger.With(zap.Uint64("task_id", uint64(id)), zap.String("path", route))

	var value any
	err := worker.Recover(func() error {
		var err error
		value, err = op(ctx)
		return err
	})

	var result json.RawMessage
	if err == nil {
		result, err = json.Marshal(value)
		if err != nil {
			err = fmt.Errorf("failed to serialize result: %w", err)
		}
	}

	var env *ErrorEnvelope
	if err != nil {
		e := NewErrorEnvelope(err, input, route)
		env = &e
		var merr error
		if result, merr = json.Marshal(env); merr != nil {
			logger.Warn("failed to serialize error envelope, dropping input", zap.Error(merr))
			e.Input = nil
			result, merr = json.Marshal(env)
		}
		if merr != nil {
			result = json.RawMessage(`{"error":"failed to serialize error envelope"}`)
		}
	}

	if !g.registry.Complete(id, result) {
		logger.Debug("result discarded, task already terminal", zap.Error(err))
		return
	}

	if env == nil {
		logger.Info("task completed")
		return
	}

	var pe *worker.PanicError
	if errors.As(err, &pe) {
		logger.Error("task panicked", zap.Any("panic", pe.Value), zap.ByteString("stack", pe.Stack))
	} else {
		logger.Warn("task failed", zap.Error(err))
	}
	g.recordFailure(logger, id, env)
}

func (g *Gateway) recordFailure(logger *zap.Logger, id task.ID, env *ErrorEnvelope) {
	if g.failures == nil {
		return
	}
	rec := failurelog.Record{
		TaskID:    uint64(id),
		Error:     env.Error,
		Backtrace: env.Backtrace,
		Input:     env.Input,
		Path:      env.Path,
	}
	if err := g.failures.Append(rec); err != nil {
		logger.Warn("failed to append failure log", zap.Error(err))
	}
}

func (g *Gateway) Cancel(id task.ID) bool {
	ok := g.registry.Cancel(id)
	if ok {
		g.logger.Info("task cancelled", zap.Uint64("task_id", uint64(id)))
	}
	return ok
}

func (g *Gateway) Registry() *task.Registry {
	return g.registry
}

// Shutdown cancels every running operation and waits for them to return.
func (g *Gateway) Shutdown() {
	g.stop()
	g.pool.Stop()
}
