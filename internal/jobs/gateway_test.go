package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podushkina/linkarchive/internal/failurelog"
	"github.com/podushkina/linkarchive/internal/task"
	"github.com/podushkina/linkarchive/internal/worker"
)

type memFailures struct {
	mu   sync.Mutex
	recs []failurelog.Record
	err  error
}

func (m *memFailures) Append(rec failurelog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memFailures) records() []failurelog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]failurelog.Record(nil), m.recs...)
}

func setupGateway(t *testing.T) (*Gateway, *task.Registry, *memFailures) {
	reg := task.NewRegistry()
	failures := &memFailures{}
	g := NewGateway(reg, worker.NewPool(4, zap.NewNop()), failures, zap.NewNop())
	t.Cleanup(g.Shutdown)
	return g, reg, failures
}

func waitTerminal(t *testing.T, reg *task.Registry, id task.ID) task.Task {
	var tsk task.Task
	require.Eventually(t, func() bool {
		var ok bool
		tsk, ok = reg.Get(id)
		return ok && tsk.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return tsk
}

func TestGateway_CompletesWithResult(t *testing.T) {
	g, reg, failures := setupGateway(t)
	input := json.RawMessage(`{"x":1}`)

	id := g.Submit("/test", input, func(ctx context.Context) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return map[string]int{"y": 2}, nil
	})

	tsk, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusInProgress, tsk.Status)

	tsk = waitTerminal(t, reg, id)
	assert.Equal(t, task.StatusCompleted, tsk.Status)
	assert.JSONEq(t, `{"y":2}`, string(tsk.Result))
	assert.Empty(t, failures.records())
}

func TestGateway_FailureIsCapturedAndLogged(t *testing.T) {
	g, reg, failures := setupGateway(t)
	input := json.RawMessage(`{"x":1}`)

	id := g.Submit("/test", input, func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	tsk := waitTerminal(t, reg, id)
	assert.Equal(t, task.StatusCompleted, tsk.Status)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(tsk.Result, &env))
	assert.Equal(t, "boom", env.Error)
	assert.Equal(t, []string{"boom"}, env.Backtrace)
	assert.JSONEq(t, `{"x":1}`, string(env.Input))
	assert.Equal(t, "/test", env.Path)

	require.Eventually(t, func() bool { return len(failures.records()) == 1 }, time.Second, 5*time.Millisecond)
	recs := failures.records()
	assert.Equal(t, "boom", recs[0].Error)
	assert.JSONEq(t, `{"x":1}`, string(recs[0].Input))
	assert.Equal(t, uint64(id), recs[0].TaskID)
}

func TestGateway_FailureWithNonJSONInput(t *testing.T) {
	g, reg, failures := setupGateway(t)

	id := g.Submit("/test", json.RawMessage("{not json"), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	tsk := waitTerminal(t, reg, id)
	assert.Equal(t, task.StatusCompleted, tsk.Status)
	require.NotEmpty(t, tsk.Result)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(tsk.Result, &env))
	assert.Equal(t, "boom", env.Error)
	assert.JSONEq(t, `"{not json"`, string(env.Input))

	require.Eventually(t, func() bool { return len(failures.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `"{not json"`, string(failures.records()[0].Input))
}

func TestGateway_BacktraceFollowsWrapping(t *testing.T) {
	g, reg, _ := setupGateway(t)

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		return nil, fmt.Errorf("failed to download link: %w", errors.New("exit status 1"))
	})

	tsk := waitTerminal(t, reg, id)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(tsk.Result, &env))
	assert.Equal(t, []string{"failed to download link: exit status 1", "exit status 1"}, env.Backtrace)
}

func TestGateway_FailureLogErrorTolerated(t *testing.T) {
	g, reg, failures := setupGateway(t)
	failures.err = errors.New("disk full")

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	tsk := waitTerminal(t, reg, id)
	assert.Equal(t, task.StatusCompleted, tsk.Status)
}

func TestGateway_PanicBecomesFailure(t *testing.T) {
	g, reg, failures := setupGateway(t)

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		panic("kaboom")
	})

	tsk := waitTerminal(t, reg, id)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(tsk.Result, &env))
	assert.Equal(t, "panic: kaboom", env.Error)
	require.Eventually(t, func() bool { return len(failures.records()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestGateway_UnserializableResult(t *testing.T) {
	g, reg, _ := setupGateway(t)

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		return make(chan int), nil
	})

	tsk := waitTerminal(t, reg, id)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(tsk.Result, &env))
	assert.Contains(t, env.Error, "failed to serialize result")
}

func TestGateway_CancelDiscardsLateResult(t *testing.T) {
	g, reg, failures := setupGateway(t)
	finished := make(chan struct{})

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		defer close(finished)
		select {
		case <-time.After(150 * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	assert.True(t, g.Cancel(id))

	tsk, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusCancelled, tsk.Status)

	<-finished
	time.Sleep(200 * time.Millisecond)

	tsk, _ = reg.Get(id)
	assert.Equal(t, task.StatusCancelled, tsk.Status)
	assert.Nil(t, tsk.Result)
	assert.Empty(t, failures.records())
}

func TestGateway_CancelIgnoringContext(t *testing.T) {
	g, reg, _ := setupGateway(t)
	release := make(chan struct{})

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		<-release
		return "ignored cancel", nil
	})

	require.True(t, g.Cancel(id))
	close(release)
	time.Sleep(50 * time.Millisecond)

	tsk, _ := reg.Get(id)
	assert.Equal(t, task.StatusCancelled, tsk.Status)
	assert.False(t, g.Cancel(id))
}

func TestGateway_MonotoneObservations(t *testing.T) {
	g, reg, _ := setupGateway(t)

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return 1, nil
	})

	var seen []task.Status
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		tsk, _ := reg.Get(id)
		if len(seen) == 0 || seen[len(seen)-1] != tsk.Status {
			seen = append(seen, tsk.Status)
		}
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, []task.Status{task.StatusInProgress, task.StatusCompleted}, seen)
}

func TestGateway_ShutdownCancelsRunning(t *testing.T) {
	reg := task.NewRegistry()
	g := NewGateway(reg, worker.NewPool(1, zap.NewNop()), nil, zap.NewNop())

	id := g.Submit("/test", nil, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g.Shutdown()

	tsk, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, tsk.Status)
	assert.Contains(t, string(tsk.Result), "context canceled")
}

func TestAsInput(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(AsInput([]byte(`{"a":1}`))))
	assert.Equal(t, `"plain text"`, string(AsInput([]byte("plain text"))))
}

func TestChain(t *testing.T) {
	base := errors.New("root")
	err := fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", base))

	assert.Equal(t, []string{"outer: middle: root", "middle: root", "root"}, Chain(err))
	assert.Nil(t, Chain(nil))
}
