package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	status    Status
	handle    Handle
	result    json.RawMessage
	createdAt time.Time
	updatedAt time.Time
}

// Registry owns every task of the process. All methods are serialized by a
// single mutex and never block on I/O while holding it.
type Registry struct {
	mu        sync.Mutex
	next      ID
	allocated map[ID]struct{}
	tasks     map[ID]*entry
	retention time.Duration
	nowFn     func() time.Time
}

type Option func(*Registry)

// WithRetention makes Sweep evict terminal tasks that have not changed for
// at least d. Zero keeps tasks forever.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.nowFn = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		allocated: make(map[ID]struct{}),
		tasks:     make(map[ID]*entry),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Allocate() ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateLocked()
}

func (r *Registry) allocateLocked() ID {
	r.next++
	r.allocated[r.next] = struct{}{}
	return r.next
}

// Register inserts an allocated id as in progress. A duplicate or foreign id
// is a programming error and panics.
func (r *Registry) Register(id ID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(id, h)
}

func (r *Registry) registerLocked(id ID, h Handle) {
	if _, ok := r.allocated[id]; !ok {
		panic(fmt.Sprintf("task: register of unallocated or duplicate id %d", id))
	}
	delete(r.allocated, id)
	now := r.nowFn()
	r.tasks[id] = &entry{
		status:    StatusInProgress,
		handle:    h,
		createdAt: now,
		updatedAt: now,
	}
}

// Create allocates and registers in one step, so no observer ever sees an
// id that exists without a task behind it.
func (r *Registry) Create(h Handle) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocateLocked()
	r.registerLocked(id, h)
	return id
}

// Complete stores result and reports whether the task moved to completed.
// A task that is already terminal, or was swept after reaching a terminal
// state, keeps its state and the result is dropped.
func (r *Registry) Complete(id ID, result json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		if r.evictedLocked(id) {
			return false
		}
		panic(fmt.Sprintf("task: complete of unknown id %d", id))
	}
	if e.status != StatusInProgress {
		return false
	}
	e.status = StatusCompleted
	e.result = result
	e.handle = Handle{}
	e.updatedAt = r.nowFn()
	return true
}

// Cancel signals the task's handle and marks it cancelled. Unknown and
// terminal tasks are left alone.
func (r *Registry) Cancel(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok || e.status != StatusInProgress {
		return false
	}
	e.handle.RequestCancel()
	e.status = StatusCancelled
	e.handle = Handle{}
	e.updatedAt = r.nowFn()
	return true
}

// evictedLocked reports whether id was registered once and has since been
// swept.
func (r *Registry) evictedLocked(id ID) bool {
	if id == 0 || id > r.next {
		return false
	}
	_, pending := r.allocated[id]
	return !pending
}

func (r *Registry) Get(id ID) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return Task{
		ID:        id,
		Status:    e.status,
		Result:    e.result,
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Sweep drops terminal tasks past the retention window and returns how many
// were removed. In-progress tasks are never touched.
func (r *Registry) Sweep() int {
	if r.retention <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowFn().Add(-r.retention)
	removed := 0
	for id, e := range r.tasks {
		if e.status.Terminal() && !e.updatedAt.After(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) Retention() time.Duration {
	return r.retention
}
