package task

import (
	"context"
	"encoding/json"
	"time"
)

type ID uint64

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
)

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Task is a point-in-time copy of a registry entry. Result is set only
// when Status is StatusCompleted.
type Task struct {
	ID        ID              `json:"id"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Handle tells running work to stop at its next ctx.Done() check.
type Handle struct {
	cancel context.CancelFunc
}

func NewHandle(cancel context.CancelFunc) Handle {
	return Handle{cancel: cancel}
}

// RequestCancel is safe to call any number of times.
func (h Handle) RequestCancel() {
	if h.cancel != nil {
		h.cancel()
	}
}
