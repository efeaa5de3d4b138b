// Package failurelog appends failed job inputs as JSON lines so they can be
// inspected and replayed by hand.
package failurelog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Record struct {
	Time      time.Time       `json:"time"`
	TaskID    uint64          `json:"task_id,omitempty"`
	Error     string          `json:"error"`
	Backtrace []string        `json:"backtrace"`
	Input     json.RawMessage `json:"input,omitempty"`
	Path      string          `json:"path,omitempty"`
}

type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// Log writes one record per line. It is safe for concurrent use.
type Log struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// Open returns a Log backed by a size-rotated file.
func Open(opts Options) *Log {
	return New(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    max(opts.MaxSizeMB, 1),
		MaxBackups: opts.MaxBackups,
	})
}

func New(w io.WriteCloser) *Log {
	return &Log{w: w}
}

func (l *Log) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
