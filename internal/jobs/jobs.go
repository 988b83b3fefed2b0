// Package jobs tracks asynchronous session analyses and dispatches them
// either to an asynq worker fleet or to an in-process goroutine.
package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when no job is recorded for a session.
var ErrJobNotFound = errors.New("job not found")

// Status is the lifecycle state of an analysis job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNotStarted Status = "not_started"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the recorded state of one session analysis. Jobs are keyed by
// session id; a new run replaces the previous record.
type Job struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store keeps job records for a bounded time.
type Store interface {
	Set(ctx context.Context, job Job) error
	// Get returns ErrJobNotFound for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (*Job, error)
	Delete(ctx context.Context, sessionID string) error
}
