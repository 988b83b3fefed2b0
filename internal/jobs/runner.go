package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/variance-tracker/internal/logger"
)

// Payload identifies one analysis to run.
type Payload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Force     bool   `json:"force"`
}

// AnalyzeFunc runs the analysis of one session.
type AnalyzeFunc func(ctx context.Context, p Payload) error

// Runner executes analyses and records their status.
type Runner struct {
	store   Store
	analyze AnalyzeFunc
	notify  func(Job)
	now     func() time.Time
}

// NewRunner creates a runner recording into store.
func NewRunner(store Store, analyze AnalyzeFunc) *Runner {
	return &Runner{store: store, analyze: analyze, now: time.Now}
}

// OnUpdate registers a callback receiving every recorded status change.
func (r *Runner) OnUpdate(fn func(Job)) {
	r.notify = fn
}

// Store returns the status store.
func (r *Runner) Store() Store {
	return r.store
}

// MarkProcessing records a job as processing before it is queued, so the
// status endpoint never reports not_started for an accepted request.
func (r *Runner) MarkProcessing(ctx context.Context, p Payload) (*Job, error) {
	job := Job{
		ID:        uuid.NewString(),
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Status:    StatusProcessing,
		StartedAt: r.now(),
	}
	if err := r.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record job: %w", err)
	}
	if r.notify != nil {
		r.notify(job)
	}
	return &job, nil
}

// Run executes one analysis and records completed or failed.
func (r *Runner) Run(ctx context.Context, p Payload) error {
	log := logger.WithFields(logrus.Fields{
		"session_id": p.SessionID,
		"user_id":    p.UserID,
	})

	job, err := r.store.Get(ctx, p.SessionID)
	if err != nil || job.Status != StatusProcessing {
		job, err = r.MarkProcessing(ctx, p)
		if err != nil {
			return err
		}
	}

	start := time.Now()
	runErr := r.analyze(ctx, p)

	done := r.now()
	job.CompletedAt = &done
	if runErr != nil {
		job.Status = StatusFailed
		job.Error = runErr.Error()
		log.WithError(runErr).Error("analysis job failed")
	} else {
		job.Status = StatusCompleted
		log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("analysis job completed")
	}

	if err := r.store.Set(context.WithoutCancel(ctx), *job); err != nil {
		log.WithError(err).Warn("failed to record job status")
	}
	if r.notify != nil {
		r.notify(*job)
	}
	return runErr
}
