package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

// TaskAnalyzeSession is the asynq task type of a session analysis.
const TaskAnalyzeSession = "analysis:session"

// QueueName is the asynq queue analysis tasks are placed on.
const QueueName = "analysis"

// Dispatcher starts an analysis without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, p Payload) error
}

// NewAnalyzeTask encodes a payload as an asynq task.
func NewAnalyzeTask(p Payload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	return asynq.NewTask(TaskAnalyzeSession, data), nil
}

// RedisConnOpt converts the Redis config to asynq connection options.
func RedisConnOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Queue enqueues analyses for the worker command.
type Queue struct {
	client *asynq.Client
	runner *Runner
}

// NewQueue creates an asynq-backed dispatcher. runner is used only to record
// the processing status before enqueueing.
func NewQueue(cfg config.RedisConfig, runner *Runner) *Queue {
	return &Queue{client: asynq.NewClient(RedisConnOpt(cfg)), runner: runner}
}

func (q *Queue) Dispatch(ctx context.Context, p Payload) error {
	task, err := NewAnalyzeTask(p)
	if err != nil {
		return err
	}
	job, err := q.runner.MarkProcessing(ctx, p)
	if err != nil {
		return err
	}

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.ID),
		asynq.Queue(QueueName),
		asynq.MaxRetry(constants.AnalysisTaskMaxRetry),
		asynq.Timeout(constants.AnalysisTaskTimeout),
	)
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		_ = q.runner.store.Set(context.WithoutCancel(ctx), *job)
		return fmt.Errorf("failed to enqueue analysis: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// LocalDispatcher runs analyses in a goroutine of the current process. It is
// used when no Redis is configured.
type LocalDispatcher struct {
	runner *Runner
}

// NewLocalDispatcher creates an in-process dispatcher.
func NewLocalDispatcher(runner *Runner) *LocalDispatcher {
	return &LocalDispatcher{runner: runner}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, p Payload) error {
	if _, err := d.runner.MarkProcessing(ctx, p); err != nil {
		return err
	}

	// The request context ends when the handler returns.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.AnalysisTaskTimeout)
	go func() {
		defer cancel()
		_ = d.runner.Run(bg, p)
	}()
	return nil
}

// HandleAnalyzeTask is the asynq handler of TaskAnalyzeSession.
func (r *Runner) HandleAnalyzeTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid analysis payload: %w: %w", err, asynq.SkipRetry)
	}
	if p.SessionID == "" || p.UserID == "" {
		return fmt.Errorf("analysis payload misses session or user: %w", asynq.SkipRetry)
	}
	return r.Run(ctx, p)
}

// Worker runs queued analyses.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates an asynq server processing TaskAnalyzeSession with runner.
func NewWorker(cfg config.RedisConfig, concurrency int, runner *Runner) *Worker {
	if concurrency <= 0 {
		concurrency = constants.DefaultWorkerConcurrency
	}
	server := asynq.NewServer(RedisConnOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      logger.Logger,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAnalyzeSession, runner.HandleAnalyzeTask)
	return &Worker{server: server, mux: mux}
}

// Run blocks until the process receives a termination signal.
func (w *Worker) Run() error {
	if err := w.server.Run(w.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
