package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/groups/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// WorkerOption is a functional option for configuring the Worker.
type WorkerOption func(*Worker)

// Worker processes background jobs.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   *logger.Logger
	notifier Notifier
	purger   DraftPurger
}

// WithNotifier sets where transition tasks are delivered.
func WithNotifier(n Notifier) WorkerOption {
	return func(w *Worker) {
		w.notifier = n
	}
}

// WithDraftPurger enables the stale-draft cleanup handler.
func WithDraftPurger(p DraftPurger) WorkerOption {
	return func(w *Worker) {
		w.purger = p
	}
}

// NewWorker creates a new background job worker.
func NewWorker(cfg WorkerConfig, log *logger.Logger, opts ...WorkerOption) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueNotifications: 5,
				QueueMaintenance:   1,
			},
			Logger: asynqLogger{log.With("component", "asynq")},
		},
	)

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: log.With("component", "worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.notifier == nil {
		w.notifier = NewLogNotifier(log)
	}

	NewMembershipTaskHandler(w.notifier, w.purger, log).RegisterHandlers(w.mux)
	w.logger.Info("membership task handlers registered", "cleanup", w.purger != nil)

	return w
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job worker")
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	<-ctx.Done()
	w.Stop()
	return nil
}

// asynqLogger routes asynq's own logging through the service logger.
type asynqLogger struct {
	l *logger.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
