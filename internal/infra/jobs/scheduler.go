package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/groups/internal/metrics"
	"github.com/openctemio/groups/pkg/logger"
)

// CleanupEnqueuer enqueues the stale-draft purge.
type CleanupEnqueuer interface {
	EnqueueCleanupDrafts(ctx context.Context, olderThan time.Duration) error
}

// Scheduler enqueues periodic maintenance tasks. Only the enqueue happens on
// the cron goroutine; the work itself runs in the asynq worker.
type Scheduler struct {
	cron      *cron.Cron
	client    CleanupEnqueuer
	schedule  string
	olderThan time.Duration
	logger    *logger.Logger
}

// NewScheduler creates a scheduler that enqueues the draft cleanup on
// schedule, a standard cron spec or descriptor such as "@hourly".
func NewScheduler(client CleanupEnqueuer, schedule string, olderThan time.Duration, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		client:    client,
		schedule:  schedule,
		olderThan: olderThan,
		logger:    log.With("component", "scheduler"),
	}
	if _, err := s.cron.AddFunc(schedule, s.enqueueCleanup); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) enqueueCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.client.EnqueueCleanupDrafts(ctx, s.olderThan); err != nil {
		metrics.SchedulerRuns.WithLabelValues(TypeMembershipCleanupDrafts, "failed").Inc()
		s.logger.Error("scheduled draft cleanup failed", "error", err)
		return
	}
	metrics.SchedulerRuns.WithLabelValues(TypeMembershipCleanupDrafts, "success").Inc()
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running enqueue to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", "cleanup_schedule", s.schedule, "draft_ttl", s.olderThan)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}
