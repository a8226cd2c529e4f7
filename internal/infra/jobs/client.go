package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/internal/metrics"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/logger"
)

// enqueuer is the part of asynq.Client the job client uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client manages enqueueing background jobs using Asynq. It also serves as
// the engine's event publisher.
type Client struct {
	client enqueuer
	logger *logger.Logger
}

var _ app.EventPublisher = (*Client)(nil)

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return newClient(client, log)
}

func newClient(e enqueuer, log *logger.Logger) *Client {
	return &Client{
		client: e,
		logger: log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish enqueues a transition for delivery. Events no user is told about
// are dropped here rather than queued.
func (c *Client) Publish(ctx context.Context, event membership.Event) error {
	if !event.Notifies() {
		return nil
	}

	task, err := NewTransitionTask(event)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		metrics.MembershipEventsPublished.WithLabelValues(string(event.Op), "failed").Inc()
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.MembershipEventsPublished.WithLabelValues(string(event.Op), "queued").Inc()
	c.logger.Debug("membership transition queued",
		"task_id", info.ID,
		"op", event.Op,
		"user_id", event.UserID.String(),
		"group_id", event.GroupID.String(),
		"queue", info.Queue,
	)
	return nil
}

// EnqueueCleanupDrafts enqueues a stale-draft purge. A purge already queued
// is not an error.
func (c *Client) EnqueueCleanupDrafts(ctx context.Context, olderThan time.Duration) error {
	task, err := NewCleanupDraftsTask(olderThan)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Debug("draft cleanup already queued")
		return nil
	}
	if err != nil {
		c.logger.Error("failed to enqueue draft cleanup", "error", err)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("draft cleanup queued",
		"task_id", info.ID,
		"older_than", olderThan,
		"queue", info.Queue,
	)
	return nil
}
