// Package jobs provides background job definitions and handlers using Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/groups/internal/metrics"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/logger"
)

// =============================================================================
// Task Types
// =============================================================================

const (
	// TypeMembershipTransition delivers one committed transition to the notifier.
	TypeMembershipTransition = "membership:transition"

	// TypeMembershipCleanupDrafts purges draft invites nobody sent.
	TypeMembershipCleanupDrafts = "membership:cleanup_drafts"
)

// Queue names.
const (
	QueueNotifications = "notifications"
	QueueMaintenance   = "maintenance"
)

// =============================================================================
// Task Payloads
// =============================================================================

// CleanupDraftsPayload carries the age past which drafts are purged.
type CleanupDraftsPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// =============================================================================
// Task Creators
// =============================================================================

// NewTransitionTask creates a task for a committed transition.
func NewTransitionTask(event membership.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal transition payload: %w", err)
	}

	return asynq.NewTask(
		TypeMembershipTransition,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Queue(QueueNotifications),
	), nil
}

// NewCleanupDraftsTask creates a task purging drafts older than olderThan.
// Only one such task is queued at a time.
func NewCleanupDraftsTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(CleanupDraftsPayload{OlderThan: olderThan})
	if err != nil {
		return nil, fmt.Errorf("marshal cleanup payload: %w", err)
	}

	return asynq.NewTask(
		TypeMembershipCleanupDrafts,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueMaintenance),
		asynq.Unique(time.Hour),
	), nil
}

// =============================================================================
// Task Handlers
// =============================================================================

// Notifier delivers a transition to the people it concerns.
type Notifier interface {
	Notify(ctx context.Context, event membership.Event) error
}

// DraftPurger removes stale draft invites.
type DraftPurger interface {
	PurgeStaleDraftInvites(ctx context.Context, olderThan time.Duration) (int, error)
}

// LogNotifier writes notifiable transitions to the log. It stands in for a
// mail or push channel.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.With("component", "notifier")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event membership.Event) error {
	n.logger.Info("membership notification",
		"op", event.Op,
		"user_id", event.UserID.String(),
		"group_id", event.GroupID.String(),
		"actor_id", event.ActorID.String(),
		"from", event.From,
		"to", event.To,
	)
	return nil
}

// MembershipTaskHandler handles membership tasks.
type MembershipTaskHandler struct {
	notifier Notifier
	purger   DraftPurger
	logger   *logger.Logger
}

// NewMembershipTaskHandler creates a new handler. Either dependency may be nil,
// in which case its task type is not registered.
func NewMembershipTaskHandler(notifier Notifier, purger DraftPurger, log *logger.Logger) *MembershipTaskHandler {
	return &MembershipTaskHandler{
		notifier: notifier,
		purger:   purger,
		logger:   log.With("component", "membership_tasks"),
	}
}

// RegisterHandlers registers the handlers with the mux.
func (h *MembershipTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	if h.notifier != nil {
		mux.HandleFunc(TypeMembershipTransition, h.HandleTransition)
	}
	if h.purger != nil {
		mux.HandleFunc(TypeMembershipCleanupDrafts, h.HandleCleanupDrafts)
	}
}

// HandleTransition hands a transition to the notifier. Events users are not
// told about are acknowledged without delivery.
func (h *MembershipTaskHandler) HandleTransition(ctx context.Context, t *asynq.Task) error {
	var event membership.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipTransition, "invalid").Inc()
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if !event.Notifies() {
		metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipTransition, "skipped").Inc()
		return nil
	}

	if err := h.notifier.Notify(ctx, event); err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipTransition, "failed").Inc()
		h.logger.Error("failed to deliver membership notification",
			"op", event.Op,
			"user_id", event.UserID.String(),
			"group_id", event.GroupID.String(),
			"error", err,
		)
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipTransition, "success").Inc()
	return nil
}

// HandleCleanupDrafts purges stale draft invites.
func (h *MembershipTaskHandler) HandleCleanupDrafts(ctx context.Context, t *asynq.Task) error {
	var payload CleanupDraftsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipCleanupDrafts, "invalid").Inc()
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.OlderThan <= 0 {
		metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipCleanupDrafts, "invalid").Inc()
		return fmt.Errorf("older_than must be positive: %w", asynq.SkipRetry)
	}

	start := time.Now()
	purged, err := h.purger.PurgeStaleDraftInvites(ctx, payload.OlderThan)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipCleanupDrafts, "failed").Inc()
		h.logger.Error("failed to purge stale draft invites", "purged", purged, "error", err)
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues(TypeMembershipCleanupDrafts, "success").Inc()
	h.logger.Info("stale draft invites purged",
		"purged", purged,
		"older_than", payload.OlderThan,
		"duration", time.Since(start),
	)
	return nil
}
