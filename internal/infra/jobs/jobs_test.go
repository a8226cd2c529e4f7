package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
	"github.com/openctemio/groups/pkg/logger"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: "q", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeNotifier struct {
	events []membership.Event
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, e membership.Event) error {
	f.events = append(f.events, e)
	return f.err
}

type fakePurger struct {
	olderThan time.Duration
	n         int
	err       error
}

func (f *fakePurger) PurgeStaleDraftInvites(_ context.Context, olderThan time.Duration) (int, error) {
	f.olderThan = olderThan
	return f.n, f.err
}

func sentInviteEvent() membership.Event {
	return membership.Event{
		Op:         membership.OpInvite,
		UserID:     shared.NewID(),
		GroupID:    shared.NewID(),
		ActorID:    shared.NewID(),
		From:       membership.StateNone,
		To:         membership.StateSentInvite,
		Message:    "come along",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestClient_Publish(t *testing.T) {
	fe := &fakeEnqueuer{}
	c := newClient(fe, logger.NewNop())

	event := sentInviteEvent()
	require.NoError(t, c.Publish(context.Background(), event))
	require.Len(t, fe.tasks, 1)
	assert.Equal(t, TypeMembershipTransition, fe.tasks[0].Type())

	var decoded membership.Event
	require.NoError(t, json.Unmarshal(fe.tasks[0].Payload(), &decoded))
	assert.Equal(t, event, decoded)
}

func TestClient_Publish_SkipsSilentEvents(t *testing.T) {
	fe := &fakeEnqueuer{}
	c := newClient(fe, logger.NewNop())

	event := sentInviteEvent()
	event.To = membership.StateDraftInvite
	require.NoError(t, c.Publish(context.Background(), event))
	assert.Empty(t, fe.tasks)
}

func TestClient_Publish_EnqueueError(t *testing.T) {
	fe := &fakeEnqueuer{err: errors.New("redis down")}
	c := newClient(fe, logger.NewNop())

	err := c.Publish(context.Background(), sentInviteEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestClient_EnqueueCleanupDrafts(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		fe := &fakeEnqueuer{}
		c := newClient(fe, logger.NewNop())

		require.NoError(t, c.EnqueueCleanupDrafts(context.Background(), time.Hour))
		require.Len(t, fe.tasks, 1)

		var p CleanupDraftsPayload
		require.NoError(t, json.Unmarshal(fe.tasks[0].Payload(), &p))
		assert.Equal(t, time.Hour, p.OlderThan)
	})

	t.Run("duplicate is not an error", func(t *testing.T) {
		fe := &fakeEnqueuer{err: asynq.ErrDuplicateTask}
		c := newClient(fe, logger.NewNop())
		assert.NoError(t, c.EnqueueCleanupDrafts(context.Background(), time.Hour))
	})
}

func TestHandleTransition(t *testing.T) {
	event := sentInviteEvent()
	task, err := NewTransitionTask(event)
	require.NoError(t, err)

	t.Run("delivers", func(t *testing.T) {
		n := &fakeNotifier{}
		h := NewMembershipTaskHandler(n, nil, logger.NewNop())

		require.NoError(t, h.HandleTransition(context.Background(), task))
		require.Len(t, n.events, 1)
		assert.Equal(t, event.UserID, n.events[0].UserID)
	})

	t.Run("notifier failure is retried", func(t *testing.T) {
		n := &fakeNotifier{err: errors.New("smtp timeout")}
		h := NewMembershipTaskHandler(n, nil, logger.NewNop())

		err := h.HandleTransition(context.Background(), task)
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload skips retry", func(t *testing.T) {
		h := NewMembershipTaskHandler(&fakeNotifier{}, nil, logger.NewNop())

		err := h.HandleTransition(context.Background(), asynq.NewTask(TypeMembershipTransition, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("silent event acknowledged", func(t *testing.T) {
		n := &fakeNotifier{}
		h := NewMembershipTaskHandler(n, nil, logger.NewNop())

		silent := event
		silent.Op = membership.OpLeave
		task, err := NewTransitionTask(silent)
		require.NoError(t, err)

		require.NoError(t, h.HandleTransition(context.Background(), task))
		assert.Empty(t, n.events)
	})
}

func TestHandleCleanupDrafts(t *testing.T) {
	task, err := NewCleanupDraftsTask(48 * time.Hour)
	require.NoError(t, err)

	t.Run("purges", func(t *testing.T) {
		p := &fakePurger{n: 3}
		h := NewMembershipTaskHandler(nil, p, logger.NewNop())

		require.NoError(t, h.HandleCleanupDrafts(context.Background(), task))
		assert.Equal(t, 48*time.Hour, p.olderThan)
	})

	t.Run("store failure", func(t *testing.T) {
		p := &fakePurger{err: errors.New("connection reset")}
		h := NewMembershipTaskHandler(nil, p, logger.NewNop())

		assert.Error(t, h.HandleCleanupDrafts(context.Background(), task))
	})

	t.Run("non-positive age", func(t *testing.T) {
		h := NewMembershipTaskHandler(nil, &fakePurger{}, logger.NewNop())

		bad, err := NewCleanupDraftsTask(0)
		require.NoError(t, err)
		assert.ErrorIs(t, h.HandleCleanupDrafts(context.Background(), bad), asynq.SkipRetry)
	})
}

func TestRegisterHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	NewMembershipTaskHandler(&fakeNotifier{}, nil, logger.NewNop()).RegisterHandlers(mux)

	_, pattern := mux.Handler(asynq.NewTask(TypeMembershipTransition, nil))
	assert.Equal(t, TypeMembershipTransition, pattern)

	_, pattern = mux.Handler(asynq.NewTask(TypeMembershipCleanupDrafts, nil))
	assert.Empty(t, pattern, "cleanup is not registered without a purger")
}

type fakeCleanupEnqueuer struct {
	calls     int
	olderThan time.Duration
	err       error
}

func (f *fakeCleanupEnqueuer) EnqueueCleanupDrafts(_ context.Context, olderThan time.Duration) error {
	f.calls++
	f.olderThan = olderThan
	return f.err
}

func TestScheduler(t *testing.T) {
	_, err := NewScheduler(&fakeCleanupEnqueuer{}, "every now and then", time.Hour, logger.NewNop())
	require.Error(t, err)

	fe := &fakeCleanupEnqueuer{}
	s, err := NewScheduler(fe, "@hourly", 720*time.Hour, logger.NewNop())
	require.NoError(t, err)

	s.enqueueCleanup()
	assert.Equal(t, 1, fe.calls)
	assert.Equal(t, 720*time.Hour, fe.olderThan)

	fe.err = errors.New("redis down")
	s.enqueueCleanup()
	assert.Equal(t, 2, fe.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
