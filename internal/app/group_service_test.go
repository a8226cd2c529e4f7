package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
	"github.com/openctemio/groups/pkg/logger"
	"github.com/openctemio/groups/pkg/pagination"
)

func TestGroupService_CreateGroup(t *testing.T) {
	f := newFixture(t)
	owner := shared.NewID()

	t.Run("creator becomes admin", func(t *testing.T) {
		g, err := f.groups.CreateGroup(f.ctx, membership.NewActor(owner), CreateGroupInput{
			Name:         "Chess Club",
			Status:       "private",
			InviteStatus: "mods",
		})
		require.NoError(t, err)
		assert.Equal(t, "chess-club", g.Slug())
		assert.Equal(t, group.StatusPrivate, g.Status())
		assert.Equal(t, group.InviteStatusMods, g.Settings().InviteStatus)
		assert.Equal(t, membership.StateAdmin, f.state(t, owner, g.ID()))
	})

	t.Run("duplicate slug", func(t *testing.T) {
		_, err := f.groups.CreateGroup(f.ctx, membership.NewActor(owner), CreateGroupInput{Name: "Chess  Club"})
		assert.True(t, shared.IsConflict(err))

		res, err := f.members.List(f.ctx, membership.Filter{UserID: &owner})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Total, "a failed create leaves no admin row behind")
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := f.groups.CreateGroup(f.ctx, membership.NewActor(owner), CreateGroupInput{Name: ""})
		assert.True(t, shared.IsInvalidArgument(err))

		_, err = f.groups.CreateGroup(f.ctx, membership.NewActor(owner), CreateGroupInput{Name: "Go Club", Status: "secret"})
		assert.True(t, shared.IsInvalidArgument(err))

		_, err = f.groups.CreateGroup(f.ctx, membership.Actor{}, CreateGroupInput{Name: "Go Club"})
		assert.True(t, shared.IsInvalidArgument(err))
	})
}

type failingGroupCreate struct {
	membership.Repository
	err error
}

func (r failingGroupCreate) CreateGroupTx(context.Context, *group.Group, *membership.Membership) error {
	return r.err
}

func TestGroupService_CreateGroup_StoreFailure(t *testing.T) {
	f := newFixture(t)
	storeErr := errors.New("connection reset")
	svc := NewGroupService(f.groupRepo, failingGroupCreate{Repository: f.members, err: storeErr}, logger.NewNop())

	_, err := svc.CreateGroup(f.ctx, membership.NewActor(shared.NewID()), CreateGroupInput{Name: "Chess Club"})
	assert.ErrorIs(t, err, storeErr)

	_, err = f.groupRepo.GetBySlug(f.ctx, "chess-club")
	assert.True(t, shared.IsNotFound(err))
}

func TestGroupService_UpdateGroup(t *testing.T) {
	f := newFixture(t)
	owner, regular := shared.NewID(), shared.NewID()
	g := f.createGroup(t, owner, "Chess Club", group.StatusPublic)
	f.addMember(t, g.ID(), regular, membership.RoleRegular)

	_, err := f.groups.UpdateSettings(f.ctx, membership.NewActor(regular), g.ID(), "admins")
	assert.True(t, shared.IsUnauthorized(err))

	_, err = f.groups.UpdateSettings(f.ctx, membership.NewActor(owner), g.ID(), "")
	assert.True(t, shared.IsInvalidArgument(err))

	updated, err := f.groups.UpdateGroup(f.ctx, membership.NewActor(owner), g.ID(), UpdateGroupInput{
		Name:         "Chess Masters",
		Status:       "hidden",
		InviteStatus: "admins",
	})
	require.NoError(t, err)
	assert.Equal(t, "Chess Masters", updated.Name())
	assert.Equal(t, group.StatusHidden, updated.Status())

	stored, err := f.groups.ResolveGroup(f.ctx, g.Slug())
	require.NoError(t, err)
	assert.Equal(t, group.InviteStatusAdmins, stored.Settings().InviteStatus)
}

func TestGroupService_DeleteGroup(t *testing.T) {
	f := newFixture(t)
	owner, user := shared.NewID(), shared.NewID()
	g := f.createGroup(t, owner, "Chess Club", group.StatusPublic)
	f.addMember(t, g.ID(), user, membership.RoleRegular)
	_, err := f.svc.Invite(f.ctx, membership.NewActor(owner), InviteInput{UserID: shared.NewID(), GroupID: g.ID()})
	require.NoError(t, err)

	err = f.groups.DeleteGroup(f.ctx, membership.NewActor(user), g.ID())
	assert.True(t, shared.IsUnauthorized(err))

	require.NoError(t, f.groups.DeleteGroup(f.ctx, membership.NewActor(owner), g.ID()))

	_, err = f.groups.GetGroup(f.ctx, g.ID().String())
	assert.True(t, shared.IsNotFound(err))
	n, err := f.query.TotalGroupCount(f.ctx, user)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGroupService_ListGroups(t *testing.T) {
	f := newFixture(t)
	owner := shared.NewID()
	for _, name := range []string{"Rock Band", "Jazz Trio", "Rock Climbers"} {
		f.createGroup(t, owner, name, group.StatusPublic)
	}

	res, err := f.groups.ListGroups(f.ctx, "rock", pagination.New(1, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Rock Band", res.Data[0].Name())
	assert.True(t, res.HasNext())
}
