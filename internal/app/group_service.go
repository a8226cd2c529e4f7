package app

import (
	"context"
	"time"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
	"github.com/openctemio/groups/pkg/logger"
	"github.com/openctemio/groups/pkg/pagination"
	"github.com/openctemio/groups/pkg/validator"
)

// CreateGroupInput represents the input for creating a group.
type CreateGroupInput struct {
	Name         string `validate:"required,min=2,max=100"`
	Slug         string `validate:"omitempty,slug"`
	Status       string `validate:"omitempty,group_status"`
	InviteStatus string `validate:"omitempty,invite_status"`
}

// UpdateGroupInput represents the input for updating a group. Empty fields are
// left unchanged.
type UpdateGroupInput struct {
	Name         string `validate:"omitempty,min=2,max=100"`
	Status       string `validate:"omitempty,group_status"`
	InviteStatus string `validate:"omitempty,invite_status"`
}

// GroupService handles group lifecycle. The creator's admin row is written
// together with the group; deleting a group removes every row of it.
type GroupService struct {
	groups    group.Repository
	members   membership.Repository
	validator *validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

// NewGroupService creates a new GroupService.
func NewGroupService(groups group.Repository, members membership.Repository, log *logger.Logger) *GroupService {
	return &GroupService{
		groups:    groups,
		members:   members,
		validator: validator.New(),
		logger:    log.With("service", "group"),
		now:       time.Now,
	}
}

// CreateGroup creates a group and makes the actor its first admin.
func (s *GroupService) CreateGroup(ctx context.Context, actor membership.Actor, input CreateGroupInput) (*group.Group, error) {
	s.logger.Info("creating group", "name", input.Name, "slug", input.Slug)

	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}
	if actor.UserID.IsZero() {
		return nil, shared.InvalidArgumentError("creator is required")
	}

	status, err := group.ParseStatus(input.Status)
	if err != nil {
		return nil, err
	}
	g, err := group.NewGroup(input.Name, input.Slug, status, actor.UserID)
	if err != nil {
		return nil, err
	}
	if input.InviteStatus != "" {
		inviteStatus, err := group.ParseInviteStatus(input.InviteStatus)
		if err != nil {
			return nil, err
		}
		if err := g.UpdateSettings(group.Settings{InviteStatus: inviteStatus}); err != nil {
			return nil, err
		}
	}

	creator, err := membership.NewMember(actor.UserID, g.ID(), membership.RoleAdmin, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.members.CreateGroupTx(ctx, g, creator); err != nil {
		return nil, err
	}

	s.logger.Info("group created", "id", g.ID().String(), "slug", g.Slug(), "creator_id", actor.UserID.String())
	return g, nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*group.Group, error) {
	id, err := shared.IDFromString(groupID)
	if err != nil {
		return nil, err
	}
	return s.groups.GetByID(ctx, id)
}

// GetGroupBySlug retrieves a group by slug.
func (s *GroupService) GetGroupBySlug(ctx context.Context, slug string) (*group.Group, error) {
	return s.groups.GetBySlug(ctx, slug)
}

// ResolveGroup accepts either an id or a slug.
func (s *GroupService) ResolveGroup(ctx context.Context, ref string) (*group.Group, error) {
	if id, err := shared.IDFromString(ref); err == nil {
		return s.groups.GetByID(ctx, id)
	}
	return s.groups.GetBySlug(ctx, ref)
}

// ListGroups lists groups ordered by name.
func (s *GroupService) ListGroups(ctx context.Context, search string, page pagination.Pagination) (pagination.Result[*group.Group], error) {
	groups, total, err := s.groups.List(ctx, group.Filter{
		Search: search,
		Limit:  page.Limit(),
		Offset: page.Offset(),
	})
	if err != nil {
		return pagination.Result[*group.Group]{}, err
	}
	return pagination.NewResult(groups, int64(total), page), nil
}

// UpdateGroup renames a group or changes its status and settings. Only admins
// of the group may do so.
func (s *GroupService) UpdateGroup(ctx context.Context, actor membership.Actor, groupID shared.ID, input UpdateGroupInput) (*group.Group, error) {
	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actor, groupID); err != nil {
		return nil, err
	}

	if input.Name != "" {
		if err := g.Rename(input.Name); err != nil {
			return nil, err
		}
	}
	if input.Status != "" {
		status, err := group.ParseStatus(input.Status)
		if err != nil {
			return nil, err
		}
		if err := g.UpdateStatus(status); err != nil {
			return nil, err
		}
	}
	if input.InviteStatus != "" {
		inviteStatus, err := group.ParseInviteStatus(input.InviteStatus)
		if err != nil {
			return nil, err
		}
		if err := g.UpdateSettings(group.Settings{InviteStatus: inviteStatus}); err != nil {
			return nil, err
		}
	}

	if err := s.groups.Update(ctx, g); err != nil {
		return nil, err
	}
	s.logger.Info("group updated",
		"id", g.ID().String(),
		"status", string(g.Status()),
		"invite_status", string(g.Settings().EffectiveInviteStatus()),
	)
	return g, nil
}

// UpdateSettings changes who may send invites for a group.
func (s *GroupService) UpdateSettings(ctx context.Context, actor membership.Actor, groupID shared.ID, inviteStatus string) (*group.Group, error) {
	if inviteStatus == "" {
		return nil, shared.InvalidArgumentError("invite status is required")
	}
	return s.UpdateGroup(ctx, actor, groupID, UpdateGroupInput{InviteStatus: inviteStatus})
}

// DeleteGroup removes a group and every membership row of it.
func (s *GroupService) DeleteGroup(ctx context.Context, actor membership.Actor, groupID shared.ID) error {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, actor, groupID); err != nil {
		return err
	}

	removed, err := s.members.DeleteByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.groups.Delete(ctx, groupID); err != nil {
		return err
	}

	s.logger.Info("group deleted", "id", groupID.String(), "memberships_removed", removed)
	return nil
}

func (s *GroupService) requireAdmin(ctx context.Context, actor membership.Actor, groupID shared.ID) error {
	if actor.SiteAdmin {
		return nil
	}
	var m *membership.Membership
	if !actor.UserID.IsZero() {
		var err error
		m, err = s.members.Get(ctx, actor.UserID, groupID, membership.KindMember)
		if err != nil && !shared.IsNotFound(err) {
			return err
		}
	}
	if !membership.CanAdminister(m, false) {
		return shared.UnauthorizedError("only group admins may change the group")
	}
	return nil
}
