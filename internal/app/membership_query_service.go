package app

import (
	"context"
	"fmt"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
	"github.com/openctemio/groups/pkg/logger"
	"github.com/openctemio/groups/pkg/pagination"
)

// ListOptions are shared by every membership view. Exclude holds group ids in
// user-centric views and user ids in group-centric ones.
type ListOptions struct {
	Page    int
	PerPage int
	Search  string
	Exclude []shared.ID
}

// InviteQuery narrows InvitesForGroup. A nil Sent returns drafts and sent
// invites alike.
type InviteQuery struct {
	Sent      *bool
	InviterID *shared.ID
}

// MemberQuery narrows GroupMembers.
type MemberQuery struct {
	Roles         []membership.Role
	IncludeBanned bool
}

// Membership types accepted by UserMemberships.
const (
	MembershipTypeMembership = "membership"
	MembershipTypeInvite     = "invite"
	MembershipTypeRequest    = "request"
)

// MembershipPage is one page of a membership view.
type MembershipPage = pagination.Result[*membership.Membership]

// MembershipQueryService answers read-only questions about memberships. It
// never writes.
type MembershipQueryService struct {
	members        membership.Repository
	groups         group.Repository
	logger         *logger.Logger
	defaultPerPage int
}

// NewMembershipQueryService creates a new MembershipQueryService.
func NewMembershipQueryService(members membership.Repository, groups group.Repository, log *logger.Logger, defaultPerPage int) *MembershipQueryService {
	return &MembershipQueryService{
		members:        members,
		groups:         groups,
		logger:         log.With("service", "membership_query"),
		defaultPerPage: defaultPerPage,
	}
}

// =============================================================================
// User-centric views
// =============================================================================

// AdminOf lists the groups the user administers.
func (s *MembershipQueryService) AdminOf(ctx context.Context, userID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.byRole(ctx, userID, membership.RoleAdmin, opts)
}

// ModOf lists the groups the user moderates.
func (s *MembershipQueryService) ModOf(ctx context.Context, userID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.byRole(ctx, userID, membership.RoleMod, opts)
}

// RegularOf lists the groups where the user is a plain member.
func (s *MembershipQueryService) RegularOf(ctx context.Context, userID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.byRole(ctx, userID, membership.RoleRegular, opts)
}

// BannedOf lists the groups the user is banned from.
func (s *MembershipQueryService) BannedOf(ctx context.Context, userID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.userView(ctx, userID, membership.Filter{
		Kinds:   []membership.Kind{membership.KindMember},
		Banned:  membership.Bool(true),
		OrderBy: membership.OrderGroupName,
	}, opts)
}

// RecentlyJoined lists the user's active memberships, newest first.
func (s *MembershipQueryService) RecentlyJoined(ctx context.Context, userID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.userView(ctx, userID, membership.Filter{
		Kinds:   []membership.Kind{membership.KindMember},
		Banned:  membership.Bool(false),
		OrderBy: membership.OrderDateModifiedDesc,
	}, opts)
}

// InvitesForUser lists the invites the user can see. Drafts are not visible.
func (s *MembershipQueryService) InvitesForUser(ctx context.Context, userID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.userView(ctx, userID, membership.Filter{
		Kinds:   []membership.Kind{membership.KindSentInvite},
		OrderBy: membership.OrderDateModifiedDesc,
	}, opts)
}

// UserMemberships lists the user's rows of one type: membership, invite or
// request.
func (s *MembershipQueryService) UserMemberships(ctx context.Context, userID shared.ID, typ string, opts ListOptions) (MembershipPage, error) {
	filter := membership.Filter{OrderBy: membership.OrderDateModifiedDesc}
	switch typ {
	case MembershipTypeMembership, "":
		filter.Kinds = []membership.Kind{membership.KindMember}
	case MembershipTypeInvite:
		filter.Kinds = []membership.Kind{membership.KindSentInvite}
	case MembershipTypeRequest:
		filter.Kinds = []membership.Kind{membership.KindRequest}
	default:
		return MembershipPage{}, shared.InvalidArgumentError(fmt.Sprintf("unknown membership type %q", typ))
	}
	return s.userView(ctx, userID, filter, opts)
}

func (s *MembershipQueryService) byRole(ctx context.Context, userID shared.ID, role membership.Role, opts ListOptions) (MembershipPage, error) {
	return s.userView(ctx, userID, membership.Filter{
		Kinds:   []membership.Kind{membership.KindMember},
		Roles:   []membership.Role{role},
		Banned:  membership.Bool(false),
		OrderBy: membership.OrderGroupName,
	}, opts)
}

func (s *MembershipQueryService) userView(ctx context.Context, userID shared.ID, filter membership.Filter, opts ListOptions) (MembershipPage, error) {
	if userID.IsZero() {
		return MembershipPage{}, shared.InvalidArgumentError("user id is required")
	}
	filter.UserID = &userID
	filter.ExcludeGroupIDs = opts.Exclude
	return s.list(ctx, filter, opts)
}

// =============================================================================
// Group-centric views
// =============================================================================

// InvitesForGroup lists a group's invites.
func (s *MembershipQueryService) InvitesForGroup(ctx context.Context, groupID shared.ID, q InviteQuery, opts ListOptions) (MembershipPage, error) {
	kinds := membership.InviteKinds
	if q.Sent != nil {
		kinds = []membership.Kind{membership.KindDraftInvite}
		if *q.Sent {
			kinds = []membership.Kind{membership.KindSentInvite}
		}
	}
	return s.groupView(ctx, groupID, membership.Filter{
		Kinds:     kinds,
		InviterID: q.InviterID,
		OrderBy:   membership.OrderDateModifiedDesc,
	}, opts)
}

// RequestsForGroup lists a group's pending membership requests, oldest first.
func (s *MembershipQueryService) RequestsForGroup(ctx context.Context, groupID shared.ID, opts ListOptions) (MembershipPage, error) {
	return s.groupView(ctx, groupID, membership.Filter{
		Kinds:   []membership.Kind{membership.KindRequest},
		OrderBy: membership.OrderDateModifiedAsc,
	}, opts)
}

// GroupMembers lists a group's confirmed members.
func (s *MembershipQueryService) GroupMembers(ctx context.Context, groupID shared.ID, q MemberQuery, opts ListOptions) (MembershipPage, error) {
	filter := membership.Filter{
		Kinds:   []membership.Kind{membership.KindMember},
		Roles:   q.Roles,
		OrderBy: membership.OrderDateModifiedAsc,
	}
	if !q.IncludeBanned {
		filter.Banned = membership.Bool(false)
	}
	return s.groupView(ctx, groupID, filter, opts)
}

// GroupAdmins returns the active admins of a group. An unknown group has none.
func (s *MembershipQueryService) GroupAdmins(ctx context.Context, groupID shared.ID) ([]*membership.Membership, error) {
	return s.staff(ctx, groupID, membership.RoleAdmin)
}

// GroupMods returns the active moderators of a group.
func (s *MembershipQueryService) GroupMods(ctx context.Context, groupID shared.ID) ([]*membership.Membership, error) {
	return s.staff(ctx, groupID, membership.RoleMod)
}

func (s *MembershipQueryService) staff(ctx context.Context, groupID shared.ID, role membership.Role) ([]*membership.Membership, error) {
	if groupID.IsZero() {
		return []*membership.Membership{}, nil
	}
	res, err := s.members.List(ctx, membership.Filter{
		GroupID: &groupID,
		Kinds:   []membership.Kind{membership.KindMember},
		Roles:   []membership.Role{role},
		Banned:  membership.Bool(false),
		OrderBy: membership.OrderDateModifiedAsc,
	})
	if err != nil {
		return nil, err
	}
	if res.Memberships == nil {
		return []*membership.Membership{}, nil
	}
	return res.Memberships, nil
}

func (s *MembershipQueryService) groupView(ctx context.Context, groupID shared.ID, filter membership.Filter, opts ListOptions) (MembershipPage, error) {
	if groupID.IsZero() {
		return MembershipPage{}, shared.InvalidArgumentError("group id is required")
	}
	filter.GroupID = &groupID
	filter.ExcludeUserIDs = opts.Exclude
	return s.list(ctx, filter, opts)
}

func (s *MembershipQueryService) list(ctx context.Context, filter membership.Filter, opts ListOptions) (MembershipPage, error) {
	page := pagination.NewWithDefault(opts.Page, opts.PerPage, s.defaultPerPage)
	filter.Search = opts.Search
	filter.Offset = page.Offset()
	filter.Limit = page.Limit()

	res, err := s.members.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list memberships", "error", err)
		return MembershipPage{}, err
	}
	return pagination.NewResult(res.Memberships, res.Total, page), nil
}

// =============================================================================
// Counts and lookups
// =============================================================================

// TotalGroupCount counts the groups the user actively belongs to.
func (s *MembershipQueryService) TotalGroupCount(ctx context.Context, userID shared.ID) (int, error) {
	if userID.IsZero() {
		return 0, nil
	}
	return s.count(ctx, membership.Filter{
		UserID: &userID,
		Kinds:  []membership.Kind{membership.KindMember},
		Banned: membership.Bool(false),
	})
}

// TotalMemberCount counts a group's active members.
func (s *MembershipQueryService) TotalMemberCount(ctx context.Context, groupID shared.ID) (int, error) {
	if groupID.IsZero() {
		return 0, nil
	}
	return s.count(ctx, membership.Filter{
		GroupID: &groupID,
		Kinds:   []membership.Kind{membership.KindMember},
		Banned:  membership.Bool(false),
	})
}

// InviteCountForUser counts the sent invites waiting for the user.
func (s *MembershipQueryService) InviteCountForUser(ctx context.Context, userID shared.ID) (int, error) {
	if userID.IsZero() {
		return 0, nil
	}
	return s.count(ctx, membership.Filter{
		UserID: &userID,
		Kinds:  []membership.Kind{membership.KindSentInvite},
	})
}

func (s *MembershipQueryService) count(ctx context.Context, filter membership.Filter) (int, error) {
	filter.Limit = 1
	res, err := s.members.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(res.Total), nil
}

// InviteUserIDsForGroup returns the ids of users invited to a group,
// optionally only by inviterID. sent selects sent invites over drafts.
func (s *MembershipQueryService) InviteUserIDsForGroup(ctx context.Context, groupID shared.ID, inviterID *shared.ID, sent bool) ([]shared.ID, error) {
	if groupID.IsZero() {
		return []shared.ID{}, nil
	}
	kind := membership.KindDraftInvite
	if sent {
		kind = membership.KindSentInvite
	}
	res, err := s.members.List(ctx, membership.Filter{
		GroupID:   &groupID,
		InviterID: inviterID,
		Kinds:     []membership.Kind{kind},
		OrderBy:   membership.OrderDateModifiedAsc,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]shared.ID, 0, len(res.Memberships))
	for _, m := range res.Memberships {
		ids = append(ids, m.UserID())
	}
	return ids, nil
}

// GetMembershipsByID returns the rows with the given ids. Unknown ids are
// skipped.
func (s *MembershipQueryService) GetMembershipsByID(ctx context.Context, ids []shared.ID) ([]*membership.Membership, error) {
	if len(ids) == 0 {
		return []*membership.Membership{}, nil
	}
	return s.members.GetByIDs(ctx, ids)
}

// Lookup returns the id of the pair's row of the given kind. kind may be a
// selector such as membership.KindAnyInvite.
func (s *MembershipQueryService) Lookup(ctx context.Context, userID, groupID shared.ID, kind membership.Kind) (shared.ID, error) {
	if userID.IsZero() || groupID.IsZero() {
		return shared.ID{}, shared.NotFoundError("membership not found")
	}
	if !kind.IsValid() {
		return shared.ID{}, shared.InvalidArgumentError(fmt.Sprintf("invalid kind %q", kind))
	}
	m, err := s.members.Get(ctx, userID, groupID, kind)
	if err != nil {
		return shared.ID{}, err
	}
	return m.ID(), nil
}

// PairState returns the observable state of a (user, group) pair.
func (s *MembershipQueryService) PairState(ctx context.Context, userID, groupID shared.ID) (membership.State, error) {
	if userID.IsZero() || groupID.IsZero() {
		return membership.StateNone, nil
	}
	rows, err := s.members.ListForPair(ctx, userID, groupID)
	if err != nil {
		return membership.StateNone, err
	}
	return membership.StateOf(rows...), nil
}

// =============================================================================
// Evaluator
// =============================================================================

// CanSendInvite reports whether the actor may invite to the group. It is false
// for an unknown group.
func (s *MembershipQueryService) CanSendInvite(ctx context.Context, actor membership.Actor, groupID shared.ID) (bool, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	m, err := s.confirmed(ctx, actor.UserID, groupID)
	if err != nil {
		return false, err
	}
	return membership.CanSendInvite(g.Settings(), m, actor.SiteAdmin), nil
}

// CanLeaveGroup reports whether the user could leave without leaving the group
// without an active admin.
func (s *MembershipQueryService) CanLeaveGroup(ctx context.Context, userID, groupID shared.ID) (bool, error) {
	m, err := s.confirmed(ctx, userID, groupID)
	if err != nil {
		return false, err
	}
	// Leaving without a confirmed row is a no-op for the engine.
	if m == nil {
		return true, nil
	}
	admins, err := s.count(ctx, membership.Filter{
		GroupID: &groupID,
		Kinds:   []membership.Kind{membership.KindMember},
		Roles:   []membership.Role{membership.RoleAdmin},
		Banned:  membership.Bool(false),
	})
	if err != nil {
		return false, err
	}
	return membership.CanLeaveWithoutBreakingAdminQuorum(m, admins), nil
}

// Capability returns the actor's standing in a group.
func (s *MembershipQueryService) Capability(ctx context.Context, actor membership.Actor, groupID shared.ID) (membership.CapabilityLevel, error) {
	m, err := s.confirmed(ctx, actor.UserID, groupID)
	if err != nil {
		return membership.CapabilityNone, err
	}
	return membership.CapabilityOf(m, actor.SiteAdmin), nil
}

func (s *MembershipQueryService) confirmed(ctx context.Context, userID, groupID shared.ID) (*membership.Membership, error) {
	if userID.IsZero() || groupID.IsZero() {
		return nil, nil
	}
	m, err := s.members.Get(ctx, userID, groupID, membership.KindMember)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	return m, err
}
