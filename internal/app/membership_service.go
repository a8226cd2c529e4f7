package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/groups/internal/metrics"
	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
	"github.com/openctemio/groups/pkg/keylock"
	"github.com/openctemio/groups/pkg/logger"
	"github.com/openctemio/groups/pkg/validator"
)

const tracerName = "github.com/openctemio/groups/internal/app"

const defaultBatchSize = 100

// InviteInput represents the input for inviting a user to a group.
type InviteInput struct {
	UserID  shared.ID `validate:"required"`
	GroupID shared.ID `validate:"required"`
	Message string    `validate:"max=1000"`
	SendNow bool
}

// RequestInput represents the input for requesting membership of a group.
type RequestInput struct {
	UserID  shared.ID `validate:"required"`
	GroupID shared.ID `validate:"required"`
	Message string    `validate:"max=1000"`
}

// Transition is the outcome of an operation on one (user, group) pair.
type Transition struct {
	Op         membership.Op
	UserID     shared.ID
	GroupID    shared.ID
	From       membership.State
	To         membership.State
	Membership *membership.Membership
	Changed    bool
}

// MembershipService is the membership state machine. It is the only writer of
// membership rows.
//
// Every mutation runs under the pair lock of the row it touches and inside a
// store transaction. Bulk operations take one pair at a time.
type MembershipService struct {
	members   membership.Repository
	groups    group.Repository
	locker    Locker
	events    EventPublisher
	validator *validator.Validator
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
	batchSize int
}

// MembershipServiceOption is a functional option for MembershipService.
type MembershipServiceOption func(*MembershipService)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) MembershipServiceOption {
	return func(s *MembershipService) {
		s.locker = l
	}
}

// WithEventPublisher sets the transition event publisher.
func WithEventPublisher(p EventPublisher) MembershipServiceOption {
	return func(s *MembershipService) {
		s.events = p
	}
}

// WithClock overrides the time source used for date_modified.
func WithClock(now func() time.Time) MembershipServiceOption {
	return func(s *MembershipService) {
		s.now = now
	}
}

// WithBatchSize sets the page size bulk operations use to scan the store.
func WithBatchSize(n int) MembershipServiceOption {
	return func(s *MembershipService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(members membership.Repository, groups group.Repository, log *logger.Logger, opts ...MembershipServiceOption) *MembershipService {
	s := &MembershipService{
		members:   members,
		groups:    groups,
		locker:    keylock.New(),
		events:    NopPublisher{},
		validator: validator.New(),
		logger:    log.With("service", "membership"),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// Invitations
// =============================================================================

// Invite creates or refreshes an invite from actor to in.UserID. A sent invite
// meeting a pending request confirms the membership at once.
func (s *MembershipService) Invite(ctx context.Context, actor membership.Actor, in InviteInput) (*Transition, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if actor.UserID.IsZero() {
		return nil, shared.InvalidArgumentError("inviter is required")
	}
	if actor.Is(in.UserID) {
		return nil, shared.InvalidArgumentError("users cannot invite themselves")
	}
	g, err := s.groups.GetByID(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}

	op := pairOp{op: membership.OpInvite, actor: actor, userID: in.UserID, groupID: in.GroupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		inviter, err := p.actorRow(ctx)
		if err != nil {
			return nil, false, err
		}
		if !membership.CanSendInvite(g.Settings(), inviter, actor.SiteAdmin) {
			return nil, false, shared.UnauthorizedError("actor may not send invites for this group")
		}
		if p.row(membership.KindMember) != nil {
			return nil, false, shared.ConflictError("user is already a member of the group")
		}

		sent, draft := p.row(membership.KindSentInvite), p.row(membership.KindDraftInvite)
		var inv *membership.Membership
		switch {
		case sent != nil:
			if err := sent.Refresh(actor.UserID, in.Message, p.now); err != nil {
				return nil, false, err
			}
			if err := p.tx.Update(ctx, sent); err != nil {
				return nil, false, err
			}
			if draft != nil && in.SendNow {
				if err := p.tx.Delete(ctx, draft.ID()); err != nil {
					return nil, false, err
				}
			}
			inv = sent
		case draft != nil:
			if err := draft.Refresh(actor.UserID, in.Message, p.now); err != nil {
				return nil, false, err
			}
			if in.SendNow {
				if err := draft.MarkSent(p.now); err != nil {
					return nil, false, err
				}
			}
			if err := p.tx.Update(ctx, draft); err != nil {
				return nil, false, err
			}
			inv = draft
		default:
			m, err := membership.NewInvite(in.UserID, in.GroupID, actor.UserID, in.Message, in.SendNow, p.now)
			if err != nil {
				return nil, false, err
			}
			if err := p.tx.Insert(ctx, m); err != nil {
				return nil, false, err
			}
			inv = m
		}

		if inv.Kind() == membership.KindSentInvite && p.row(membership.KindRequest) != nil {
			if err := p.confirm(ctx, inv); err != nil {
				return nil, false, err
			}
		}
		return inv, true, nil
	})
}

// SendPendingInvites flips the group's draft invites to sent, optionally only
// those created by inviterID. It returns the number of invites sent.
func (s *MembershipService) SendPendingInvites(ctx context.Context, actor membership.Actor, groupID shared.ID, inviterID *shared.ID) (int, error) {
	if groupID.IsZero() {
		return 0, shared.InvalidArgumentError("group id is required")
	}
	ownInvites := inviterID != nil && actor.Is(*inviterID)
	if !ownInvites {
		if err := s.authorizeGroup(ctx, actor, groupID, membership.CanModerate); err != nil {
			return 0, err
		}
	}

	pairs, err := s.collectPairs(ctx, membership.Filter{
		GroupID:   &groupID,
		Kinds:     []membership.Kind{membership.KindDraftInvite},
		InviterID: inviterID,
		OrderBy:   membership.OrderDateModifiedAsc,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, pk := range pairs {
		op := pairOp{op: membership.OpSendInvite, actor: actor, userID: pk.userID, groupID: pk.groupID}
		t, err := s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
			draft := p.row(membership.KindDraftInvite)
			if draft == nil || (inviterID != nil && !draft.InviterID().Equals(*inviterID)) {
				return nil, false, nil
			}

			inv := draft
			if existing := p.row(membership.KindSentInvite); existing != nil {
				if err := p.tx.Delete(ctx, draft.ID()); err != nil {
					return nil, false, err
				}
				if err := existing.Refresh(draft.InviterID(), draft.Comments(), p.now); err != nil {
					return nil, false, err
				}
				if err := p.tx.Update(ctx, existing); err != nil {
					return nil, false, err
				}
				inv = existing
			} else {
				if err := draft.MarkSent(p.now); err != nil {
					return nil, false, err
				}
				if err := p.tx.Update(ctx, draft); err != nil {
					return nil, false, err
				}
			}

			if p.row(membership.KindRequest) != nil {
				if err := p.confirm(ctx, inv); err != nil {
					return nil, false, err
				}
			}
			return inv, true, nil
		})
		if err != nil {
			return sent, err
		}
		if t.Changed {
			sent++
		}
	}
	return sent, nil
}

// AcceptInvite confirms the user's membership from a sent invite and clears
// every other pending row of the pair.
func (s *MembershipService) AcceptInvite(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	op := pairOp{op: membership.OpAcceptInvite, actor: actor, userID: userID, groupID: groupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if err := p.requireSelf(); err != nil {
			return nil, false, err
		}
		if p.row(membership.KindMember) != nil {
			return nil, false, shared.ConflictError("user is already a member of the group")
		}
		inv := p.row(membership.KindSentInvite)
		if inv == nil {
			return nil, false, shared.NotFoundError("no sent invite for this user and group")
		}
		if err := p.confirm(ctx, inv); err != nil {
			return nil, false, err
		}
		return inv, true, nil
	})
}

// RejectInvite deletes the user's invites. Requests and membership are kept.
func (s *MembershipService) RejectInvite(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.removeInvites(ctx, membership.OpRejectInvite, actor, userID, groupID, true, func(_ context.Context, p *pairScope) error {
		return p.requireSelf()
	})
}

// DeleteInvite removes the user's invites. It is a no-op when none exist.
func (s *MembershipService) DeleteInvite(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.removeInvites(ctx, membership.OpRejectInvite, actor, userID, groupID, false, func(ctx context.Context, p *pairScope) error {
		if p.requireSelf() == nil || p.isInviter() {
			return nil
		}
		return p.requireActor(ctx, membership.CanModerate, "actor may not delete this invite")
	})
}

// UninviteUser withdraws the user's invites on behalf of the group.
func (s *MembershipService) UninviteUser(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.removeInvites(ctx, membership.OpUninvite, actor, userID, groupID, false, func(ctx context.Context, p *pairScope) error {
		if p.isInviter() {
			return nil
		}
		return p.requireActor(ctx, membership.CanModerate, "actor may not withdraw this invite")
	})
}

// DeleteAllGroupInvites removes every invite of a group, one pair at a time.
func (s *MembershipService) DeleteAllGroupInvites(ctx context.Context, actor membership.Actor, groupID shared.ID) (int, error) {
	if groupID.IsZero() {
		return 0, shared.InvalidArgumentError("group id is required")
	}
	if err := s.authorizeGroup(ctx, actor, groupID, membership.CanAdminister); err != nil {
		return 0, err
	}
	pairs, err := s.collectPairs(ctx, membership.Filter{GroupID: &groupID, Kinds: membership.InviteKinds})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, pk := range pairs {
		t, err := s.removeInvites(ctx, membership.OpUninvite, actor, pk.userID, pk.groupID, false, nil)
		if err != nil {
			return removed, err
		}
		if t.Changed {
			removed++
		}
	}
	return removed, nil
}

// PurgeStaleDraftInvites deletes draft invites untouched for longer than
// olderThan. Drafts are never visible to invitees, so this is silent cleanup.
func (s *MembershipService) PurgeStaleDraftInvites(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, shared.InvalidArgumentError("draft TTL must be positive")
	}
	cutoff := s.now().UTC().Add(-olderThan)
	pairs, err := s.collectPairs(ctx, membership.Filter{
		Kinds:          []membership.Kind{membership.KindDraftInvite},
		ModifiedBefore: &cutoff,
		OrderBy:        membership.OrderDateModifiedAsc,
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, pk := range pairs {
		op := pairOp{op: membership.OpPurgeDraft, actor: membership.SystemActor(), userID: pk.userID, groupID: pk.groupID}
		t, err := s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
			draft := p.row(membership.KindDraftInvite)
			if draft == nil || !draft.DateModified().Before(cutoff) {
				return nil, false, nil
			}
			return draft, true, p.tx.Delete(ctx, draft.ID())
		})
		if err != nil {
			return purged, err
		}
		if t.Changed {
			purged++
		}
	}
	metrics.StaleDraftsPurged.Add(float64(purged))
	if purged > 0 {
		s.logger.Info("stale draft invites purged", "count", purged, "cutoff", cutoff)
	}
	return purged, nil
}

func (s *MembershipService) removeInvites(
	ctx context.Context,
	opName membership.Op,
	actor membership.Actor,
	userID, groupID shared.ID,
	mustExist bool,
	authorize func(ctx context.Context, p *pairScope) error,
) (*Transition, error) {
	op := pairOp{op: opName, actor: actor, userID: userID, groupID: groupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if authorize != nil {
			if err := authorize(ctx, p); err != nil {
				return nil, false, err
			}
		}
		removed, err := p.deleteKinds(ctx, membership.InviteKinds...)
		if err != nil {
			return nil, false, err
		}
		if removed == 0 && mustExist {
			return nil, false, shared.NotFoundError("no invite for this user and group")
		}
		return nil, removed > 0, nil
	})
}

// =============================================================================
// Membership requests
// =============================================================================

// SendMembershipRequest asks to join a request-gated group. An existing
// request is returned as is; an outstanding sent invite is accepted instead.
func (s *MembershipService) SendMembershipRequest(ctx context.Context, actor membership.Actor, in RequestInput) (*Transition, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if !actor.Is(in.UserID) && !actor.SiteAdmin {
		return nil, shared.UnauthorizedError("users can only request membership for themselves")
	}
	g, err := s.groups.GetByID(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if !g.Status().IsRequestGated() {
		return nil, shared.InvalidArgumentError("public groups are joined directly")
	}

	op := pairOp{op: membership.OpRequest, actor: actor, userID: in.UserID, groupID: in.GroupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if m := p.row(membership.KindMember); m != nil {
			if m.IsBanned() {
				return nil, false, shared.UnauthorizedError("user is banned from the group")
			}
			return nil, false, shared.ConflictError("user is already a member of the group")
		}
		if req := p.row(membership.KindRequest); req != nil {
			return req, false, nil
		}
		if inv := p.row(membership.KindSentInvite); inv != nil {
			if err := p.confirm(ctx, inv); err != nil {
				return nil, false, err
			}
			return inv, true, nil
		}

		req, err := membership.NewRequest(in.UserID, in.GroupID, in.Message, p.now)
		if err != nil {
			return nil, false, err
		}
		if err := p.tx.Insert(ctx, req); err != nil {
			return nil, false, err
		}
		return req, true, nil
	})
}

// AcceptMembershipRequest confirms a requester at the regular role.
func (s *MembershipService) AcceptMembershipRequest(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	op := pairOp{op: membership.OpAcceptRequest, actor: actor, userID: userID, groupID: groupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if err := p.requireActor(ctx, membership.CanModerate, "actor may not accept membership requests"); err != nil {
			return nil, false, err
		}
		if p.row(membership.KindMember) != nil {
			return nil, false, shared.ConflictError("user is already a member of the group")
		}
		req := p.row(membership.KindRequest)
		if req == nil {
			return nil, false, shared.NotFoundError("no membership request for this user and group")
		}
		if err := p.confirm(ctx, req); err != nil {
			return nil, false, err
		}
		return req, true, nil
	})
}

// AcceptAllPendingRequests accepts every outstanding request of a group, one
// pair at a time. Requests withdrawn meanwhile are skipped.
func (s *MembershipService) AcceptAllPendingRequests(ctx context.Context, groupID shared.ID) (int, error) {
	if groupID.IsZero() {
		return 0, shared.InvalidArgumentError("group id is required")
	}
	pairs, err := s.collectPairs(ctx, membership.Filter{
		GroupID: &groupID,
		Kinds:   []membership.Kind{membership.KindRequest},
		OrderBy: membership.OrderDateModifiedAsc,
	})
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, pk := range pairs {
		_, err := s.AcceptMembershipRequest(ctx, membership.SystemActor(), pk.userID, pk.groupID)
		switch {
		case err == nil:
			accepted++
		case shared.IsNotFound(err), shared.IsConflict(err):
			continue
		default:
			return accepted, err
		}
	}
	return accepted, nil
}

// RejectMembershipRequest deletes a pending request. Invites and membership
// are kept.
func (s *MembershipService) RejectMembershipRequest(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.removeRequest(ctx, actor, userID, groupID, true)
}

// DeleteMembershipRequest is RejectMembershipRequest without the existence
// requirement.
func (s *MembershipService) DeleteMembershipRequest(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.removeRequest(ctx, actor, userID, groupID, false)
}

func (s *MembershipService) removeRequest(ctx context.Context, actor membership.Actor, userID, groupID shared.ID, mustExist bool) (*Transition, error) {
	op := pairOp{op: membership.OpRejectRequest, actor: actor, userID: userID, groupID: groupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if p.requireSelf() != nil {
			if err := p.requireActor(ctx, membership.CanModerate, "actor may not reject membership requests"); err != nil {
				return nil, false, err
			}
		}
		removed, err := p.deleteKinds(ctx, membership.KindRequest)
		if err != nil {
			return nil, false, err
		}
		if removed == 0 && mustExist {
			return nil, false, shared.NotFoundError("no membership request for this user and group")
		}
		return nil, removed > 0, nil
	})
}

// =============================================================================
// Joining and leaving
// =============================================================================

// JoinGroup confirms userID directly, defaulting to the actor. Joining a
// group one already belongs to succeeds without change.
func (s *MembershipService) JoinGroup(ctx context.Context, actor membership.Actor, groupID, userID shared.ID) (*Transition, error) {
	if userID.IsZero() {
		userID = actor.UserID
	}
	if groupID.IsZero() || userID.IsZero() {
		return nil, shared.InvalidArgumentError("user and group ids are required")
	}
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return nil, err
	}

	op := pairOp{op: membership.OpJoin, actor: actor, userID: userID, groupID: groupID}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if !actor.Is(userID) {
			if err := p.requireActor(ctx, membership.CanAdminister, "actor may not add members to this group"); err != nil {
				return nil, false, err
			}
		}

		if m := p.row(membership.KindMember); m != nil {
			if m.IsBanned() {
				return nil, false, shared.UnauthorizedError("user is banned from the group")
			}
			removed, err := p.deleteKinds(ctx, membership.PendingKinds...)
			return m, removed > 0, err
		}

		for _, kind := range []membership.Kind{membership.KindSentInvite, membership.KindRequest, membership.KindDraftInvite} {
			if pending := p.row(kind); pending != nil {
				if err := p.confirm(ctx, pending); err != nil {
					return nil, false, err
				}
				return pending, true, nil
			}
		}

		m, err := membership.NewMember(userID, groupID, membership.RoleRegular, p.now)
		if err != nil {
			return nil, false, err
		}
		if err := p.tx.Insert(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	})
}

// LeaveGroup removes the confirmed row of userID, defaulting to the actor.
// The last active admin cannot leave. Leaving a group one does not belong to
// is a no-op.
func (s *MembershipService) LeaveGroup(ctx context.Context, actor membership.Actor, groupID, userID shared.ID) (*Transition, error) {
	if userID.IsZero() {
		userID = actor.UserID
	}
	op := pairOp{op: membership.OpLeave, actor: actor, userID: userID, groupID: groupID, quorum: true}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		self := actor.Is(userID) && !actor.SiteAdmin
		if !self {
			if err := p.requireActor(ctx, membership.CanAdminister, "actor may not remove members from this group"); err != nil {
				return nil, false, err
			}
		}

		m := p.row(membership.KindMember)
		if m == nil {
			return nil, false, nil
		}
		if self && m.IsBanned() {
			return nil, false, shared.UnauthorizedError("banned members cannot leave the group")
		}
		if err := p.guardQuorum(ctx, m); err != nil {
			return nil, false, err
		}
		if err := p.tx.Delete(ctx, m.ID()); err != nil {
			return nil, false, err
		}
		return m, true, nil
	})
}

// =============================================================================
// Roles and bans
// =============================================================================

// Promote sets the role of a confirmed member.
func (s *MembershipService) Promote(ctx context.Context, actor membership.Actor, userID, groupID shared.ID, role membership.Role) (*Transition, error) {
	if !role.IsValid() {
		return nil, shared.InvalidArgumentError(fmt.Sprintf("invalid role %q", role))
	}
	return s.setRole(ctx, membership.OpPromote, actor, userID, groupID, role)
}

// Demote returns a confirmed member to the regular role.
func (s *MembershipService) Demote(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.setRole(ctx, membership.OpDemote, actor, userID, groupID, membership.RoleRegular)
}

func (s *MembershipService) setRole(ctx context.Context, opName membership.Op, actor membership.Actor, userID, groupID shared.ID, role membership.Role) (*Transition, error) {
	op := pairOp{op: opName, actor: actor, userID: userID, groupID: groupID, quorum: true}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if err := p.requireActor(ctx, membership.CanAdminister, "actor may not change member roles"); err != nil {
			return nil, false, err
		}
		m := p.row(membership.KindMember)
		if m == nil {
			return nil, false, shared.NotFoundError("user is not a member of the group")
		}
		if m.IsBanned() {
			return nil, false, shared.ConflictError("banned members cannot change role")
		}
		if m.Role() == role {
			return m, false, nil
		}
		if role != membership.RoleAdmin {
			if err := p.guardQuorum(ctx, m); err != nil {
				return nil, false, err
			}
		}
		if err := m.SetRole(role); err != nil {
			return nil, false, err
		}
		if err := p.tx.Update(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	})
}

// Ban suppresses a confirmed member's capabilities and keeps the row.
func (s *MembershipService) Ban(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.setBanned(ctx, membership.OpBan, actor, userID, groupID, true)
}

// Unban restores a banned member.
func (s *MembershipService) Unban(ctx context.Context, actor membership.Actor, userID, groupID shared.ID) (*Transition, error) {
	return s.setBanned(ctx, membership.OpUnban, actor, userID, groupID, false)
}

func (s *MembershipService) setBanned(ctx context.Context, opName membership.Op, actor membership.Actor, userID, groupID shared.ID, banned bool) (*Transition, error) {
	op := pairOp{op: opName, actor: actor, userID: userID, groupID: groupID, quorum: true}
	return s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
		if err := p.requireActor(ctx, membership.CanAdminister, "actor may not ban members"); err != nil {
			return nil, false, err
		}
		m := p.row(membership.KindMember)
		if m == nil {
			return nil, false, shared.NotFoundError("user is not a member of the group")
		}
		if m.IsBanned() == banned {
			return m, false, nil
		}
		if banned {
			if err := p.guardQuorum(ctx, m); err != nil {
				return nil, false, err
			}
		}
		if err := m.SetBanned(banned); err != nil {
			return nil, false, err
		}
		if err := p.tx.Update(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	})
}

// =============================================================================
// User removal
// =============================================================================

// DeleteAllForUser removes every row of userID, group by group. Where the user
// is the sole active admin, the longest-standing active member is promoted
// first. A group with no such member is left without an admin.
func (s *MembershipService) DeleteAllForUser(ctx context.Context, actor membership.Actor, userID shared.ID) (int, error) {
	if userID.IsZero() {
		return 0, shared.InvalidArgumentError("user id is required")
	}
	if !actor.Is(userID) && !actor.SiteAdmin {
		return 0, shared.UnauthorizedError("actor may not remove this user")
	}
	pairs, err := s.collectPairs(ctx, membership.Filter{UserID: &userID, OrderBy: membership.OrderDateModifiedAsc})
	if err != nil {
		return 0, err
	}

	groups := 0
	for _, pk := range pairs {
		op := pairOp{op: membership.OpRemoveUser, actor: actor, userID: pk.userID, groupID: pk.groupID, quorum: true}
		t, err := s.runPair(ctx, op, func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error) {
			if len(p.rows) == 0 {
				return nil, false, nil
			}
			if m := p.row(membership.KindMember); m != nil && m.IsActiveAdmin() {
				if err := s.ensureSuccessor(ctx, p); err != nil {
					return nil, false, err
				}
			}
			if _, err := p.deleteKinds(ctx, membership.Variants...); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		})
		if err != nil {
			return groups, err
		}
		if t.Changed {
			groups++
		}
	}
	return groups, nil
}

// ensureSuccessor promotes a replacement when the pair's user is the group's
// only active admin. Role changes of confirmed rows all run under the group's
// quorum lock, which the caller holds.
func (s *MembershipService) ensureSuccessor(ctx context.Context, p *pairScope) error {
	admins, err := p.activeAdmins(ctx)
	if err != nil {
		return err
	}
	if admins > 1 {
		return nil
	}

	res, err := p.tx.List(ctx, membership.Filter{
		GroupID:        &p.groupID,
		Kinds:          []membership.Kind{membership.KindMember},
		Banned:         membership.Bool(false),
		ExcludeUserIDs: []shared.ID{p.userID},
		OrderBy:        membership.OrderDateModifiedAsc,
		Limit:          1,
	})
	if err != nil {
		return err
	}
	if len(res.Memberships) == 0 {
		metrics.MembershipAdminSuccessions.WithLabelValues("orphaned").Inc()
		s.logger.Warn("group left without an admin", "group_id", p.groupID.String(), "user_id", p.userID.String())
		return nil
	}

	successor := res.Memberships[0]
	from := successor.State()
	if err := successor.SetRole(membership.RoleAdmin); err != nil {
		return err
	}
	if err := p.tx.Update(ctx, successor); err != nil {
		return err
	}
	metrics.MembershipAdminSuccessions.WithLabelValues("promoted").Inc()
	s.logger.Info("admin succession",
		"group_id", p.groupID.String(),
		"removed_user_id", p.userID.String(),
		"successor_id", successor.UserID().String(),
	)
	p.emit(membership.Event{
		Op:           membership.OpAdminSucceeded,
		UserID:       successor.UserID(),
		GroupID:      p.groupID,
		ActorID:      p.actor.UserID,
		MembershipID: successor.ID(),
		From:         from,
		To:           membership.StateAdmin,
		OccurredAt:   p.now,
	})
	return nil
}

// =============================================================================
// Critical sections
// =============================================================================

type pairOp struct {
	op      membership.Op
	actor   membership.Actor
	userID  shared.ID
	groupID shared.ID
	quorum  bool
}

type pairKey struct {
	userID  shared.ID
	groupID shared.ID
}

// pairFunc returns the row the operation produced (if any) and whether it
// wrote anything.
type pairFunc func(ctx context.Context, p *pairScope) (*membership.Membership, bool, error)

// runPair executes fn under the pair's lock and inside one store transaction,
// then logs, records and publishes the transition.
func (s *MembershipService) runPair(ctx context.Context, po pairOp, fn pairFunc) (_ *Transition, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "membership."+string(po.op), trace.WithAttributes(
		attribute.String("membership.user_id", po.userID.String()),
		attribute.String("membership.group_id", po.groupID.String()),
		attribute.Bool("membership.site_admin", po.actor.SiteAdmin),
	))
	var t *Transition
	defer func() {
		s.observe(po, t, err, start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("membership.changed", t.Changed))
		}
		span.End()
	}()

	if po.userID.IsZero() || po.groupID.IsZero() {
		return nil, shared.InvalidArgumentError("user and group ids are required")
	}

	unlock, err := s.lock(ctx, po)
	if err != nil {
		return nil, err
	}

	var extra []membership.Event
	err = s.members.WithinTx(ctx, func(tx membership.Repository) error {
		rows, err := tx.ListForPair(ctx, po.userID, po.groupID)
		if err != nil {
			return err
		}
		p := &pairScope{
			tx:      tx,
			actor:   po.actor,
			userID:  po.userID,
			groupID: po.groupID,
			rows:    rows,
			now:     s.now().UTC(),
		}
		from := membership.StateOf(rows...)

		m, changed, err := fn(ctx, p)
		if err != nil {
			return err
		}
		after, err := tx.ListForPair(ctx, po.userID, po.groupID)
		if err != nil {
			return err
		}
		t = &Transition{
			Op:         po.op,
			UserID:     po.userID,
			GroupID:    po.groupID,
			From:       from,
			To:         membership.StateOf(after...),
			Membership: m,
			Changed:    changed,
		}
		extra = p.events
		return nil
	})
	unlock()
	if err != nil {
		t = nil
		return nil, err
	}

	if t.Changed {
		s.logger.Info("membership transition",
			"op", string(t.Op),
			"user_id", t.UserID.String(),
			"group_id", t.GroupID.String(),
			"actor_id", po.actor.UserID.String(),
			"from", string(t.From),
			"to", string(t.To),
		)
		s.publish(ctx, s.event(t, po.actor))
	} else {
		s.logger.Debug("membership transition skipped",
			"op", string(t.Op),
			"user_id", t.UserID.String(),
			"group_id", t.GroupID.String(),
			"state", string(t.To),
		)
	}
	for _, e := range extra {
		s.publish(ctx, e)
	}
	return t, nil
}

func (s *MembershipService) lock(ctx context.Context, po pairOp) (func(), error) {
	waitStart := time.Now()
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	scope := "pair"
	if po.quorum {
		scope = "quorum"
		u, err := s.locker.Lock(ctx, QuorumLockKey(po.groupID))
		if err != nil {
			return nil, fmt.Errorf("acquire quorum lock: %w", err)
		}
		unlocks = append(unlocks, u)
	}
	u, err := s.locker.Lock(ctx, PairLockKey(po.userID, po.groupID))
	if err != nil {
		release()
		return nil, fmt.Errorf("acquire pair lock: %w", err)
	}
	unlocks = append(unlocks, u)

	metrics.MembershipLockWait.WithLabelValues(scope).Observe(time.Since(waitStart).Seconds())
	return release, nil
}

func (s *MembershipService) observe(po pairOp, t *Transition, err error, start time.Time) {
	result := "noop"
	switch {
	case err != nil && shared.IsDomainError(err):
		result = "rejected"
		s.logger.Debug("membership transition rejected",
			"op", string(po.op),
			"user_id", po.userID.String(),
			"group_id", po.groupID.String(),
			"error", err,
		)
	case err != nil:
		result = "failed"
		s.logger.Error("membership transition failed",
			"op", string(po.op),
			"user_id", po.userID.String(),
			"group_id", po.groupID.String(),
			"error", err,
		)
	case t != nil && t.Changed:
		result = "changed"
	}
	if shared.IsLastAdmin(err) {
		metrics.MembershipQuorumRejections.WithLabelValues(string(po.op)).Inc()
	}
	metrics.MembershipTransitionsTotal.WithLabelValues(string(po.op), result).Inc()
	metrics.MembershipTransitionDuration.WithLabelValues(string(po.op)).Observe(time.Since(start).Seconds())
}

func (s *MembershipService) event(t *Transition, actor membership.Actor) membership.Event {
	e := membership.Event{
		Op:         t.Op,
		UserID:     t.UserID,
		GroupID:    t.GroupID,
		ActorID:    actor.UserID,
		From:       t.From,
		To:         t.To,
		OccurredAt: s.now().UTC(),
	}
	if t.Membership != nil {
		e.MembershipID = t.Membership.ID()
		e.Message = t.Membership.Comments()
	}
	return e
}

func (s *MembershipService) publish(ctx context.Context, e membership.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		metrics.MembershipEventsPublished.WithLabelValues(string(e.Op), "failed").Inc()
		s.logger.Warn("failed to publish membership event",
			"op", string(e.Op),
			"user_id", e.UserID.String(),
			"group_id", e.GroupID.String(),
			"error", err,
		)
		return
	}
	metrics.MembershipEventsPublished.WithLabelValues(string(e.Op), "ok").Inc()
}

// authorizeGroup checks the actor's standing outside any pair lock, for bulk
// operations that touch many pairs.
func (s *MembershipService) authorizeGroup(ctx context.Context, actor membership.Actor, groupID shared.ID, check func(*membership.Membership, bool) bool) error {
	if actor.SiteAdmin {
		return nil
	}
	if actor.UserID.IsZero() {
		return shared.UnauthorizedError("actor is required")
	}
	m, err := s.members.Get(ctx, actor.UserID, groupID, membership.KindMember)
	if err != nil && !shared.IsNotFound(err) {
		return err
	}
	if !check(m, false) {
		return shared.UnauthorizedError("actor lacks the required standing in this group")
	}
	return nil
}

// collectPairs pages through filter and returns the distinct pairs matched.
// Pairs are gathered up front because processing them changes the result set.
func (s *MembershipService) collectPairs(ctx context.Context, filter membership.Filter) ([]pairKey, error) {
	filter.Limit = s.batchSize
	seen := make(map[pairKey]bool)
	var pairs []pairKey
	for offset := 0; ; offset += s.batchSize {
		filter.Offset = offset
		res, err := s.members.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, m := range res.Memberships {
			k := pairKey{userID: m.UserID(), groupID: m.GroupID()}
			if !seen[k] {
				seen[k] = true
				pairs = append(pairs, k)
			}
		}
		if len(res.Memberships) < s.batchSize || int64(offset+len(res.Memberships)) >= res.Total {
			break
		}
	}
	return pairs, nil
}

// pairScope is what an operation sees inside its critical section.
type pairScope struct {
	tx      membership.Repository
	actor   membership.Actor
	userID  shared.ID
	groupID shared.ID
	rows    []*membership.Membership
	now     time.Time
	events  []membership.Event
}

func (p *pairScope) row(kind membership.Kind) *membership.Membership {
	for _, m := range p.rows {
		if m.Kind() == kind {
			return m
		}
	}
	return nil
}

func (p *pairScope) emit(e membership.Event) {
	p.events = append(p.events, e)
}

// confirm turns m into a membership and deletes every other pending row of
// the pair.
func (p *pairScope) confirm(ctx context.Context, m *membership.Membership) error {
	if err := m.Confirm(p.now); err != nil {
		return err
	}
	if err := p.tx.Update(ctx, m); err != nil {
		return err
	}
	for _, r := range p.rows {
		if r.ID().Equals(m.ID()) || !r.Kind().IsPending() {
			continue
		}
		if err := p.tx.Delete(ctx, r.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (p *pairScope) deleteKinds(ctx context.Context, kinds ...membership.Kind) (int, error) {
	removed := 0
	for _, kind := range kinds {
		r := p.row(kind)
		if r == nil {
			continue
		}
		if err := p.tx.Delete(ctx, r.ID()); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// actorRow returns the actor's confirmed row in the pair's group, or nil.
func (p *pairScope) actorRow(ctx context.Context) (*membership.Membership, error) {
	if p.actor.UserID.IsZero() {
		return nil, nil
	}
	if p.actor.Is(p.userID) {
		return p.row(membership.KindMember), nil
	}
	m, err := p.tx.Get(ctx, p.actor.UserID, p.groupID, membership.KindMember)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	return m, err
}

func (p *pairScope) requireSelf() error {
	if p.actor.Is(p.userID) || p.actor.SiteAdmin {
		return nil
	}
	return shared.UnauthorizedError("actor may only act on their own membership")
}

func (p *pairScope) requireActor(ctx context.Context, check func(*membership.Membership, bool) bool, msg string) error {
	if p.actor.SiteAdmin {
		return nil
	}
	m, err := p.actorRow(ctx)
	if err != nil {
		return err
	}
	if !check(m, false) {
		return shared.UnauthorizedError(msg)
	}
	return nil
}

func (p *pairScope) isInviter() bool {
	if p.actor.UserID.IsZero() {
		return false
	}
	for _, kind := range membership.InviteKinds {
		if inv := p.row(kind); inv != nil && inv.InviterID().Equals(p.actor.UserID) {
			return true
		}
	}
	return false
}

func (p *pairScope) activeAdmins(ctx context.Context) (int64, error) {
	res, err := p.tx.List(ctx, membership.Filter{
		GroupID: &p.groupID,
		Kinds:   []membership.Kind{membership.KindMember},
		Roles:   []membership.Role{membership.RoleAdmin},
		Banned:  membership.Bool(false),
		Limit:   1,
	})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// guardQuorum rejects removing m's admin standing when it is the last one.
func (p *pairScope) guardQuorum(ctx context.Context, m *membership.Membership) error {
	if !m.IsActiveAdmin() {
		return nil
	}
	admins, err := p.activeAdmins(ctx)
	if err != nil {
		return err
	}
	if !membership.CanLeaveWithoutBreakingAdminQuorum(m, int(admins)) {
		return shared.LastAdminError("group must keep at least one admin")
	}
	return nil
}
