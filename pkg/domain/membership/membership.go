// Package membership models the relationship between a user and a group:
// invitations, requests, confirmed membership, roles and bans.
package membership

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// MaxCommentLength bounds invite and request messages.
const MaxCommentLength = 1000

// Membership is one relationship row between a user and a group.
//
// The kind tag selects the variant: a confirmed member carrying a role and a
// ban flag, a draft or sent invite carrying an inviter, or a request carrying
// the requester's message.
type Membership struct {
	id           shared.ID
	userID       shared.ID
	groupID      shared.ID
	kind         Kind
	role         Role
	banned       bool
	inviterID    shared.ID
	comments     string
	dateModified time.Time
}

func newRow(userID, groupID shared.ID, kind Kind, at time.Time) (*Membership, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: userID is required", shared.ErrInvalidArgument)
	}
	if groupID.IsZero() {
		return nil, fmt.Errorf("%w: groupID is required", shared.ErrInvalidArgument)
	}
	return &Membership{
		id:           shared.NewID(),
		userID:       userID,
		groupID:      groupID,
		kind:         kind,
		dateModified: at.UTC(),
	}, nil
}

// NewMember creates a confirmed membership with the given role.
func NewMember(userID, groupID shared.ID, role Role, at time.Time) (*Membership, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: invalid role %q", shared.ErrInvalidArgument, role)
	}
	m, err := newRow(userID, groupID, KindMember, at)
	if err != nil {
		return nil, err
	}
	m.role = role
	return m, nil
}

// NewInvite creates a draft invite, or a sent invite when sent is true.
func NewInvite(userID, groupID, inviterID shared.ID, message string, sent bool, at time.Time) (*Membership, error) {
	if inviterID.IsZero() {
		return nil, fmt.Errorf("%w: inviterID is required", shared.ErrInvalidArgument)
	}
	kind := KindDraftInvite
	if sent {
		kind = KindSentInvite
	}
	m, err := newRow(userID, groupID, kind, at)
	if err != nil {
		return nil, err
	}
	m.inviterID = inviterID
	m.comments = trimComment(message)
	return m, nil
}

// NewRequest creates a pending membership request.
func NewRequest(userID, groupID shared.ID, message string, at time.Time) (*Membership, error) {
	m, err := newRow(userID, groupID, KindRequest, at)
	if err != nil {
		return nil, err
	}
	m.comments = trimComment(message)
	return m, nil
}

// Reconstitute recreates a Membership from persistence.
func Reconstitute(
	id, userID, groupID shared.ID,
	kind Kind,
	role Role,
	banned bool,
	inviterID shared.ID,
	comments string,
	dateModified time.Time,
) *Membership {
	return &Membership{
		id:           id,
		userID:       userID,
		groupID:      groupID,
		kind:         kind,
		role:         role,
		banned:       banned,
		inviterID:    inviterID,
		comments:     comments,
		dateModified: dateModified,
	}
}

func trimComment(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxCommentLength {
		s = string(r[:MaxCommentLength])
	}
	return s
}

// ID returns the row ID.
func (m *Membership) ID() shared.ID { return m.id }

// UserID returns the user endpoint.
func (m *Membership) UserID() shared.ID { return m.userID }

// GroupID returns the group endpoint.
func (m *Membership) GroupID() shared.ID { return m.groupID }

// Kind returns the variant tag.
func (m *Membership) Kind() Kind { return m.kind }

// Role returns the role. Empty for unconfirmed rows.
func (m *Membership) Role() Role { return m.role }

// IsBanned reports whether capabilities are suppressed.
func (m *Membership) IsBanned() bool { return m.banned }

// InviterID returns the inviter, zero for requests and direct joins.
func (m *Membership) InviterID() shared.ID { return m.inviterID }

// Comments returns the invite or request message.
func (m *Membership) Comments() string { return m.comments }

// DateModified returns the time of the last state transition.
func (m *Membership) DateModified() time.Time { return m.dateModified }

// IsConfirmed reports whether the row is an active membership (banned or not).
func (m *Membership) IsConfirmed() bool { return m.kind == KindMember }

// IsActiveAdmin reports whether the row counts towards the admin quorum.
func (m *Membership) IsActiveAdmin() bool {
	return m.kind == KindMember && m.role == RoleAdmin && !m.banned
}

// SamePair reports whether both rows relate the same user and group.
func (m *Membership) SamePair(other *Membership) bool {
	return m.userID.Equals(other.userID) && m.groupID.Equals(other.groupID)
}

// Confirm turns a pending row into a regular membership. The inviter is kept
// for audit.
func (m *Membership) Confirm(at time.Time) error {
	if !m.kind.IsPending() {
		return fmt.Errorf("%w: membership is already confirmed", shared.ErrConflict)
	}
	m.kind = KindMember
	m.role = RoleRegular
	m.banned = false
	m.dateModified = at.UTC()
	return nil
}

// MarkSent flips a draft invite to sent.
func (m *Membership) MarkSent(at time.Time) error {
	if m.kind != KindDraftInvite {
		return fmt.Errorf("%w: only draft invites can be sent", shared.ErrConflict)
	}
	m.kind = KindSentInvite
	m.dateModified = at.UTC()
	return nil
}

// Refresh re-stamps an invite with a new inviter and message.
func (m *Membership) Refresh(inviterID shared.ID, message string, at time.Time) error {
	if !m.kind.IsInvite() {
		return fmt.Errorf("%w: only invites can be refreshed", shared.ErrConflict)
	}
	if inviterID.IsZero() {
		return fmt.Errorf("%w: inviterID is required", shared.ErrInvalidArgument)
	}
	m.inviterID = inviterID
	if message = trimComment(message); message != "" {
		m.comments = message
	}
	m.dateModified = at.UTC()
	return nil
}

// SetRole changes the role of a confirmed membership.
func (m *Membership) SetRole(role Role) error {
	if m.kind != KindMember {
		return fmt.Errorf("%w: membership is not confirmed", shared.ErrNotFound)
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: invalid role %q", shared.ErrInvalidArgument, role)
	}
	m.role = role
	return nil
}

// SetBanned sets or clears the ban flag of a confirmed membership.
func (m *Membership) SetBanned(banned bool) error {
	if m.kind != KindMember {
		return fmt.Errorf("%w: membership is not confirmed", shared.ErrNotFound)
	}
	m.banned = banned
	return nil
}

// State returns the sub-state this single row represents.
func (m *Membership) State() State {
	if m == nil {
		return StateNone
	}
	switch m.kind {
	case KindDraftInvite:
		return StateDraftInvite
	case KindSentInvite:
		return StateSentInvite
	case KindRequest:
		return StateRequested
	case KindMember:
		if m.banned {
			return StateBanned
		}
		switch m.role {
		case RoleAdmin:
			return StateAdmin
		case RoleMod:
			return StateMod
		}
		return StateMember
	}
	return StateNone
}
