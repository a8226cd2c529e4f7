package membership

import (
	"time"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// Op names a transition.
type Op string

const (
	OpInvite         Op = "invite"
	OpSendInvite     Op = "send_invite"
	OpAcceptInvite   Op = "accept_invite"
	OpRejectInvite   Op = "reject_invite"
	OpUninvite       Op = "uninvite"
	OpRequest        Op = "request"
	OpAcceptRequest  Op = "accept_request"
	OpRejectRequest  Op = "reject_request"
	OpJoin           Op = "join"
	OpLeave          Op = "leave"
	OpPromote        Op = "promote"
	OpDemote         Op = "demote"
	OpBan            Op = "ban"
	OpUnban          Op = "unban"
	OpRemoveUser     Op = "remove_user"
	OpPurgeDraft     Op = "purge_draft"
	OpAdminSucceeded Op = "admin_succession"
)

// Event reports a completed transition of one pair. It is published after the
// write commits.
type Event struct {
	Op           Op        `json:"op"`
	UserID       shared.ID `json:"user_id"`
	GroupID      shared.ID `json:"group_id"`
	ActorID      shared.ID `json:"actor_id"`
	MembershipID shared.ID `json:"membership_id"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	Message      string    `json:"message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Notifies reports whether the event is one users are told about.
func (e Event) Notifies() bool {
	switch e.Op {
	case OpInvite, OpSendInvite:
		return e.From != e.To && e.To != StateDraftInvite
	case OpAcceptInvite, OpRejectInvite,
		OpRequest, OpAcceptRequest, OpRejectRequest,
		OpPromote, OpBan, OpAdminSucceeded:
		return e.From != e.To
	}
	return false
}
