package membership

// State is the observable relationship of a (user, group) pair.
type State string

const (
	StateNone        State = "none"
	StateDraftInvite State = "draft_invite"
	StateSentInvite  State = "sent_invite"
	StateRequested   State = "requested"
	StateMember      State = "member"
	StateMod         State = "mod"
	StateAdmin       State = "admin"
	StateBanned      State = "banned"
)

// IsConfirmed reports whether the state is backed by a confirmed row.
func (s State) IsConfirmed() bool {
	switch s {
	case StateMember, StateMod, StateAdmin, StateBanned:
		return true
	}
	return false
}

func (s State) rank() int {
	switch s {
	case StateDraftInvite:
		return 1
	case StateRequested:
		return 2
	case StateSentInvite:
		return 3
	}
	if s.IsConfirmed() {
		return 4
	}
	return 0
}

// StateOf derives the pair state from its rows. A confirmed row dominates,
// then a sent invite, then a request, then a draft invite.
func StateOf(rows ...*Membership) State {
	best := StateNone
	for _, m := range rows {
		if s := m.State(); s.rank() > best.rank() {
			best = s
		}
	}
	return best
}
