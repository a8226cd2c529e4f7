package membership

import (
	"fmt"
	"strings"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// Kind tags which variant a membership row holds. Rows are unique per
// (user, group, kind), so a pair carries at most one row of each variant.
type Kind string

// Stored variants.
const (
	KindMember      Kind = "member"
	KindDraftInvite Kind = "draft_invite"
	KindSentInvite  Kind = "sent_invite"
	KindRequest     Kind = "request"
)

// Lookup selectors accepted by Repository.Get. They are never stored.
const (
	// KindAny matches the highest-priority row of the pair.
	KindAny Kind = "any"
	// KindAnyInvite matches the sent invite, or the draft when none is sent.
	KindAnyInvite Kind = "any_invite"
)

// Variants lists every stored kind.
var Variants = []Kind{KindMember, KindSentInvite, KindDraftInvite, KindRequest}

// PendingKinds lists the unconfirmed variants.
var PendingKinds = []Kind{KindSentInvite, KindDraftInvite, KindRequest}

// InviteKinds lists the invite variants, sent first.
var InviteKinds = []Kind{KindSentInvite, KindDraftInvite}

// IsVariant reports whether k is a stored variant.
func (k Kind) IsVariant() bool {
	switch k {
	case KindMember, KindDraftInvite, KindSentInvite, KindRequest:
		return true
	}
	return false
}

// IsValid reports whether k is a stored variant or a lookup selector.
func (k Kind) IsValid() bool {
	return k.IsVariant() || k == KindAny || k == KindAnyInvite
}

// IsInvite reports whether k is an invite variant.
func (k Kind) IsInvite() bool {
	return k == KindDraftInvite || k == KindSentInvite
}

// IsPending reports whether k is an unconfirmed variant.
func (k Kind) IsPending() bool {
	return k.IsInvite() || k == KindRequest
}

// Candidates expands a lookup selector into stored variants in priority order.
func (k Kind) Candidates() []Kind {
	switch k {
	case KindAny:
		return Variants
	case KindAnyInvite:
		return InviteKinds
	}
	return []Kind{k}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a kind or selector string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "confirmed", "membership":
		return KindMember, nil
	case "draft":
		return KindDraftInvite, nil
	case "sent", "invite":
		return KindSentInvite, nil
	case "all":
		return KindAnyInvite, nil
	}
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid membership kind %q", shared.ErrInvalidArgument, s)
	}
	return k, nil
}
