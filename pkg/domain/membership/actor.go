package membership

import "github.com/openctemio/groups/pkg/domain/shared"

// Actor is the identity performing an operation. It is resolved once at the
// service boundary and passed down explicitly.
type Actor struct {
	UserID    shared.ID
	SiteAdmin bool
}

// NewActor creates an actor for a regular user.
func NewActor(userID shared.ID) Actor {
	return Actor{UserID: userID}
}

// SystemActor is used by scheduled jobs and bulk operations that run without a
// requesting user.
func SystemActor() Actor {
	return Actor{SiteAdmin: true}
}

// IsSystem reports whether the actor is the system actor.
func (a Actor) IsSystem() bool {
	return a.SiteAdmin && a.UserID.IsZero()
}

// Is reports whether the actor acts as userID.
func (a Actor) Is(userID shared.ID) bool {
	return !a.UserID.IsZero() && a.UserID.Equals(userID)
}
