package membership

import (
	"fmt"
	"strings"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// Role represents a confirmed member's standing within a group.
type Role string

const (
	RoleRegular Role = "regular"
	RoleMod     Role = "mod"
	RoleAdmin   Role = "admin"
)

// AllRoles lists roles from lowest to highest priority.
var AllRoles = []Role{RoleRegular, RoleMod, RoleAdmin}

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleRegular, RoleMod, RoleAdmin:
		return true
	}
	return false
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Priority returns the priority of the role (higher = more permissions).
func (r Role) Priority() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleMod:
		return 2
	case RoleRegular:
		return 1
	default:
		return 0
	}
}

// ParseRole parses a role string. "member" is accepted as an alias of regular.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "regular", "member":
		return RoleRegular, nil
	case "mod", "moderator":
		return RoleMod, nil
	case "admin", "administrator":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: invalid role %q", shared.ErrInvalidArgument, s)
}
