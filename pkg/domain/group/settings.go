package group

import (
	"fmt"
	"strings"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// InviteStatus is the minimum standing required to send invites to a group.
type InviteStatus string

const (
	InviteStatusMembers InviteStatus = "members"
	InviteStatusMods    InviteStatus = "mods"
	InviteStatusAdmins  InviteStatus = "admins"
)

// IsValid checks if the invite status is a known value.
func (s InviteStatus) IsValid() bool {
	switch s {
	case InviteStatusMembers, InviteStatusMods, InviteStatusAdmins:
		return true
	}
	return false
}

// ParseInviteStatus parses s. An empty string yields the members default.
func ParseInviteStatus(s string) (InviteStatus, error) {
	if s == "" {
		return InviteStatusMembers, nil
	}
	st := InviteStatus(strings.ToLower(s))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid invite status %q", shared.ErrInvalidArgument, s)
	}
	return st, nil
}

// Settings holds per-group configuration.
type Settings struct {
	InviteStatus InviteStatus `json:"invite_status" yaml:"invite_status"`
}

// DefaultSettings returns settings with every field at its default.
func DefaultSettings() Settings {
	return Settings{InviteStatus: InviteStatusMembers}
}

// Validate checks the settings values. An unset invite status is allowed.
func (s Settings) Validate() error {
	if s.InviteStatus != "" && !s.InviteStatus.IsValid() {
		return fmt.Errorf("%w: invalid invite status %q", shared.ErrInvalidArgument, s.InviteStatus)
	}
	return nil
}

// EffectiveInviteStatus returns the invite status, falling back to members.
func (s Settings) EffectiveInviteStatus() InviteStatus {
	if s.InviteStatus == "" {
		return InviteStatusMembers
	}
	return s.InviteStatus
}

func (s Settings) normalized() Settings {
	s.InviteStatus = s.EffectiveInviteStatus()
	return s
}
