package membership

import "github.com/openctemio/groups/pkg/domain/group"

// CapabilityLevel is the effective standing of an actor within a group.
type CapabilityLevel int

const (
	CapabilityNone CapabilityLevel = iota
	CapabilityMember
	CapabilityMod
	CapabilityAdmin
	CapabilitySiteAdmin
)

// String returns the string representation of the level.
func (c CapabilityLevel) String() string {
	switch c {
	case CapabilityMember:
		return "member"
	case CapabilityMod:
		return "mod"
	case CapabilityAdmin:
		return "admin"
	case CapabilitySiteAdmin:
		return "site_admin"
	}
	return "none"
}

// CapabilityOf computes the capability granted by m. siteAdmin is supplied by
// the caller and always wins.
func CapabilityOf(m *Membership, siteAdmin bool) CapabilityLevel {
	if siteAdmin {
		return CapabilitySiteAdmin
	}
	if m == nil || !m.IsConfirmed() || m.IsBanned() {
		return CapabilityNone
	}
	switch m.Role() {
	case RoleAdmin:
		return CapabilityAdmin
	case RoleMod:
		return CapabilityMod
	case RoleRegular:
		return CapabilityMember
	}
	return CapabilityNone
}

// RequiredCapability maps an invite status to its threshold.
func RequiredCapability(status group.InviteStatus) CapabilityLevel {
	switch status {
	case group.InviteStatusAdmins:
		return CapabilityAdmin
	case group.InviteStatusMods:
		return CapabilityMod
	}
	return CapabilityMember
}

// CanSendInvite reports whether the holder of m may invite others.
func CanSendInvite(settings group.Settings, m *Membership, siteAdmin bool) bool {
	if siteAdmin {
		return true
	}
	return CapabilityOf(m, false) >= RequiredCapability(settings.EffectiveInviteStatus())
}

// CanModerate reports mod-or-better standing.
func CanModerate(m *Membership, siteAdmin bool) bool {
	return CapabilityOf(m, siteAdmin) >= CapabilityMod
}

// CanAdminister reports admin-or-better standing.
func CanAdminister(m *Membership, siteAdmin bool) bool {
	return CapabilityOf(m, siteAdmin) >= CapabilityAdmin
}

// CanLeaveWithoutBreakingAdminQuorum is false only when m is the sole active
// admin. activeAdmins counts the group's confirmed, non-banned admins.
func CanLeaveWithoutBreakingAdminQuorum(m *Membership, activeAdmins int) bool {
	if m == nil || !m.IsActiveAdmin() {
		return true
	}
	return activeAdmins > 1
}
