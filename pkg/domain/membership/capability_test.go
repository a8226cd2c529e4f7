package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/shared"
)

func memberWithRole(t *testing.T, role Role, banned bool) *Membership {
	t.Helper()
	m, err := NewMember(shared.NewID(), shared.NewID(), role, now)
	if err != nil {
		t.Fatalf("NewMember() error = %v", err)
	}
	if banned {
		_ = m.SetBanned(true)
	}
	return m
}

func TestCapabilityOf(t *testing.T) {
	request, _ := NewRequest(shared.NewID(), shared.NewID(), "", now)

	tests := []struct {
		name      string
		m         *Membership
		siteAdmin bool
		want      CapabilityLevel
	}{
		{name: "no membership", want: CapabilityNone},
		{name: "pending request", m: request, want: CapabilityNone},
		{name: "regular", m: memberWithRole(t, RoleRegular, false), want: CapabilityMember},
		{name: "mod", m: memberWithRole(t, RoleMod, false), want: CapabilityMod},
		{name: "admin", m: memberWithRole(t, RoleAdmin, false), want: CapabilityAdmin},
		{name: "banned admin", m: memberWithRole(t, RoleAdmin, true), want: CapabilityNone},
		{name: "site admin without membership", siteAdmin: true, want: CapabilitySiteAdmin},
		{name: "site admin overrides ban", m: memberWithRole(t, RoleRegular, true), siteAdmin: true, want: CapabilitySiteAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilityOf(tt.m, tt.siteAdmin))
		})
	}
}

// Mirrors the invite permission matrix: members, mods and admins thresholds
// against each standing, with site admins always allowed.
func TestCanSendInvite(t *testing.T) {
	regular := memberWithRole(t, RoleRegular, false)
	mod := memberWithRole(t, RoleMod, false)
	admin := memberWithRole(t, RoleAdmin, false)
	banned := memberWithRole(t, RoleAdmin, true)

	tests := []struct {
		status    group.InviteStatus
		m         *Membership
		siteAdmin bool
		want      bool
	}{
		{status: "", m: regular, want: true},
		{status: group.InviteStatusMembers, m: regular, want: true},
		{status: group.InviteStatusMembers, m: nil, want: false},
		{status: group.InviteStatusMembers, m: banned, want: false},
		{status: group.InviteStatusMods, m: regular, want: false},
		{status: group.InviteStatusMods, m: mod, want: true},
		{status: group.InviteStatusMods, m: admin, want: true},
		{status: group.InviteStatusAdmins, m: mod, want: false},
		{status: group.InviteStatusAdmins, m: admin, want: true},
		{status: group.InviteStatusAdmins, m: nil, siteAdmin: true, want: true},
		{status: group.InviteStatusAdmins, m: regular, siteAdmin: true, want: true},
	}

	for _, tt := range tests {
		settings := group.Settings{InviteStatus: tt.status}
		got := CanSendInvite(settings, tt.m, tt.siteAdmin)
		assert.Equal(t, tt.want, got, "status=%q state=%s siteAdmin=%v", tt.status, tt.m.State(), tt.siteAdmin)
	}
}

func TestCanModerateAndAdminister(t *testing.T) {
	mod := memberWithRole(t, RoleMod, false)
	assert.True(t, CanModerate(mod, false))
	assert.False(t, CanAdminister(mod, false))
	assert.True(t, CanAdminister(nil, true))
}

func TestCanLeaveWithoutBreakingAdminQuorum(t *testing.T) {
	admin := memberWithRole(t, RoleAdmin, false)
	regular := memberWithRole(t, RoleRegular, false)
	banned := memberWithRole(t, RoleAdmin, true)

	assert.False(t, CanLeaveWithoutBreakingAdminQuorum(admin, 1))
	assert.True(t, CanLeaveWithoutBreakingAdminQuorum(admin, 2))
	assert.True(t, CanLeaveWithoutBreakingAdminQuorum(regular, 1))
	assert.True(t, CanLeaveWithoutBreakingAdminQuorum(banned, 1))
	assert.True(t, CanLeaveWithoutBreakingAdminQuorum(nil, 0))
}

func TestActor(t *testing.T) {
	userID := shared.NewID()
	assert.True(t, SystemActor().IsSystem())
	assert.False(t, NewActor(userID).IsSystem())
	assert.True(t, NewActor(userID).Is(userID))
	assert.False(t, SystemActor().Is(shared.ID{}))
}
