package group

import (
	"testing"

	"github.com/openctemio/groups/pkg/domain/shared"
)

func TestNewGroup(t *testing.T) {
	creator := shared.NewID()

	tests := []struct {
		name      string
		groupName string
		slug      string
		status    Status
		creator   shared.ID
		wantSlug  string
		wantErr   bool
	}{
		{name: "derives slug", groupName: "Rock Climbers!", creator: creator, wantSlug: "rock-climbers"},
		{name: "explicit slug", groupName: "Climbers", slug: "climb", creator: creator, wantSlug: "climb"},
		{name: "empty name", groupName: "  ", creator: creator, wantErr: true},
		{name: "zero creator", groupName: "Climbers", wantErr: true},
		{name: "bad slug", groupName: "Climbers", slug: "no spaces", creator: creator, wantErr: true},
		{name: "bad status", groupName: "Climbers", status: Status("secret"), creator: creator, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGroup(tt.groupName, tt.slug, tt.status, tt.creator)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGroup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !shared.IsInvalidArgument(err) {
					t.Errorf("NewGroup() error = %v, want invalid argument", err)
				}
				return
			}
			if g.Slug() != tt.wantSlug {
				t.Errorf("Slug() = %q, want %q", g.Slug(), tt.wantSlug)
			}
			if g.Status() != StatusPublic {
				t.Errorf("Status() = %q, want public", g.Status())
			}
			if g.Settings().InviteStatus != InviteStatusMembers {
				t.Errorf("InviteStatus = %q, want members", g.Settings().InviteStatus)
			}
		})
	}
}

func TestStatusIsRequestGated(t *testing.T) {
	if StatusPublic.IsRequestGated() {
		t.Error("public groups are not request-gated")
	}
	if !StatusPrivate.IsRequestGated() || !StatusHidden.IsRequestGated() {
		t.Error("private and hidden groups are request-gated")
	}
}

func TestParseInviteStatus(t *testing.T) {
	got, err := ParseInviteStatus("")
	if err != nil || got != InviteStatusMembers {
		t.Errorf("ParseInviteStatus(\"\") = %q, %v; want members", got, err)
	}
	got, err = ParseInviteStatus("Admins")
	if err != nil || got != InviteStatusAdmins {
		t.Errorf("ParseInviteStatus(Admins) = %q, %v", got, err)
	}
	if _, err := ParseInviteStatus("everyone"); err == nil {
		t.Error("ParseInviteStatus(everyone) should fail")
	}
}

func TestUpdateSettings(t *testing.T) {
	g, err := NewGroup("Climbers", "", StatusPrivate, shared.NewID())
	if err != nil {
		t.Fatal(err)
	}
	if err := g.UpdateSettings(Settings{InviteStatus: "nobody"}); err == nil {
		t.Error("UpdateSettings() should reject unknown invite status")
	}
	if err := g.UpdateSettings(Settings{InviteStatus: InviteStatusMods}); err != nil {
		t.Fatal(err)
	}
	if g.Settings().EffectiveInviteStatus() != InviteStatusMods {
		t.Errorf("invite status = %q, want mods", g.Settings().InviteStatus)
	}
	if (Settings{}).EffectiveInviteStatus() != InviteStatusMembers {
		t.Error("unset invite status should default to members")
	}
}
