package membership

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/domain/shared"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewInvite(t *testing.T) {
	userID, groupID, inviterID := shared.NewID(), shared.NewID(), shared.NewID()

	tests := []struct {
		name      string
		userID    shared.ID
		groupID   shared.ID
		inviterID shared.ID
		sent      bool
		wantKind  Kind
		wantErr   bool
	}{
		{name: "draft invite", userID: userID, groupID: groupID, inviterID: inviterID, wantKind: KindDraftInvite},
		{name: "sent invite", userID: userID, groupID: groupID, inviterID: inviterID, sent: true, wantKind: KindSentInvite},
		{name: "zero user", groupID: groupID, inviterID: inviterID, wantErr: true},
		{name: "zero group", userID: userID, inviterID: inviterID, wantErr: true},
		{name: "zero inviter", userID: userID, groupID: groupID, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewInvite(tt.userID, tt.groupID, tt.inviterID, "join us", tt.sent, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, shared.ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, m.Kind())
			assert.Equal(t, tt.inviterID, m.InviterID())
			assert.Equal(t, "join us", m.Comments())
			assert.False(t, m.IsConfirmed())
		})
	}
}

func TestNewMember_InvalidRole(t *testing.T) {
	_, err := NewMember(shared.NewID(), shared.NewID(), Role("owner"), now)
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestNewRequest_TruncatesMessage(t *testing.T) {
	long := make([]rune, MaxCommentLength+50)
	for i := range long {
		long[i] = 'x'
	}
	m, err := NewRequest(shared.NewID(), shared.NewID(), string(long), now)
	require.NoError(t, err)
	assert.Len(t, []rune(m.Comments()), MaxCommentLength)
	assert.True(t, m.InviterID().IsZero())
}

func TestConfirm_KeepsInviterForAudit(t *testing.T) {
	inviterID := shared.NewID()
	m, err := NewInvite(shared.NewID(), shared.NewID(), inviterID, "", true, now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	require.NoError(t, m.Confirm(later))

	assert.Equal(t, KindMember, m.Kind())
	assert.Equal(t, RoleRegular, m.Role())
	assert.Equal(t, inviterID, m.InviterID())
	assert.Equal(t, later, m.DateModified())

	assert.True(t, shared.IsConflict(m.Confirm(later)))
}

func TestMarkSent(t *testing.T) {
	m, err := NewInvite(shared.NewID(), shared.NewID(), shared.NewID(), "", false, now)
	require.NoError(t, err)

	require.NoError(t, m.MarkSent(now))
	assert.Equal(t, KindSentInvite, m.Kind())
	assert.Error(t, m.MarkSent(now), "a sent invite cannot be sent again")
}

func TestRoleAndBanRequireConfirmed(t *testing.T) {
	m, err := NewRequest(shared.NewID(), shared.NewID(), "", now)
	require.NoError(t, err)

	assert.True(t, shared.IsNotFound(m.SetRole(RoleAdmin)))
	assert.True(t, shared.IsNotFound(m.SetBanned(true)))
}

func TestState(t *testing.T) {
	userID, groupID := shared.NewID(), shared.NewID()
	member, _ := NewMember(userID, groupID, RoleRegular, now)
	mod, _ := NewMember(userID, groupID, RoleMod, now)
	admin, _ := NewMember(userID, groupID, RoleAdmin, now)
	banned, _ := NewMember(userID, groupID, RoleAdmin, now)
	require.NoError(t, banned.SetBanned(true))
	draft, _ := NewInvite(userID, groupID, shared.NewID(), "", false, now)
	sent, _ := NewInvite(userID, groupID, shared.NewID(), "", true, now)
	request, _ := NewRequest(userID, groupID, "", now)

	assert.Equal(t, StateMember, member.State())
	assert.Equal(t, StateMod, mod.State())
	assert.Equal(t, StateAdmin, admin.State())
	assert.Equal(t, StateBanned, banned.State())
	assert.False(t, banned.IsActiveAdmin())

	assert.Equal(t, StateNone, StateOf())
	assert.Equal(t, StateDraftInvite, StateOf(draft))
	assert.Equal(t, StateRequested, StateOf(draft, request))
	assert.Equal(t, StateSentInvite, StateOf(request, sent, draft))
	assert.Equal(t, StateMember, StateOf(request, member, sent))
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"confirmed":  KindMember,
		"membership": KindMember,
		"draft":      KindDraftInvite,
		"sent":       KindSentInvite,
		"request":    KindRequest,
		"all":        KindAnyInvite,
		"any":        KindAny,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("awesome")
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestKindCandidates(t *testing.T) {
	assert.Equal(t, []Kind{KindSentInvite, KindDraftInvite}, KindAnyInvite.Candidates())
	assert.Equal(t, []Kind{KindRequest}, KindRequest.Candidates())
	assert.Equal(t, KindMember, KindAny.Candidates()[0])
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Moderator")
	require.NoError(t, err)
	assert.Equal(t, RoleMod, r)

	r, err = ParseRole("member")
	require.NoError(t, err)
	assert.Equal(t, RoleRegular, r)

	_, err = ParseRole("owner")
	assert.Error(t, err)

	assert.Greater(t, RoleAdmin.Priority(), RoleMod.Priority())
	assert.Greater(t, RoleMod.Priority(), RoleRegular.Priority())
}

func TestEventNotifies(t *testing.T) {
	assert.False(t, Event{Op: OpInvite, From: StateNone, To: StateDraftInvite}.Notifies())
	assert.True(t, Event{Op: OpSendInvite, From: StateDraftInvite, To: StateSentInvite}.Notifies())
	assert.True(t, Event{Op: OpAcceptRequest, From: StateRequested, To: StateMember}.Notifies())
	assert.False(t, Event{Op: OpJoin, From: StateNone, To: StateMember}.Notifies())
	assert.False(t, Event{Op: OpBan, From: StateBanned, To: StateBanned}.Notifies())
}
