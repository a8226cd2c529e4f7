package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/domain/shared"
)

type inviteInput struct {
	UserID  shared.ID `validate:"required"`
	GroupID shared.ID `validate:"required"`
	Message string    `validate:"max=10"`
}

type groupInput struct {
	Name         string `validate:"required,min=1,max=50"`
	Slug         string `validate:"omitempty,slug"`
	Status       string `validate:"group_status"`
	InviteStatus string `validate:"invite_status"`
	Role         string `validate:"role"`
}

func TestValidate_IDs(t *testing.T) {
	v := New()

	err := v.Validate(inviteInput{UserID: shared.NewID(), GroupID: shared.NewID()})
	require.NoError(t, err)

	err = v.Validate(inviteInput{UserID: shared.NewID()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidArgument))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "group_id", verrs[0].Field)
	assert.Equal(t, "is required", verrs[0].Message)
}

func TestValidate_Message(t *testing.T) {
	v := New()
	err := v.Validate(inviteInput{UserID: shared.NewID(), GroupID: shared.NewID(), Message: "far too long"})
	assert.ErrorContains(t, err, "message: must be at most 10 characters")
}

func TestValidate_CustomTags(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   groupInput
		wantErr string
	}{
		{name: "defaults", input: groupInput{Name: "Climbers"}},
		{name: "all set", input: groupInput{Name: "Climbers", Slug: "climb", Status: "hidden", InviteStatus: "mods", Role: "admin"}},
		{name: "bad slug", input: groupInput{Name: "Climbers", Slug: "Bad Slug"}, wantErr: "slug"},
		{name: "bad status", input: groupInput{Name: "Climbers", Status: "secret"}, wantErr: "public, private, hidden"},
		{name: "bad invite status", input: groupInput{Name: "Climbers", InviteStatus: "everyone"}, wantErr: "members, mods, admins"},
		{name: "bad role", input: groupInput{Name: "Climbers", Role: "owner"}, wantErr: "regular, mod, admin"},
		{name: "missing name", input: groupInput{}, wantErr: "name: is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "user_id", toSnakeCase("UserID"))
	assert.Equal(t, "invite_status", toSnakeCase("InviteStatus"))
	assert.Equal(t, "name", toSnakeCase("Name"))
}
