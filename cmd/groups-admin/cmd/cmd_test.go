package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/domain/shared"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"invalid argument", shared.InvalidArgumentError("bad"), 2},
		{"not found", shared.NotFoundError("gone"), 3},
		{"conflict", shared.ConflictError("dup"), 4},
		{"last admin", shared.LastAdminError("only admin"), 4},
		{"unauthorized", shared.UnauthorizedError("no"), 5},
		{"wrapped", fmt.Errorf("accept: %w", shared.NotFoundError("gone")), 3},
		{"other", errors.New("connection refused"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func resetFlags(t *testing.T) {
	t.Helper()
	actor, siteAdmin, ctxName := flagActor, flagSiteAdmin, flagContext
	t.Cleanup(func() {
		flagActor, flagSiteAdmin, flagContext = actor, siteAdmin, ctxName
	})
	flagActor, flagSiteAdmin, flagContext = "", false, ""
}

func TestResolveActor(t *testing.T) {
	t.Run("user", func(t *testing.T) {
		resetFlags(t)
		id := shared.NewID()
		flagActor = id.String()

		actor, err := resolveActor()
		require.NoError(t, err)
		assert.Equal(t, id, actor.UserID)
		assert.False(t, actor.SiteAdmin)
	})

	t.Run("site admin without user acts as system", func(t *testing.T) {
		resetFlags(t)
		flagSiteAdmin = true

		actor, err := resolveActor()
		require.NoError(t, err)
		assert.True(t, actor.IsSystem())
	})

	t.Run("missing", func(t *testing.T) {
		resetFlags(t)
		_, err := resolveActor()
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		resetFlags(t)
		flagActor = "not-an-id"
		_, err := resolveActor()
		assert.Error(t, err)
	})
}

func TestInitConfig_FromContext(t *testing.T) {
	resetFlags(t)
	t.Setenv("GROUPS_CONFIG_DIR", t.TempDir())
	t.Setenv("GROUPS_ACTOR", "")
	t.Setenv("GROUPS_CONTEXT", "")

	ops := shared.NewID().String()
	cfg := &Config{}
	cfg.SetContext("ops", ContextDetail{Actor: ops, SiteAdmin: true})
	cfg.SetContext("dev", ContextDetail{Actor: shared.NewID().String()})
	cfg.CurrentContext = "ops"
	require.NoError(t, saveConfig(cfg))

	initConfig()
	assert.Equal(t, ops, flagActor)
	assert.True(t, flagSiteAdmin)

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "groups.openctem.io/v1", loaded.APIVersion)
	assert.Len(t, loaded.Contexts, 2)
}

func TestInitConfig_EnvWins(t *testing.T) {
	resetFlags(t)
	t.Setenv("GROUPS_CONFIG_DIR", t.TempDir())
	id := shared.NewID().String()
	t.Setenv("GROUPS_ACTOR", id)

	initConfig()
	assert.Equal(t, id, flagActor)
	assert.False(t, flagSiteAdmin)
}

func TestConfig_SetContextReplaces(t *testing.T) {
	cfg := &Config{}
	cfg.SetContext("a", ContextDetail{Actor: "1"})
	cfg.SetContext("a", ContextDetail{Actor: "2"})

	require.Len(t, cfg.Contexts, 1)
	assert.Equal(t, "2", cfg.GetContext("a").Context.Actor)
	assert.Nil(t, cfg.GetContext("b"))
}

func TestInviteQuery(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{}
		c.Flags().Bool("sent", false, "")
		c.Flags().Bool("drafts", false, "")
		c.Flags().String("inviter", "", "")
		return c
	}

	c := newCmd()
	require.NoError(t, c.Flags().Set("drafts", "true"))
	q, err := inviteQuery(c)
	require.NoError(t, err)
	require.NotNil(t, q.Sent)
	assert.False(t, *q.Sent)

	c = newCmd()
	require.NoError(t, c.Flags().Set("sent", "true"))
	require.NoError(t, c.Flags().Set("drafts", "true"))
	_, err = inviteQuery(c)
	assert.True(t, shared.IsInvalidArgument(err))

	c = newCmd()
	q, err = inviteQuery(c)
	require.NoError(t, err)
	assert.Nil(t, q.Sent)
	assert.Nil(t, q.InviterID)
}
