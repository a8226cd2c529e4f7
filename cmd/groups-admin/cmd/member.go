package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var memberCmd = &cobra.Command{
	Use:     "member",
	Aliases: []string{"members", "m"},
	Short:   "Join, leave, promote and ban members",
}

// selfOrUser resolves the optional USER argument of join and leave. Without
// it the actor acts for themselves.
func selfOrUser(args []string) (shared.ID, error) {
	if len(args) < 2 {
		return shared.ID{}, nil
	}
	return userID(args[1])
}

func init() {
	joinCmd := &cobra.Command{
		Use:   "join GROUP [USER]",
		Short: "Join a group directly",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			uid, err := selfOrUser(args)
			if err != nil {
				return err
			}
			t, err := e.members.JoinGroup(ctx, actor, gid, uid)
			if err != nil {
				return err
			}
			printTransition(t)
			return nil
		}),
	}

	leaveCmd := &cobra.Command{
		Use:   "leave GROUP [USER]",
		Short: "Leave a group",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			uid, err := selfOrUser(args)
			if err != nil {
				return err
			}
			t, err := e.members.LeaveGroup(ctx, actor, gid, uid)
			if err != nil {
				return err
			}
			printTransition(t)
			return nil
		}),
	}

	promoteCmd := &cobra.Command{
		Use:   "promote USER GROUP",
		Short: "Set a member's role",
		Args:  cobra.ExactArgs(2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			uid, gid, err := pairArgs(ctx, e, args)
			if err != nil {
				return err
			}
			roleStr, _ := cmd.Flags().GetString("role")
			role, err := membership.ParseRole(roleStr)
			if err != nil {
				return err
			}
			t, err := e.members.Promote(ctx, actor, uid, gid, role)
			if err != nil {
				return err
			}
			printTransition(t)
			return nil
		}),
	}
	promoteCmd.Flags().String("role", string(membership.RoleMod), "Role: regular, mod, admin")

	demoteCmd := pairCommand("demote", "Return a member to the regular role",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.Demote(ctx, actor, uid, gid)
		})

	banCmd := pairCommand("ban", "Ban a member",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.Ban(ctx, actor, uid, gid)
		})

	unbanCmd := pairCommand("unban", "Lift a member's ban",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.Unban(ctx, actor, uid, gid)
		})

	removeUserCmd := &cobra.Command{
		Use:   "remove-user USER",
		Short: "Remove every membership, invite and request of a user",
		Long: `Removes all rows of a user, group by group. Where the user is the
sole active admin of a group, the longest-standing active member is promoted
first.`,
		Args: cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			uid, err := userID(args[0])
			if err != nil {
				return err
			}
			n, err := e.members.DeleteAllForUser(ctx, actor, uid)
			if err != nil {
				return err
			}
			if !printStructured(map[string]any{"op": membership.OpRemoveUser, "count": n}) {
				fmt.Printf("%d groups left by %s\n", n, uid)
			}
			return nil
		}),
	}

	memberCmd.AddCommand(joinCmd, leaveCmd, promoteCmd, demoteCmd, banCmd, unbanCmd, removeUserCmd)
}
