package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var requestCmd = &cobra.Command{
	Use:     "request",
	Aliases: []string{"requests"},
	Short:   "Manage membership requests",
}

func init() {
	createCmd := &cobra.Command{
		Use:   "create USER GROUP",
		Short: "Request membership of a private or hidden group",
		Args:  cobra.ExactArgs(2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			uid, gid, err := pairArgs(ctx, e, args)
			if err != nil {
				return err
			}
			message, _ := cmd.Flags().GetString("message")

			t, err := e.members.SendMembershipRequest(ctx, actor, app.RequestInput{
				UserID:  uid,
				GroupID: gid,
				Message: message,
			})
			if err != nil {
				return err
			}
			printTransition(t)
			return nil
		}),
	}
	createCmd.Flags().StringP("message", "m", "", "Message for the group admins")

	acceptCmd := pairCommand("accept", "Accept a membership request",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.AcceptMembershipRequest(ctx, actor, uid, gid)
		})

	acceptAllCmd := &cobra.Command{
		Use:   "accept-all GROUP",
		Short: "Accept every pending request of a group",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			// The bulk accept trusts its caller, so the CLI gates it.
			level, err := e.queries.Capability(ctx, actor, gid)
			if err != nil {
				return err
			}
			if level < membership.CapabilityMod {
				return shared.UnauthorizedError("accepting requests requires mod rights")
			}
			n, err := e.members.AcceptAllPendingRequests(ctx, gid)
			if err != nil {
				return err
			}
			printCount(string(membership.OpAcceptRequest), n)
			return nil
		}),
	}

	rejectCmd := pairCommand("reject", "Reject a membership request",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.RejectMembershipRequest(ctx, actor, uid, gid)
		})

	deleteCmd := pairCommand("delete", "Withdraw a membership request",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.DeleteMembershipRequest(ctx, actor, uid, gid)
		})

	requestCmd.AddCommand(createCmd, acceptCmd, acceptAllCmd, rejectCmd, deleteCmd)
}
