package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var inviteCmd = &cobra.Command{
	Use:     "invite",
	Aliases: []string{"invites"},
	Short:   "Manage group invitations",
}

// pairCommand builds a USER GROUP command around one pair transition.
func pairCommand(use, short string, fn func(ctx context.Context, e *env, actor membership.Actor, userID, groupID shared.ID) (*app.Transition, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USER GROUP",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			uid, gid, err := pairArgs(ctx, e, args)
			if err != nil {
				return err
			}
			t, err := fn(ctx, e, actor, uid, gid)
			if err != nil {
				return err
			}
			printTransition(t)
			return nil
		}),
	}
}

func init() {
	createCmd := &cobra.Command{
		Use:   "create USER GROUP",
		Short: "Invite a user to a group (drafted unless --send)",
		Args:  cobra.ExactArgs(2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			uid, gid, err := pairArgs(ctx, e, args)
			if err != nil {
				return err
			}
			message, _ := cmd.Flags().GetString("message")
			send, _ := cmd.Flags().GetBool("send")

			t, err := e.members.Invite(ctx, actor, app.InviteInput{
				UserID:  uid,
				GroupID: gid,
				Message: message,
				SendNow: send,
			})
			if err != nil {
				return err
			}
			printTransition(t)
			return nil
		}),
	}
	createCmd.Flags().StringP("message", "m", "", "Message for the invitee")
	createCmd.Flags().Bool("send", false, "Send the invite at once instead of drafting it")

	sendCmd := &cobra.Command{
		Use:   "send GROUP",
		Short: "Send the group's draft invites",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			var inviter *shared.ID
			if ref, _ := cmd.Flags().GetString("inviter"); ref != "" {
				id, err := userID(ref)
				if err != nil {
					return err
				}
				inviter = &id
			}
			n, err := e.members.SendPendingInvites(ctx, actor, gid, inviter)
			if err != nil {
				return err
			}
			printCount(string(membership.OpSendInvite), n)
			return nil
		}),
	}
	sendCmd.Flags().String("inviter", "", "Only send drafts created by this user")

	acceptCmd := pairCommand("accept", "Accept an invitation on the user's behalf",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.AcceptInvite(ctx, actor, uid, gid)
		})

	rejectCmd := pairCommand("reject", "Reject an invitation",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.RejectInvite(ctx, actor, uid, gid)
		})

	deleteCmd := pairCommand("delete", "Delete an invitation, failing when there is none",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.DeleteInvite(ctx, actor, uid, gid)
		})

	uninviteCmd := pairCommand("uninvite", "Withdraw any invitation of the user",
		func(ctx context.Context, e *env, actor membership.Actor, uid, gid shared.ID) (*app.Transition, error) {
			return e.members.UninviteUser(ctx, actor, uid, gid)
		})

	clearCmd := &cobra.Command{
		Use:   "clear GROUP",
		Short: "Delete every invitation of a group",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			n, err := e.members.DeleteAllGroupInvites(ctx, actor, gid)
			if err != nil {
				return err
			}
			printCount(string(membership.OpUninvite), n)
			return nil
		}),
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete draft invitations untouched for longer than --older-than",
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			if !actor.SiteAdmin {
				return shared.UnauthorizedError("purging drafts requires --site-admin")
			}
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan == 0 {
				olderThan = e.cfg.Worker.DraftInviteTTL
			}
			n, err := e.members.PurgeStaleDraftInvites(ctx, olderThan)
			if err != nil {
				return err
			}
			if !printStructured(map[string]any{"op": membership.OpPurgeDraft, "count": n}) {
				fmt.Printf("%d draft invites older than %s purged\n", n, olderThan)
			}
			return nil
		}),
	}
	purgeCmd.Flags().Duration("older-than", 0, "Age threshold (default WORKER_DRAFT_INVITE_TTL)")

	inviteCmd.AddCommand(createCmd, sendCmd, acceptCmd, rejectCmd, deleteCmd, uninviteCmd, clearCmd, purgeCmd)
}
