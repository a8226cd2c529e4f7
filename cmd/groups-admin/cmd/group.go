package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
	"github.com/openctemio/groups/pkg/pagination"
)

var groupCmd = &cobra.Command{
	Use:     "group",
	Aliases: []string{"groups", "g"},
	Short:   "Create, list and manage groups",
}

// groupID resolves a group argument, either an id or a slug.
func groupID(ctx context.Context, e *env, ref string) (shared.ID, error) {
	g, err := e.groups.ResolveGroup(ctx, ref)
	if err != nil {
		return shared.ID{}, err
	}
	return g.ID(), nil
}

func userID(ref string) (shared.ID, error) {
	id, err := shared.IDFromString(ref)
	if err != nil {
		return shared.ID{}, shared.InvalidArgumentError(fmt.Sprintf("invalid user id %q", ref))
	}
	return id, nil
}

// pairArgs resolves USER GROUP arguments.
func pairArgs(ctx context.Context, e *env, args []string) (shared.ID, shared.ID, error) {
	uid, err := userID(args[0])
	if err != nil {
		return shared.ID{}, shared.ID{}, err
	}
	gid, err := groupID(ctx, e, args[1])
	if err != nil {
		return shared.ID{}, shared.ID{}, err
	}
	return uid, gid, nil
}

func init() {
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a group with the actor as its first admin",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			slug, _ := cmd.Flags().GetString("slug")
			status, _ := cmd.Flags().GetString("status")
			inviteStatus, _ := cmd.Flags().GetString("invite-status")

			g, err := e.groups.CreateGroup(ctx, actor, app.CreateGroupInput{
				Name:         args[0],
				Slug:         slug,
				Status:       status,
				InviteStatus: inviteStatus,
			})
			if err != nil {
				return err
			}
			printGroup(g)
			return nil
		}),
	}
	createCmd.Flags().String("slug", "", "URL slug (derived from the name when empty)")
	createCmd.Flags().String("status", "public", "Group status: public, private, hidden")
	createCmd.Flags().String("invite-status", "", "Who may invite: members, mods, admins")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")
			page, _ := cmd.Flags().GetInt("page")
			perPage, _ := cmd.Flags().GetInt("per-page")

			res, err := e.groups.ListGroups(ctx, search,
				pagination.NewWithDefault(page, perPage, e.cfg.Membership.DefaultPerPage))
			if err != nil {
				return err
			}
			if printStructured(pagination.Map(res, toGroupView)) {
				return nil
			}

			var t *tableWriter
			if flagOutput == outputWide {
				t = newTable("ID", "NAME", "SLUG", "STATUS", "INVITE-STATUS", "CREATOR", "CREATED")
			} else {
				t = newTable("ID", "NAME", "SLUG", "STATUS")
			}
			for _, g := range res.Data {
				v := toGroupView(g)
				if flagOutput == outputWide {
					t.AddRow(v.ID, truncate(v.Name, 40), v.Slug, v.Status, v.InviteStatus, v.CreatorID, v.CreatedAt)
				} else {
					t.AddRow(v.ID, truncate(v.Name, 40), v.Slug, v.Status)
				}
			}
			t.Flush()
			printPagination(res.Total, res.Page, res.PerPage, res.TotalPages)
			return nil
		}),
	}
	listCmd.Flags().String("search", "", "Filter by name")
	addPageFlags(listCmd)

	showCmd := &cobra.Command{
		Use:   "get GROUP",
		Short: "Show a group by id or slug",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			g, err := e.groups.ResolveGroup(ctx, args[0])
			if err != nil {
				return err
			}
			printGroup(g)
			return nil
		}),
	}

	updateCmd := &cobra.Command{
		Use:   "update GROUP",
		Short: "Rename a group or change its status",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			status, _ := cmd.Flags().GetString("status")
			inviteStatus, _ := cmd.Flags().GetString("invite-status")
			if name == "" && status == "" && inviteStatus == "" {
				return fmt.Errorf("nothing to update: pass --name, --status or --invite-status")
			}

			g, err := e.groups.UpdateGroup(ctx, actor, gid, app.UpdateGroupInput{
				Name:         name,
				Status:       status,
				InviteStatus: inviteStatus,
			})
			if err != nil {
				return err
			}
			printGroup(g)
			return nil
		}),
	}
	updateCmd.Flags().String("name", "", "New name")
	updateCmd.Flags().String("status", "", "New status: public, private, hidden")
	updateCmd.Flags().String("invite-status", "", "Who may invite: members, mods, admins")

	inviteStatusCmd := &cobra.Command{
		Use:   "set-invite-status GROUP STATUS",
		Short: "Set who may send invites: members, mods or admins",
		Args:  cobra.ExactArgs(2),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			g, err := e.groups.UpdateSettings(ctx, actor, gid, args[1])
			if err != nil {
				return err
			}
			printGroup(g)
			return nil
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete GROUP",
		Short: "Delete a group and all of its memberships",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			if err := e.groups.DeleteGroup(ctx, actor, gid); err != nil {
				return err
			}
			fmt.Printf("Group %s deleted.\n", args[0])
			return nil
		}),
	}

	groupCmd.AddCommand(createCmd, listCmd, showCmd, updateCmd, inviteStatusCmd, deleteCmd)
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("per-page", 0, "Items per page (server default when 0)")
}
