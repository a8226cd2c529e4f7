package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Query memberships, invites and requests",
}

// User-centric view names accepted by "get user".
const (
	viewMember   = "member"
	viewAdmin    = "admin"
	viewMod      = "mod"
	viewRegular  = "regular"
	viewBanned   = "banned"
	viewRecent   = "recent"
	viewInvites  = "invites"
	viewRequests = "requests"
)

var userViews = []string{viewMember, viewAdmin, viewMod, viewRegular, viewBanned, viewRecent, viewInvites, viewRequests}

func listOptions(cmd *cobra.Command) (app.ListOptions, error) {
	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	search, _ := cmd.Flags().GetString("search")
	excludeRefs, _ := cmd.Flags().GetStringSlice("exclude")

	opts := app.ListOptions{Page: page, PerPage: perPage, Search: search}
	for _, ref := range excludeRefs {
		id, err := shared.IDFromString(ref)
		if err != nil {
			return app.ListOptions{}, shared.InvalidArgumentError(fmt.Sprintf("invalid id in --exclude: %q", ref))
		}
		opts.Exclude = append(opts.Exclude, id)
	}
	return opts, nil
}

func addListFlags(cmd *cobra.Command, excludeWhat string) {
	addPageFlags(cmd)
	cmd.Flags().String("search", "", "Filter by group name")
	cmd.Flags().StringSlice("exclude", nil, "Comma-separated "+excludeWhat+" ids to leave out")
}

func parseIDs(refs []string) ([]shared.ID, error) {
	ids := make([]shared.ID, 0, len(refs))
	for _, ref := range refs {
		id, err := userID(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	userCmd := &cobra.Command{
		Use:   "user USER",
		Short: "List a user's groups, invites or requests",
		Long: "List a user's rows. --view is one of: " + strings.Join(userViews, ", ") + ".\n" +
			"Role views only count active members; banned lists the groups the user is banned from.",
		Args: cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			uid, err := userID(args[0])
			if err != nil {
				return err
			}
			opts, err := listOptions(cmd)
			if err != nil {
				return err
			}
			view, _ := cmd.Flags().GetString("view")

			var page app.MembershipPage
			switch view {
			case viewMember:
				page, err = e.queries.UserMemberships(ctx, uid, app.MembershipTypeMembership, opts)
			case viewRequests:
				page, err = e.queries.UserMemberships(ctx, uid, app.MembershipTypeRequest, opts)
			case viewInvites:
				page, err = e.queries.InvitesForUser(ctx, uid, opts)
			case viewAdmin:
				page, err = e.queries.AdminOf(ctx, uid, opts)
			case viewMod:
				page, err = e.queries.ModOf(ctx, uid, opts)
			case viewRegular:
				page, err = e.queries.RegularOf(ctx, uid, opts)
			case viewBanned:
				page, err = e.queries.BannedOf(ctx, uid, opts)
			case viewRecent:
				page, err = e.queries.RecentlyJoined(ctx, uid, opts)
			default:
				return shared.InvalidArgumentError(fmt.Sprintf("unknown view %q (want one of %s)", view, strings.Join(userViews, ", ")))
			}
			if err != nil {
				return err
			}
			printMembershipPage(page)
			return nil
		}),
	}
	userCmd.Flags().String("view", viewMember, "Which rows to list")
	addListFlags(userCmd, "group")

	membersCmd := &cobra.Command{
		Use:   "members GROUP",
		Short: "List a group's confirmed members",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			opts, err := listOptions(cmd)
			if err != nil {
				return err
			}
			roleRefs, _ := cmd.Flags().GetStringSlice("role")
			includeBanned, _ := cmd.Flags().GetBool("include-banned")

			q := app.MemberQuery{IncludeBanned: includeBanned}
			for _, r := range roleRefs {
				role, err := membership.ParseRole(r)
				if err != nil {
					return err
				}
				q.Roles = append(q.Roles, role)
			}

			page, err := e.queries.GroupMembers(ctx, gid, q, opts)
			if err != nil {
				return err
			}
			printMembershipPage(page)
			return nil
		}),
	}
	membersCmd.Flags().StringSlice("role", nil, "Only these roles (regular, mod, admin)")
	membersCmd.Flags().Bool("include-banned", false, "Include banned members")
	addListFlags(membersCmd, "user")

	invitesCmd := &cobra.Command{
		Use:   "invites GROUP",
		Short: "List a group's invitations",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			opts, err := listOptions(cmd)
			if err != nil {
				return err
			}
			q, err := inviteQuery(cmd)
			if err != nil {
				return err
			}

			if idsOnly, _ := cmd.Flags().GetBool("ids"); idsOnly {
				sent := q.Sent == nil || *q.Sent
				ids, err := e.queries.InviteUserIDsForGroup(ctx, gid, q.InviterID, sent)
				if err != nil {
					return err
				}
				out := make([]string, 0, len(ids))
				for _, id := range ids {
					out = append(out, id.String())
				}
				if !printStructured(out) {
					fmt.Println(strings.Join(out, "\n"))
				}
				return nil
			}

			page, err := e.queries.InvitesForGroup(ctx, gid, q, opts)
			if err != nil {
				return err
			}
			printMembershipPage(page)
			return nil
		}),
	}
	invitesCmd.Flags().Bool("sent", false, "Only sent invites")
	invitesCmd.Flags().Bool("drafts", false, "Only draft invites")
	invitesCmd.Flags().String("inviter", "", "Only invites created by this user")
	invitesCmd.Flags().Bool("ids", false, "Print invitee ids only (sent unless --drafts)")
	addListFlags(invitesCmd, "user")

	requestsCmd := &cobra.Command{
		Use:   "requests GROUP",
		Short: "List a group's pending membership requests",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			opts, err := listOptions(cmd)
			if err != nil {
				return err
			}
			page, err := e.queries.RequestsForGroup(ctx, gid, opts)
			if err != nil {
				return err
			}
			printMembershipPage(page)
			return nil
		}),
	}
	addListFlags(requestsCmd, "user")

	staffCmd := &cobra.Command{
		Use:   "staff GROUP",
		Short: "List a group's active admins and moderators",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			admins, err := e.queries.GroupAdmins(ctx, gid)
			if err != nil {
				return err
			}
			mods, err := e.queries.GroupMods(ctx, gid)
			if err != nil {
				return err
			}
			rows := append(admins, mods...)

			if printStructured(viewsOf(rows)) {
				return nil
			}
			printMemberships(rows)
			return nil
		}),
	}

	stateCmd := &cobra.Command{
		Use:   "state USER GROUP",
		Short: "Show the state of a (user, group) pair",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			uid, gid, err := pairArgs(ctx, e, args)
			if err != nil {
				return err
			}
			state, err := e.queries.PairState(ctx, uid, gid)
			if err != nil {
				return err
			}
			canLeave, err := e.queries.CanLeaveGroup(ctx, uid, gid)
			if err != nil {
				return err
			}
			v := map[string]any{
				"user_id":   uid.String(),
				"group_id":  gid.String(),
				"state":     state,
				"can_leave": canLeave,
			}
			if printStructured(v) {
				return nil
			}
			fmt.Printf("State:     %s\n", state)
			fmt.Printf("Can leave: %s\n", boolToStr(canLeave))
			return nil
		}),
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup USER GROUP",
		Short: "Print the id of the pair's row of a kind",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			uid, gid, err := pairArgs(ctx, e, args)
			if err != nil {
				return err
			}
			kindStr, _ := cmd.Flags().GetString("kind")
			kind, err := membership.ParseKind(kindStr)
			if err != nil {
				return err
			}
			id, err := e.queries.Lookup(ctx, uid, gid, kind)
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		}),
	}
	lookupCmd.Flags().String("kind", string(membership.KindAny), "Row kind: member, sent_invite, draft_invite, request, any, any_invite")

	idsCmd := &cobra.Command{
		Use:   "ids ID [ID...]",
		Short: "Fetch membership rows by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			rows, err := e.queries.GetMembershipsByID(ctx, ids)
			if err != nil {
				return err
			}
			if printStructured(viewsOf(rows)) {
				return nil
			}
			printMemberships(rows)
			return nil
		}),
	}

	canInviteCmd := &cobra.Command{
		Use:   "can-invite GROUP",
		Short: "Report whether the actor may send invites for a group",
		Args:  cobra.ExactArgs(1),
		RunE: withActor(func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error {
			gid, err := groupID(ctx, e, args[0])
			if err != nil {
				return err
			}
			ok, err := e.queries.CanSendInvite(ctx, actor, gid)
			if err != nil {
				return err
			}
			level, err := e.queries.Capability(ctx, actor, gid)
			if err != nil {
				return err
			}
			if printStructured(map[string]any{"can_invite": ok, "capability": level.String()}) {
				return nil
			}
			fmt.Printf("Can invite: %s\n", boolToStr(ok))
			fmt.Printf("Capability: %s\n", level)
			return nil
		}),
	}

	getCmd.AddCommand(userCmd, membersCmd, invitesCmd, requestsCmd, staffCmd, stateCmd, lookupCmd, idsCmd, canInviteCmd)
}

func inviteQuery(cmd *cobra.Command) (app.InviteQuery, error) {
	sent, _ := cmd.Flags().GetBool("sent")
	drafts, _ := cmd.Flags().GetBool("drafts")
	inviterRef, _ := cmd.Flags().GetString("inviter")

	var q app.InviteQuery
	switch {
	case sent && drafts:
		return q, shared.InvalidArgumentError("--sent and --drafts are exclusive")
	case sent:
		q.Sent = membership.Bool(true)
	case drafts:
		q.Sent = membership.Bool(false)
	}
	if inviterRef != "" {
		id, err := userID(inviterRef)
		if err != nil {
			return q, err
		}
		q.InviterID = &id
	}
	return q, nil
}
