package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show a summary of a group or a user",
}

var describeGroupCmd = &cobra.Command{
	Use:   "group GROUP",
	Short: "Show a group with its staff and pending work",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runDescribeGroup),
}

var describeUserCmd = &cobra.Command{
	Use:   "user USER",
	Short: "Show a user's group counts",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runDescribeUser),
}

func init() {
	describeCmd.AddCommand(describeGroupCmd)
	describeCmd.AddCommand(describeUserCmd)
}

type groupSummary struct {
	Group    groupView        `json:"group" yaml:"group"`
	Members  int              `json:"members" yaml:"members"`
	Requests int64            `json:"pending_requests" yaml:"pending_requests"`
	Invites  int64            `json:"pending_invites" yaml:"pending_invites"`
	Admins   []membershipView `json:"admins" yaml:"admins"`
	Mods     []membershipView `json:"mods" yaml:"mods"`
}

func runDescribeGroup(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	g, err := e.groups.ResolveGroup(ctx, args[0])
	if err != nil {
		return err
	}
	gid := g.ID()

	var (
		members           int
		requests, invites app.MembershipPage
		admins, mods      []*membership.Membership
	)
	one := app.ListOptions{PerPage: 1}
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		members, err = e.queries.TotalMemberCount(gctx, gid)
		return err
	})
	eg.Go(func() (err error) {
		requests, err = e.queries.RequestsForGroup(gctx, gid, one)
		return err
	})
	eg.Go(func() (err error) {
		invites, err = e.queries.InvitesForGroup(gctx, gid, app.InviteQuery{}, one)
		return err
	})
	eg.Go(func() (err error) {
		admins, err = e.queries.GroupAdmins(gctx, gid)
		return err
	})
	eg.Go(func() (err error) {
		mods, err = e.queries.GroupMods(gctx, gid)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	s := groupSummary{
		Group:    toGroupView(g),
		Members:  members,
		Requests: requests.Total,
		Invites:  invites.Total,
		Admins:   viewsOf(admins),
		Mods:     viewsOf(mods),
	}
	if printStructured(s) {
		return nil
	}

	printGroup(g)
	fmt.Printf("Members:       %d\n", s.Members)
	fmt.Printf("Requests:      %d pending\n", s.Requests)
	fmt.Printf("Invites:       %d pending\n", s.Invites)
	fmt.Println("\nStaff:")
	printMemberships(append(admins, mods...))
	return nil
}

type userSummary struct {
	UserID   string `json:"user_id" yaml:"user_id"`
	Groups   int    `json:"groups" yaml:"groups"`
	Admin    int64  `json:"admin_of" yaml:"admin_of"`
	Mod      int64  `json:"mod_of" yaml:"mod_of"`
	Banned   int64  `json:"banned_from" yaml:"banned_from"`
	Invites  int    `json:"pending_invites" yaml:"pending_invites"`
	Requests int64  `json:"pending_requests" yaml:"pending_requests"`
}

func runDescribeUser(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	uid, err := userID(args[0])
	if err != nil {
		return err
	}

	s := userSummary{UserID: uid.String()}
	one := app.ListOptions{PerPage: 1}
	eg, gctx := errgroup.WithContext(ctx)

	// total stores the row count of a one-row page.
	total := func(dst *int64, list func(context.Context, shared.ID, app.ListOptions) (app.MembershipPage, error)) func() error {
		return func() error {
			page, err := list(gctx, uid, one)
			if err != nil {
				return err
			}
			*dst = page.Total
			return nil
		}
	}

	eg.Go(func() (err error) {
		s.Groups, err = e.queries.TotalGroupCount(gctx, uid)
		return err
	})
	eg.Go(func() (err error) {
		s.Invites, err = e.queries.InviteCountForUser(gctx, uid)
		return err
	})
	eg.Go(total(&s.Admin, e.queries.AdminOf))
	eg.Go(total(&s.Mod, e.queries.ModOf))
	eg.Go(total(&s.Banned, e.queries.BannedOf))
	eg.Go(total(&s.Requests, func(ctx context.Context, uid shared.ID, opts app.ListOptions) (app.MembershipPage, error) {
		return e.queries.UserMemberships(ctx, uid, app.MembershipTypeRequest, opts)
	}))
	if err := eg.Wait(); err != nil {
		return err
	}

	if printStructured(s) {
		return nil
	}
	fmt.Printf("User:      %s\n", s.UserID)
	fmt.Printf("Groups:    %d\n", s.Groups)
	fmt.Printf("Admin of:  %d\n", s.Admin)
	fmt.Printf("Mod of:    %d\n", s.Mod)
	fmt.Printf("Banned:    %d\n", s.Banned)
	fmt.Printf("Invites:   %d pending\n", s.Invites)
	fmt.Printf("Requests:  %d pending\n", s.Requests)
	return nil
}

func viewsOf(rows []*membership.Membership) []membershipView {
	out := make([]membershipView, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMembershipView(m))
	}
	return out
}
