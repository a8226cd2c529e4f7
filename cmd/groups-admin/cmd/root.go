package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var (
	version string

	// Global flags
	flagActor     string
	flagSiteAdmin bool
	flagContext   string
	flagOutput    string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "groups-admin",
	Short: "Group membership administration CLI",
	Long: `groups-admin drives the group membership engine directly against its
database.

Every mutating command runs as an actor. Set it with --actor, GROUPS_ACTOR,
or a saved context:

  groups-admin config set-context ops --actor <user-id> --site-admin
  groups-admin config use-context ops`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

// ExitCode maps an error onto a process exit status so scripts can tell
// domain refusals apart from failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case shared.IsInvalidArgument(err):
		return 2
	case shared.IsNotFound(err):
		return 3
	case shared.IsConflict(err), shared.IsLastAdmin(err):
		return 4
	case shared.IsUnauthorized(err):
		return 5
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "Acting user id (env: GROUPS_ACTOR)")
	rootCmd.PersistentFlags().BoolVar(&flagSiteAdmin, "site-admin", false, "Act with site administrator rights")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: GROUPS_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, wide, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	if flagActor == "" {
		flagActor = os.Getenv("GROUPS_ACTOR")
	}
	if flagActor != "" {
		return
	}

	ctxName := flagContext
	if ctxName == "" {
		ctxName = os.Getenv("GROUPS_CONTEXT")
	}
	cfg, err := loadConfig()
	if err != nil {
		return
	}
	if ctxName == "" {
		ctxName = cfg.CurrentContext
	}
	if c := cfg.GetContext(ctxName); c != nil {
		flagActor = c.Context.Actor
		flagSiteAdmin = flagSiteAdmin || c.Context.SiteAdmin
	}
}

// resolveActor builds the acting identity from the global flags. A site
// administrator may act without a user id, as the system.
func resolveActor() (membership.Actor, error) {
	if flagActor == "" {
		if flagSiteAdmin {
			return membership.SystemActor(), nil
		}
		return membership.Actor{}, errors.New("actor not configured. Use --actor, GROUPS_ACTOR, or 'groups-admin config set-context'")
	}
	id, err := shared.IDFromString(flagActor)
	if err != nil {
		return membership.Actor{}, fmt.Errorf("invalid --actor: %w", err)
	}
	return membership.Actor{UserID: id, SiteAdmin: flagSiteAdmin}, nil
}

// withEnv wires the engine for one command and tears it down afterwards.
func withEnv(fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(ctx, e, cmd, args)
	}
}

// withActor is withEnv for commands that act on someone's behalf.
func withActor(fn func(ctx context.Context, e *env, actor membership.Actor, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		actor, err := resolveActor()
		if err != nil {
			return err
		}
		return fn(ctx, e, actor, cmd, args)
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("groups-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
