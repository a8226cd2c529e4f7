package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/groups/internal/config"
	"github.com/openctemio/groups/internal/infra/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

// withDB opens only the database; migrations must run before the stores are
// usable.
func withDB(fn func(db *postgres.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := postgres.New(&cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db)
	}
}

func init() {
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withDB(func(db *postgres.DB) error {
			if err := postgres.RunMigrations(db.DB, postgres.MigrateUp); err != nil {
				return err
			}
			return printVersion(db)
		}),
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: withDB(func(db *postgres.DB) error {
			if err := postgres.RunMigrations(db.DB, postgres.MigrateDown); err != nil {
				return err
			}
			return printVersion(db)
		}),
	}

	schemaVersionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE:  withDB(printVersion),
	}

	migrateCmd.AddCommand(upCmd, downCmd, schemaVersionCmd)
}

func printVersion(db *postgres.DB) error {
	v, dirty, err := postgres.MigrationVersion(db.DB)
	if err != nil {
		return err
	}
	if printStructured(map[string]any{"version": v, "dirty": dirty}) {
		return nil
	}
	fmt.Printf("Schema version: %d", v)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return nil
}
