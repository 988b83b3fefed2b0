package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/database/postgres"
	"github.com/kozaktomas/variance-tracker/internal/database/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded schema migrations to the configured database.

By default every pending migration is applied. --to stops at an older schema
version, which is useful to check how the service behaves against a partially
migrated database (see DATABASE_SKIP_MIGRATIONS).

Examples:
  # Apply everything
  variance-tracker migrate

  # PostgreSQL: stop after the named migration file
  variance-tracker migrate --to 002_trend_score.sql

  # SQLite: migrate to version 2
  DATABASE_DRIVER=sqlite variance-tracker migrate --to 2`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().String("to", "", "Last migration to apply (file name for postgres, version number for sqlite)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	to := mustGetString(cmd, "to")

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		return migrateSQLite(cfg.Database, to)
	case "", "postgres":
		return migratePostgres(ctx, cfg.Database, to)
	default:
		return fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}
}

func migratePostgres(ctx context.Context, cfg config.DatabaseConfig, to string) error {
	if cfg.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.NewPool(&cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if err := pool.MigrateTo(ctx, to); err != nil {
		return err
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Applied migrations (%d):\n", len(applied))
	for _, v := range applied {
		fmt.Printf("  %s\n", v)
	}
	return nil
}

func migrateSQLite(cfg config.DatabaseConfig, to string) error {
	var version uint
	if to != "" {
		v, err := strconv.ParseUint(to, 10, 32)
		if err != nil || v == 0 {
			return fmt.Errorf("invalid sqlite migration version %q", to)
		}
		version = uint(v)
	}

	db, err := sqlite.OpenDB(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlite.Migrate(db, version); err != nil {
		return err
	}
	fmt.Printf("Migrated %s\n", cfg.SQLitePath)
	return nil
}
