package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/mutualaid/internal/config"
	"github.com/R3E-Network/mutualaid/internal/gateway/postgres"
	"github.com/R3E-Network/mutualaid/internal/logging"
	"github.com/R3E-Network/mutualaid/internal/platform/migrations"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema (requires gateway.database_url)",
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(g *postgres.Gateway) error {
				return migrations.Up(g.DB().DB)
			})
		},
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withDatabase(cmd.Context(), func(g *postgres.Gateway) error {
				return migrations.Down(g.DB().DB, steps)
			})
		},
	}

	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(g *postgres.Gateway) error {
				v, dirty, err := migrations.Version(g.DB().DB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
				return nil
			})
		},
	}
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

// withDatabase opens the configured database directly. Migrations run
// against postgres even when the API uses the hosted backend.
func withDatabase(ctx context.Context, fn func(*postgres.Gateway) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Gateway.DatabaseURL == "" {
		return fmt.Errorf("gateway.database_url (DATABASE_URL) is required for migrations")
	}
	log := logging.New(logging.Config{Service: "mutualaid-migrate", Level: cfg.Log.Level, Format: cfg.Log.Format})
	g, err := postgres.Open(ctx, cfg.Gateway.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer g.Close()
	if err := fn(g); err != nil {
		return err
	}
	log.Info("migration command finished")
	return nil
}
