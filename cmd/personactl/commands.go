package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aiox-platform/personachat/internal/auth"
	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/database"
	"github.com/aiox-platform/personachat/internal/usage"
	"github.com/aiox-platform/personachat/internal/users"
)

const commandTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "personactl",
		Short:         "personactl - operator tool for the persona chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newQuotaCmd(), newTokenCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "migrations", "directory holding the migration files")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.RunMigrations(cfg.DB.DSN(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be positive")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.RollbackMigrations(cfg.DB.DSN(), path, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset daily usage counters",
	}

	status := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Print a user's usage counters as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			return withGate(cmd.Context(), func(ctx context.Context, gate *usage.Gate) error {
				st, err := gate.Status(ctx, userID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Zero the daily counters of every user not yet reset today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGate(cmd.Context(), func(ctx context.Context, gate *usage.Gate) error {
				n, err := gate.ResetAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d counter(s)\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(status, reset)
	return cmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id> <email>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.JWT.AccessSecret) < 32 {
				return fmt.Errorf("JWT_ACCESS_SECRET must be at least 32 characters")
			}
			token, err := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry).
				GenerateAccessToken(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

// withGate connects to Postgres and runs fn with a quota gate.
func withGate(parent context.Context, fn func(ctx context.Context, gate *usage.Gate) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	gate := usage.NewGate(usage.NewRepository(pool), users.NewService(users.NewRepository(pool)), cfg.Quota)
	return fn(ctx, gate)
}
