package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the agent server.
// This is the primary command for running strand in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the strand agent server",
		Long: `Start the strand agent server.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Open the thread/run store and apply pending migrations
3. Connect the control bus (Redis, or in-process when no address is set)
4. Mark runs interrupted by a previous crash as failed
5. Start the HTTP gateway for run control, SSE streaming, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with built-in defaults (in-memory store, no auth)
  strand serve

  # Start with custom config
  strand serve --config /etc/strand/production.yaml

  # Start with debug logging
  strand serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Migration Commands
// =============================================================================

// buildMigrateCmd creates the "migrate" command group.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage database migrations.

Migrations ensure the thread and run schema matches the version of strand
you're running. The memory driver keeps no schema and has no migrations.`,
	}

	cmd.AddCommand(buildMigrateUpCmd())
	cmd.AddCommand(buildMigrateDownCmd())
	cmd.AddCommand(buildMigrateStatusCmd())

	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all)")

	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

// =============================================================================
// Token Command
// =============================================================================

// buildTokenCmd creates the "token" command that issues a stream JWT for a
// user. EventSource clients pass the token in the stream URL's ?token= query
// parameter.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
		name       string
		secret     string
		expiry     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a stream token for a user",
		Long: `Issue a signed stream token for a user.

The signing secret is taken from --secret, then from the config file's
auth.jwt_secret, and finally prompted for interactively. The token is
printed to stdout.`,
		Example: `  # Issue a token using the config file's secret
  strand token --user u-123 --config strand.yaml

  # Issue a short-lived token with an explicit secret
  strand token --user u-123 --secret "$STRAND_JWT_SECRET" --expiry 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return runToken(cmd, configPath, tokenOptions{
				UserID: userID,
				Email:  email,
				Name:   name,
				Secret: secret,
				Expiry: expiry,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User id the token authenticates (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&name, "name", "", "Name claim")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (prompted when omitted)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (default: config token_expiry, else 24h)")

	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "strand %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
