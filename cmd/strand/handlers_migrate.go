package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/store"
)

// =============================================================================
// Migration Command Handlers
// =============================================================================

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	slog.Info("running database migrations",
		"config", configPath,
		"steps", steps,
	)

	db, driver, err := openMigrationDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		slog.Info("no pending migrations")
		return nil
	}
	for _, id := range applied {
		slog.Info("applied migration", "id", id)
	}

	slog.Info("migrations completed successfully")
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	slog.Warn("rolling back migrations",
		"config", configPath,
		"steps", steps,
	)

	db, driver, err := openMigrationDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		slog.Info("rolled back migration", "id", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	db, driver, err := openMigrationDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Applied migrations:")
	if len(applied) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		for _, entry := range applied {
			fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pending migrations:")
	if len(pending) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		for _, entry := range pending {
			fmt.Fprintf(out, "  - %s\n", entry.ID)
		}
	}
	return nil
}

// openMigrationDB loads the config and opens the SQL backend migrations run
// against. The memory driver keeps no schema, so it is rejected here.
func openMigrationDB(configPath string) (*sql.DB, string, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == "memory" {
		return nil, "", fmt.Errorf("the memory driver has no migrations; configure a postgres or sqlite database")
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return db, cfg.Database.Driver, nil
}
