package main

import (
	"errors"
	"fmt"
	"strconv"

	migrateV4 "github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/yourusername/qbank-api/pkg/database"
)

func newMigrator() (*migrateV4.Migrate, error) {
	return database.NewMigrator(cfg.Database.MigrationURL(), migrationsDir)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()
	return database.Up(m, cliLog)
}

// runMigrateForce снимает флаг dirty после упавшей миграции
func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	cliLog.Infof("[Migrate] Принудительная установка версии %d", version)
	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version forced to %d\n", version)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrateV4.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
	return nil
}
