// schedq-migrate применяет и откатывает схему БД.
//
// Использование:
//
//	schedq-migrate up
//	schedq-migrate down
//	schedq-migrate version
//
// Строка подключения берётся из DB_URL или SCHEDQ_CONFIG.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/schedq/internal/config"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/shaiso/schedq/internal/telemetry"
)

func main() {
	logger := telemetry.WithComponent(telemetry.SetupLogger(), "migrate")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var dbURL string

	// withMigrator открывает пул и передаёт Migrator в fn.
	withMigrator := func(fn func(m *repo.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}

		db, err := repo.NewPool(ctx, cfg.Database.PoolConfig(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := repo.NewMigrator(db, logger)
		if err != nil {
			return err
		}
		return fn(m)
	}

	rootCmd := &cobra.Command{
		Use:           "schedq-migrate",
		Short:         "Apply or revert the schedq database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "PostgreSQL URL (overrides DB_URL)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *repo.Migrator) error {
					n, err := m.Up(ctx)
					if err != nil {
						return err
					}
					logger.Info("migrations applied", "count", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all applied migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *repo.Migrator) error {
					n, err := m.Down(ctx)
					if err != nil {
						return err
					}
					logger.Info("migrations reverted", "count", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *repo.Migrator) error {
					v, err := m.Version(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}
