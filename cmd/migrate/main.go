package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/migrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the creatorpay goose migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "goose migrations directory")

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new SQL migration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("missing --name for create")
			}
			path, err := migrate.CreateSQLMigration(dir, name)
			if err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "migration name")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check migration files for naming and goose annotations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.ValidateDir(dir); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	}

	var target string
	version := &cobra.Command{
		Use:   "version",
		Short: "Migrate up or down to a specific version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				return fmt.Errorf("missing --target for version")
			}
			return withDB(cmd.Context(), "version", dir, func(ctx context.Context, sqlDB *sql.DB) error {
				return migrate.MigrateToVersion(ctx, sqlDB, dir, target)
			})
		},
	}
	version.Flags().StringVar(&target, "target", "", "target version (YYYYMMDDHHMMSS)")

	root.AddCommand(
		gooseCmd("up", "Apply all pending migrations", &dir),
		gooseCmd("down", "Roll back the latest migration", &dir),
		gooseCmd("status", "Print migration status", &dir),
		version,
		create,
		validate,
	)
	return root
}

func gooseCmd(command, short string, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), command, *dir, func(ctx context.Context, sqlDB *sql.DB) error {
				if err := migrate.Run(ctx, sqlDB, *dir, command); err != nil {
					return fmt.Errorf("goose %s failed: %w", command, err)
				}
				return nil
			})
		},
	}
}

// withDB loads config and opens the database for commands that touch it.
func withDB(ctx context.Context, command, dir string, fn func(context.Context, *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": command,
		"dir": dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "resource not working: sql database", err)
		return err
	}

	logg.Info(ctx, "migrate ready")
	return fn(ctx, sqlDB)
}
