package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/shoprelay/internal/config"
	"github.com/zulandar/shoprelay/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed shops",
		Long: `Creates the database (MySQL only) if it does not exist, migrates every
table, and upserts the shops listed in the config. Safe to run repeatedly;
pause state on existing shops is left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runMigrate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Database.Driver == "mysql" && cfg.Database.DSN == "" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to mysql server: %w", err)
		}
		err = db.CreateDatabase(adminDB, cfg.Database.Name)
		if sqlDB, derr := adminDB.DB(); derr == nil {
			sqlDB.Close()
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %q ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedShops(gormDB, cfg.Shops); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d shop(s)\n", len(cfg.Shops))
	return nil
}
