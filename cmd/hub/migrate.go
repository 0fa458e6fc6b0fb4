package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/digkill/SynergyHub/internal/config"
	"github.com/digkill/SynergyHub/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Applies the schema to the database named by DATABASE_DRIVER and
DATABASE_DSN. Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, dsn, err := config.LoadDatabase()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		db, err := database.Connect(ctx, driver, dsn)
		if err != nil {
			return fmt.Errorf("database connect: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db, driver); err != nil {
			badColor.Printf("Migration failed: %v\n", err)
			return err
		}
		goodColor.Printf("Schema is up to date (%s)\n", driver)
		return nil
	},
}
