package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"readStreakAPI/internal/config"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/store"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

// runMigrate needs only DATABASE_URL, not the full serve configuration.
func runMigrate(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	log, err := logger.New(config.String("LOG_MODE", "dev"))
	if err != nil {
		return err
	}
	defer log.Sync()

	dsn := config.String("DATABASE_URL", "")
	if dsn == "" {
		return errors.New("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("schema applied")
	return nil
}
