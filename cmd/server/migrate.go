package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/gemini-learner/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer repo.Close()

		if err := repo.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("database health check: %w", err)
		}
		slog.Info("Schema ready", "path", cfg.DBPath)
		return nil
	},
}
