package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/changetrack/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the change log table and the model's entity tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := db.RunMigrations(a.cfg.Database, a.logger); err != nil {
			return err
		}
		conn, err := db.NewConnection(cmd.Context(), a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close()
		if err := conn.EnsureModelTables(cmd.Context(), a.model); err != nil {
			return err
		}
		a.logger.Info("database ready", "entities", len(a.model.Entities))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
