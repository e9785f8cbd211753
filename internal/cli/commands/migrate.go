package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/database"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.UsesMemoryStore() {
				return fmt.Errorf("migrate requires the postgres store")
			}

			version, err := database.Migrate(cfg.DatabaseURL, source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", database.DefaultMigrationsSource, "Migrations source URL")

	return cmd
}
