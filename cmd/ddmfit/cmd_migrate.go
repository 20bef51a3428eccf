package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down|version>",
		Short: "Manage the database schema",
		Long: `Apply or roll back schema migrations of --database.

  up       apply all pending migrations
  down     roll back the most recent migration
  version  print the current schema version`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := sqlite.OpenNoMigrate(cfg.GetDatabase())
			if err != nil {
				return err
			}
			defer db.Close()

			switch args[0] {
			case "up":
				err = sqlite.MigrateUp(db)
			case "down":
				err = sqlite.MigrateDown(db)
			case "version":
			default:
				return fmt.Errorf("unknown migrate action %q: expected up, down or version", args[0])
			}
			if err != nil {
				return err
			}

			version, dirty, err := sqlite.MigrateVersion(db)
			if err != nil {
				return err
			}
			monitoring.Logf("[migrate] %s: %s", args[0], cfg.GetDatabase())
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, map[string]interface{}{"version": version, "dirty": dirty})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d", version)
			if dirty {
				fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	return cmd
}
