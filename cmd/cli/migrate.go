package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axellelanca/shortlink/cmd"
	"github.com/axellelanca/shortlink/internal/database"
)

// MigrateCmd represents the 'migrate' command.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Creates or updates the links table.",
	Long: `This command connects to the configured database (SQLite or Postgres)
and runs the GORM migration of the links table, including the partial unique
index on fingerprint that only covers rows not soft-deleted.`,
	RunE: func(c *cobra.Command, args []string) error {
		dbCfg := cmd.Cfg.Database
		dbCfg.AutoMigrate = false

		db, err := cmd.OpenDatabase(c.Context(), dbCfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintln(c.OutOrStdout(), "Database migrations executed successfully.")
		return nil
	},
}

func init() {
	cmd.RootCmd.AddCommand(MigrateCmd)
}
