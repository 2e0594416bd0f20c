package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradedesk/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the store schema",
	Long:  `Apply pending PostgreSQL migrations, or create the SQLite schema, for the configured store.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, closeStore, err := app.OpenStore(cmd.Context(), cfg, true, newLogger())
		if err != nil {
			return err
		}
		defer closeStore()

		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
