// Package cmd implements the tradedeskctl admin commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradedesk/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tradedeskctl",
	Short: "Administer a tradedesk deployment",
	Long: `tradedeskctl performs operator tasks against the tradedesk store:

  - Apply database migrations
  - Provision a user's default portfolio
  - Issue session tokens for the HTTP API
  - Seal the payment gateway server key at rest`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.toml", "path to configuration file")
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
