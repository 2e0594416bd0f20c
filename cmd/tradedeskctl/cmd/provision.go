package cmd

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradedesk/internal/app"
	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/service"
)

var provisionName string

var provisionCmd = &cobra.Command{
	Use:   "provision <user-id>",
	Short: "Create a user's default portfolio",
	Long: `Create the default portfolio for a user, funded with the configured demo
allowance. Provisioning a user twice is reported and leaves the portfolio as is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger()
		deps, closeStore, err := app.OpenStore(cmd.Context(), cfg, false, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		lc := service.NewLifecycle(
			deps.Ledger, deps.Portfolios, deps.Trades, nil, deps.AuditStore,
			service.NewChangeNotifier(nil, logger), nil,
			service.LifecycleConfig{
				Symbols:         cfg.Feed.Symbols,
				MaxLeverage:     cfg.Trading.MaxLeverage,
				MinOrderAmount:  decimal.NewFromFloat(cfg.Trading.MinOrderAmount),
				DemoResetAmount: decimal.NewFromFloat(cfg.Trading.DemoResetAmount),
				StaleAfter:      cfg.Feed.StaleAfter.Duration,
			},
			logger,
		)

		out := cmd.OutOrStdout()
		p, err := lc.ProvisionPortfolio(cmd.Context(), args[0], provisionName)
		if errors.Is(err, domain.ErrAlreadyExists) {
			fmt.Fprintf(out, "user %s already has a default portfolio\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Provisioned portfolio %s for %s\n", p.ID, p.UserID)
		fmt.Fprintf(out, "  Name:         %s\n", p.Name)
		fmt.Fprintf(out, "  Demo balance: %s\n", p.DemoBalance)
		fmt.Fprintf(out, "  Balance:      %s\n", p.Balance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().StringVarP(&provisionName, "name", "n", "", "portfolio name (default \"Main Portfolio\")")
}
