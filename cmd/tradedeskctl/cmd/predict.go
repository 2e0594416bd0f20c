package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradedesk/internal/app"
	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/service"
)

var (
	predictType       string
	predictConfidence float64
	predictPrice      string
	predictTimeframe  string
	predictModel      string
	predictTTL        time.Duration
)

var predictCmd = &cobra.Command{
	Use:   "predict <symbol> <direction>",
	Short: "Publish a model prediction to the dashboard feed",
	Long: `Publish a prediction for a symbol. The API lists the five most confident
predictions that have not expired yet.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var price *decimal.Decimal
		if predictPrice != "" {
			p, err := decimal.NewFromString(predictPrice)
			if err != nil {
				return fmt.Errorf("invalid --price: %w", err)
			}
			price = &p
		}
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

		pred, err := service.NewPredictions(deps.Predictions, logger).Publish(cmd.Context(), domain.Prediction{
			Symbol:             args[0],
			PredictionType:     predictType,
			PredictedDirection: args[1],
			Confidence:         predictConfidence,
			PredictedPrice:     price,
			Timeframe:          predictTimeframe,
			ModelUsed:          predictModel,
			ExpiresAt:          time.Now().Add(predictTTL),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published prediction %s: %s %s at %.1f%% until %s\n",
			pred.ID, pred.Symbol, pred.PredictedDirection, pred.Confidence,
			pred.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(predictCmd)
	f := predictCmd.Flags()
	f.StringVar(&predictType, "type", "price", "prediction type")
	f.Float64VarP(&predictConfidence, "confidence", "c", 50, "confidence in percent (0-100)")
	f.StringVar(&predictPrice, "price", "", "predicted price")
	f.StringVar(&predictTimeframe, "timeframe", "1h", "horizon the prediction covers")
	f.StringVar(&predictModel, "model", "manual", "model that produced the prediction")
	f.DurationVar(&predictTTL, "ttl", time.Hour, "how long the prediction stays listed")
}
