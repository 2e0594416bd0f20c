package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prediction is a model-generated call on one instrument, shown to users as a
// trade idea until it expires. Trades opened from one carry AIRecommended.
type Prediction struct {
	ID                 string
	Symbol             string
	PredictionType     string
	PredictedDirection string
	Confidence         float64 // model score in percent, not money
	PredictedPrice     *decimal.Decimal
	Timeframe          string
	ModelUsed          string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}
