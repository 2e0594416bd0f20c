package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/store/sqlite"
)

func TestProfilesDefaultsAndUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profiles := NewProfiles(sqlite.NewProfileStore(h.db), h.audit, testLogger())

	got, err := profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradingModeDemo, got.TradingMode)
	assert.Equal(t, domain.DefaultRiskTolerance, got.RiskTolerance)

	saved, err := profiles.Update(ctx, domain.Profile{UserID: "u1", TradingMode: domain.TradingModeReal, RiskTolerance: 8})
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err = profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradingModeReal, got.TradingMode)
	assert.Equal(t, 8, got.RiskTolerance)

	for _, bad := range []domain.Profile{
		{UserID: "u1", TradingMode: "paper", RiskTolerance: 5},
		{UserID: "u1", TradingMode: domain.TradingModeDemo, RiskTolerance: 0},
		{UserID: "u1", TradingMode: domain.TradingModeDemo, RiskTolerance: 11},
	} {
		_, err := profiles.Update(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	}
	got, err = profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 8, got.RiskTolerance, "rejected updates leave the saved profile alone")
}

func TestPredictionsActiveByConfidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	preds := NewPredictions(sqlite.NewPredictionStore(h.db), testLogger())

	soon := time.Now().Add(time.Hour)
	for i, conf := range []float64{55, 91.5, 70, 62, 80, 99} {
		_, err := preds.Publish(ctx, domain.Prediction{
			Symbol:             "btc/usdt",
			PredictionType:     "price",
			PredictedDirection: "Bullish",
			Confidence:         conf,
			Timeframe:          "1h",
			ModelUsed:          "gemini",
			ExpiresAt:          soon.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	expired := time.Now().Add(-time.Minute)
	require.NoError(t, sqlite.NewPredictionStore(h.db).Insert(ctx, domain.Prediction{
		ID: "old", Symbol: "BTC/USDT", PredictionType: "price", PredictedDirection: "bearish",
		Confidence: 100, Timeframe: "1h", ModelUsed: "gemini",
		CreatedAt: expired.Add(-time.Hour), ExpiresAt: expired,
	}))

	got, err := preds.Active(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	var confs []float64
	for _, p := range got {
		confs = append(confs, p.Confidence)
		assert.Equal(t, "BTC/USDT", p.Symbol)
		assert.Equal(t, "bullish", p.PredictedDirection)
	}
	assert.Equal(t, []float64{99, 91.5, 80, 70, 62}, confs)

	_, err = preds.Publish(ctx, domain.Prediction{Symbol: "BTC/USDT", PredictedDirection: "up", Confidence: 101, ExpiresAt: soon})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	_, err = preds.Publish(ctx, domain.Prediction{Symbol: "BTC/USDT", PredictedDirection: "up", Confidence: 50, ExpiresAt: expired})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}
