package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// defaultPredictionLimit is how many ideas the dashboard shows.
const defaultPredictionLimit = 5

// Profiles reads and saves per-user trading preferences.
type Profiles struct {
	store  domain.ProfileStore
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewProfiles creates a Profiles service.
func NewProfiles(store domain.ProfileStore, audit domain.AuditStore, logger *slog.Logger) *Profiles {
	return &Profiles{
		store:  store,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "profiles")),
	}
}

// Get returns the user's saved settings, or the defaults when none were saved.
func (p *Profiles) Get(ctx context.Context, userID string) (domain.Profile, error) {
	prof, err := p.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultProfile(userID), nil
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("profiles: get: %w", err)
	}
	return prof, nil
}

// Update validates and saves the user's settings.
func (p *Profiles) Update(ctx context.Context, prof domain.Profile) (domain.Profile, error) {
	if err := prof.Validate(); err != nil {
		return domain.Profile{}, fmt.Errorf("profiles: %w", err)
	}
	prof.UpdatedAt = p.now().UTC()
	if err := p.store.Upsert(ctx, prof); err != nil {
		return domain.Profile{}, fmt.Errorf("profiles: save: %w", err)
	}
	if err := p.audit.Log(ctx, "profile.updated", map[string]any{
		"user_id":        prof.UserID,
		"trading_mode":   string(prof.TradingMode),
		"risk_tolerance": prof.RiskTolerance,
	}); err != nil {
		p.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	return prof, nil
}

// Predictions publishes model predictions and lists the live ones.
type Predictions struct {
	store  domain.PredictionStore
	now    func() time.Time
	logger *slog.Logger
}

// NewPredictions creates a Predictions service.
func NewPredictions(store domain.PredictionStore, logger *slog.Logger) *Predictions {
	return &Predictions{
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "predictions")),
	}
}

// Active returns up to limit unexpired predictions, most confident first.
func (p *Predictions) Active(ctx context.Context, limit int) ([]domain.Prediction, error) {
	if limit <= 0 {
		limit = defaultPredictionLimit
	}
	out, err := p.store.ListActive(ctx, p.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("predictions: list: %w", err)
	}
	return out, nil
}

// Publish stores a new prediction. Confidence is a percentage and the expiry
// must lie in the future.
func (p *Predictions) Publish(ctx context.Context, pred domain.Prediction) (domain.Prediction, error) {
	now := p.now().UTC()
	pred.Symbol = domain.NormalizeSymbol(pred.Symbol)
	pred.PredictedDirection = strings.ToLower(strings.TrimSpace(pred.PredictedDirection))
	switch {
	case pred.Symbol == "":
		return domain.Prediction{}, fmt.Errorf("predictions: symbol required: %w", domain.ErrInvalidSettings)
	case pred.PredictedDirection == "":
		return domain.Prediction{}, fmt.Errorf("predictions: direction required: %w", domain.ErrInvalidSettings)
	case pred.Confidence < 0 || pred.Confidence > 100:
		return domain.Prediction{}, fmt.Errorf("predictions: confidence %v outside 0..100: %w", pred.Confidence, domain.ErrInvalidSettings)
	case !pred.ExpiresAt.After(now):
		return domain.Prediction{}, fmt.Errorf("predictions: expiry not in the future: %w", domain.ErrInvalidSettings)
	}
	if pred.ID == "" {
		pred.ID = uuid.NewString()
	}
	if pred.CreatedAt.IsZero() {
		pred.CreatedAt = now
	}
	if err := p.store.Insert(ctx, pred); err != nil {
		return domain.Prediction{}, fmt.Errorf("predictions: publish: %w", err)
	}
	p.logger.InfoContext(ctx, "prediction published",
		slog.String("id", pred.ID),
		slog.String("symbol", pred.Symbol),
		slog.Float64("confidence", pred.Confidence),
	)
	return pred, nil
}
