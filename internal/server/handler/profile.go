package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
)

// ProfileService reads and saves user settings.
type ProfileService interface {
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Update(ctx context.Context, p domain.Profile) (domain.Profile, error)
}

// ProfileHandler serves the caller's trading preferences.
type ProfileHandler struct {
	profiles ProfileService
	logger   *slog.Logger
}

// NewProfileHandler creates a ProfileHandler with the given service and logger.
func NewProfileHandler(profiles ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

type profileView struct {
	TradingMode   string     `json:"trading_mode"`
	RiskTolerance int        `json:"risk_tolerance"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func newProfileView(p domain.Profile) profileView {
	v := profileView{TradingMode: string(p.TradingMode), RiskTolerance: p.RiskTolerance}
	if !p.UpdatedAt.IsZero() {
		v.UpdatedAt = &p.UpdatedAt
	}
	return v
}

// GetProfile returns the caller's settings, defaults included.
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(p))
}

// UpdateProfile replaces the caller's settings.
// PUT /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TradingMode   string `json:"trading_mode"`
		RiskTolerance int    `json:"risk_tolerance"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.profiles.Update(r.Context(), domain.Profile{
		UserID:        middleware.UserID(r.Context()),
		TradingMode:   domain.TradingMode(body.TradingMode),
		RiskTolerance: body.RiskTolerance,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(p))
}

// PredictionLister lists live model predictions.
type PredictionLister interface {
	Active(ctx context.Context, limit int) ([]domain.Prediction, error)
}

// PredictionHandler serves the prediction feed.
type PredictionHandler struct {
	predictions PredictionLister
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler with the given service and logger.
func NewPredictionHandler(predictions PredictionLister, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{predictions: predictions, logger: logger}
}

type predictionView struct {
	ID                 string           `json:"id"`
	Symbol             string           `json:"symbol"`
	PredictionType     string           `json:"prediction_type"`
	PredictedDirection string           `json:"predicted_direction"`
	Confidence         float64          `json:"confidence"`
	PredictedPrice     *decimal.Decimal `json:"predicted_price"`
	Timeframe          string           `json:"timeframe"`
	ModelUsed          string           `json:"model_used"`
	CreatedAt          time.Time        `json:"created_at"`
	ExpiresAt          time.Time        `json:"expires_at"`
}

// ListPredictions returns the most confident unexpired predictions.
// GET /api/predictions?limit=5
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	preds, err := h.predictions.Active(r.Context(), min(parseListOpts(r, 5).Limit, 50))
	if err != nil {
		writeServiceError(w, r, h.logger, "list predictions", err)
		return
	}
	views := make([]predictionView, 0, len(preds))
	for _, p := range preds {
		views = append(views, predictionView{
			ID:                 p.ID,
			Symbol:             p.Symbol,
			PredictionType:     p.PredictionType,
			PredictedDirection: p.PredictedDirection,
			Confidence:         p.Confidence,
			PredictedPrice:     p.PredictedPrice,
			Timeframe:          p.Timeframe,
			ModelUsed:          p.ModelUsed,
			CreatedAt:          p.CreatedAt,
			ExpiresAt:          p.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": views})
}
