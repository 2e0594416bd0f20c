package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
	"github.com/alanyoungcy/tradedesk/internal/service"
)

// TradeService is the part of the trade lifecycle the HTTP API drives.
type TradeService interface {
	OpenPosition(ctx context.Context, req service.OpenRequest) (domain.Trade, error)
	CloseByID(ctx context.Context, userID, tradeID string) (domain.Trade, error)
	ValuateByID(ctx context.Context, userID, tradeID string) (domain.Trade, *domain.Valuation, error)
	ListTrades(ctx context.Context, userID string, filter domain.TradeFilter) ([]domain.Trade, error)
	PortfolioSummary(ctx context.Context, userID string) (service.Summary, error)
	ProvisionPortfolio(ctx context.Context, userID, name string) (domain.Portfolio, error)
	ResetDemo(ctx context.Context, userID string) (domain.Portfolio, error)
}

// maxTradeDuration bounds duration_seconds on a new trade.
const maxTradeDuration = 365 * 24 * time.Hour

// TradeHandler serves trade and portfolio endpoints.
type TradeHandler struct {
	trades TradeService
	now    func() time.Time
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, now: time.Now, logger: logger}
}

type openTradeRequest struct {
	PortfolioID     string           `json:"portfolio_id"`
	Symbol          string           `json:"symbol"`
	Direction       string           `json:"direction"`
	Amount          decimal.Decimal  `json:"amount"`
	Leverage        decimal.Decimal  `json:"leverage"`
	IsDemo          bool             `json:"is_demo"`
	StopLoss        *decimal.Decimal `json:"stop_loss"`
	TakeProfit      *decimal.Decimal `json:"take_profit"`
	ExpiresAt       *time.Time       `json:"expires_at"`
	DurationSeconds int64            `json:"duration_seconds"`
	AIRecommended   bool             `json:"ai_recommended"`
}

// OpenTrade opens a position at the current mark.
// POST /api/trades
func (h *TradeHandler) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var body openTradeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.DurationSeconds < 0 || body.DurationSeconds > int64(maxTradeDuration/time.Second) {
		writeError(w, http.StatusBadRequest,
			"duration_seconds must be between 0 and "+strconv.FormatInt(int64(maxTradeDuration/time.Second), 10))
		return
	}

	expiresAt := body.ExpiresAt
	if expiresAt == nil && body.DurationSeconds > 0 {
		at := h.now().Add(time.Duration(body.DurationSeconds) * time.Second)
		expiresAt = &at
	}

	trade, err := h.trades.OpenPosition(r.Context(), service.OpenRequest{
		UserID:        middleware.UserID(r.Context()),
		PortfolioID:   body.PortfolioID,
		Symbol:        body.Symbol,
		Direction:     domain.TradeDirection(body.Direction),
		Amount:        body.Amount,
		Leverage:      body.Leverage,
		IsDemo:        body.IsDemo,
		StopLoss:      body.StopLoss,
		TakeProfit:    body.TakeProfit,
		ExpiresAt:     expiresAt,
		AIRecommended: body.AIRecommended,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "open trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, newTradeView(trade, nil))
}

// ListTrades returns the caller's trades, newest first.
// GET /api/trades?status=active&demo=true&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TradeFilter{
		Status:   domain.TradeStatus(q.Get("status")),
		ListOpts: parseListOpts(r, 50),
	}
	if v := q.Get("demo"); v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "demo must be true or false")
			return
		}
		filter.IsDemo = &demo
	}

	trades, err := h.trades.ListTrades(r.Context(), middleware.UserID(r.Context()), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": newTradeViews(trades)})
}

// GetTrade returns one trade and, while open, its valuation.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	trade, val, err := h.trades.ValuateByID(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get trade", err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(trade, val))
}

// CloseTrade closes one of the caller's trades at the current mark.
// POST /api/trades/{id}/close
func (h *TradeHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.trades.CloseByID(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "close trade", err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(trade, nil))
}

// GetPortfolio returns the default portfolio with open positions valued.
// GET /api/portfolio
func (h *TradeHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := h.trades.PortfolioSummary(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "portfolio summary", err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(summary))
}

// ProvisionPortfolio creates the caller's default portfolio.
// POST /api/portfolios
func (h *TradeHandler) ProvisionPortfolio(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	p, err := h.trades.ProvisionPortfolio(r.Context(), middleware.UserID(r.Context()), body.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, "provision portfolio", err)
		return
	}
	writeJSON(w, http.StatusCreated, newPortfolioView(p))
}

// ResetDemo restores the demo balance to the configured allowance.
// POST /api/portfolio/demo/reset
func (h *TradeHandler) ResetDemo(w http.ResponseWriter, r *http.Request) {
	p, err := h.trades.ResetDemo(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "reset demo", err)
		return
	}
	writeJSON(w, http.StatusOK, newPortfolioView(p))
}
