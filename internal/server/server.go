// Package server exposes the trading desk over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/server/handler"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
	"github.com/alanyoungcy/tradedesk/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// RateLimit caps order and wallet writes per user per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers. Webhook may be nil when no payment
// gateway is configured.
type Handlers struct {
	Health      *handler.HealthHandler
	Marks       *handler.MarkHandler
	Trades      *handler.TradeHandler
	Wallet      *handler.WalletHandler
	Webhook     *handler.WebhookHandler
	Profile     *handler.ProfileHandler
	Predictions *handler.PredictionHandler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging and CORS.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, sessions middleware.TokenVerifier, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	auth := middleware.Auth(sessions)
	limited := middleware.RateLimit(limiter, "orders", cfg.RateLimit, cfg.RateWindow, logger)
	user := func(f http.HandlerFunc) http.Handler { return auth(f) }
	userLimited := func(f http.HandlerFunc) http.Handler { return auth(limited(f)) }

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/marks", h.Marks.ListMarks)
	mux.HandleFunc("GET /api/marks/{base}/{quote}", h.Marks.GetMark)
	mux.HandleFunc("GET /api/payments/config", h.Wallet.PaymentConfig)
	mux.HandleFunc("GET /api/predictions", h.Predictions.ListPredictions)
	if h.Webhook != nil {
		mux.HandleFunc("POST /api/webhooks/midtrans", h.Webhook.Midtrans)
	}

	mux.Handle("GET /api/portfolio", user(h.Trades.GetPortfolio))
	mux.Handle("POST /api/portfolios", user(h.Trades.ProvisionPortfolio))
	mux.Handle("POST /api/portfolio/demo/reset", user(h.Trades.ResetDemo))

	mux.Handle("GET /api/trades", user(h.Trades.ListTrades))
	mux.Handle("POST /api/trades", userLimited(h.Trades.OpenTrade))
	mux.Handle("GET /api/trades/{id}", user(h.Trades.GetTrade))
	mux.Handle("POST /api/trades/{id}/close", userLimited(h.Trades.CloseTrade))

	mux.Handle("GET /api/profile", user(h.Profile.GetProfile))
	mux.Handle("PUT /api/profile", user(h.Profile.UpdateProfile))

	mux.Handle("GET /api/transactions", user(h.Wallet.ListTransactions))
	mux.Handle("POST /api/wallet/deposit", userLimited(h.Wallet.Deposit))
	mux.Handle("POST /api/wallet/withdraw", userLimited(h.Wallet.Withdraw))

	if hub != nil {
		mux.Handle("GET /ws", user(hub.HandleWS))
	}

	var root http.Handler = mux
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
