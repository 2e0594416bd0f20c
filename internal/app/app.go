// Package app provides the top-level application lifecycle management for the
// trading desk. It wires together all dependencies (stores, caches, blob
// storage, services, the exchange feed, and notifications) and starts the
// appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/config"
	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/feed"
	"github.com/alanyoungcy/tradedesk/internal/notify"
	"github.com/alanyoungcy/tradedesk/internal/service"
	"github.com/alanyoungcy/tradedesk/internal/telemetry"
)

// Version is stamped at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// core holds the services shared by every mode.
type core struct {
	deps      *Dependencies
	marks     *feed.MarkBook
	lifecycle *service.Lifecycle
	wallet    *service.Wallet
	profiles  *service.Profiles
	predicts  *service.Predictions
	alerts    service.Alerter
}

func (c *core) alert(ctx context.Context, title, message string) {
	if c.alerts != nil {
		_ = c.alerts.Notify(ctx, notify.EventError, title, message)
	}
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("version", Version),
	)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     a.cfg.Telemetry.Enabled,
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     Version,
		Writer:      os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("app: telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	})

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	c := a.buildCore(deps)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "server":
		return a.ServerMode(ctx, c)
	case "sweeper":
		return a.SweeperMode(ctx, c)
	case "feed":
		return a.FeedMode(ctx, c)
	case "full":
		return a.FullMode(ctx, c)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

func (a *App) buildCore(deps *Dependencies) *core {
	c := &core{
		deps:  deps,
		marks: feed.NewMarkBook(deps.MarkCache, deps.SignalBus, a.logger),
	}
	if deps.Alerts != nil {
		c.alerts = deps.Alerts
	}

	changes := service.NewChangeNotifier(deps.SignalBus, a.logger)
	c.lifecycle = service.NewLifecycle(
		deps.Ledger, deps.Portfolios, deps.Trades, c.marks, deps.AuditStore,
		changes, c.alerts,
		service.LifecycleConfig{
			Symbols:         a.cfg.Feed.Symbols,
			MaxLeverage:     a.cfg.Trading.MaxLeverage,
			MinOrderAmount:  decimal.NewFromFloat(a.cfg.Trading.MinOrderAmount),
			DemoResetAmount: decimal.NewFromFloat(a.cfg.Trading.DemoResetAmount),
			StaleAfter:      a.cfg.Feed.StaleAfter.Duration,
		},
		a.logger,
	)

	var gateway domain.PaymentGateway
	if deps.Gateway != nil {
		gateway = deps.Gateway
	}
	c.wallet = service.NewWallet(
		deps.Ledger, deps.Portfolios, deps.Transactions, gateway, deps.AuditStore,
		changes, c.alerts,
		service.WalletConfig{
			MinWithdrawal:  decimal.NewFromFloat(a.cfg.Wallet.MinWithdrawal),
			MinRealDeposit: decimal.NewFromFloat(a.cfg.Wallet.MinRealDeposit),
		},
		a.logger,
	)
	c.profiles = service.NewProfiles(deps.Profiles, deps.AuditStore, a.logger)
	c.predicts = service.NewPredictions(deps.Predictions, a.logger)
	return c
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
