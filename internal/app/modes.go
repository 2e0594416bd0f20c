package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradedesk/internal/crypto"
	"github.com/alanyoungcy/tradedesk/internal/feed"
	"github.com/alanyoungcy/tradedesk/internal/platform/midtrans"
	"github.com/alanyoungcy/tradedesk/internal/server"
	"github.com/alanyoungcy/tradedesk/internal/server/handler"
	"github.com/alanyoungcy/tradedesk/internal/server/ws"
	"github.com/alanyoungcy/tradedesk/internal/service"
)

const (
	shutdownTimeout    = 5 * time.Second
	leaseCleanupPeriod = time.Minute
)

// ServerMode serves the HTTP and WebSocket API. Marks come from a local
// exchange feed, or from the shared bus when Redis is enabled.
func (a *App) ServerMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, c); err != nil {
		return err
	}
	a.startMarks(ctx, g, c)
	a.startBackground(ctx, g, c)
	return g.Wait()
}

// SweeperMode closes expired trades and archives completed ones.
func (a *App) SweeperMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting sweeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMarks(ctx, g, c)
	a.startBackground(ctx, g, c)
	a.startSweeper(ctx, g, c)
	a.startArchiver(ctx, g, c)
	return g.Wait()
}

// FeedMode only streams exchange marks into the shared cache and bus for the
// server and sweeper processes.
func (a *App) FeedMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting feed mode",
		slog.Any("symbols", a.cfg.Feed.Symbols),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, c)
	return g.Wait()
}

// FullMode runs every subsystem in one process.
func (a *App) FullMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, c); err != nil {
		return err
	}
	a.startFeed(ctx, g, c)
	a.startBackground(ctx, g, c)
	a.startSweeper(ctx, g, c)
	a.startArchiver(ctx, g, c)
	return g.Wait()
}

// startMarks keeps the mark book current. With Redis a dedicated feed process
// owns the exchange connection and this process follows its marks; without
// it the process runs its own feed.
func (a *App) startMarks(ctx context.Context, g *errgroup.Group, c *core) {
	if c.deps.Shared {
		g.Go(func() error {
			return c.marks.Follow(ctx, c.deps.SignalBus)
		})
		return
	}
	a.startFeed(ctx, g, c)
}

func (a *App) startFeed(ctx context.Context, g *errgroup.Group, c *core) {
	bf := feed.NewBinanceFeed(feed.BinanceConfig{
		Symbols:          a.cfg.Feed.Symbols,
		WSEnabled:        a.cfg.Feed.WSEnabled,
		RESTBaseURL:      a.cfg.Feed.RESTBaseURL,
		SnapshotInterval: a.cfg.Feed.SnapshotInterval.Duration,
		BackoffMin:       a.cfg.Feed.BackoffMin.Duration,
		BackoffMax:       a.cfg.Feed.BackoffMax.Duration,
	}, c.marks, a.logger)
	g.Go(func() error {
		defer bf.Close()
		return bf.Run(ctx)
	})
}

// startBackground runs the helpers every mode with a ledger needs.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, c *core) {
	if c.deps.Alerts != nil {
		g.Go(func() error {
			return c.deps.Alerts.Run(ctx)
		})
	}
	if lt := c.deps.leaseTable; lt != nil {
		g.Go(func() error {
			ticker := time.NewTicker(leaseCleanupPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					lt.Cleanup()
				}
			}
		})
	}
}

func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, c *core) {
	if !a.cfg.Sweeper.Enabled {
		a.logger.WarnContext(ctx, "sweeper.enabled is false, expired trades will not be closed")
		return
	}
	sw := service.NewSweeper(c.lifecycle, c.deps.Trades, c.marks, c.deps.LockManager, service.SweeperConfig{
		Interval:  a.cfg.Sweeper.Interval.Duration,
		LeaseTTL:  a.cfg.Sweeper.LeaseTTL.Duration,
		BatchSize: a.cfg.Sweeper.BatchSize,
	}, a.logger)
	g.Go(func() error {
		return sw.Run(ctx)
	})
}

// startArchiver exports completed trades older than the retention window on
// every archive interval, starting with one run at boot.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, c *core) {
	if c.deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	run := func() {
		before := time.Now().UTC().Add(-retention)
		if _, err := c.deps.Archiver.ArchiveTrades(ctx, before); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "trade archive failed", slog.String("error", err.Error()))
			c.alert(ctx, "Trade archive failed", err.Error())
		}
	}
	g.Go(func() error {
		run()
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				run()
			}
		}
	})
}

// startHTTPServer must run before anything else joins g, so a setup error
// returns before any goroutine is left running.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *core) error {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false, HTTP API not started")
		return nil
	}
	sessions, err := crypto.NewSessions(a.cfg.Auth.SessionSecret, a.cfg.Auth.TokenTTL.Duration)
	if err != nil {
		return fmt.Errorf("app: sessions: %w", err)
	}

	hub := ws.NewHub(c.deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var (
		payment *midtrans.PublicConfig
		webhook *handler.WebhookHandler
	)
	if gw := c.deps.Gateway; gw != nil {
		pc := gw.PublicConfig()
		payment = &pc
		webhook = handler.NewWebhookHandler(c.wallet, gw.ServerKey(), a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(c.deps.Health, a.logger),
		Marks:       handler.NewMarkHandler(c.marks, a.cfg.Feed.StaleAfter.Duration),
		Trades:      handler.NewTradeHandler(c.lifecycle, a.logger),
		Wallet:      handler.NewWalletHandler(c.wallet, payment, a.logger),
		Webhook:     webhook,
		Profile:     handler.NewProfileHandler(c.profiles, a.logger),
		Predictions: handler.NewPredictionHandler(c.predicts, a.logger),
	}, hub, sessions, c.deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	return nil
}
