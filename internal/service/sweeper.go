package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// SweeperConfig controls the expiration sweep.
type SweeperConfig struct {
	Interval  time.Duration
	LeaseTTL  time.Duration
	BatchSize int
}

// SweepResult counts what one tick did.
type SweepResult struct {
	Expired int
	Closed  int
	Skipped int
	Failed  int
}

// Sweeper closes active trades whose expiry has passed. Each trade is claimed
// through a lease before the close is attempted, so concurrent ticks, in one
// process or several, close a trade at most once.
type Sweeper struct {
	lifecycle *Lifecycle
	trades    domain.TradeStore
	marks     domain.MarkSource
	leases    domain.LockManager
	cfg       SweeperConfig
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	claimed map[string]func() // trade id -> lease release, held after a successful close
}

// NewSweeper creates a Sweeper.
func NewSweeper(lifecycle *Lifecycle, trades domain.TradeStore, marks domain.MarkSource, leases domain.LockManager, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		lifecycle: lifecycle,
		trades:    trades,
		marks:     marks,
		leases:    leases,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "sweeper")),
		claimed:   make(map[string]func()),
	}
}

// LeaseKey is the lease guarding the close of one trade.
func LeaseKey(tradeID string) string {
	return "lease:trade:" + tradeID
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("lease_ttl", s.cfg.LeaseTTL),
	)
	defer s.logger.Info("sweeper stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.releaseAll()
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one tick over the whole expired set, BatchSize trades per query,
// so trades that keep failing never hide the ones behind them. Per-trade
// failures are logged and retried next tick; only a failure to list expired
// trades is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := s.lifecycle.tracer.Start(ctx, "sweeper.Sweep")
	var res SweepResult
	defer func() {
		span.SetAttributes(
			attribute.Int("expired", res.Expired),
			attribute.Int("closed", res.Closed),
			attribute.Int("failed", res.Failed),
		)
		span.End()
	}()

	now := s.now()
	live := make(map[string]struct{})
	var after *domain.ExpiryCursor
	for ctx.Err() == nil {
		page, err := s.trades.ListExpired(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		res.Expired += len(page)
		for _, t := range page {
			live[t.ID] = struct{}{}
			if ctx.Err() != nil {
				break
			}
			switch s.sweepOne(ctx, span, t) {
			case sweepClosed:
				res.Closed++
			case sweepSkipped:
				res.Skipped++
			case sweepFailed:
				res.Failed++
			}
		}
		if len(page) < s.cfg.BatchSize {
			break
		}
		last := page[len(page)-1]
		after = &domain.ExpiryCursor{ExpiresAt: *last.ExpiresAt, ID: last.ID}
	}
	s.forgetSettled(live)

	if res.Expired > 0 {
		s.logger.DebugContext(ctx, "sweep complete",
			slog.Int("expired", res.Expired),
			slog.Int("closed", res.Closed),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

type sweepOutcome int

const (
	sweepClosed sweepOutcome = iota
	sweepSkipped
	sweepFailed
)

func (s *Sweeper) sweepOne(ctx context.Context, span trace.Span, t domain.Trade) sweepOutcome {
	s.mu.Lock()
	_, held := s.claimed[t.ID]
	s.mu.Unlock()
	if held {
		return sweepSkipped
	}

	release, err := s.leases.Acquire(ctx, LeaseKey(t.ID), s.cfg.LeaseTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			s.logger.WarnContext(ctx, "lease acquire failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			return sweepFailed
		}
		return sweepSkipped
	}

	exit := t.EntryPrice
	if m, ok := s.marks.Latest(ctx, t.Symbol); ok {
		exit = m.Price
	} else {
		s.logger.WarnContext(ctx, "no mark for expired trade, closing at entry price",
			slog.String("trade_id", t.ID),
			slog.String("symbol", t.Symbol),
		)
	}

	_, err = s.lifecycle.ClosePosition(ctx, t, exit, domain.CloseReasonExpired)
	switch {
	case err == nil:
		s.hold(t.ID, release)
		return sweepClosed
	case errors.Is(err, domain.ErrInvalidState):
		// Closed by someone else first.
		s.hold(t.ID, release)
		return sweepSkipped
	default:
		release()
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "expire trade failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
		return sweepFailed
	}
}

func (s *Sweeper) hold(tradeID string, release func()) {
	s.mu.Lock()
	s.claimed[tradeID] = release
	s.mu.Unlock()
}

// forgetSettled releases claims on trades that no longer show up as expired
// and active.
func (s *Sweeper) forgetSettled(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, release := range s.claimed {
		if _, ok := live[id]; ok {
			continue
		}
		release()
		delete(s.claimed, id)
	}
}

func (s *Sweeper) releaseAll() {
	s.forgetSettled(nil)
}

// Claimed returns how many trade leases the sweeper is holding.
func (s *Sweeper) Claimed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}
