// Package service holds the trade lifecycle, the expiration sweeper and the
// wallet. Services depend only on domain interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// LifecycleConfig bounds what OpenPosition accepts.
type LifecycleConfig struct {
	Symbols         []string
	MaxLeverage     int
	MinOrderAmount  decimal.Decimal
	DemoResetAmount decimal.Decimal
	StaleAfter      time.Duration
}

// OpenRequest describes a position to open. PortfolioID may be empty to use
// the user's default portfolio; a zero Leverage means 1.
type OpenRequest struct {
	UserID        string
	PortfolioID   string
	Symbol        string
	Direction     domain.TradeDirection
	Amount        decimal.Decimal
	Leverage      decimal.Decimal
	IsDemo        bool
	StopLoss      *decimal.Decimal
	TakeProfit    *decimal.Decimal
	ExpiresAt     *time.Time
	AIRecommended bool
}

// Position pairs an open trade with its current valuation.
type Position struct {
	Trade     domain.Trade
	Valuation domain.Valuation
}

// Summary is a portfolio snapshot with its open positions.
type Summary struct {
	Portfolio     domain.Portfolio
	Positions     []Position
	UnrealizedPnL decimal.Decimal
	Committed     decimal.Decimal
}

// Lifecycle is the trade state machine: open, value, close.
type Lifecycle struct {
	ledger     domain.PositionLedger
	portfolios domain.PortfolioStore
	trades     domain.TradeStore
	marks      domain.MarkSource
	audit      domain.AuditStore
	changes    *ChangeNotifier
	alerts     Alerter
	cfg        LifecycleConfig
	symbols    map[string]struct{}
	tracer     trace.Tracer
	now        func() time.Time
	logger     *slog.Logger
}

// NewLifecycle creates a Lifecycle. alerts may be nil.
func NewLifecycle(
	ledger domain.PositionLedger,
	portfolios domain.PortfolioStore,
	trades domain.TradeStore,
	marks domain.MarkSource,
	audit domain.AuditStore,
	changes *ChangeNotifier,
	alerts Alerter,
	cfg LifecycleConfig,
	logger *slog.Logger,
) *Lifecycle {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = domain.DefaultSymbols
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 1
	}
	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[domain.NormalizeSymbol(s)] = struct{}{}
	}
	return &Lifecycle{
		ledger:     ledger,
		portfolios: portfolios,
		trades:     trades,
		marks:      marks,
		audit:      audit,
		changes:    changes,
		alerts:     alerts,
		cfg:        cfg,
		symbols:    symbols,
		tracer:     otel.Tracer("tradedesk/service"),
		now:        time.Now,
		logger:     logger.With(slog.String("component", "lifecycle")),
	}
}

// Valuate marks a trade to price. Longs gain when price rises, shorts when it
// falls. The percentage is relative to the notional entryPrice * quantity.
func Valuate(t domain.Trade, price decimal.Decimal) domain.Valuation {
	pnl := price.Sub(t.EntryPrice).Mul(t.Quantity).Mul(t.Direction.Multiplier())
	pct := decimal.Zero
	if notional := t.Notional(); !notional.IsZero() {
		pct = pnl.Div(notional).Mul(hundred)
	}
	return domain.Valuation{
		TradeID:              t.ID,
		Mark:                 price,
		UnrealizedPnL:        pnl,
		UnrealizedPnLPercent: pct,
	}
}

// ValuateMark values t against m, or against its own entry price (zero P/L,
// flagged estimated) when no mark is available.
func ValuateMark(t domain.Trade, m domain.Mark, ok bool) domain.Valuation {
	if !ok || !m.Price.IsPositive() {
		v := Valuate(t, t.EntryPrice)
		v.Estimated = true
		return v
	}
	return Valuate(t, m.Price)
}

func (l *Lifecycle) validate(req *OpenRequest) error {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if req.UserID == "" {
		return domain.ErrNotAuthenticated
	}
	if !req.Direction.Valid() {
		return fmt.Errorf("lifecycle: direction %q: %w", req.Direction, domain.ErrInvalidOrder)
	}
	if _, ok := l.symbols[req.Symbol]; !ok {
		return fmt.Errorf("lifecycle: symbol %q not traded: %w", req.Symbol, domain.ErrInvalidOrder)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("lifecycle: amount %s must be positive: %w", req.Amount, domain.ErrInvalidOrder)
	}
	req.Amount = req.Amount.Round(domain.MoneyScale)
	if req.Amount.LessThan(l.cfg.MinOrderAmount) {
		return fmt.Errorf("lifecycle: amount %s below minimum %s: %w", req.Amount, l.cfg.MinOrderAmount, domain.ErrInvalidOrder)
	}
	if req.Leverage.IsZero() {
		req.Leverage = decimal.NewFromInt(1)
	}
	if req.Leverage.LessThan(decimal.NewFromInt(1)) || req.Leverage.GreaterThan(decimal.NewFromInt(int64(l.cfg.MaxLeverage))) {
		return fmt.Errorf("lifecycle: leverage %s outside 1..%d: %w", req.Leverage, l.cfg.MaxLeverage, domain.ErrInvalidOrder)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(l.now()) {
		return fmt.Errorf("lifecycle: expiry %s is not in the future: %w", req.ExpiresAt.Format(time.RFC3339), domain.ErrInvalidOrder)
	}
	for name, p := range map[string]*decimal.Decimal{"stop_loss": req.StopLoss, "take_profit": req.TakeProfit} {
		if p != nil && !p.IsPositive() {
			return fmt.Errorf("lifecycle: %s must be positive: %w", name, domain.ErrInvalidOrder)
		}
	}
	return nil
}

// OpenPosition debits amount from the selected balance and records an active
// trade at the current mark. Debit and insert commit together.
func (l *Lifecycle) OpenPosition(ctx context.Context, req OpenRequest) (trade domain.Trade, err error) {
	ctx, span := l.tracer.Start(ctx, "lifecycle.OpenPosition", trace.WithAttributes(
		attribute.String("symbol", req.Symbol),
		attribute.String("direction", string(req.Direction)),
		attribute.Bool("demo", req.IsDemo),
	))
	defer func() { endSpan(span, err) }()

	if err := l.validate(&req); err != nil {
		return domain.Trade{}, err
	}

	m, ok := l.marks.Latest(ctx, req.Symbol)
	if !ok || !m.Price.IsPositive() {
		return domain.Trade{}, fmt.Errorf("lifecycle: %s: %w", req.Symbol, domain.ErrNoMarketData)
	}
	now := l.now().UTC()
	if m.Stale(now, l.cfg.StaleAfter) {
		l.logger.WarnContext(ctx, "opening against stale mark",
			slog.String("symbol", req.Symbol),
			slog.Duration("age", m.Age(now)),
		)
	}

	portfolioID := req.PortfolioID
	if portfolioID == "" {
		p, err := l.portfolios.GetDefault(ctx, req.UserID)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("lifecycle: default portfolio: %w", err)
		}
		portfolioID = p.ID
	}

	trade = domain.Trade{
		ID:            uuid.NewString(),
		PortfolioID:   portfolioID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Status:        domain.TradeStatusActive,
		EntryPrice:    m.Price,
		Quantity:      req.Amount.Mul(req.Leverage).Div(m.Price),
		Leverage:      req.Leverage,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		IsDemo:        req.IsDemo,
		AIRecommended: req.AIRecommended,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     now,
	}

	var after domain.Portfolio
	err = l.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.ReadPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		if p.UserID != req.UserID {
			return domain.ErrPortfolioNotFound
		}
		if after, err = tx.Debit(ctx, portfolioID, req.IsDemo, req.Amount); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("lifecycle: open %s %s: %w", req.Direction, req.Symbol, err)
	}

	l.changes.TradeChanged(ctx, domain.EventTradeOpened, trade)
	l.changes.PortfolioChanged(ctx, after)
	l.auditLog(ctx, "trade_opened", map[string]any{
		"trade_id":     trade.ID,
		"portfolio_id": trade.PortfolioID,
		"symbol":       trade.Symbol,
		"direction":    string(trade.Direction),
		"entry_price":  trade.EntryPrice.String(),
		"quantity":     trade.Quantity.String(),
		"leverage":     trade.Leverage.String(),
		"amount":       req.Amount.String(),
		"demo":         trade.IsDemo,
	})
	l.logger.InfoContext(ctx, "trade opened",
		slog.String("trade_id", trade.ID),
		slog.String("symbol", trade.Symbol),
		slog.String("direction", string(trade.Direction)),
		slog.String("entry_price", trade.EntryPrice.String()),
		slog.String("amount", req.Amount.String()),
	)
	return trade, nil
}

// ClosePosition completes an active trade at exitPrice and credits principal
// plus realized P/L back to the balance it came from. The completion is
// conditional on the trade still being active, so a trade closes once.
func (l *Lifecycle) ClosePosition(ctx context.Context, t domain.Trade, exitPrice decimal.Decimal, reason domain.CloseReason) (closed domain.Trade, err error) {
	ctx, span := l.tracer.Start(ctx, "lifecycle.ClosePosition", trace.WithAttributes(
		attribute.String("trade_id", t.ID),
		attribute.String("reason", string(reason)),
	))
	defer func() { endSpan(span, err) }()

	if t.Status != domain.TradeStatusActive {
		return domain.Trade{}, fmt.Errorf("lifecycle: close trade %s in status %s: %w", t.ID, t.Status, domain.ErrInvalidState)
	}
	if !exitPrice.IsPositive() {
		return domain.Trade{}, fmt.Errorf("lifecycle: close trade %s: exit price %s: %w", t.ID, exitPrice, domain.ErrNoMarketData)
	}

	pnl := Valuate(t, exitPrice).UnrealizedPnL.Round(domain.MoneyScale)
	principal := t.Principal()
	now := l.now().UTC()

	var after domain.Portfolio
	err = l.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		closed, err = tx.CompleteTrade(ctx, domain.TradeCompletion{
			TradeID:     t.ID,
			ExitPrice:   exitPrice,
			RealizedPnL: pnl,
			ClosedAt:    now,
			Reason:      reason,
		})
		if err != nil {
			return err
		}
		after, err = tx.Credit(ctx, t.PortfolioID, t.IsDemo, principal.Add(pnl), pnl)
		return err
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("lifecycle: close trade %s: %w", t.ID, err)
	}

	l.changes.TradeChanged(ctx, domain.EventTradeClosed, closed)
	l.changes.PortfolioChanged(ctx, after)
	l.auditLog(ctx, "trade_closed", map[string]any{
		"trade_id":     closed.ID,
		"portfolio_id": closed.PortfolioID,
		"exit_price":   exitPrice.String(),
		"realized_pnl": pnl.String(),
		"reason":       string(reason),
	})
	l.alert(ctx, closed, pnl, reason)
	l.logger.InfoContext(ctx, "trade closed",
		slog.String("trade_id", closed.ID),
		slog.String("exit_price", exitPrice.String()),
		slog.String("realized_pnl", pnl.String()),
		slog.String("reason", string(reason)),
	)
	return closed, nil
}

// CloseByID closes one of userID's trades at the current mark.
func (l *Lifecycle) CloseByID(ctx context.Context, userID, tradeID string) (domain.Trade, error) {
	t, err := l.ownedTrade(ctx, userID, tradeID)
	if err != nil {
		return domain.Trade{}, err
	}
	if t.Status != domain.TradeStatusActive {
		return domain.Trade{}, fmt.Errorf("lifecycle: close trade %s in status %s: %w", t.ID, t.Status, domain.ErrInvalidState)
	}
	m, ok := l.marks.Latest(ctx, t.Symbol)
	if !ok {
		return domain.Trade{}, fmt.Errorf("lifecycle: %s: %w", t.Symbol, domain.ErrNoMarketData)
	}
	return l.ClosePosition(ctx, t, m.Price, domain.CloseReasonManual)
}

// ValuateByID returns one of userID's trades and, while it is open, its
// current valuation.
func (l *Lifecycle) ValuateByID(ctx context.Context, userID, tradeID string) (domain.Trade, *domain.Valuation, error) {
	t, err := l.ownedTrade(ctx, userID, tradeID)
	if err != nil {
		return domain.Trade{}, nil, err
	}
	if !t.Status.Open() {
		return t, nil, nil
	}
	m, ok := l.marks.Latest(ctx, t.Symbol)
	v := ValuateMark(t, m, ok)
	return t, &v, nil
}

// ListTrades lists userID's trades, newest first.
func (l *Lifecycle) ListTrades(ctx context.Context, userID string, filter domain.TradeFilter) ([]domain.Trade, error) {
	trades, err := l.trades.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list trades: %w", err)
	}
	return trades, nil
}

// PortfolioSummary returns userID's default portfolio with every open trade
// valued at the latest mark.
func (l *Lifecycle) PortfolioSummary(ctx context.Context, userID string) (Summary, error) {
	p, err := l.portfolios.GetDefault(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("lifecycle: default portfolio: %w", err)
	}
	open, err := l.trades.ListOpenByPortfolio(ctx, p.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("lifecycle: open trades: %w", err)
	}

	s := Summary{Portfolio: p, Positions: make([]Position, 0, len(open))}
	for _, t := range open {
		m, ok := l.marks.Latest(ctx, t.Symbol)
		v := ValuateMark(t, m, ok)
		s.Positions = append(s.Positions, Position{Trade: t, Valuation: v})
		s.UnrealizedPnL = s.UnrealizedPnL.Add(v.UnrealizedPnL)
		s.Committed = s.Committed.Add(t.Principal())
	}
	return s, nil
}

// ProvisionPortfolio creates userID's default portfolio funded with the demo
// allowance. It returns ErrAlreadyExists if one is already provisioned.
func (l *Lifecycle) ProvisionPortfolio(ctx context.Context, userID, name string) (domain.Portfolio, error) {
	if userID == "" {
		return domain.Portfolio{}, domain.ErrNotAuthenticated
	}
	if name == "" {
		name = "Main Portfolio"
	}
	now := l.now().UTC()
	p := domain.Portfolio{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Balance:     decimal.Zero,
		DemoBalance: l.cfg.DemoResetAmount,
		IsDefault:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.portfolios.Create(ctx, p); err != nil {
		return domain.Portfolio{}, fmt.Errorf("lifecycle: provision portfolio for %s: %w", userID, err)
	}
	l.auditLog(ctx, "portfolio_provisioned", map[string]any{
		"portfolio_id": p.ID,
		"user_id":      userID,
	})
	l.logger.InfoContext(ctx, "portfolio provisioned",
		slog.String("portfolio_id", p.ID),
		slog.String("user_id", userID),
	)
	return p, nil
}

// ResetDemo sets userID's demo balance back to the configured allowance.
// Open demo trades keep their committed principal and are credited on close.
func (l *Lifecycle) ResetDemo(ctx context.Context, userID string) (domain.Portfolio, error) {
	p, err := l.portfolios.GetDefault(ctx, userID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("lifecycle: default portfolio: %w", err)
	}
	var after domain.Portfolio
	err = l.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		after, err = tx.SetBalance(ctx, p.ID, true, l.cfg.DemoResetAmount)
		return err
	})
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("lifecycle: reset demo balance: %w", err)
	}
	l.changes.PortfolioChanged(ctx, after)
	l.auditLog(ctx, "demo_reset", map[string]any{
		"portfolio_id": p.ID,
		"previous":     p.DemoBalance.String(),
		"balance":      after.DemoBalance.String(),
	})
	return after, nil
}

func (l *Lifecycle) ownedTrade(ctx context.Context, userID, tradeID string) (domain.Trade, error) {
	t, err := l.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("lifecycle: trade %s: %w", tradeID, err)
	}
	if t.UserID != userID {
		return domain.Trade{}, fmt.Errorf("lifecycle: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	return t, nil
}

func (l *Lifecycle) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Lifecycle) alert(ctx context.Context, t domain.Trade, pnl decimal.Decimal, reason domain.CloseReason) {
	if l.alerts == nil {
		return
	}
	event, title := "trade_closed", "Trade closed"
	if reason == domain.CloseReasonExpired {
		event, title = "trade_expired", "Trade expired"
	}
	msg := fmt.Sprintf("%s %s %s\nexit %s, realized P/L %s", t.Symbol, t.Direction, t.ID, t.ExitPrice, pnl)
	if err := l.alerts.Notify(ctx, event, title, msg); err != nil {
		l.logger.WarnContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
