package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/cache/memory"
	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/store/sqlite"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fakeMarks struct {
	mu    sync.Mutex
	marks map[string]domain.Mark
}

func (f *fakeMarks) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[symbol] = domain.Mark{Symbol: symbol, Price: dec(price), Timestamp: time.Now()}
}

func (f *fakeMarks) clear(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.marks, symbol)
}

func (f *fakeMarks) Latest(_ context.Context, symbol string) (domain.Mark, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.marks[symbol]
	return m, ok
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	db           *sqlite.DB
	ledger       *sqlite.Ledger
	portfolios   *sqlite.PortfolioStore
	trades       *sqlite.TradeStore
	transactions *sqlite.TransactionStore
	audit        *sqlite.AuditStore
	marks        *fakeMarks
	bus          *memory.Bus
	alerts       *recordingAlerter
	lifecycle    *Lifecycle
	portfolio    domain.Portfolio
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness provisions user u1 with a demo balance of 1000 and a real
// balance of 0.
func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "tradedesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:           db,
		ledger:       sqlite.NewLedger(db),
		portfolios:   sqlite.NewPortfolioStore(db),
		trades:       sqlite.NewTradeStore(db),
		transactions: sqlite.NewTransactionStore(db),
		audit:        sqlite.NewAuditStore(db),
		marks:        &fakeMarks{marks: map[string]domain.Mark{}},
		bus:          memory.NewBus(),
		alerts:       &recordingAlerter{},
	}
	h.lifecycle = NewLifecycle(h.ledger, h.portfolios, h.trades, h.marks, h.audit,
		NewChangeNotifier(h.bus, testLogger()), h.alerts,
		LifecycleConfig{MaxLeverage: 100, DemoResetAmount: dec("100000"), StaleAfter: 30 * time.Second},
		testLogger())

	ctx := context.Background()
	p, err := h.lifecycle.ProvisionPortfolio(ctx, "u1", "")
	require.NoError(t, err)
	require.NoError(t, h.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		p, err = tx.SetBalance(ctx, p.ID, true, dec("1000"))
		return err
	}))
	h.portfolio = p
	return h
}

func (h *harness) read(t *testing.T) domain.Portfolio {
	t.Helper()
	p, err := h.ledger.Read(context.Background(), h.portfolio.ID)
	require.NoError(t, err)
	return p
}

func (h *harness) open(t *testing.T, req OpenRequest) domain.Trade {
	t.Helper()
	if req.UserID == "" {
		req.UserID = "u1"
	}
	if req.Symbol == "" {
		req.Symbol = "BTC/USDT"
	}
	if req.Direction == "" {
		req.Direction = domain.DirectionBuy
	}
	tr, err := h.lifecycle.OpenPosition(context.Background(), req)
	require.NoError(t, err)
	return tr
}

func TestOpenPositionDebitsBalance(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")

	tr := h.open(t, OpenRequest{Amount: dec("400"), IsDemo: true, StopLoss: decPtr("90"), AIRecommended: true})

	assert.Equal(t, domain.TradeStatusActive, tr.Status)
	require.NotNil(t, tr.StopLoss)
	assert.True(t, tr.StopLoss.Equal(dec("90")))
	assert.True(t, tr.AIRecommended)
	assert.True(t, tr.EntryPrice.Equal(dec("100")))
	assert.True(t, tr.Quantity.Equal(dec("4")))
	assert.Nil(t, tr.ExitPrice)
	assert.Nil(t, tr.RealizedPnL)
	assert.True(t, h.read(t).DemoBalance.Equal(dec("600")))

	active, err := h.trades.ListByUser(context.Background(), "u1", domain.TradeFilter{Status: domain.TradeStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, tr.ID, active[0].ID)
}

func TestOpenPositionInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")
	before := h.read(t)

	_, err := h.lifecycle.OpenPosition(context.Background(), OpenRequest{
		UserID: "u1", Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("1000.01"), IsDemo: true,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	after := h.read(t)
	assert.True(t, after.DemoBalance.Equal(before.DemoBalance))
	assert.Equal(t, before.Version, after.Version)

	trades, err := h.trades.ListByUser(context.Background(), "u1", domain.TradeFilter{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestOpenPositionValidation(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"bad direction", OpenRequest{Symbol: "BTC/USDT", Direction: "hold", Amount: dec("10")}, domain.ErrInvalidOrder},
		{"unknown symbol", OpenRequest{Symbol: "DOGE/USDT", Direction: domain.DirectionBuy, Amount: dec("10")}, domain.ErrInvalidOrder},
		{"zero amount", OpenRequest{Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: decimal.Zero}, domain.ErrInvalidOrder},
		{"leverage below one", OpenRequest{Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("10"), Leverage: dec("0.5")}, domain.ErrInvalidOrder},
		{"leverage above max", OpenRequest{Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("10"), Leverage: dec("101")}, domain.ErrInvalidOrder},
		{"expiry in past", OpenRequest{Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("10"), ExpiresAt: &past}, domain.ErrInvalidOrder},
		{"no mark", OpenRequest{Symbol: "ETH/USDT", Direction: domain.DirectionBuy, Amount: dec("10")}, domain.ErrNoMarketData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.UserID = "u1"
			tt.req.IsDemo = true
			_, err := h.lifecycle.OpenPosition(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1000")))
}

func TestOpenPositionRejectsForeignPortfolio(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")

	_, err := h.lifecycle.OpenPosition(context.Background(), OpenRequest{
		UserID: "intruder", PortfolioID: h.portfolio.ID,
		Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("10"), IsDemo: true,
	})
	require.ErrorIs(t, err, domain.ErrPortfolioNotFound)
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1000")))
}

func TestValuate(t *testing.T) {
	tests := []struct {
		name      string
		direction domain.TradeDirection
		entry     string
		qty       string
		mark      string
		pnl       string
		pct       string
	}{
		{"long gain", domain.DirectionBuy, "100", "10", "110", "100", "10"},
		{"long loss", domain.DirectionBuy, "100", "10", "95", "-50", "-5"},
		{"short gain", domain.DirectionSell, "100", "10", "90", "100", "10"},
		{"short loss", domain.DirectionSell, "100", "10", "120", "-200", "-20"},
		{"flat", domain.DirectionBuy, "64000", "0.5", "64000", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := domain.Trade{Direction: tt.direction, EntryPrice: dec(tt.entry), Quantity: dec(tt.qty), Leverage: dec("1")}
			v := Valuate(tr, dec(tt.mark))
			assert.True(t, v.UnrealizedPnL.Equal(dec(tt.pnl)), "pnl %s", v.UnrealizedPnL)
			assert.True(t, v.UnrealizedPnLPercent.Equal(dec(tt.pct)), "pct %s", v.UnrealizedPnLPercent)
			assert.False(t, v.Estimated)
		})
	}

	tr := domain.Trade{Direction: domain.DirectionBuy, EntryPrice: dec("100"), Quantity: dec("1")}
	v := ValuateMark(tr, domain.Mark{}, false)
	assert.True(t, v.Estimated)
	assert.True(t, v.UnrealizedPnL.IsZero())
}

func TestDemoProfitScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")

	tr := h.open(t, OpenRequest{Amount: dec("1000"), IsDemo: true})
	assert.True(t, tr.Quantity.Equal(dec("10")))
	assert.True(t, h.read(t).DemoBalance.IsZero())

	h.marks.set("BTC/USDT", "110")
	_, v, err := h.lifecycle.ValuateByID(ctx, "u1", tr.ID)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.UnrealizedPnL.Equal(dec("100")))
	assert.True(t, v.UnrealizedPnLPercent.Equal(dec("10")))

	closed, err := h.lifecycle.CloseByID(ctx, "u1", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusCompleted, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	require.NotNil(t, closed.RealizedPnL)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ExitPrice.Equal(dec("110")))
	assert.True(t, closed.RealizedPnL.Equal(dec("100")))
	assert.Equal(t, domain.CloseReasonManual, closed.CloseReason)

	p := h.read(t)
	assert.True(t, p.DemoBalance.Equal(dec("1100")), "balance %s", p.DemoBalance)
	assert.True(t, p.TotalRealizedPnL.Equal(dec("100")))
	assert.Equal(t, []string{"trade_closed"}, h.alerts.seen())
}

func TestCloseTwiceIsInvalidState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	tr := h.open(t, OpenRequest{Amount: dec("500"), IsDemo: true})

	_, err := h.lifecycle.ClosePosition(ctx, tr, dec("105"), domain.CloseReasonManual)
	require.NoError(t, err)
	after := h.read(t)

	// tr still carries status active, so the guard in the ledger decides.
	_, err = h.lifecycle.ClosePosition(ctx, tr, dec("200"), domain.CloseReasonManual)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.lifecycle.CloseByID(ctx, "u1", tr.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	again := h.read(t)
	assert.True(t, again.DemoBalance.Equal(after.DemoBalance))
	assert.True(t, again.TotalRealizedPnL.Equal(after.TotalRealizedPnL))
	assert.Equal(t, after.Version, again.Version)
}

func TestOpenCloseAtSamePriceRestoresBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("ETH/USDT", "3123.45")

	tr := h.open(t, OpenRequest{Symbol: "ETH/USDT", Direction: domain.DirectionSell, Amount: dec("333.33"), IsDemo: true})
	_, err := h.lifecycle.ClosePosition(ctx, tr, dec("3123.45"), domain.CloseReasonManual)
	require.NoError(t, err)

	p := h.read(t)
	assert.True(t, p.DemoBalance.Equal(dec("1000")), "balance %s", p.DemoBalance)
	assert.True(t, p.TotalRealizedPnL.IsZero())
}

func TestShortPositionProfit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")

	tr := h.open(t, OpenRequest{Direction: domain.DirectionSell, Amount: dec("1000"), IsDemo: true})
	assert.True(t, tr.Quantity.Equal(dec("10")))

	closed, err := h.lifecycle.ClosePosition(ctx, tr, dec("90"), domain.CloseReasonManual)
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("100")))
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1100")))
}

func TestLeveragedPrincipalRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")

	tr := h.open(t, OpenRequest{Amount: dec("1000"), Leverage: dec("5"), IsDemo: true})
	assert.True(t, tr.Quantity.Equal(dec("50")))
	assert.True(t, tr.Leverage.Equal(dec("5")))
	assert.True(t, tr.Principal().Equal(dec("1000")))

	stored, err := h.trades.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, stored.Principal().Equal(dec("1000")))

	closed, err := h.lifecycle.ClosePosition(ctx, stored, dec("110"), domain.CloseReasonManual)
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("500")))
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1500")))
}

func TestRealAndDemoBalancesAreSeparate(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")

	_, err := h.lifecycle.OpenPosition(context.Background(), OpenRequest{
		UserID: "u1", Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("10"), IsDemo: false,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1000")))
}

func TestCloseByIDOwnershipAndMarks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	tr := h.open(t, OpenRequest{Amount: dec("100"), IsDemo: true})

	_, err := h.lifecycle.CloseByID(ctx, "u2", tr.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.lifecycle.CloseByID(ctx, "u1", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.marks.clear("BTC/USDT")
	_, err = h.lifecycle.CloseByID(ctx, "u1", tr.ID)
	require.ErrorIs(t, err, domain.ErrNoMarketData)
}

func TestPortfolioSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	h.marks.set("ETH/USDT", "50")

	h.open(t, OpenRequest{Amount: dec("200"), IsDemo: true})
	h.open(t, OpenRequest{Symbol: "ETH/USDT", Direction: domain.DirectionSell, Amount: dec("100"), IsDemo: true})

	h.marks.set("BTC/USDT", "110")
	h.marks.clear("ETH/USDT")

	s, err := h.lifecycle.PortfolioSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, h.portfolio.ID, s.Portfolio.ID)
	require.Len(t, s.Positions, 2)
	assert.True(t, s.Committed.Equal(dec("300")))
	assert.True(t, s.UnrealizedPnL.Equal(dec("20")), "unrealized %s", s.UnrealizedPnL)

	var estimated int
	for _, pos := range s.Positions {
		if pos.Valuation.Estimated {
			estimated++
		}
	}
	assert.Equal(t, 1, estimated)

	_, err = h.lifecycle.PortfolioSummary(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestProvisionAndResetDemo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.lifecycle.ProvisionPortfolio(ctx, "u1", "Second")
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	p, err := h.lifecycle.ProvisionPortfolio(ctx, "u2", "")
	require.NoError(t, err)
	assert.True(t, p.DemoBalance.Equal(dec("100000")))
	assert.True(t, p.Balance.IsZero())
	assert.True(t, p.IsDefault)

	reset, err := h.lifecycle.ResetDemo(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reset.DemoBalance.Equal(dec("100000")))
	assert.True(t, h.read(t).DemoBalance.Equal(dec("100000")))
}

func TestLifecyclePublishesChanges(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.marks.set("BTC/USDT", "100")

	trades, err := h.bus.Subscribe(ctx, domain.TradeChannel("u1"))
	require.NoError(t, err)
	portfolio, err := h.bus.Subscribe(ctx, domain.PortfolioChannel("u1"))
	require.NoError(t, err)

	tr := h.open(t, OpenRequest{Amount: dec("10"), IsDemo: true})

	select {
	case msg := <-trades:
		assert.Contains(t, string(msg), `"type":"trade.opened"`)
		assert.Contains(t, string(msg), tr.ID)
	case <-time.After(time.Second):
		t.Fatal("no trade event")
	}
	select {
	case msg := <-portfolio:
		assert.Contains(t, string(msg), `"type":"portfolio.changed"`)
	case <-time.After(time.Second):
		t.Fatal("no portfolio event")
	}

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Contains(t, events, "trade_opened")
	assert.Contains(t, events, "portfolio_provisioned")
}

func TestOpenPositionHonoursCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.lifecycle.OpenPosition(ctx, OpenRequest{
		UserID: "u1", Symbol: "BTC/USDT", Direction: domain.DirectionBuy, Amount: dec("10"), IsDemo: true,
	})
	require.Error(t, err)
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1000")))
}
