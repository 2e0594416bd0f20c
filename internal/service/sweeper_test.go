package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/cache/memory"
	"github.com/alanyoungcy/tradedesk/internal/domain"
)

func (h *harness) sweeper(leases domain.LockManager, at time.Time) *Sweeper {
	s := NewSweeper(h.lifecycle, h.trades, h.marks, leases, SweeperConfig{}, testLogger())
	s.now = func() time.Time { return at }
	return s
}

func (h *harness) openExpiring(t *testing.T, amount string, in time.Duration) domain.Trade {
	t.Helper()
	exp := time.Now().Add(in)
	return h.open(t, OpenRequest{Amount: dec(amount), IsDemo: true, ExpiresAt: &exp})
}

func TestSweeperClosesExpiredTradeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	tr := h.openExpiring(t, "1000", time.Minute)
	h.marks.set("BTC/USDT", "110")

	leases := memory.NewLeaseTable()
	later := time.Now().Add(time.Hour)
	a := h.sweeper(leases, later)
	b := h.sweeper(leases, later)

	var wg sync.WaitGroup
	results := make([]SweepResult, 4)
	for i := range results {
		sw := a
		if i%2 == 1 {
			sw = b
		}
		wg.Add(1)
		go func(i int, sw *Sweeper) {
			defer wg.Done()
			res, err := sw.Sweep(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i, sw)
	}
	wg.Wait()

	var closed int
	for _, r := range results {
		closed += r.Closed
		assert.Zero(t, r.Failed)
	}
	assert.Equal(t, 1, closed)

	got, err := h.trades.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusCompleted, got.Status)
	assert.Equal(t, domain.CloseReasonExpired, got.CloseReason)
	assert.True(t, got.RealizedPnL.Equal(dec("100")))

	p := h.read(t)
	assert.True(t, p.DemoBalance.Equal(dec("1100")), "balance %s", p.DemoBalance)
	assert.True(t, p.TotalRealizedPnL.Equal(dec("100")))
	assert.Equal(t, []string{"trade_expired"}, h.alerts.seen())

	// The trade left the expired set, so the next tick drops the claim.
	_, err = a.Sweep(ctx)
	require.NoError(t, err)
	_, err = b.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, a.Claimed())
	assert.Zero(t, b.Claimed())
	assert.Zero(t, leases.Len())
}

func TestSweeperIgnoresUnexpiredTrades(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")
	h.openExpiring(t, "100", time.Hour)
	h.open(t, OpenRequest{Amount: dec("100"), IsDemo: true})

	res, err := h.sweeper(memory.NewLeaseTable(), time.Now()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestSweeperClosesAtEntryWithoutMark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	tr := h.openExpiring(t, "500", time.Minute)
	h.marks.clear("BTC/USDT")

	leases := memory.NewLeaseTable()
	sw := h.sweeper(leases, time.Now().Add(time.Hour))

	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Failed)

	got, err := h.trades.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusCompleted, got.Status)
	require.NotNil(t, got.ExitPrice)
	assert.True(t, got.ExitPrice.Equal(tr.EntryPrice))
	assert.True(t, got.RealizedPnL.IsZero())
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1000")))
}

func TestSweeperReachesTradesBehindBlockedOnes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	h.marks.set("ETH/USDT", "10")
	first := h.openExpiring(t, "100", time.Minute)
	exp := time.Now().Add(2 * time.Minute)
	second := h.open(t, OpenRequest{Symbol: "ETH/USDT", Amount: dec("100"), IsDemo: true, ExpiresAt: &exp})

	// Someone else holds the earliest trade for longer than the test runs.
	leases := memory.NewLeaseTable()
	_, err := leases.Acquire(ctx, LeaseKey(first.ID), time.Hour)
	require.NoError(t, err)

	sw := NewSweeper(h.lifecycle, h.trades, h.marks, leases, SweeperConfig{BatchSize: 1}, testLogger())
	sw.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Closed)

	got, err := h.trades.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusCompleted, got.Status)
	got, err = h.trades.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusActive, got.Status)
}

func TestSweeperSkipsLeasedTrade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	tr := h.openExpiring(t, "500", time.Minute)

	leases := memory.NewLeaseTable()
	release, err := leases.Acquire(ctx, LeaseKey(tr.ID), time.Minute)
	require.NoError(t, err)

	sw := h.sweeper(leases, time.Now().Add(time.Hour))
	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	release()
	res, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
}

// staleExpired replays a fixed expired list, as a lagging read replica would.
type staleExpired struct {
	domain.TradeStore
	list []domain.Trade
}

func (s staleExpired) ListExpired(_ context.Context, _ time.Time, after *domain.ExpiryCursor, _ int) ([]domain.Trade, error) {
	if after != nil {
		return nil, nil
	}
	return s.list, nil
}

func TestSweeperTreatsClosedElsewhereAsDone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.marks.set("BTC/USDT", "100")
	tr := h.openExpiring(t, "500", time.Minute)

	_, err := h.lifecycle.CloseByID(ctx, "u1", tr.ID)
	require.NoError(t, err)
	balance := h.read(t).DemoBalance

	leases := memory.NewLeaseTable()
	sw := NewSweeper(h.lifecycle, staleExpired{TradeStore: h.trades, list: []domain.Trade{tr}}, h.marks, leases, SweeperConfig{}, testLogger())

	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, sw.Claimed())
	assert.True(t, h.read(t).DemoBalance.Equal(balance))
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.marks.set("BTC/USDT", "100")
	h.openExpiring(t, "100", 50*time.Millisecond)

	sw := NewSweeper(h.lifecycle, h.trades, h.marks, memory.NewLeaseTable(), SweeperConfig{Interval: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return h.read(t).DemoBalance.Equal(dec("1000"))
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Zero(t, sw.Claimed())
}
