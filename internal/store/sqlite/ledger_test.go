package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedPortfolio(t *testing.T, db *DB, userID string, balance, demo string) domain.Portfolio {
	t.Helper()
	p := domain.Portfolio{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        "Main Portfolio",
		Balance:     decimal.RequireFromString(balance),
		DemoBalance: decimal.RequireFromString(demo),
		IsDefault:   true,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, NewPortfolioStore(db).Create(context.Background(), p))
	return p
}

func seedTrade(t *testing.T, db *DB, p domain.Portfolio, expiresAt *time.Time) domain.Trade {
	t.Helper()
	tr := domain.Trade{
		ID:          uuid.NewString(),
		PortfolioID: p.ID,
		UserID:      p.UserID,
		Symbol:      "BTC/USDT",
		Direction:   domain.DirectionBuy,
		Status:      domain.TradeStatusActive,
		EntryPrice:  decimal.NewFromInt(100),
		Quantity:    decimal.NewFromInt(10),
		Leverage:    decimal.NewFromInt(1),
		IsDemo:      true,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	ledger := NewLedger(db)
	require.NoError(t, ledger.InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.InsertTrade(context.Background(), tr)
	}))
	return tr
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestDebitAndCredit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "1000")
	ledger := NewLedger(db)

	require.NoError(t, ledger.Debit(ctx, p.ID, true, decimal.NewFromInt(400)))
	got, err := ledger.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.DemoBalance.Equal(decimal.NewFromInt(600)), got.DemoBalance.String())
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, int64(1), got.Version)

	require.NoError(t, ledger.Credit(ctx, p.ID, true, decimal.NewFromInt(450), decimal.NewFromInt(50)))
	got, err = ledger.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.DemoBalance.Equal(decimal.NewFromInt(1050)))
	assert.True(t, got.TotalRealizedPnL.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(2), got.Version)
}

func TestDebitInsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "100", "0")
	ledger := NewLedger(db)

	err := ledger.Debit(ctx, p.ID, false, decimal.RequireFromString("100.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	got, err := ledger.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), got.Version)
}

func TestDebitRejectsNonPositive(t *testing.T) {
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "100", "0")
	err := NewLedger(db).Debit(context.Background(), p.ID, false, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestReadMissingPortfolio(t *testing.T) {
	db := newTestDB(t)
	_, err := NewLedger(db).Read(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "1000")
	ledger := NewLedger(db)
	boom := errors.New("boom")

	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.Debit(ctx, p.ID, true, decimal.NewFromInt(500)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := ledger.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.DemoBalance.Equal(decimal.NewFromInt(1000)))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "1000")
	ledger := NewLedger(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Debit(ctx, p.ID, true, decimal.NewFromInt(100)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	got, err := ledger.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.DemoBalance.IsZero(), got.DemoBalance.String())
}

func TestCompleteTradeIsConditional(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "1000")
	tr := seedTrade(t, db, p, nil)
	ledger := NewLedger(db)

	completion := domain.TradeCompletion{
		TradeID:     tr.ID,
		ExitPrice:   decimal.NewFromInt(110),
		RealizedPnL: decimal.NewFromInt(100),
		ClosedAt:    time.Now(),
		Reason:      domain.CloseReasonManual,
	}

	var closed domain.Trade
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		closed, err = tx.CompleteTrade(ctx, completion)
		return err
	}))
	assert.Equal(t, domain.TradeStatusCompleted, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(decimal.NewFromInt(110)))
	require.NotNil(t, closed.RealizedPnL)
	assert.True(t, closed.RealizedPnL.Equal(decimal.NewFromInt(100)))
	assert.NotNil(t, closed.ClosedAt)
	assert.Equal(t, domain.CloseReasonManual, closed.CloseReason)

	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.CompleteTrade(ctx, completion)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	err = ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.CompleteTrade(ctx, domain.TradeCompletion{TradeID: uuid.NewString(), ClosedAt: time.Now()})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransactionTransitions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "0")
	ledger := NewLedger(db)
	txs := NewTransactionStore(db)

	dep := domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      "u1",
		PortfolioID: p.ID,
		Type:        domain.TransactionDeposit,
		Amount:      decimal.NewFromInt(50000),
		Method:      "DANA",
		Status:      domain.TransactionPending,
		ReferenceID: "DEPOSIT-1",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertTransaction(ctx, dep)
	}))

	dup := dep
	dup.ID = uuid.NewString()
	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertTransaction(ctx, dup)
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	now := time.Now()
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.TransitionTransaction(ctx, dep.ID, domain.TransactionSuccess, &now)
	}))
	err = ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.TransitionTransaction(ctx, dep.ID, domain.TransactionFailed, &now)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := txs.GetByReference(ctx, "DEPOSIT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionSuccess, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(50000)))

	list, err := txs.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSecondDefaultPortfolioRejected(t *testing.T) {
	db := newTestDB(t)
	seedPortfolio(t, db, "u1", "0", "0")

	err := NewPortfolioStore(db).Create(context.Background(), domain.Portfolio{
		ID:        uuid.NewString(),
		UserID:    "u1",
		Name:      "Second",
		IsDefault: true,
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestListExpired(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "10000")

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	expired := seedTrade(t, db, p, &past)
	seedTrade(t, db, p, &future)
	seedTrade(t, db, p, nil)

	got, err := NewTradeStore(db).ListExpired(ctx, time.Now(), nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)
	require.NotNil(t, got[0].ExpiresAt)
	assert.WithinDuration(t, past, *got[0].ExpiresAt, time.Millisecond)
}

func TestListExpiredPagesWithCursor(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "10000")
	store := NewTradeStore(db)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	same := base.Add(time.Minute)
	later := base.Add(2 * time.Minute)
	want := map[string]bool{}
	for _, at := range []*time.Time{&base, &same, &same, &later} {
		want[seedTrade(t, db, p, at).ID] = true
	}

	var seen []string
	var after *domain.ExpiryCursor
	for {
		page, err := store.ListExpired(ctx, time.Now(), after, 1)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.Len(t, page, 1)
		seen = append(seen, page[0].ID)
		after = &domain.ExpiryCursor{ExpiresAt: *page[0].ExpiresAt, ID: page[0].ID}
	}
	require.Len(t, seen, 4)
	for _, id := range seen {
		assert.True(t, want[id], id)
		delete(want, id)
	}
}

func TestListCompletedBetween(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "10000")
	store := NewTradeStore(db)

	_, err := store.FirstCompletedAt(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	feb := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewLedger(db)
	for _, at := range []time.Time{feb, mar} {
		tr := seedTrade(t, db, p, nil)
		require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
			_, err := tx.CompleteTrade(ctx, domain.TradeCompletion{
				TradeID:     tr.ID,
				ExitPrice:   decimal.NewFromInt(100),
				RealizedPnL: decimal.Zero,
				ClosedAt:    at,
				Reason:      domain.CloseReasonManual,
			})
			return err
		}))
	}
	seedTrade(t, db, p, nil)

	first, err := store.FirstCompletedAt(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(feb), first)

	got, err := store.ListCompletedBetween(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), mar)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ClosedAt.Equal(feb))

	got, err = store.ListCompletedBetween(ctx, mar, mar.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListByUserFilters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedPortfolio(t, db, "u1", "0", "10000")
	for i := 0; i < 3; i++ {
		seedTrade(t, db, p, nil)
	}

	store := NewTradeStore(db)
	all, err := store.ListByUser(ctx, "u1", domain.TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := store.ListByUser(ctx, "u1", domain.TradeFilter{ListOpts: domain.ListOpts{Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	none, err := store.ListByUser(ctx, "u1", domain.TradeFilter{Status: domain.TradeStatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, none)

	real := false
	none, err = store.ListByUser(ctx, "u1", domain.TradeFilter{IsDemo: &real})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	audit := NewAuditStore(db)

	require.NoError(t, audit.Log(ctx, "trade_opened", map[string]any{"trade_id": "t1"}))
	require.NoError(t, audit.Log(ctx, "trade_closed", map[string]any{"trade_id": "t1"}))

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t1", entries[0].Detail["trade_id"])
}
