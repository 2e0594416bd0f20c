package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

type fakeGateway struct {
	requests []domain.CheckoutRequest
	err      error
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (domain.PaymentSession, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return domain.PaymentSession{}, g.err
	}
	return domain.PaymentSession{Token: "snap-token", RedirectURL: "https://pay.example/" + req.OrderID}, nil
}

func (h *harness) wallet(gw domain.PaymentGateway) *Wallet {
	return NewWallet(h.ledger, h.portfolios, h.transactions, gw, h.audit,
		NewChangeNotifier(h.bus, testLogger()), h.alerts,
		WalletConfig{MinWithdrawal: dec("10"), MinRealDeposit: dec("10000")},
		testLogger())
}

func TestDemoDepositCreditsAtOnce(t *testing.T) {
	h := newHarness(t)
	w := h.wallet(nil)

	res, err := w.Deposit(context.Background(), "u1", dec("250.5"), true)
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Equal(t, domain.TransactionSuccess, res.Transaction.Status)
	assert.True(t, strings.HasPrefix(res.Transaction.ReferenceID, "DEMO-DEP-"))
	assert.NotNil(t, res.Transaction.CompletedAt)
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1250.5")))

	_, err = w.Deposit(context.Background(), "u1", dec("-1"), true)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.wallet(nil)

	_, err := w.Withdraw(ctx, "u1", dec("9.99"), true)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = w.Withdraw(ctx, "u1", dec("1000.01"), true)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = w.Withdraw(ctx, "u1", dec("10"), false)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	txs, err := w.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "failed withdrawals leave no record")

	tx, err := w.Withdraw(ctx, "u1", dec("400"), true)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionWithdrawal, tx.Type)
	assert.Equal(t, domain.TransactionSuccess, tx.Status)
	assert.True(t, strings.HasPrefix(tx.ReferenceID, "DEMO-WTH-"))
	assert.True(t, h.read(t).DemoBalance.Equal(dec("600")))
}

func TestRealDepositSettlesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gw := &fakeGateway{}
	w := h.wallet(gw)

	_, err := w.Deposit(ctx, "u1", dec("9999"), false)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	res, err := w.Deposit(ctx, "u1", dec("50000"), false)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "snap-token", res.Session.Token)
	assert.Equal(t, domain.TransactionPending, res.Transaction.Status)
	ref := res.Transaction.ReferenceID
	assert.True(t, strings.HasPrefix(ref, "DEPOSIT-"))
	require.Len(t, gw.requests, 1)
	assert.Equal(t, ref, gw.requests[0].OrderID)
	assert.True(t, h.read(t).Balance.IsZero(), "nothing credited before settlement")

	tx, err := w.Settle(ctx, ref, domain.TransactionProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionProcessing, tx.Status)
	assert.True(t, h.read(t).Balance.IsZero())

	tx, err = w.Settle(ctx, ref, domain.TransactionSuccess)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionSuccess, tx.Status)
	assert.NotNil(t, tx.CompletedAt)
	assert.True(t, h.read(t).Balance.Equal(dec("50000")))

	// Repeated and contradictory notifications change nothing.
	_, err = w.Settle(ctx, ref, domain.TransactionSuccess)
	require.NoError(t, err)
	tx, err = w.Settle(ctx, ref, domain.TransactionFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionSuccess, tx.Status)
	assert.True(t, h.read(t).Balance.Equal(dec("50000")))
	assert.True(t, h.read(t).DemoBalance.Equal(dec("1000")))
	assert.Equal(t, []string{"deposit_settled"}, h.alerts.seen())

	_, err = w.Settle(ctx, "DEPOSIT-UNKNOWN", domain.TransactionSuccess)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRealDepositFailedSettlementNeverCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.wallet(&fakeGateway{})

	res, err := w.Deposit(ctx, "u1", dec("10000"), false)
	require.NoError(t, err)

	tx, err := w.Settle(ctx, res.Transaction.ReferenceID, domain.TransactionFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionFailed, tx.Status)

	tx, err = w.Settle(ctx, res.Transaction.ReferenceID, domain.TransactionSuccess)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionFailed, tx.Status)
	assert.True(t, h.read(t).Balance.IsZero())
}

func TestRealDepositGatewayErrorMarksFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.wallet(&fakeGateway{err: errors.New("gateway down")})

	_, err := w.Deposit(ctx, "u1", dec("20000"), false)
	require.Error(t, err)

	txs, err := w.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionFailed, txs[0].Status)
	assert.NotNil(t, txs[0].CompletedAt)

	_, err = h.wallet(nil).Deposit(ctx, "u1", dec("20000"), false)
	assert.Error(t, err)
}

func TestListTransactionsDefaultsToTwenty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.wallet(nil)

	for i := 0; i < 25; i++ {
		_, err := w.Deposit(ctx, "u1", dec("1"), true)
		require.NoError(t, err)
	}
	txs, err := w.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 20)

	txs, err = w.ListTransactions(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Len(t, txs, 5)

	txs, err = w.ListTransactions(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
