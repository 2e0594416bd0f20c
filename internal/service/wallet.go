package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const (
	defaultTransactionLimit = 20
	methodDANA              = "DANA"
)

// WalletConfig sets the wallet minimums.
type WalletConfig struct {
	MinWithdrawal  decimal.Decimal
	MinRealDeposit decimal.Decimal
}

// DepositResult is a created deposit. Session is set for real deposits that
// continue at the payment gateway.
type DepositResult struct {
	Transaction domain.Transaction
	Session     *domain.PaymentSession
}

// Wallet moves money in and out of portfolios: instant demo deposits,
// withdrawals, and real deposits settled by the payment gateway.
type Wallet struct {
	ledger       domain.PositionLedger
	portfolios   domain.PortfolioStore
	transactions domain.TransactionStore
	gateway      domain.PaymentGateway
	audit        domain.AuditStore
	changes      *ChangeNotifier
	alerts       Alerter
	cfg          WalletConfig
	now          func() time.Time
	logger       *slog.Logger
}

// NewWallet creates a Wallet. gateway and alerts may be nil; without a
// gateway real deposits are refused.
func NewWallet(
	ledger domain.PositionLedger,
	portfolios domain.PortfolioStore,
	transactions domain.TransactionStore,
	gateway domain.PaymentGateway,
	audit domain.AuditStore,
	changes *ChangeNotifier,
	alerts Alerter,
	cfg WalletConfig,
	logger *slog.Logger,
) *Wallet {
	return &Wallet{
		ledger:       ledger,
		portfolios:   portfolios,
		transactions: transactions,
		gateway:      gateway,
		audit:        audit,
		changes:      changes,
		alerts:       alerts,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "wallet")),
	}
}

// ListTransactions returns userID's most recent transactions, newest first.
func (w *Wallet) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	txs, err := w.transactions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: list transactions: %w", err)
	}
	return txs, nil
}

// Deposit adds funds. Demo deposits credit the demo balance at once; real
// deposits record a pending transaction and open a gateway checkout, and are
// credited only when the gateway reports settlement.
func (w *Wallet) Deposit(ctx context.Context, userID string, amount decimal.Decimal, isDemo bool) (DepositResult, error) {
	if !amount.IsPositive() {
		return DepositResult{}, fmt.Errorf("wallet: deposit %s: %w", amount, domain.ErrInvalidAmount)
	}
	amount = amount.Round(domain.MoneyScale)
	p, err := w.portfolios.GetDefault(ctx, userID)
	if err != nil {
		return DepositResult{}, fmt.Errorf("wallet: default portfolio: %w", err)
	}
	if isDemo {
		return w.demoDeposit(ctx, p, amount)
	}
	return w.realDeposit(ctx, p, amount)
}

func (w *Wallet) demoDeposit(ctx context.Context, p domain.Portfolio, amount decimal.Decimal) (DepositResult, error) {
	now := w.now().UTC()
	tx := w.newTransaction(p, domain.TransactionDeposit, amount, true, "DEMO-DEP-", now)
	tx.Status = domain.TransactionSuccess
	tx.CompletedAt = &now

	var after domain.Portfolio
	err := w.ledger.InTx(ctx, func(ltx domain.LedgerTx) error {
		var err error
		if after, err = ltx.Credit(ctx, p.ID, true, amount, decimal.Zero); err != nil {
			return err
		}
		return ltx.InsertTransaction(ctx, tx)
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("wallet: demo deposit: %w", err)
	}
	w.committed(ctx, "demo_deposit", tx, &after)
	return DepositResult{Transaction: tx}, nil
}

func (w *Wallet) realDeposit(ctx context.Context, p domain.Portfolio, amount decimal.Decimal) (DepositResult, error) {
	if amount.LessThan(w.cfg.MinRealDeposit) {
		return DepositResult{}, fmt.Errorf("wallet: deposit %s below minimum %s: %w", amount, w.cfg.MinRealDeposit, domain.ErrInvalidAmount)
	}
	if w.gateway == nil {
		return DepositResult{}, errors.New("wallet: payment gateway not configured")
	}

	tx := w.newTransaction(p, domain.TransactionDeposit, amount, false, "DEPOSIT-", w.now().UTC())
	if err := w.ledger.InTx(ctx, func(ltx domain.LedgerTx) error {
		return ltx.InsertTransaction(ctx, tx)
	}); err != nil {
		return DepositResult{}, fmt.Errorf("wallet: record deposit: %w", err)
	}

	session, err := w.gateway.CreateCheckout(ctx, domain.CheckoutRequest{
		OrderID:     tx.ReferenceID,
		GrossAmount: amount,
		CustomerID:  p.UserID,
	})
	if err != nil {
		failedAt := w.now().UTC()
		if terr := w.ledger.InTx(ctx, func(ltx domain.LedgerTx) error {
			return ltx.TransitionTransaction(ctx, tx.ID, domain.TransactionFailed, &failedAt)
		}); terr != nil {
			w.logger.ErrorContext(ctx, "mark deposit failed",
				slog.String("reference_id", tx.ReferenceID),
				slog.String("error", terr.Error()),
			)
		}
		return DepositResult{}, fmt.Errorf("wallet: create checkout %s: %w", tx.ReferenceID, err)
	}

	w.committed(ctx, "deposit_created", tx, nil)
	return DepositResult{Transaction: tx, Session: &session}, nil
}

// Withdraw debits amount from the selected balance and records a completed
// withdrawal in the same ledger transaction.
func (w *Wallet) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, isDemo bool) (domain.Transaction, error) {
	if !amount.IsPositive() || amount.LessThan(w.cfg.MinWithdrawal) {
		return domain.Transaction{}, fmt.Errorf("wallet: withdraw %s, minimum %s: %w", amount, w.cfg.MinWithdrawal, domain.ErrInvalidAmount)
	}
	amount = amount.Round(domain.MoneyScale)
	p, err := w.portfolios.GetDefault(ctx, userID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("wallet: default portfolio: %w", err)
	}

	prefix := "DANA-WTH-"
	if isDemo {
		prefix = "DEMO-WTH-"
	}
	now := w.now().UTC()
	tx := w.newTransaction(p, domain.TransactionWithdrawal, amount, isDemo, prefix, now)
	tx.Status = domain.TransactionSuccess
	tx.CompletedAt = &now

	var after domain.Portfolio
	err = w.ledger.InTx(ctx, func(ltx domain.LedgerTx) error {
		var err error
		if after, err = ltx.Debit(ctx, p.ID, isDemo, amount); err != nil {
			return err
		}
		return ltx.InsertTransaction(ctx, tx)
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("wallet: withdraw: %w", err)
	}
	w.committed(ctx, "withdrawal", tx, &after)
	return tx, nil
}

// Settle applies a gateway status to the transaction with the given order
// reference. A deposit moving to success credits its balance in the same
// ledger transaction. Transactions already final are returned unchanged, so a
// repeated notification never credits twice.
func (w *Wallet) Settle(ctx context.Context, orderID string, status domain.TransactionStatus) (domain.Transaction, error) {
	var (
		tx       domain.Transaction
		after    domain.Portfolio
		credited bool
		changed  bool
	)
	err := w.ledger.InTx(ctx, func(ltx domain.LedgerTx) error {
		var err error
		tx, err = ltx.GetTransactionByReference(ctx, orderID)
		if err != nil {
			return err
		}
		if tx.Status.Final() || tx.Status == status {
			return nil
		}

		var completedAt *time.Time
		if status.Final() {
			now := w.now().UTC()
			completedAt = &now
		}
		if err := ltx.TransitionTransaction(ctx, tx.ID, status, completedAt); err != nil {
			return err
		}
		tx.Status = status
		tx.CompletedAt = completedAt
		changed = true

		if status == domain.TransactionSuccess && tx.Type == domain.TransactionDeposit {
			if after, err = ltx.Credit(ctx, tx.PortfolioID, tx.IsDemo, tx.Amount, decimal.Zero); err != nil {
				return err
			}
			credited = true
		}
		return nil
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("wallet: settle %s: %w", orderID, err)
	}
	if !changed {
		w.logger.InfoContext(ctx, "settlement ignored",
			slog.String("reference_id", orderID),
			slog.String("current", string(tx.Status)),
			slog.String("requested", string(status)),
		)
		return tx, nil
	}

	var p *domain.Portfolio
	if credited {
		p = &after
	}
	w.committed(ctx, "transaction_settled", tx, p)
	if credited && w.alerts != nil {
		msg := fmt.Sprintf("%s deposit %s credited to %s", tx.Amount, tx.ReferenceID, tx.UserID)
		if err := w.alerts.Notify(ctx, "deposit_settled", "Deposit settled", msg); err != nil {
			w.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
		}
	}
	return tx, nil
}

func (w *Wallet) newTransaction(p domain.Portfolio, typ domain.TransactionType, amount decimal.Decimal, isDemo bool, prefix string, now time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		PortfolioID: p.ID,
		Type:        typ,
		Amount:      amount,
		Method:      methodDANA,
		Status:      domain.TransactionPending,
		IsDemo:      isDemo,
		ReferenceID: prefix + ulid.Make().String(),
		CreatedAt:   now,
	}
}

// committed publishes and audits a transaction after its ledger write.
func (w *Wallet) committed(ctx context.Context, event string, tx domain.Transaction, p *domain.Portfolio) {
	w.changes.TransactionChanged(ctx, tx)
	if p != nil {
		w.changes.PortfolioChanged(ctx, *p)
	}
	if w.audit != nil {
		if err := w.audit.Log(ctx, event, map[string]any{
			"transaction_id": tx.ID,
			"reference_id":   tx.ReferenceID,
			"type":           string(tx.Type),
			"amount":         tx.Amount.String(),
			"status":         string(tx.Status),
			"demo":           tx.IsDemo,
		}); err != nil {
			w.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	w.logger.InfoContext(ctx, "wallet transaction",
		slog.String("event", event),
		slog.String("reference_id", tx.ReferenceID),
		slog.String("amount", tx.Amount.String()),
		slog.String("status", string(tx.Status)),
	)
}
