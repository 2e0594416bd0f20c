package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// Ledger implements domain.PositionLedger. SQLite has no row locks; writers
// are serialised by BEGIN IMMEDIATE and every balance write is a
// compare-and-swap on version.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a Ledger on an opened database.
func NewLedger(d *DB) *Ledger {
	return &Ledger{db: d.db}
}

// InTx runs fn inside one transaction; any error rolls back every write.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&ledgerTx{q: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Debit decreases the selected balance by amount in its own transaction.
func (l *Ledger) Debit(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) error {
	return l.InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.Debit(ctx, portfolioID, isDemo, amount)
		return err
	})
}

// Credit increases the selected balance and adds pnlDelta to the realized total.
func (l *Ledger) Credit(ctx context.Context, portfolioID string, isDemo bool, amount, pnlDelta decimal.Decimal) error {
	return l.InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.Credit(ctx, portfolioID, isDemo, amount, pnlDelta)
		return err
	})
}

// Read returns the current portfolio.
func (l *Ledger) Read(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	return getPortfolio(ctx, l.db, portfolioID)
}

type ledgerTx struct {
	q *sql.Tx
}

func (t *ledgerTx) ReadPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	return getPortfolio(ctx, t.q, portfolioID)
}

func (t *ledgerTx) Debit(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) (domain.Portfolio, error) {
	if !amount.IsPositive() {
		return domain.Portfolio{}, fmt.Errorf("sqlite: debit %s: %w", amount, domain.ErrInvalidAmount)
	}
	p, err := getPortfolio(ctx, t.q, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	avail := p.Available(isDemo)
	if amount.GreaterThan(avail) {
		return domain.Portfolio{}, fmt.Errorf("sqlite: debit %s from %s %s: %w",
			amount, domain.BalanceField(isDemo), avail, domain.ErrInsufficientBalance)
	}
	return t.swapBalance(ctx, p, isDemo, avail.Sub(amount), p.TotalRealizedPnL)
}

func (t *ledgerTx) Credit(ctx context.Context, portfolioID string, isDemo bool, amount, pnlDelta decimal.Decimal) (domain.Portfolio, error) {
	p, err := getPortfolio(ctx, t.q, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return t.swapBalance(ctx, p, isDemo, p.Available(isDemo).Add(amount), p.TotalRealizedPnL.Add(pnlDelta))
}

func (t *ledgerTx) SetBalance(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) (domain.Portfolio, error) {
	if amount.IsNegative() {
		return domain.Portfolio{}, fmt.Errorf("sqlite: set balance %s: %w", amount, domain.ErrInvalidAmount)
	}
	p, err := getPortfolio(ctx, t.q, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return t.swapBalance(ctx, p, isDemo, amount, p.TotalRealizedPnL)
}

// swapBalance writes the new balance only if nobody bumped version since p
// was read.
func (t *ledgerTx) swapBalance(ctx context.Context, p domain.Portfolio, isDemo bool, balance, realized decimal.Decimal) (domain.Portfolio, error) {
	balance = balance.Round(domain.MoneyScale)
	realized = realized.Round(domain.MoneyScale)
	now := utc(time.Now())

	query := fmt.Sprintf(`
		UPDATE portfolios SET
			%s                 = ?,
			total_realized_pnl = ?,
			version            = version + 1,
			updated_at         = ?
		WHERE id = ? AND version = ?`, domain.BalanceField(isDemo))

	res, err := t.q.ExecContext(ctx, query, balance, realized, now, p.ID, p.Version)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("sqlite: write balance %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("sqlite: write balance %s: %w", p.ID, err)
	}
	if n == 0 {
		return domain.Portfolio{}, fmt.Errorf("sqlite: portfolio %s version %d: %w", p.ID, p.Version, domain.ErrConflict)
	}

	if isDemo {
		p.DemoBalance = balance
	} else {
		p.Balance = balance
	}
	p.TotalRealizedPnL = realized
	p.Version++
	p.UpdatedAt = now
	return p, nil
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, portfolio_id, user_id, symbol, direction, status,
			entry_price, quantity, leverage, stop_loss, take_profit,
			is_demo, ai_recommended, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.q.ExecContext(ctx, query,
		tr.ID, tr.PortfolioID, tr.UserID, tr.Symbol, string(tr.Direction), string(tr.Status),
		tr.EntryPrice, tr.Quantity, tr.Leverage, nullDecimal(tr.StopLoss), nullDecimal(tr.TakeProfit),
		tr.IsDemo, tr.AIRecommended, utcPtr(tr.ExpiresAt), utc(tr.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert trade %s: %w", tr.ID, err)
	}
	return nil
}

func (t *ledgerTx) CompleteTrade(ctx context.Context, c domain.TradeCompletion) (domain.Trade, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE trades SET
			status       = 'completed',
			exit_price   = ?,
			realized_pnl = ?,
			closed_at    = ?,
			close_reason = ?
		WHERE id = ? AND status = 'active'`,
		c.ExitPrice, c.RealizedPnL, utc(c.ClosedAt), string(c.Reason), c.TradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: complete trade %s: %w", c.TradeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: complete trade %s: %w", c.TradeID, err)
	}

	tr, getErr := getTrade(ctx, t.q, c.TradeID)
	if getErr != nil {
		if errors.Is(getErr, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("sqlite: trade %s: %w", c.TradeID, domain.ErrNotFound)
		}
		return domain.Trade{}, getErr
	}
	if n == 0 {
		return domain.Trade{}, fmt.Errorf("sqlite: trade %s is %s: %w", c.TradeID, tr.Status, domain.ErrInvalidState)
	}
	return tr, nil
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, user_id, portfolio_id, type, amount, method,
			status, is_demo, reference_id, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.q.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.PortfolioID, string(tx.Type), tx.Amount, tx.Method,
		string(tx.Status), tx.IsDemo, tx.ReferenceID, utc(tx.CreatedAt), utcPtr(tx.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: transaction %s: %w", tx.ReferenceID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetTransactionByReference(ctx context.Context, referenceID string) (domain.Transaction, error) {
	return getTransaction(ctx, t.q, "reference_id", referenceID)
}

func (t *ledgerTx) TransitionTransaction(ctx context.Context, id string, status domain.TransactionStatus, completedAt *time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE transactions SET status = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('success', 'failed')`,
		string(status), utcPtr(completedAt), id)
	if err != nil {
		return fmt.Errorf("sqlite: transition transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: transition transaction %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: transaction %s already final: %w", id, domain.ErrInvalidState)
	}
	return nil
}
