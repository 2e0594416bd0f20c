package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// Ledger implements domain.PositionLedger. Balance writes take a row lock on
// the portfolio (SELECT ... FOR UPDATE), compute in decimals, and write back
// with version = version + 1.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InTx runs fn inside one database transaction. Any error from fn, or a
// cancelled ctx before commit, rolls back every write fn made.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
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

// Read returns the current portfolio without locking it.
func (l *Ledger) Read(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	p, err := scanPortfolio(l.pool.QueryRow(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = $1`, portfolioID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrPortfolioNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: read portfolio %s: %w", portfolioID, err)
	}
	return p, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) ReadPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	return t.lockPortfolio(ctx, portfolioID)
}

func (t *ledgerTx) lockPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	p, err := scanPortfolio(t.tx.QueryRow(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = $1 FOR UPDATE`, portfolioID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrPortfolioNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: lock portfolio %s: %w", portfolioID, err)
	}
	return p, nil
}

func (t *ledgerTx) Debit(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) (domain.Portfolio, error) {
	if !amount.IsPositive() {
		return domain.Portfolio{}, fmt.Errorf("postgres: debit %s: %w", amount, domain.ErrInvalidAmount)
	}
	p, err := t.lockPortfolio(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	avail := p.Available(isDemo)
	if amount.GreaterThan(avail) {
		return domain.Portfolio{}, fmt.Errorf("postgres: debit %s from %s %s: %w",
			amount, domain.BalanceField(isDemo), avail, domain.ErrInsufficientBalance)
	}
	return t.writeBalance(ctx, p, isDemo, avail.Sub(amount), p.TotalRealizedPnL)
}

func (t *ledgerTx) Credit(ctx context.Context, portfolioID string, isDemo bool, amount, pnlDelta decimal.Decimal) (domain.Portfolio, error) {
	p, err := t.lockPortfolio(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return t.writeBalance(ctx, p, isDemo, p.Available(isDemo).Add(amount), p.TotalRealizedPnL.Add(pnlDelta))
}

func (t *ledgerTx) SetBalance(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) (domain.Portfolio, error) {
	if amount.IsNegative() {
		return domain.Portfolio{}, fmt.Errorf("postgres: set balance %s: %w", amount, domain.ErrInvalidAmount)
	}
	p, err := t.lockPortfolio(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return t.writeBalance(ctx, p, isDemo, amount, p.TotalRealizedPnL)
}

// writeBalance stores the new value of the selected field. The row is already
// locked, so the version predicate only guards against a caller that read p
// outside this transaction.
func (t *ledgerTx) writeBalance(ctx context.Context, p domain.Portfolio, isDemo bool, balance, realized decimal.Decimal) (domain.Portfolio, error) {
	query := fmt.Sprintf(`
		UPDATE portfolios SET
			%s                 = $3,
			total_realized_pnl = $4,
			version            = version + 1,
			updated_at         = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+portfolioSelectCols, domain.BalanceField(isDemo))

	out, err := scanPortfolio(t.tx.QueryRow(ctx, query,
		p.ID, p.Version, balance.Round(domain.MoneyScale), realized.Round(domain.MoneyScale)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, fmt.Errorf("postgres: portfolio %s version %d: %w", p.ID, p.Version, domain.ErrConflict)
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: write balance %s: %w", p.ID, err)
	}
	return out, nil
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, portfolio_id, user_id, symbol, direction, status,
			entry_price, quantity, leverage, stop_loss, take_profit,
			is_demo, ai_recommended, expires_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`
	_, err := t.tx.Exec(ctx, query,
		tr.ID, tr.PortfolioID, tr.UserID, tr.Symbol, string(tr.Direction), string(tr.Status),
		tr.EntryPrice, tr.Quantity, tr.Leverage, nullDecimal(tr.StopLoss), nullDecimal(tr.TakeProfit),
		tr.IsDemo, tr.AIRecommended, tr.ExpiresAt, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", tr.ID, err)
	}
	return nil
}

func (t *ledgerTx) CompleteTrade(ctx context.Context, c domain.TradeCompletion) (domain.Trade, error) {
	const query = `
		UPDATE trades SET
			status       = 'completed',
			exit_price   = $2,
			realized_pnl = $3,
			closed_at    = $4,
			close_reason = $5
		WHERE id = $1 AND status = 'active'
		RETURNING ` + tradeSelectCols

	tr, err := scanTrade(t.tx.QueryRow(ctx, query,
		c.TradeID, c.ExitPrice, c.RealizedPnL, c.ClosedAt, string(c.Reason)))
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: complete trade %s: %w", c.TradeID, err)
	}

	var status string
	err = t.tx.QueryRow(ctx, `SELECT status FROM trades WHERE id = $1`, c.TradeID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", c.TradeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: complete trade %s: %w", c.TradeID, err)
	}
	return domain.Trade{}, fmt.Errorf("postgres: trade %s is %s: %w", c.TradeID, status, domain.ErrInvalidState)
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, user_id, portfolio_id, type, amount, method,
			status, is_demo, reference_id, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := t.tx.Exec(ctx, query,
		tx.ID, tx.UserID, tx.PortfolioID, string(tx.Type), tx.Amount, tx.Method,
		string(tx.Status), tx.IsDemo, tx.ReferenceID, tx.CreatedAt, tx.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: transaction %s: %w", tx.ReferenceID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetTransactionByReference(ctx context.Context, referenceID string) (domain.Transaction, error) {
	tx, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE reference_id = $1 FOR UPDATE`, referenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", referenceID, err)
	}
	return tx, nil
}

func (t *ledgerTx) TransitionTransaction(ctx context.Context, id string, status domain.TransactionStatus, completedAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions SET status = $2, completed_at = $3
		WHERE id = $1 AND status NOT IN ('success', 'failed')`,
		id, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("postgres: transition transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transaction %s already final: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
