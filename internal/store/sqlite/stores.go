package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const portfolioSelectCols = `id, user_id, name, balance, demo_balance,
	total_realized_pnl, is_default, version, created_at, updated_at`

func scanPortfolio(row scanner) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Balance, &p.DemoBalance,
		&p.TotalRealizedPnL, &p.IsDefault, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func getPortfolio(ctx context.Context, q queryer, id string) (domain.Portfolio, error) {
	p, err := scanPortfolio(q.QueryRowContext(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrPortfolioNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("sqlite: get portfolio %s: %w", id, err)
	}
	return p, nil
}

// PortfolioStore implements domain.PortfolioStore.
type PortfolioStore struct {
	db *sql.DB
}

// NewPortfolioStore creates a PortfolioStore on an opened database.
func NewPortfolioStore(d *DB) *PortfolioStore {
	return &PortfolioStore{db: d.db}
}

// Create inserts a portfolio; a second default for the same user returns
// ErrAlreadyExists.
func (s *PortfolioStore) Create(ctx context.Context, p domain.Portfolio) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolios (
			id, user_id, name, balance, demo_balance, total_realized_pnl,
			is_default, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Balance, p.DemoBalance, p.TotalRealizedPnL,
		p.IsDefault, utc(p.CreatedAt), utc(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: portfolio for %s: %w", p.UserID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create portfolio %s: %w", p.ID, err)
	}
	return nil
}

func (s *PortfolioStore) GetByID(ctx context.Context, id string) (domain.Portfolio, error) {
	return getPortfolio(ctx, s.db, id)
}

func (s *PortfolioStore) GetDefault(ctx context.Context, userID string) (domain.Portfolio, error) {
	p, err := scanPortfolio(s.db.QueryRowContext(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE user_id = ? AND is_default`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrPortfolioNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("sqlite: get default portfolio for %s: %w", userID, err)
	}
	return p, nil
}

func (s *PortfolioStore) ListByUser(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE user_id = ? ORDER BY is_default DESC, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const tradeSelectCols = `id, portfolio_id, user_id, symbol, direction, status,
	entry_price, exit_price, quantity, leverage, stop_loss, take_profit,
	realized_pnl, is_demo, ai_recommended, expires_at, created_at, closed_at,
	close_reason`

func scanTrade(row scanner) (domain.Trade, error) {
	var t domain.Trade
	var direction, status, reason string
	var exitPrice, stopLoss, takeProfit, realized decimal.NullDecimal
	var expiresAt, closedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.PortfolioID, &t.UserID, &t.Symbol, &direction, &status,
		&t.EntryPrice, &exitPrice, &t.Quantity, &t.Leverage, &stopLoss, &takeProfit,
		&realized, &t.IsDemo, &t.AIRecommended, &expiresAt, &t.CreatedAt, &closedAt,
		&reason,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Direction = domain.TradeDirection(direction)
	t.Status = domain.TradeStatus(status)
	t.CloseReason = domain.CloseReason(reason)
	t.ExitPrice = decimalPtr(exitPrice)
	t.StopLoss = decimalPtr(stopLoss)
	t.TakeProfit = decimalPtr(takeProfit)
	t.RealizedPnL = decimalPtr(realized)
	t.ExpiresAt = timePtr(expiresAt)
	t.ClosedAt = timePtr(closedAt)
	return t, nil
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func getTrade(ctx context.Context, q queryer, id string) (domain.Trade, error) {
	t, err := scanTrade(q.QueryRowContext(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("sqlite: get trade %s: %w", id, err)
	}
	return t, nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	db *sql.DB
}

// NewTradeStore creates a TradeStore on an opened database.
func NewTradeStore(d *DB) *TradeStore {
	return &TradeStore{db: d.db}
}

func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	return getTrade(ctx, s.db, id)
}

func (s *TradeStore) ListByUser(ctx context.Context, userID string, f domain.TradeFilter) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.IsDemo != nil {
		query += " AND is_demo = ?"
		args = append(args, *f.IsDemo)
	}
	query, args = withListOpts(query, args, "created_at", f.Since, f.Until, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan trades: %w", err)
	}
	return trades, nil
}

func (s *TradeStore) ListOpenByPortfolio(ctx context.Context, portfolioID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE portfolio_id = ? AND status IN ('pending', 'active')
		 ORDER BY created_at DESC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan open trades: %w", err)
	}
	return trades, nil
}

func (s *TradeStore) ListExpired(ctx context.Context, now time.Time, after *domain.ExpiryCursor, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?`
	args := []any{utc(now)}
	if after != nil {
		query += ` AND (expires_at > ? OR (expires_at = ? AND id > ?))`
		args = append(args, utc(after.ExpiresAt), utc(after.ExpiresAt), after.ID)
	}
	query += ` ORDER BY expires_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list expired trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan expired trades: %w", err)
	}
	return trades, nil
}

func (s *TradeStore) FirstCompletedAt(ctx context.Context) (time.Time, error) {
	var first sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT closed_at FROM trades
		 WHERE status = 'completed' AND closed_at IS NOT NULL
		 ORDER BY closed_at LIMIT 1`).Scan(&first)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("sqlite: first completed trade: %w", err)
	}
	if !first.Valid {
		return time.Time{}, domain.ErrNotFound
	}
	return first.Time, nil
}

func (s *TradeStore) ListCompletedBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = 'completed' AND closed_at >= ? AND closed_at < ?
		 ORDER BY closed_at, id`, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list completed trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan completed trades: %w", err)
	}
	return trades, nil
}

const transactionSelectCols = `id, user_id, portfolio_id, type, amount, method,
	status, is_demo, reference_id, created_at, completed_at`

func scanTransaction(row scanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var typ, status string
	var completedAt sql.NullTime
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.PortfolioID, &typ, &tx.Amount, &tx.Method,
		&status, &tx.IsDemo, &tx.ReferenceID, &tx.CreatedAt, &completedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Type = domain.TransactionType(typ)
	tx.Status = domain.TransactionStatus(status)
	tx.CompletedAt = timePtr(completedAt)
	return tx, nil
}

// getTransaction looks a transaction up by id or reference_id.
func getTransaction(ctx context.Context, q queryer, col, value string) (domain.Transaction, error) {
	tx, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE `+col+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("sqlite: get transaction %s: %w", value, err)
	}
	return tx, nil
}

// TransactionStore implements domain.TransactionStore.
type TransactionStore struct {
	db *sql.DB
}

// NewTransactionStore creates a TransactionStore on an opened database.
func NewTransactionStore(d *DB) *TransactionStore {
	return &TransactionStore{db: d.db}
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	return getTransaction(ctx, s.db, "id", id)
}

func (s *TransactionStore) GetByReference(ctx context.Context, referenceID string) (domain.Transaction, error) {
	return getTransaction(ctx, s.db, "reference_id", referenceID)
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// AuditStore implements domain.AuditStore; details are stored as JSON text.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an AuditStore on an opened database.
func NewAuditStore(d *DB) *AuditStore {
	return &AuditStore{db: d.db}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), utc(time.Now())); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := withListOpts(`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`, nil,
		"created_at", opts.Since, opts.Until, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
