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

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, portfolio_id, user_id, symbol, direction, status,
	entry_price, exit_price, quantity, leverage, stop_loss, take_profit,
	realized_pnl, is_demo, ai_recommended, expires_at, created_at, closed_at,
	close_reason`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var direction, status, reason string
	var exitPrice, stopLoss, takeProfit, realized decimal.NullDecimal

	err := row.Scan(
		&t.ID, &t.PortfolioID, &t.UserID, &t.Symbol, &direction, &status,
		&t.EntryPrice, &exitPrice, &t.Quantity, &t.Leverage, &stopLoss, &takeProfit,
		&realized, &t.IsDemo, &t.AIRecommended, &t.ExpiresAt, &t.CreatedAt, &t.ClosedAt,
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
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetByID retrieves a single trade by its ID.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByUser returns the user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, f domain.TradeFilter) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE user_id = $1`
	args := []any{userID}

	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.IsDemo != nil {
		args = append(args, *f.IsDemo)
		query += fmt.Sprintf(" AND is_demo = $%d", len(args))
	}
	query, args = withListOpts(query, args, "created_at", f.ListOpts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListOpenByPortfolio returns pending and active trades of one portfolio.
func (s *TradeStore) ListOpenByPortfolio(ctx context.Context, portfolioID string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE portfolio_id = $1 AND status IN ('pending', 'active')
		 ORDER BY created_at DESC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListExpired returns active trades whose expiry is at or before now, oldest
// expiry first, resuming after the cursor when one is given.
func (s *TradeStore) ListExpired(ctx context.Context, now time.Time, after *domain.ExpiryCursor, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`
	args := []any{now}
	if after != nil {
		args = append(args, after.ExpiresAt, after.ID)
		query += ` AND (expires_at, id) > ($2, $3)`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY expires_at, id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired trades: %w", err)
	}
	return trades, nil
}

// FirstCompletedAt returns the earliest close time of any completed trade.
func (s *TradeStore) FirstCompletedAt(ctx context.Context) (time.Time, error) {
	var first *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT min(closed_at) FROM trades WHERE status = 'completed'`).Scan(&first)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: first completed trade: %w", err)
	}
	if first == nil {
		return time.Time{}, domain.ErrNotFound
	}
	return *first, nil
}

// ListCompletedBetween returns completed trades closed in [from, to).
func (s *TradeStore) ListCompletedBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = 'completed' AND closed_at >= $1 AND closed_at < $2
		 ORDER BY closed_at, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan completed trades: %w", err)
	}
	return trades, nil
}
