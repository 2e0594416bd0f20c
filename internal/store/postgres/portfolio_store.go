package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given connection pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioSelectCols = `id, user_id, name, balance, demo_balance,
	total_realized_pnl, is_default, version, created_at, updated_at`

func scanPortfolio(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Balance, &p.DemoBalance,
		&p.TotalRealizedPnL, &p.IsDefault, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// Create inserts a new portfolio. A second default portfolio for the same user
// violates the partial unique index and returns ErrAlreadyExists.
func (s *PortfolioStore) Create(ctx context.Context, p domain.Portfolio) error {
	const query = `
		INSERT INTO portfolios (
			id, user_id, name, balance, demo_balance, total_realized_pnl,
			is_default, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.Balance, p.DemoBalance, p.TotalRealizedPnL,
		p.IsDefault, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: portfolio for %s: %w", p.UserID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create portfolio %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single portfolio by its ID.
func (s *PortfolioStore) GetByID(ctx context.Context, id string) (domain.Portfolio, error) {
	p, err := scanPortfolio(s.pool.QueryRow(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrPortfolioNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}
	return p, nil
}

// GetDefault returns the user's default portfolio.
func (s *PortfolioStore) GetDefault(ctx context.Context, userID string) (domain.Portfolio, error) {
	p, err := scanPortfolio(s.pool.QueryRow(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE user_id = $1 AND is_default`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrPortfolioNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get default portfolio for %s: %w", userID, err)
	}
	return p, nil
}

// ListByUser returns every portfolio the user owns, default first.
func (s *PortfolioStore) ListByUser(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios
		 WHERE user_id = $1 ORDER BY is_default DESC, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
