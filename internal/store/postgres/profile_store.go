package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// ProfileStore implements domain.ProfileStore using PostgreSQL.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates a new ProfileStore backed by the given connection pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// Get returns the saved settings of one user.
func (s *ProfileStore) Get(ctx context.Context, userID string) (domain.Profile, error) {
	p := domain.Profile{UserID: userID}
	var mode string
	err := s.pool.QueryRow(ctx,
		`SELECT trading_mode, risk_tolerance, updated_at FROM profiles WHERE user_id = $1`, userID,
	).Scan(&mode, &p.RiskTolerance, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, fmt.Errorf("postgres: get profile %s: %w", userID, err)
	}
	p.TradingMode = domain.TradingMode(mode)
	return p, nil
}

// Upsert saves the settings, replacing any earlier ones.
func (s *ProfileStore) Upsert(ctx context.Context, p domain.Profile) error {
	const query = `
		INSERT INTO profiles (user_id, trading_mode, risk_tolerance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			trading_mode   = EXCLUDED.trading_mode,
			risk_tolerance = EXCLUDED.risk_tolerance,
			updated_at     = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, p.UserID, string(p.TradingMode), p.RiskTolerance, p.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert profile %s: %w", p.UserID, err)
	}
	return nil
}
