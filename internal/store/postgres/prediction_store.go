package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given connection pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Insert stores a new prediction.
func (s *PredictionStore) Insert(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, symbol, prediction_type, predicted_direction, confidence,
			predicted_price, timeframe, model_used, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.PredictionType, p.PredictedDirection, p.Confidence,
		nullDecimal(p.PredictedPrice), p.Timeframe, p.ModelUsed, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: prediction %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert prediction %s: %w", p.ID, err)
	}
	return nil
}

// ListActive returns unexpired predictions, most confident first.
func (s *PredictionStore) ListActive(ctx context.Context, now time.Time, limit int) ([]domain.Prediction, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, prediction_type, predicted_direction, confidence,
			predicted_price, timeframe, model_used, created_at, expires_at
		FROM predictions
		WHERE expires_at > $1
		ORDER BY confidence DESC, created_at DESC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		var price decimal.NullDecimal
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.PredictionType, &p.PredictedDirection, &p.Confidence,
			&price, &p.Timeframe, &p.ModelUsed, &p.CreatedAt, &p.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		p.PredictedPrice = decimalPtr(price)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions: %w", err)
	}
	return out, nil
}
