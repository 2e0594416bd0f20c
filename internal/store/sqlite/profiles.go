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

// ProfileStore implements domain.ProfileStore.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates a ProfileStore on an opened database.
func NewProfileStore(d *DB) *ProfileStore {
	return &ProfileStore{db: d.db}
}

func (s *ProfileStore) Get(ctx context.Context, userID string) (domain.Profile, error) {
	p := domain.Profile{UserID: userID}
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT trading_mode, risk_tolerance, updated_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&mode, &p.RiskTolerance, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, fmt.Errorf("sqlite: get profile %s: %w", userID, err)
	}
	p.TradingMode = domain.TradingMode(mode)
	return p, nil
}

func (s *ProfileStore) Upsert(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, trading_mode, risk_tolerance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			trading_mode   = excluded.trading_mode,
			risk_tolerance = excluded.risk_tolerance,
			updated_at     = excluded.updated_at`,
		p.UserID, string(p.TradingMode), p.RiskTolerance, utc(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// PredictionStore implements domain.PredictionStore.
type PredictionStore struct {
	db *sql.DB
}

// NewPredictionStore creates a PredictionStore on an opened database.
func NewPredictionStore(d *DB) *PredictionStore {
	return &PredictionStore{db: d.db}
}

func (s *PredictionStore) Insert(ctx context.Context, p domain.Prediction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (
			id, symbol, prediction_type, predicted_direction, confidence,
			predicted_price, timeframe, model_used, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, p.PredictionType, p.PredictedDirection, p.Confidence,
		nullDecimal(p.PredictedPrice), p.Timeframe, p.ModelUsed, utc(p.CreatedAt), utc(p.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: prediction %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: insert prediction %s: %w", p.ID, err)
	}
	return nil
}

func (s *PredictionStore) ListActive(ctx context.Context, now time.Time, limit int) ([]domain.Prediction, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, prediction_type, predicted_direction, confidence,
			predicted_price, timeframe, model_used, created_at, expires_at
		FROM predictions
		WHERE expires_at > ?
		ORDER BY confidence DESC, created_at DESC
		LIMIT ?`, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list predictions: %w", err)
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
			return nil, fmt.Errorf("sqlite: scan prediction: %w", err)
		}
		p.PredictedPrice = decimalPtr(price)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list predictions: %w", err)
	}
	return out, nil
}
