package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionSelectCols = `id, user_id, portfolio_id, type, amount, method,
	status, is_demo, reference_id, created_at, completed_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var tx domain.Transaction
	var typ, status string
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.PortfolioID, &typ, &tx.Amount, &tx.Method,
		&status, &tx.IsDemo, &tx.ReferenceID, &tx.CreatedAt, &tx.CompletedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Type = domain.TransactionType(typ)
	tx.Status = domain.TransactionStatus(status)
	return tx, nil
}

// GetByID retrieves a single transaction by its ID.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return tx, nil
}

// GetByReference retrieves a transaction by its gateway order id.
func (s *TransactionStore) GetByReference(ctx context.Context, referenceID string) (domain.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE reference_id = $1`, referenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction by reference %s: %w", referenceID, err)
	}
	return tx, nil
}

// ListByUser returns the user's most recent transactions.
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
