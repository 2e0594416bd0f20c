package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes deposits from withdrawals.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus follows the payment gateway lifecycle.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionSuccess    TransactionStatus = "success"
	TransactionFailed     TransactionStatus = "failed"
)

// Final reports whether no further transition is allowed.
func (s TransactionStatus) Final() bool {
	return s == TransactionSuccess || s == TransactionFailed
}

// Transaction is a deposit or withdrawal against a portfolio balance.
type Transaction struct {
	ID          string
	UserID      string
	PortfolioID string
	Type        TransactionType
	Amount      decimal.Decimal
	Method      string
	Status      TransactionStatus
	IsDemo      bool
	ReferenceID string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
