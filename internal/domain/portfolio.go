package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio holds a user's real and demo balances.
type Portfolio struct {
	ID               string
	UserID           string
	Name             string
	Balance          decimal.Decimal
	DemoBalance      decimal.Decimal
	TotalRealizedPnL decimal.Decimal
	IsDefault        bool
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available returns the balance field selected by isDemo.
func (p Portfolio) Available(isDemo bool) decimal.Decimal {
	if isDemo {
		return p.DemoBalance
	}
	return p.Balance
}

// BalanceField names the column a demo flag targets.
func BalanceField(isDemo bool) string {
	if isDemo {
		return "demo_balance"
	}
	return "balance"
}
