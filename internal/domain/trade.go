package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for committed principal.
const MoneyScale int32 = 8

// TradeDirection is the side of a position: buy (long) or sell (short).
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// Valid reports whether d is a known direction.
func (d TradeDirection) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Multiplier returns +1 for longs and -1 for shorts.
func (d TradeDirection) Multiplier() decimal.Decimal {
	if d == DirectionSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// TradeStatus tracks the trade state machine.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusActive    TradeStatus = "active"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Open reports whether the trade still holds committed funds.
func (s TradeStatus) Open() bool {
	return s == TradeStatusPending || s == TradeStatusActive
}

// CloseReason records what drove a trade to completion.
type CloseReason string

const (
	CloseReasonManual  CloseReason = "manual"
	CloseReasonExpired CloseReason = "expired"
)

// Trade is a simulated leveraged position against one portfolio.
type Trade struct {
	ID            string
	PortfolioID   string
	UserID        string
	Symbol        string
	Direction     TradeDirection
	Status        TradeStatus
	EntryPrice    decimal.Decimal
	ExitPrice     *decimal.Decimal
	Quantity      decimal.Decimal
	Leverage      decimal.Decimal
	StopLoss      *decimal.Decimal
	TakeProfit    *decimal.Decimal
	RealizedPnL   *decimal.Decimal
	IsDemo        bool
	AIRecommended bool
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	ClosedAt      *time.Time
	CloseReason   CloseReason
}

// Principal is the amount committed when the trade opened:
// entryPrice * quantity / leverage, rounded to MoneyScale.
func (t Trade) Principal() decimal.Decimal {
	lev := t.Leverage
	if lev.LessThanOrEqual(decimal.Zero) {
		lev = decimal.NewFromInt(1)
	}
	return t.EntryPrice.Mul(t.Quantity).Div(lev).Round(MoneyScale)
}

// Notional is entryPrice * quantity, the exposure the position carries.
func (t Trade) Notional() decimal.Decimal {
	return t.EntryPrice.Mul(t.Quantity)
}

// Expired reports whether the trade has an expiry at or before now.
func (t Trade) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// TradeFilter narrows trade list queries.
type TradeFilter struct {
	Status TradeStatus
	IsDemo *bool
	ListOpts
}

// Valuation is the mark-to-market view of an open trade.
type Valuation struct {
	TradeID              string          `json:"trade_id"`
	Mark                 decimal.Decimal `json:"mark"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
	// Estimated is set when no mark was available and entry price was used.
	Estimated bool `json:"estimated"`
}
