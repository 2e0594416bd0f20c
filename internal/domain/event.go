package domain

import "time"

// Event types published on the per-user channels.
const (
	EventTradeOpened      = "trade.opened"
	EventTradeClosed      = "trade.closed"
	EventPortfolioChanged = "portfolio.changed"
	EventTransaction      = "transaction.updated"
)

// MarksChannel carries every mark update.
const MarksChannel = "marks"

// TradeChannel is the per-user channel for trade row changes.
func TradeChannel(userID string) string {
	return "trades:" + userID
}

// PortfolioChannel is the per-user channel for balance changes.
func PortfolioChannel(userID string) string {
	return "portfolio:" + userID
}

// ChangeEvent is the payload published after a committed transition. It is a
// hint to invalidate cached reads; the ledger stays the source of truth.
type ChangeEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	PortfolioID string    `json:"portfolio_id,omitempty"`
	TradeID     string    `json:"trade_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	At          time.Time `json:"at"`
}
