package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/service"
)

type tradeView struct {
	ID            string            `json:"id"`
	PortfolioID   string            `json:"portfolio_id"`
	Symbol        string            `json:"symbol"`
	Direction     string            `json:"direction"`
	Status        string            `json:"status"`
	EntryPrice    decimal.Decimal   `json:"entry_price"`
	ExitPrice     *decimal.Decimal  `json:"exit_price,omitempty"`
	Quantity      decimal.Decimal   `json:"quantity"`
	Leverage      decimal.Decimal   `json:"leverage"`
	Principal     decimal.Decimal   `json:"principal"`
	StopLoss      *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal  `json:"take_profit,omitempty"`
	RealizedPnL   *decimal.Decimal  `json:"realized_pnl,omitempty"`
	IsDemo        bool              `json:"is_demo"`
	AIRecommended bool              `json:"ai_recommended"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty"`
	CloseReason   string            `json:"close_reason,omitempty"`
	Valuation     *domain.Valuation `json:"valuation,omitempty"`
}

func newTradeView(t domain.Trade, v *domain.Valuation) tradeView {
	return tradeView{
		ID:            t.ID,
		PortfolioID:   t.PortfolioID,
		Symbol:        t.Symbol,
		Direction:     string(t.Direction),
		Status:        string(t.Status),
		EntryPrice:    t.EntryPrice,
		ExitPrice:     t.ExitPrice,
		Quantity:      t.Quantity,
		Leverage:      t.Leverage,
		Principal:     t.Principal(),
		StopLoss:      t.StopLoss,
		TakeProfit:    t.TakeProfit,
		RealizedPnL:   t.RealizedPnL,
		IsDemo:        t.IsDemo,
		AIRecommended: t.AIRecommended,
		ExpiresAt:     t.ExpiresAt,
		CreatedAt:     t.CreatedAt,
		ClosedAt:      t.ClosedAt,
		CloseReason:   string(t.CloseReason),
		Valuation:     v,
	}
}

func newTradeViews(trades []domain.Trade) []tradeView {
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeView(t, nil))
	}
	return out
}

type portfolioView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	DemoBalance      decimal.Decimal `json:"demo_balance"`
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
	IsDefault        bool            `json:"is_default"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func newPortfolioView(p domain.Portfolio) portfolioView {
	return portfolioView{
		ID:               p.ID,
		Name:             p.Name,
		Balance:          p.Balance,
		DemoBalance:      p.DemoBalance,
		TotalRealizedPnL: p.TotalRealizedPnL,
		IsDefault:        p.IsDefault,
		UpdatedAt:        p.UpdatedAt,
	}
}

type summaryView struct {
	Portfolio     portfolioView   `json:"portfolio"`
	Positions     []tradeView     `json:"positions"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Committed     decimal.Decimal `json:"committed"`
}

func newSummaryView(s service.Summary) summaryView {
	v := summaryView{
		Portfolio:     newPortfolioView(s.Portfolio),
		Positions:     make([]tradeView, 0, len(s.Positions)),
		UnrealizedPnL: s.UnrealizedPnL,
		Committed:     s.Committed,
	}
	for _, p := range s.Positions {
		val := p.Valuation
		v.Positions = append(v.Positions, newTradeView(p.Trade, &val))
	}
	return v
}

type transactionView struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Status      string          `json:"status"`
	IsDemo      bool            `json:"is_demo"`
	ReferenceID string          `json:"reference_id"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func newTransactionView(tx domain.Transaction) transactionView {
	return transactionView{
		ID:          tx.ID,
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Method:      tx.Method,
		Status:      string(tx.Status),
		IsDemo:      tx.IsDemo,
		ReferenceID: tx.ReferenceID,
		CreatedAt:   tx.CreatedAt,
		CompletedAt: tx.CompletedAt,
	}
}

type markView struct {
	domain.Mark
	Stale bool `json:"stale"`
}
