package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mark is the most recently observed price for an instrument.
type Mark struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Age returns how long ago the mark was observed.
func (m Mark) Age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}

// Stale reports whether the mark is older than maxAge. A zero maxAge never
// reports stale.
func (m Mark) Stale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && m.Age(now) > maxAge
}

// DefaultSymbols are the instruments quoted when none are configured.
var DefaultSymbols = []string{"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT"}

// NormalizeSymbol upper-cases a pair and accepts "BTC-USDT" or "btc/usdt".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "/")
}
