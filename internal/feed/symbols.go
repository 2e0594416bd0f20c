package feed

import (
	"strings"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// quoteAssets are tried longest first when splitting an exchange symbol.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// ToBinance converts "BTC/USDT" to the exchange form "BTCUSDT".
func ToBinance(symbol string) string {
	return strings.ReplaceAll(domain.NormalizeSymbol(symbol), "/", "")
}

// FromBinance converts "BTCUSDT" to "BTC/USDT". ok is false when no known
// quote asset matches the suffix.
func FromBinance(symbol string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)] + "/" + q, true
		}
	}
	return "", false
}
