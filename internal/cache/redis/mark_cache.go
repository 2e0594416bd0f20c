package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// MarkCache implements domain.MarkCache with one hash per symbol at
// "mark:{symbol}" holding price, change, volume (decimal strings) and ts
// (unix nanoseconds).
type MarkCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarkCache creates a MarkCache. A positive ttl lets marks from a dead
// feed process age out of Redis entirely.
func NewMarkCache(c *Client, ttl time.Duration) *MarkCache {
	return &MarkCache{rdb: c.Underlying(), ttl: ttl}
}

func markKey(symbol string) string {
	return "mark:" + symbol
}

// SetMark stores m, replacing the previous mark for the symbol.
func (mc *MarkCache) SetMark(ctx context.Context, m domain.Mark) error {
	key := markKey(m.Symbol)
	fields := map[string]any{
		"price":  m.Price.String(),
		"change": m.ChangePercent.String(),
		"volume": m.Volume.String(),
		"ts":     strconv.FormatInt(m.Timestamp.UnixNano(), 10),
	}

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if mc.ttl > 0 {
		pipe.Expire(ctx, key, mc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", m.Symbol, err)
	}
	return nil
}

// GetMark returns domain.ErrNotFound when no mark is cached for symbol.
func (mc *MarkCache) GetMark(ctx context.Context, symbol string) (domain.Mark, error) {
	vals, err := mc.rdb.HGetAll(ctx, markKey(symbol)).Result()
	if err != nil {
		return domain.Mark{}, fmt.Errorf("redis: get mark %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Mark{}, domain.ErrNotFound
	}
	m, err := parseMark(symbol, vals)
	if err != nil {
		return domain.Mark{}, fmt.Errorf("redis: parse mark %s: %w", symbol, err)
	}
	return m, nil
}

// GetMarks fetches several symbols in one round trip. Symbols without a
// cached mark are omitted.
func (mc *MarkCache) GetMarks(ctx context.Context, symbols []string) (map[string]domain.Mark, error) {
	out := make(map[string]domain.Mark, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	pipe := mc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, markKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get marks pipeline: %w", err)
	}

	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		m, err := parseMark(s, vals)
		if err != nil {
			continue
		}
		out[s] = m
	}
	return out, nil
}

func parseMark(symbol string, vals map[string]string) (domain.Mark, error) {
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.Mark{}, fmt.Errorf("price: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Mark{}, fmt.Errorf("ts: %w", err)
	}
	m := domain.Mark{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Unix(0, ts).UTC(),
	}
	// change and volume are informational; a malformed value reads as zero.
	m.ChangePercent, _ = decimal.NewFromString(vals["change"])
	m.Volume, _ = decimal.NewFromString(vals["volume"])
	return m, nil
}

var _ domain.MarkCache = (*MarkCache)(nil)
