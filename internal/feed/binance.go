package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// tickerServeFunc opens a combined ticker stream. It matches
// binance.WsCombinedMarketStatServe.
type tickerServeFunc func(symbols []string, handler binance.WsMarketStatHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

// snapshotFunc fetches 24h ticker statistics for the given exchange symbols.
type snapshotFunc func(ctx context.Context, symbols []string) ([]*binance.PriceChangeStats, error)

// BinanceConfig configures a BinanceFeed.
type BinanceConfig struct {
	Symbols          []string
	WSEnabled        bool
	RESTBaseURL      string
	SnapshotInterval time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

// BinanceFeed keeps a MarkBook fresh from the Binance spot ticker stream. A
// REST snapshot seeds the book on start and after every reconnect, and is
// polled on SnapshotInterval so marks survive a stalled stream.
type BinanceFeed struct {
	cfg      BinanceConfig
	book     *MarkBook
	symbols  []string // exchange form, upper case
	serve    tickerServeFunc
	snapshot snapshotFunc
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewBinanceFeed creates a feed for cfg.Symbols writing into book.
func NewBinanceFeed(cfg BinanceConfig, book *MarkBook, logger *slog.Logger) *BinanceFeed {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = domain.DefaultSymbols
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, ToBinance(s))
	}

	client := binance.NewClient("", "")
	if cfg.RESTBaseURL != "" {
		client.BaseURL = cfg.RESTBaseURL
	}

	return &BinanceFeed{
		cfg:     cfg,
		book:    book,
		symbols: symbols,
		serve:   binance.WsCombinedMarketStatServe,
		snapshot: func(ctx context.Context, symbols []string) ([]*binance.PriceChangeStats, error) {
			return client.NewListPriceChangeStatsService().Symbols(symbols).Do(ctx)
		},
		logger: logger.With(slog.String("component", "binance_feed")),
		done:   make(chan struct{}),
	}
}

// Run seeds the book and then streams until ctx is cancelled or Close is
// called. Disconnects are retried with exponential backoff.
func (f *BinanceFeed) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "binance feed started",
		slog.Any("symbols", f.symbols),
		slog.Bool("ws", f.cfg.WSEnabled),
	)
	defer f.logger.Info("binance feed stopped")

	if err := f.refresh(ctx); err != nil {
		f.logger.WarnContext(ctx, "initial snapshot failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pollSnapshots(ctx)

	if !f.cfg.WSEnabled {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		}
	}

	b := &backoff.Backoff{
		Min:    f.cfg.BackoffMin,
		Max:    f.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connected, err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		delay := b.Duration()
		f.logger.WarnContext(ctx, "binance stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		if err := f.refresh(ctx); err != nil {
			f.logger.WarnContext(ctx, "reconnect snapshot failed", slog.String("error", err.Error()))
		}
	}
}

// runConnection holds one stream open. A nil error means the feed was closed
// on purpose; connected reports whether the dial itself succeeded.
func (f *BinanceFeed) runConnection(ctx context.Context) (connected bool, err error) {
	streamErr := make(chan error, 1)
	handler := func(ev *binance.WsMarketStatEvent) {
		m, ok := markFromStat(ev)
		if !ok {
			return
		}
		f.book.Apply(ctx, m)
	}
	errHandler := func(err error) {
		select {
		case streamErr <- err:
		default:
		}
	}

	lower := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		lower[i] = strings.ToLower(s)
	}
	doneC, stopC, err := f.serve(lower, handler, errHandler)
	if err != nil {
		return false, fmt.Errorf("feed: dial ticker stream: %w", err)
	}
	f.logger.InfoContext(ctx, "binance stream connected", slog.Int("symbols", len(lower)))

	stop := func() {
		select {
		case stopC <- struct{}{}:
		default:
		}
	}

	select {
	case <-ctx.Done():
		stop()
		return true, ctx.Err()
	case <-f.done:
		stop()
		return true, nil
	case err := <-streamErr:
		stop()
		return true, fmt.Errorf("feed: ticker stream: %w", err)
	case <-doneC:
		return true, fmt.Errorf("feed: ticker stream closed")
	}
}

func (f *BinanceFeed) pollSnapshots(ctx context.Context) {
	if f.cfg.SnapshotInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.refresh(ctx); err != nil {
				f.logger.WarnContext(ctx, "snapshot poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refresh pulls the REST ticker for every symbol into the book.
func (f *BinanceFeed) refresh(ctx context.Context) error {
	stats, err := f.snapshot(ctx, f.symbols)
	if err != nil {
		return fmt.Errorf("feed: ticker snapshot: %w", err)
	}
	applied := 0
	for _, st := range stats {
		m, ok := markFromSnapshot(st)
		if !ok {
			continue
		}
		if f.book.Apply(ctx, m) {
			applied++
		}
	}
	f.logger.DebugContext(ctx, "snapshot applied", slog.Int("marks", applied))
	return nil
}

// Close stops the feed.
func (f *BinanceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func markFromStat(ev *binance.WsMarketStatEvent) (domain.Mark, bool) {
	if ev == nil {
		return domain.Mark{}, false
	}
	symbol, ok := FromBinance(ev.Symbol)
	if !ok {
		return domain.Mark{}, false
	}
	price, err := decimal.NewFromString(ev.LastPrice)
	if err != nil {
		return domain.Mark{}, false
	}
	return domain.Mark{
		Symbol:        symbol,
		Price:         price,
		ChangePercent: decimalOrZero(ev.PriceChangePercent),
		Volume:        decimalOrZero(ev.BaseVolume),
		Timestamp:     time.UnixMilli(ev.Time).UTC(),
	}, true
}

func markFromSnapshot(st *binance.PriceChangeStats) (domain.Mark, bool) {
	if st == nil {
		return domain.Mark{}, false
	}
	symbol, ok := FromBinance(st.Symbol)
	if !ok {
		return domain.Mark{}, false
	}
	price, err := decimal.NewFromString(st.LastPrice)
	if err != nil {
		return domain.Mark{}, false
	}
	ts := time.Now().UTC()
	if st.CloseTime > 0 {
		ts = time.UnixMilli(st.CloseTime).UTC()
	}
	return domain.Mark{
		Symbol:        symbol,
		Price:         price,
		ChangePercent: decimalOrZero(st.PriceChangePercent),
		Volume:        decimalOrZero(st.Volume),
		Timestamp:     ts,
	}, true
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
