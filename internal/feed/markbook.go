// Package feed maintains the latest mark per instrument and keeps it fresh
// from the exchange.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const subscriberBuffer = 64

// MarkBook is the in-memory latest-mark table. Writers call Apply; readers
// call Latest or subscribe for a stream. Slow subscribers lose updates rather
// than block the feed.
type MarkBook struct {
	mu     sync.RWMutex
	marks  map[string]domain.Mark
	subs   map[int]*subscription
	nextID int

	cache  domain.MarkCache
	bus    domain.SignalBus
	logger *slog.Logger
}

type subscription struct {
	symbols map[string]struct{} // nil means every symbol
	ch      chan domain.Mark
}

func (s *subscription) wants(symbol string) bool {
	if s.symbols == nil {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// NewMarkBook creates an empty book. cache and bus may be nil; when set,
// every applied mark is written through to the cache and published on
// domain.MarksChannel.
func NewMarkBook(cache domain.MarkCache, bus domain.SignalBus, logger *slog.Logger) *MarkBook {
	return &MarkBook{
		marks:  make(map[string]domain.Mark),
		subs:   make(map[int]*subscription),
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "mark_book")),
	}
}

// Apply records m if it is not older than the mark already held for its
// symbol, then fans it out. It reports whether the mark was accepted.
func (b *MarkBook) Apply(ctx context.Context, m domain.Mark) bool {
	m.Symbol = domain.NormalizeSymbol(m.Symbol)
	if !b.accept(m) {
		return false
	}

	if b.cache != nil {
		if err := b.cache.SetMark(ctx, m); err != nil {
			b.logger.WarnContext(ctx, "mark cache write failed",
				slog.String("symbol", m.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if b.bus != nil {
		payload, err := json.Marshal(m)
		if err == nil {
			err = b.bus.Publish(ctx, domain.MarksChannel, payload)
		}
		if err != nil {
			b.logger.WarnContext(ctx, "mark publish failed",
				slog.String("symbol", m.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// accept stores m and notifies local subscribers without writing through.
func (b *MarkBook) accept(m domain.Mark) bool {
	if m.Symbol == "" || !m.Price.IsPositive() {
		return false
	}

	b.mu.Lock()
	if prev, ok := b.marks[m.Symbol]; ok && m.Timestamp.Before(prev.Timestamp) {
		b.mu.Unlock()
		return false
	}
	b.marks[m.Symbol] = m
	for _, s := range b.subs {
		if !s.wants(m.Symbol) {
			continue
		}
		select {
		case s.ch <- m:
		default:
		}
	}
	b.mu.Unlock()
	return true
}

// Follow mirrors marks published on bus by another process into the book
// until ctx is done. Followed marks are not written back to the cache or bus.
func (b *MarkBook) Follow(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, domain.MarksChannel)
	if err != nil {
		return fmt.Errorf("feed: follow marks: %w", err)
	}
	b.logger.InfoContext(ctx, "following remote marks")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			var m domain.Mark
			if err := json.Unmarshal(payload, &m); err != nil {
				b.logger.WarnContext(ctx, "bad mark payload", slog.String("error", err.Error()))
				continue
			}
			m.Symbol = domain.NormalizeSymbol(m.Symbol)
			b.accept(m)
		}
	}
}

// Latest returns the last mark seen for symbol. On a local miss it falls back
// to the shared cache, so a process that has not heard a symbol yet still sees
// marks written by another feed. ok is false only when no mark exists anywhere.
func (b *MarkBook) Latest(ctx context.Context, symbol string) (domain.Mark, bool) {
	symbol = domain.NormalizeSymbol(symbol)
	b.mu.RLock()
	m, ok := b.marks[symbol]
	b.mu.RUnlock()
	if ok || b.cache == nil {
		return m, ok
	}

	m, err := b.cache.GetMark(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			b.logger.WarnContext(ctx, "mark cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		return domain.Mark{}, false
	}

	b.mu.Lock()
	if cur, ok := b.marks[symbol]; !ok || cur.Timestamp.Before(m.Timestamp) {
		b.marks[symbol] = m
	}
	b.mu.Unlock()
	return m, true
}

// Snapshot returns every held mark ordered by symbol.
func (b *MarkBook) Snapshot() []domain.Mark {
	b.mu.RLock()
	out := make([]domain.Mark, 0, len(b.marks))
	for _, m := range b.marks {
		out = append(out, m)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Subscribe streams accepted marks for symbols (all symbols when none are
// given) until ctx is done, then closes the channel.
func (b *MarkBook) Subscribe(ctx context.Context, symbols ...string) <-chan domain.Mark {
	s := &subscription{ch: make(chan domain.Mark, subscriberBuffer)}
	if len(symbols) > 0 {
		s.symbols = make(map[string]struct{}, len(symbols))
		for _, sym := range symbols {
			s.symbols[domain.NormalizeSymbol(sym)] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch
}

// Stale lists the held marks older than maxAge at now.
func (b *MarkBook) Stale(now time.Time, maxAge time.Duration) []string {
	var out []string
	for _, m := range b.Snapshot() {
		if m.Stale(now, maxAge) {
			out = append(out, m.Symbol)
		}
	}
	return out
}
