package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const (
	ndjson = "application/x-ndjson"

	// Payloads above this size go through the multipart uploader.
	multipartThreshold = 64 << 20
)

// CompletedTrades lists closed trades for export.
type CompletedTrades interface {
	FirstCompletedAt(ctx context.Context) (time.Time, error)
	ListCompletedBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
}

var _ domain.Archiver = (*TradeArchiver)(nil)

// TradeArchiver exports completed trades as JSONL, one object per calendar
// month of closed_at. Only months that ended before the cutoff are exported,
// and a month whose object already exists is never rewritten. Rows stay in
// the primary store.
type TradeArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades CompletedTrades
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates a TradeArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades CompletedTrades, audit domain.AuditStore, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		reader: reader,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every complete month before the cutoff that is not
// archived yet to archive/trades/YYYY-MM.jsonl and returns how many trades
// were written.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	first, err := a.trades.FirstCompletedAt(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}

	var total int64
	for month := monthStart(first); !month.AddDate(0, 1, 0).After(before); month = month.AddDate(0, 1, 0) {
		n, err := a.archiveMonth(ctx, month)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *TradeArchiver) archiveMonth(ctx context.Context, month time.Time) (int64, error) {
	path := archivePath("trades", month)
	done, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades %s: %w", path, err)
	}
	if done {
		return 0, nil
	}

	trades, err := a.trades.ListCompletedBetween(ctx, month, month.AddDate(0, 1, 0))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query %s: %w", path, err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]tradeRecord, len(trades))
	for i, t := range trades {
		records[i] = newTradeRecord(t)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), ndjson)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	a.logger.InfoContext(ctx, "trades archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":  path,
		"count": count,
		"month": month.Format("2006-01"),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// tradeRecord is the archived shape of a trade.
type tradeRecord struct {
	ID            string           `json:"id"`
	PortfolioID   string           `json:"portfolio_id"`
	UserID        string           `json:"user_id"`
	Symbol        string           `json:"symbol"`
	Direction     string           `json:"direction"`
	Status        string           `json:"status"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	ExitPrice     *decimal.Decimal `json:"exit_price,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Leverage      decimal.Decimal  `json:"leverage"`
	RealizedPnL   *decimal.Decimal `json:"realized_pnl,omitempty"`
	IsDemo        bool             `json:"is_demo"`
	AIRecommended bool             `json:"ai_recommended"`
	CloseReason   string           `json:"close_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

func newTradeRecord(t domain.Trade) tradeRecord {
	return tradeRecord{
		ID:            t.ID,
		PortfolioID:   t.PortfolioID,
		UserID:        t.UserID,
		Symbol:        t.Symbol,
		Direction:     string(t.Direction),
		Status:        string(t.Status),
		EntryPrice:    t.EntryPrice,
		ExitPrice:     t.ExitPrice,
		Quantity:      t.Quantity,
		Leverage:      t.Leverage,
		RealizedPnL:   t.RealizedPnL,
		IsDemo:        t.IsDemo,
		AIRecommended: t.AIRecommended,
		CloseReason:   string(t.CloseReason),
		CreatedAt:     t.CreatedAt,
		ClosedAt:      t.ClosedAt,
	}
}

// archivePath partitions archives by month:
//
//	archive/trades/2025-01.jsonl
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
