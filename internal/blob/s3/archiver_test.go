package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

type memBucket struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	b.types[path] = contentType
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "multipart")
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type fixedTrades struct {
	list    []domain.Trade
	queries int
}

func (f *fixedTrades) FirstCompletedAt(context.Context) (time.Time, error) {
	var first time.Time
	for _, t := range f.list {
		if t.ClosedAt != nil && (first.IsZero() || t.ClosedAt.Before(first)) {
			first = *t.ClosedAt
		}
	}
	if first.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return first, nil
}

func (f *fixedTrades) ListCompletedBetween(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	f.queries++
	var out []domain.Trade
	for _, t := range f.list {
		if t.ClosedAt != nil && !t.ClosedAt.Before(from) && t.ClosedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

type auditLog struct {
	events  []string
	details []map[string]any
}

func (a *auditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return nil
}

func (a *auditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedTrade(id string, closedAt time.Time, pnl string) domain.Trade {
	exit := decimal.RequireFromString("110")
	realized := decimal.RequireFromString(pnl)
	return domain.Trade{
		ID:          id,
		UserID:      "u1",
		PortfolioID: "p1",
		Symbol:      "BTC/USDT",
		Direction:   domain.DirectionBuy,
		Status:      domain.TradeStatusCompleted,
		EntryPrice:  decimal.RequireFromString("100"),
		ExitPrice:   &exit,
		Quantity:    decimal.RequireFromString("10"),
		Leverage:    decimal.NewFromInt(1),
		RealizedPnL: &realized,
		CloseReason: domain.CloseReasonExpired,
		CreatedAt:   closedAt.Add(-time.Hour),
		ClosedAt:    &closedAt,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readIDs(t *testing.T, raw []byte) []string {
	t.Helper()
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec["id"].(string))
		assert.Equal(t, "expired", rec["close_reason"])
		assert.Equal(t, "100", rec["entry_price"])
	}
	return ids
}

func TestArchiveTradesWritesOneObjectPerMonth(t *testing.T) {
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	trades := &fixedTrades{list: []domain.Trade{
		closedTrade("t1", time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC), "100"),
		closedTrade("t2", time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC), "-12.5"),
		closedTrade("t3", time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC), "4"),
		closedTrade("t4", time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), "1"),
	}}
	bucket := newMemBucket()
	audit := &auditLog{}
	a := NewArchiver(bucket, bucket, trades, audit, discard())

	n, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.Len(t, bucket.objects, 2, "March is not over at the cutoff")
	assert.Equal(t, []string{"t1"}, readIDs(t, bucket.objects["archive/trades/2025-01.jsonl"]))
	assert.Equal(t, []string{"t2", "t3"}, readIDs(t, bucket.objects["archive/trades/2025-02.jsonl"]))
	assert.Equal(t, ndjson, bucket.types["archive/trades/2025-02.jsonl"])
	assert.Equal(t, []string{"archive.trades", "archive.trades"}, audit.events)
	assert.Equal(t, "2025-01", audit.details[0]["month"])

	// Archived months are neither queried nor rewritten again.
	queries := trades.queries
	n, err = a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, queries, trades.queries)
	assert.Len(t, audit.events, 2)

	// Once March is over it gets its own object.
	n, err = a.ArchiveTrades(context.Background(), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"t4"}, readIDs(t, bucket.objects["archive/trades/2025-03.jsonl"]))
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	bucket := newMemBucket()
	audit := &auditLog{}
	n, err := NewArchiver(bucket, bucket, &fixedTrades{}, audit, discard()).
		ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bucket.objects)
	assert.Empty(t, audit.events)
}

func TestArchiveTradesUploadError(t *testing.T) {
	closed := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	bucket := newMemBucket()
	bucket.putErr = errors.New("bucket gone")
	audit := &auditLog{}

	_, err := NewArchiver(bucket, bucket, &fixedTrades{list: []domain.Trade{closedTrade("t1", closed, "1")}}, audit, discard()).
		ArchiveTrades(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Empty(t, audit.events)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", endpointURL("https://e2.example.com", false))
	assert.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
}
