package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExpiryCursor is the position of the last trade seen in a scan of expired
// trades.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

// TradeCompletion carries the values written by the close transition.
type TradeCompletion struct {
	TradeID     string
	ExitPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
	ClosedAt    time.Time
	Reason      CloseReason
}

// LedgerTx is a single unit of work against the ledger. Everything done
// through one LedgerTx commits together or not at all.
type LedgerTx interface {
	ReadPortfolio(ctx context.Context, portfolioID string) (Portfolio, error)
	Debit(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) (Portfolio, error)
	Credit(ctx context.Context, portfolioID string, isDemo bool, amount, pnlDelta decimal.Decimal) (Portfolio, error)
	SetBalance(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) (Portfolio, error)

	InsertTrade(ctx context.Context, t Trade) error
	// CompleteTrade moves an active trade to completed. It returns
	// ErrInvalidState when the trade is no longer active at write time.
	CompleteTrade(ctx context.Context, c TradeCompletion) (Trade, error)

	InsertTransaction(ctx context.Context, tx Transaction) error
	GetTransactionByReference(ctx context.Context, referenceID string) (Transaction, error)
	// TransitionTransaction sets a new status on a non-final transaction and
	// returns ErrInvalidState if it already reached success or failed.
	TransitionTransaction(ctx context.Context, id string, status TransactionStatus, completedAt *time.Time) error
}

// PositionLedger is the authoritative store of portfolio balances.
type PositionLedger interface {
	Debit(ctx context.Context, portfolioID string, isDemo bool, amount decimal.Decimal) error
	Credit(ctx context.Context, portfolioID string, isDemo bool, amount, pnlDelta decimal.Decimal) error
	Read(ctx context.Context, portfolioID string) (Portfolio, error)
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// PortfolioStore persists portfolios outside the balance-mutation path.
type PortfolioStore interface {
	Create(ctx context.Context, p Portfolio) error
	GetByID(ctx context.Context, id string) (Portfolio, error)
	GetDefault(ctx context.Context, userID string) (Portfolio, error)
	ListByUser(ctx context.Context, userID string) ([]Portfolio, error)
}

// TradeStore provides read access to trades.
type TradeStore interface {
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByUser(ctx context.Context, userID string, filter TradeFilter) ([]Trade, error)
	ListOpenByPortfolio(ctx context.Context, portfolioID string) ([]Trade, error)
	// ListExpired returns active trades whose expiry is at or before now,
	// ordered by (expires_at, id) and starting after the cursor when one is
	// given.
	ListExpired(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]Trade, error)
	// FirstCompletedAt returns the earliest closed_at of any completed trade,
	// or ErrNotFound when none exist.
	FirstCompletedAt(ctx context.Context) (time.Time, error)
	// ListCompletedBetween returns completed trades with closed_at in
	// [from, to), oldest first.
	ListCompletedBetween(ctx context.Context, from, to time.Time) ([]Trade, error)
}

// TransactionStore provides read access to wallet transactions.
type TransactionStore interface {
	GetByID(ctx context.Context, id string) (Transaction, error)
	GetByReference(ctx context.Context, referenceID string) (Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

// ProfileStore persists per-user trading preferences.
type ProfileStore interface {
	// Get returns ErrNotFound for a user who never saved settings.
	Get(ctx context.Context, userID string) (Profile, error)
	Upsert(ctx context.Context, p Profile) error
}

// PredictionStore persists model predictions.
type PredictionStore interface {
	Insert(ctx context.Context, p Prediction) error
	// ListActive returns predictions expiring after now, most confident
	// first.
	ListActive(ctx context.Context, now time.Time, limit int) ([]Prediction, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
