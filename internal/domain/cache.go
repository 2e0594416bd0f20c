package domain

import (
	"context"
	"time"
)

// MarkCache shares the latest marks between processes.
type MarkCache interface {
	SetMark(ctx context.Context, m Mark) error
	GetMark(ctx context.Context, symbol string) (Mark, error)
	GetMarks(ctx context.Context, symbols []string) (map[string]Mark, error)
}

// MarkSource answers "what is the latest mark" without blocking on the feed.
// ok is false when no mark was ever received for the symbol.
type MarkSource interface {
	Latest(ctx context.Context, symbol string) (m Mark, ok bool)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out leases. The returned release func is safe to call
// more than once. Acquire returns ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// SignalBus provides pub/sub fan-out between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
