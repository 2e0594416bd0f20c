package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// releaseLua deletes a lease only while it still carries the holder's token,
// so a holder whose lease expired cannot drop someone else's.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LeaseManager implements domain.LockManager with SET NX PX and a
// compare-and-delete release. Sweepers in different processes claim
// lease:trade:<id> through it.
type LeaseManager struct {
	rdb       *redis.Client
	releaseSc *redis.Script
}

// NewLeaseManager creates a LeaseManager backed by the given Client.
func NewLeaseManager(c *Client) *LeaseManager {
	return &LeaseManager{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
	}
}

// Acquire claims key for ttl. It returns domain.ErrLockHeld if another holder
// owns it. The release func is idempotent and uses its own context so it
// still runs after the caller's context is cancelled.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.releaseSc.Run(rctx, lm.rdb, []string{key}, token).Err()
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LeaseManager)(nil)
