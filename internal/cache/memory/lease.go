// Package memory provides in-process stand-ins for the Redis-backed cache
// interfaces, used when redis.enabled is false and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

type lease struct {
	token   uint64
	expires time.Time
}

// LeaseTable implements domain.LockManager for a single process. A lease is
// held until released or until its TTL passes, whichever comes first.
type LeaseTable struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewLeaseTable creates an empty LeaseTable.
func NewLeaseTable() *LeaseTable {
	return &LeaseTable{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire claims key for ttl or returns domain.ErrLockHeld.
func (lt *LeaseTable) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now()
	if l, ok := lt.leases[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}
	lt.next++
	token := lt.next
	lt.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lt.mu.Lock()
			defer lt.mu.Unlock()
			if l, ok := lt.leases[key]; ok && l.token == token {
				delete(lt.leases, key)
			}
		})
	}, nil
}

// Len returns the number of leases currently recorded, expired or not.
func (lt *LeaseTable) Len() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.leases)
}

// Cleanup drops expired leases. Call it periodically so abandoned keys do not
// accumulate.
func (lt *LeaseTable) Cleanup() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now()
	for key, l := range lt.leases {
		if !now.Before(l.expires) {
			delete(lt.leases, key)
		}
	}
}

var _ domain.LockManager = (*LeaseTable)(nil)
