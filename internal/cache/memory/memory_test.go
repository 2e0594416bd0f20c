package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

func TestLeaseTable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lt := NewLeaseTable()
	lt.now = func() time.Time { return now }

	release, err := lt.Acquire(ctx, "lease:trade:a", 30*time.Second)
	require.NoError(t, err)

	_, err = lt.Acquire(ctx, "lease:trade:a", 30*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = lt.Acquire(ctx, "lease:trade:b", 30*time.Second)
	assert.NoError(t, err)

	release()
	release2, err := lt.Acquire(ctx, "lease:trade:a", 30*time.Second)
	require.NoError(t, err)

	// After expiry a new holder may take the key, and the stale release must
	// leave it alone.
	now = now.Add(31 * time.Second)
	release3, err := lt.Acquire(ctx, "lease:trade:a", 30*time.Second)
	require.NoError(t, err)
	release2()
	_, err = lt.Acquire(ctx, "lease:trade:a", 30*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	release3()

	lt.Cleanup()
	assert.Equal(t, 0, lt.Len())
}

func TestBusPatternsAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus()

	exact, err := bus.Subscribe(ctx, "trades:u1")
	require.NoError(t, err)
	all, err := bus.Subscribe(ctx, "trades:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "trades:u1", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "trades:u2", []byte("b")))
	require.NoError(t, bus.Publish(ctx, "marks", []byte("c")))

	assert.Equal(t, []byte("a"), <-exact)
	assert.Equal(t, []byte("a"), <-all)
	assert.Equal(t, []byte("b"), <-all)
	assert.Empty(t, exact)
	assert.Empty(t, all)

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-exact
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := rl.Allow(ctx, "k", 2, time.Minute)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "k", 2, time.Minute)
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "k", 2, time.Minute)
	assert.True(t, ok)
}
