package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func (r *recordSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventTradeExpired, " deposit_settled "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventTradeClosed, "closed", "m"))
	require.NoError(t, n.Notify(context.Background(), EventTradeExpired, "expired", "m"))
	require.NoError(t, n.Notify(context.Background(), EventDepositSettled, "settled", "m"))
	assert.Equal(t, []string{"expired", "settled"}, s.titles)

	all := NewNotifier([]Sender{s}, nil, discard())
	assert.True(t, all.Wants(EventError))
	assert.True(t, all.Enabled())
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled())
}

func TestNotifierKeepsGoingPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordSender{name: "bad", err: boom}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventError, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.count())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "tok123", "42")
	require.NoError(t, s.Send(context.Background(), "Trade expired", "BTC/USDT closed"))
	assert.Equal(t, "/bottok123/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Trade expired*\nBTC/USDT closed", got["text"])
	assert.Equal(t, "telegram", s.Name())
}

func TestTelegramSenderHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "secret-token", "42").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Deposit settled", "50000"))
	assert.Equal(t, "**Deposit settled**\n50000", got["content"])

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer fail.Close()
	err := NewDiscordSender(fail.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestQueueDeliversInBackground(t *testing.T) {
	s := &recordSender{name: "rec"}
	q := NewQueue(NewNotifier([]Sender{s}, []string{EventTradeClosed}, discard()), 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Notify(ctx, EventTradeClosed, "a", "m"))
	require.NoError(t, q.Notify(ctx, EventError, "filtered", "m"))
	assert.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestQueueDropsWhenFullAndDrainsOnStop(t *testing.T) {
	s := &recordSender{name: "rec"}
	q := NewQueue(NewNotifier([]Sender{s}, nil, discard()), 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Notify(context.Background(), EventError, "x", "m"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))
	assert.Equal(t, 2, s.count())
}
