package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/cache/memory"
	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asUser authenticates every request as the user named in ?user=.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), r.URL.Query().Get("user"))))
	})
}

func startHub(t *testing.T) (*Hub, *memory.Bus, *httptest.Server) {
	t.Helper()
	bus := memory.NewBus()
	hub := NewHub(bus, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	require.Eventually(t, hub.ready, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(asUser(http.HandlerFunc(hub.HandleWS)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRoutesUserChannels(t *testing.T) {
	hub, bus, srv := startHub(t)
	ctx := context.Background()

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.TradeChannel("alice"), []byte(`{"type":"trade.opened","trade_id":"t1"}`)))
	env := readEnvelope(t, alice)
	assert.Equal(t, "trades:alice", env.Channel)
	assert.JSONEq(t, `{"type":"trade.opened","trade_id":"t1"}`, string(env.Data))

	require.NoError(t, bus.Publish(ctx, domain.MarksChannel, []byte(`{"symbol":"BTC/USDT","price":"100"}`)))
	assert.Equal(t, domain.MarksChannel, readEnvelope(t, bob).Channel, "bob never sees alice's trades")
	assert.Equal(t, domain.MarksChannel, readEnvelope(t, alice).Channel)
}

func TestHubMuteAndRelease(t *testing.T) {
	hub, bus, srv := startHub(t)
	ctx := context.Background()

	conn := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.MarksChannel}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.isMuted(domain.MarksChannel)
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.MarksChannel, []byte(`{"symbol":"BTC/USDT"}`)))
	require.NoError(t, bus.Publish(ctx, domain.PortfolioChannel("alice"), []byte(`{"type":"portfolio.changed"}`)))
	assert.Equal(t, "portfolio:alice", readEnvelope(t, conn).Channel)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 0 && len(hub.users) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWSRequiresUser(t *testing.T) {
	_, _, srv := startHub(t)
	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
