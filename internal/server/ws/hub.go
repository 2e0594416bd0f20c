// Package ws pushes marks and per-user change events to browsers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Envelope wraps every frame so clients can route by channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// subscribeMsg lets a client mute or unmute its channels.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte

	mu    sync.RWMutex
	muted map[string]bool
}

// userFeed is the bus subscription shared by one user's connections.
type userFeed struct {
	refs   int
	cancel context.CancelFunc
}

// Hub relays the marks channel to every client and each user's trade and
// portfolio channels to that user's clients. Per-user bus subscriptions live
// only while the user has a connection open.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	ctx     context.Context
	clients map[*client]struct{}
	users   map[string]*userFeed
}

// NewHub creates a Hub. An empty origins list accepts any Origin header.
func NewHub(bus domain.SignalBus, origins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
		users:   make(map[string]*userFeed),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run relays marks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	marks, err := h.bus.Subscribe(ctx, domain.MarksChannel)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	h.logger.InfoContext(ctx, "ws hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case data, ok := <-marks:
			if !ok {
				h.shutdown()
				return ctx.Err()
			}
			h.broadcast(domain.MarksChannel, "", data)
		}
	}
}

// ready reports whether Run has subscribed to the bus.
func (h *Hub) ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctx != nil && h.ctx.Err() == nil
}

// HandleWS upgrades an authenticated request and attaches the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}
	if !h.ready() {
		http.Error(w, `{"error":"realtime feed unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		muted:  make(map[string]bool),
	}
	if err := h.attach(c); err != nil {
		h.logger.ErrorContext(r.Context(), "attach client failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// attach subscribes the user's channels on their first connection and then
// registers the client.
func (h *Hub) attach(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx == nil {
		return errors.New("ws: hub is not running")
	}
	feed, ok := h.users[c.userID]
	if !ok {
		ctx, cancel := context.WithCancel(h.ctx)
		for _, ch := range []string{domain.TradeChannel(c.userID), domain.PortfolioChannel(c.userID)} {
			msgs, err := h.bus.Subscribe(ctx, ch)
			if err != nil {
				cancel()
				return err
			}
			go h.relay(ctx, ch, c.userID, msgs)
		}
		feed = &userFeed{cancel: cancel}
		h.users[c.userID] = feed
	}
	feed.refs++
	h.clients[c] = struct{}{}
	h.logger.Info("client connected",
		slog.String("user_id", c.userID),
		slog.Int("clients", len(h.clients)),
	)
	return nil
}

// detach unregisters c and drops the user's subscriptions with their last
// connection.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if feed, ok := h.users[c.userID]; ok {
		if feed.refs--; feed.refs == 0 {
			feed.cancel()
			delete(h.users, c.userID)
		}
	}
	h.logger.Info("client disconnected",
		slog.String("user_id", c.userID),
		slog.Int("clients", len(h.clients)),
	)
}

func (h *Hub) relay(ctx context.Context, channel, userID string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			h.broadcast(channel, userID, data)
		}
	}
}

// broadcast frames data and queues it for matching clients. An empty userID
// targets everyone. Slow clients miss frames rather than stall the hub.
func (h *Hub) broadcast(channel, userID string, data []byte) {
	frame, err := json.Marshal(Envelope{Channel: channel, Data: data})
	if err != nil {
		h.logger.Warn("drop malformed payload", slog.String("channel", channel))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if userID != "" && c.userID != userID {
			continue
		}
		if c.isMuted(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping frame for slow client",
				slog.String("user_id", c.userID),
				slog.String("channel", channel),
			)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	for id, feed := range h.users {
		feed.cancel()
		delete(h.users, id)
	}
	h.ctx = nil
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) isMuted(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted[channel]
}

// handleSubscription toggles the client's own channels; others are ignored.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		if ch != domain.MarksChannel && ch != domain.TradeChannel(c.userID) && ch != domain.PortfolioChannel(c.userID) {
			continue
		}
		switch msg.Action {
		case "subscribe":
			delete(c.muted, ch)
		case "unsubscribe":
			c.muted[ch] = true
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
