package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wshandler "github.com/windfall/langodyssey/internal/handler/ws"
	"github.com/windfall/langodyssey/internal/middleware"
	"github.com/windfall/langodyssey/internal/observe"
	"github.com/windfall/langodyssey/internal/service"
	"github.com/windfall/langodyssey/pkg/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// WebSocketMessage represents a WebSocket message.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client represents one learner connection.
type Client struct {
	ID     string
	UserID string
	Hub    *WebSocketHub
	Conn   *websocket.Conn
	Send   chan []byte
}

// WebSocketHub fans session events out to each learner's connections.
type WebSocketHub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	tokens     middleware.TokenValidator
	handler    *wshandler.Handler
	metrics    *observe.Metrics
	log        zerolog.Logger
}

// NewWebSocketHub creates a new WebSocket hub. An origin list containing
// "*" accepts any origin.
func NewWebSocketHub(
	log zerolog.Logger,
	tokens middleware.TokenValidator,
	handler *wshandler.Handler,
	metrics *observe.Metrics,
	allowedOrigins []string,
) *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		tokens:     tokens,
		handler:    handler,
		metrics:    metrics,
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// SetHandler replaces the message handler. Call it before Run.
func (h *WebSocketHub) SetHandler(handler *wshandler.Handler) {
	h.handler = handler
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the WebSocket hub.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.Send)
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			h.log.Info().Msg("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.UserID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			h.socketDelta(1)
			h.log.Info().Str("client_id", client.ID).Str("user_id", client.UserID).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if h.remove(client) {
				close(client.Send)
				h.socketDelta(-1)
			}
			h.mu.Unlock()
			h.log.Info().Str("client_id", client.ID).Str("user_id", client.UserID).Msg("Client disconnected")
		}
	}
}

// remove must be called with h.mu held.
func (h *WebSocketHub) remove(c *Client) bool {
	set, ok := h.clients[c.UserID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	return true
}

func (h *WebSocketHub) socketDelta(n int64) {
	if h.metrics == nil || h.metrics.ActiveSockets == nil {
		return
	}
	h.metrics.ActiveSockets.Add(context.Background(), n)
}

// Notify sends a session event to every connection of userID. Slow clients
// are dropped rather than blocking the caller.
func (h *WebSocketHub) Notify(userID string, event service.SessionEvent) {
	data, err := json.Marshal(wshandler.Response{Type: wshandler.TypeEvent, Payload: event})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal session event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.Send <- data:
		default:
			h.remove(c)
			close(c.Send)
			h.socketDelta(-1)
			h.log.Warn().Str("client_id", c.ID).Msg("Dropping slow WebSocket client")
		}
	}
}

// ClientCount returns the number of connections for userID.
func (h *WebSocketHub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// HandleWebSocket handles GET /ws?token=. The token may also come as a
// Bearer Authorization header.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token == "" {
		response.Unauthorized(w, "missing token")
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		response.Unauthorized(w, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &Client{
		ID:     "client-" + uuid.New().String(),
		UserID: userID,
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 << 10)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Error().Err(err).Msg("WebSocket read error")
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.log.Warn().Err(err).Msg("Failed to parse WebSocket message")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		reply, err := c.Hub.handler.Handle(ctx, c.UserID, msg.Type, msg.Payload)
		cancel()
		if err != nil {
			c.Hub.log.Error().Err(err).Str("type", msg.Type).Msg("Failed to handle message")
			continue
		}

		if reply != nil {
			c.trySend(reply)
		}
	}
}

// trySend queues a reply unless the hub already closed the channel.
func (c *Client) trySend(data []byte) {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if _, ok := c.Hub.clients[c.UserID][c]; !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
