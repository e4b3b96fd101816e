package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/deltran/corridorsim/internal/observability"
	"github.com/deltran/corridorsim/internal/playback"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// CommandFunc applies a playback command sent by a WebSocket client
type CommandFunc func(ctx context.Context, sessionID string, cmd ClientCommand) error

// ClientCommand is a message read from a WebSocket client
type ClientCommand struct {
	Type    string `json:"type"`              // ping or command
	Command string `json:"command,omitempty"` // next, prev, reset, play, jump
	Index   int    `json:"index,omitempty"`
}

// outbound is a message queued for the clients of one session
type outbound struct {
	sessionID string
	data      []byte
}

// WebSocketHub fans playback events out to the clients watching a session
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan outbound
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	commands   CommandFunc
	metrics    *observability.Metrics
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	hub       *WebSocketHub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	opened    time.Time
}

// NewWebSocketHub creates a new WebSocket hub. allowedOrigins empty or
// containing "*" accepts every origin.
func NewWebSocketHub(allowedOrigins []string, commands CommandFunc, metrics *observability.Metrics) *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
		commands:   commands,
		metrics:    metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// Run starts the WebSocket hub
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			// Close all client connections
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.recordConnections()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.recordConnections()
			log.Info().Str("session_id", client.sessionID).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if h.metrics != nil {
					h.metrics.RecordWSDisconnect(time.Since(client.opened))
				}
			}
			h.mu.Unlock()
			h.recordConnections()
			log.Info().Str("session_id", client.sessionID).Msg("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.sessionID != msg.sessionID {
					continue
				}
				select {
				case client.send <- msg.data:
					if h.metrics != nil {
						h.metrics.RecordWSMessage("out", "playback")
					}
				default:
					// Client's send buffer is full, disconnect
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WebSocketHub) recordConnections() {
	if h.metrics != nil {
		h.metrics.RecordWSConnection(h.GetConnectedClientsCount())
	}
}

// HandleWebSocket upgrades the request and attaches the client to sessionID
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &WebSocketClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
		opened:    time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// Observer returns a playback.Observer that broadcasts a session's events.
// It never blocks the driver; events are dropped when the hub is saturated.
func (h *WebSocketHub) Observer(sessionID string) playback.Observer {
	return func(ev playback.Event) {
		h.BroadcastPlayback(sessionID, ev)
	}
}

// BroadcastPlayback sends a playback event to the clients of a session
func (h *WebSocketHub) BroadcastPlayback(sessionID string, ev playback.Event) {
	data, err := json.Marshal(map[string]interface{}{
		"type":       "playback",
		"session_id": sessionID,
		"data":       ev,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal playback event")
		return
	}

	select {
	case h.broadcast <- outbound{sessionID: sessionID, data: data}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("Broadcast channel full, dropping playback event")
	}
}

// GetConnectedClientsCount returns the number of currently connected WebSocket clients
func (h *WebSocketHub) GetConnectedClientsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			break
		}

		var msg ClientCommand
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "ping":
			c.reply(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		case "command":
			if c.hub.commands == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.hub.commands(ctx, c.sessionID, msg)
			cancel()
			if err != nil {
				c.reply(map[string]interface{}{
					"type":    "error",
					"command": msg.Command,
					"error":   err.Error(),
				})
			}
		}
	}
}

// reply queues a direct answer to this client only
func (c *WebSocketClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump writes messages to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
