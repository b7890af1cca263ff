package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/poller"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 4
)

// Hub pushes dashboard snapshots to connected browsers
type Hub struct {
	upgrader       websocket.Upgrader
	source         SnapshotSource
	registry       models.Registry
	logger         zerolog.Logger
	allowedOrigins []string
	allowRefresh   bool
	clients        map[*client]struct{}
	mutex          sync.RWMutex
}

// client is one browser connection
type client struct {
	conn        *websocket.Conn
	send        chan []byte
	remote      string
	connectedAt time.Time
}

// NewHub creates a websocket hub serving snapshots from source
func NewHub(source SnapshotSource, registry models.Registry, logger zerolog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		source:         source,
		registry:       registry,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		clients:        make(map[*client]struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the incoming request's Origin against the configured allowlist.
// Requests without an Origin header are same-origin.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the connection and sends the current snapshot
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &client{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		remote:      conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}

	if msg, err := h.encodeSnapshot(h.source.Snapshot()); err == nil {
		c.send <- msg
	} else {
		h.logger.Error().Err(err).Msg("Failed to encode snapshot")
	}

	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	h.logger.Info().Str("remote", c.remote).Msg("Dashboard connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// AllowRefresh lets dashboards request a manual refresh over the socket
func (h *Hub) AllowRefresh(allow bool) {
	h.allowRefresh = allow
}

// readLoop handles client messages and detects disconnects
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		h.handleMessage(c, &msg)
	}
}

// handleMessage processes a single message from a dashboard
func (h *Hub) handleMessage(c *client, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	switch msg.Type {
	case models.MessageTypeRefresh:
		if !h.allowRefresh {
			h.reply(c, models.MessageTypeError, models.ErrorMessage{Code: "forbidden", Message: "refresh requires the HTTP API"})
			return
		}
		status := "queued"
		if !h.source.RequestRefresh() {
			status = "pending"
		}
		h.reply(c, models.MessageTypeAck, models.AckMessage{Status: status})
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.reply(c, models.MessageTypeError, models.ErrorMessage{Code: "unknown_type", Message: "unknown message type " + string(msg.Type)})
	}
}

// reply queues a message for one client
func (h *Hub) reply(c *client, msgType models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create reply")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writeLoop sends queued messages and keepalive pings
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn().Err(err).Str("remote", c.remote).Msg("Failed to send snapshot")
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

// remove unregisters a client and closes its send queue
func (h *Hub) remove(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info().Str("remote", c.remote).Dur("connected_for", time.Since(c.connectedAt)).Msg("Dashboard disconnected")
}

// Broadcast sends the update's snapshot to every client. Slow clients whose queue is
// full skip the message. It has the poller.Listener signature.
func (h *Hub) Broadcast(u poller.Update) {
	msg, err := h.encodeSnapshot(u.Snapshot)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug().Str("remote", c.remote).Msg("Client queue full, skipping snapshot")
		}
	}
}

// ClientCount returns the number of connected dashboards
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) encodeSnapshot(snap poller.Snapshot) ([]byte, error) {
	msg, err := models.NewMessage(models.MessageTypeSnapshot, BuildDashboardData(snap, h.registry))
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
