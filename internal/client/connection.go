// Package client subscribes to a running parking monitor's live websocket feed.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/server"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SnapshotHandler receives every dashboard snapshot pushed by the server
type SnapshotHandler func(server.DashboardData)

// Connection manages the websocket subscription to the server
type Connection struct {
	url                      string
	origin                   string
	conn                     *websocket.Conn
	state                    ConnectionState
	stateMutex               sync.RWMutex
	writeMutex               sync.Mutex
	logger                   zerolog.Logger
	onSnapshot               SnapshotHandler
	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	pongTimeout              time.Duration
	snapshots                int64
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	Origin               string // sent when the server restricts origins
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PongTimeout          time.Duration
}

// NewConnection creates a new connection manager
func NewConnection(config ConnectionConfig, onSnapshot SnapshotHandler, logger zerolog.Logger) *Connection {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = 30 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 90 * time.Second
	}
	return &Connection{
		url:                      config.URL,
		origin:                   config.Origin,
		state:                    StateDisconnected,
		logger:                   logger,
		onSnapshot:               onSnapshot,
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		pongTimeout:              config.PongTimeout,
	}
}

// setState safely updates the connection state
func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.state = state
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Snapshots returns how many snapshots have been delivered
func (c *Connection) Snapshots() int64 {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.snapshots
}

// Connect establishes a websocket connection to the server
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.url).Msg("Connecting to server...")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	defer resp.Body.Close()

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()
	c.setState(StateConnected)
	c.currentReconnectInterval = c.reconnectInterval // reset backoff
	c.logger.Info().Msg("Connected to server")
	return nil
}

// Run keeps the subscription alive with auto-reconnect.
// Blocks until context is cancelled
func (c *Connection) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.readLoop(ctx)

		c.logger.Info().Msg("Connection lost, will reconnect")
		c.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Debug().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.maxReconnectInterval {
		c.currentReconnectInterval = c.maxReconnectInterval
	}
}

// readLoop reads messages until the connection fails or ctx is cancelled
func (c *Connection) readLoop(ctx context.Context) {
	conn := c.currentConn()
	defer c.disconnect()

	// unblock ReadJSON on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		c.writeMutex.Lock()
		defer c.writeMutex.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		c.handleMessage(&msg)
	}
}

// handleMessage processes a message received from the server
func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeSnapshot:
		var data server.DashboardData
		if err := msg.UnmarshalPayload(&data); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to decode snapshot")
			return
		}
		c.stateMutex.Lock()
		c.snapshots++
		c.stateMutex.Unlock()
		if c.onSnapshot != nil {
			c.onSnapshot(data)
		}
	case models.MessageTypeAck:
		var ack models.AckMessage
		msg.UnmarshalPayload(&ack)
		c.logger.Info().Str("status", ack.Status).Msg("Refresh acknowledged")
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Server error")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

// RequestRefresh asks the server for a fetch ahead of schedule
func (c *Connection) RequestRefresh() error {
	conn := c.currentConn()
	if conn == nil || !c.IsConnected() {
		return errors.New("not connected")
	}
	msg, err := models.NewMessage(models.MessageTypeRefresh, struct{}{})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Connection) currentConn() *websocket.Conn {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.conn
}

// disconnect closes the websocket connection
func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

// Close gracefully shuts down the connection
func (c *Connection) Close() error {
	conn := c.currentConn()
	if conn != nil {
		c.writeMutex.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()
	}
	c.disconnect()
	return nil
}
