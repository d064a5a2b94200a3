package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/rs/zerolog/log"
)

// MessageHandler processes the frames read from a connection. HandleMessage is
// called serially per connection, in the order the frames arrived.
type MessageHandler interface {
	HandleMessage(c *Connection, msg []byte)
	Disconnected(c *Connection)
}

// ConnectionManager manages the WebSocket connections of match clients
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	wg sync.WaitGroup
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	id       string
	Identity auth.Identity
	conn     *websocket.Conn
	send     chan []byte
	manager  *ConnectionManager

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	ConnectedAt time.Time
	lastPing    atomic.Int64
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// ConnectionStats summarizes the open connections.
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	Users            int `json:"users"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, handler MessageHandler) *ConnectionManager {
	defaults := DefaultConnectionConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		handler: handler,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket for an authenticated identity.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, id auth.Identity) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		id:          uuid.New().String(),
		Identity:    id,
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		ctx:         ctx,
		cancel:      cancel,
		ConnectedAt: time.Now(),
	}
	connection.lastPing.Store(connection.ConnectedAt.UnixNano())

	cm.registerConnection(connection)

	cm.wg.Add(2)
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.id).
		Str("user_id", id.UserID).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.id] = conn

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.connections[conn.id]; !ok {
		return false
	}
	delete(cm.connections, conn.id)

	log.Info().
		Str("connection_id", conn.id).
		Str("user_id", conn.Identity.UserID).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")
	return true
}

// Connection looks up an open connection by id.
func (cm *ConnectionManager) Connection(id string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.connections[id]
	return c, ok
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	users := make(map[string]struct{})
	for _, c := range cm.connections {
		users[c.Identity.UserID] = struct{}{}
	}
	return ConnectionStats{
		TotalConnections: len(cm.connections),
		Users:            len(users),
	}
}

// Shutdown closes every connection and waits for their pumps to exit.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.mu.RLock()
	open := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		open = append(open, c)
	}
	cm.mu.RUnlock()

	for _, c := range open {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Int("connections", len(open)).Msg("connection manager shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections to close: %w", ctx.Err())
	}
}

func (c *Connection) ID() string { return c.id }

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

// LastPing is when the client last answered a ping.
func (c *Connection) LastPing() time.Time { return time.Unix(0, c.lastPing.Load()) }

// Send queues msg without blocking. A connection whose buffer is full is too
// slow to keep up with its rooms and is closed.
func (c *Connection) Send(msg []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	default:
		log.Warn().
			Str("connection_id", c.id).
			Str("user_id", c.Identity.UserID).
			Msg("connection send buffer full, closing connection")
		c.Close()
		return false
	}
}

// Close stops the connection. The write pump sends a close frame and the read
// pump unwinds the connection's room memberships.
func (c *Connection) Close() {
	c.closeOnce.Do(c.cancel)
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.manager.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				c.Close()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		if c.manager.unregisterConnection(c) && c.manager.handler != nil {
			c.manager.handler.Disconnected(c)
		}
		c.manager.wg.Done()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.lastPing.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		if c.manager.handler != nil {
			c.manager.handler.HandleMessage(c, message)
		}
	}
}
