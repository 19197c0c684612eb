package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub manages WebSocket connections and routes round events to the devices
// watching a session.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection // device_id -> connection
	sessions    map[string][]string    // session_id -> []device_id
	logger      zerolog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string][]string),
		logger:      logger.With().Str("component", "ws_hub").Logger(),
	}
}

// RegisterConnection adds a connection for a device, closing any previous one.
func (h *Hub) RegisterConnection(deviceID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if old, exists := h.connections[deviceID]; exists && old != conn {
		old.Close()
	}

	h.connections[deviceID] = conn
	h.logger.Info().Str("device_id", deviceID).Msg("connection registered")
}

// UnregisterConnection removes conn if it is still the device's current
// connection, and drops the device from every session.
func (h *Hub) UnregisterConnection(deviceID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, exists := h.connections[deviceID]
	if !exists || current != conn {
		return
	}
	current.Close()
	delete(h.connections, deviceID)
	h.logger.Info().Str("device_id", deviceID).Msg("connection unregistered")

	for sessionID, devices := range h.sessions {
		h.sessions[sessionID] = remove(devices, deviceID)
		if len(h.sessions[sessionID]) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// JoinSession subscribes a device to a round session's events.
func (h *Hub) JoinSession(sessionID, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	devices := h.sessions[sessionID]
	for _, id := range devices {
		if id == deviceID {
			return
		}
	}
	h.sessions[sessionID] = append(devices, deviceID)
}

// LeaveSession unsubscribes a device from a session.
func (h *Hub) LeaveSession(sessionID, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[sessionID] = remove(h.sessions[sessionID], deviceID)
	if len(h.sessions[sessionID]) == 0 {
		delete(h.sessions, sessionID)
	}
}

// BroadcastToSession sends a message to every device watching a session.
func (h *Hub) BroadcastToSession(sessionID string, msg Message) error {
	h.mu.RLock()
	devices := append([]string(nil), h.sessions[sessionID]...)
	h.mu.RUnlock()

	var firstErr error
	for _, deviceID := range devices {
		if err := h.SendToDevice(deviceID, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// BroadcastAll sends a message to every connected device.
func (h *Hub) BroadcastAll(msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var firstErr error
	for deviceID, conn := range h.connections {
		if err := conn.Send(msg); err != nil && firstErr == nil {
			firstErr = err
			h.logger.Warn().Err(err).Str("device_id", deviceID).Msg("broadcast_all_send_failed")
		}
	}
	return firstErr
}

// SendToDevice delivers a message to a specific device.
func (h *Hub) SendToDevice(deviceID string, msg Message) error {
	h.mu.RLock()
	conn, exists := h.connections[deviceID]
	h.mu.RUnlock()

	if !exists {
		return ErrConnectionNotFound
	}

	return conn.Send(msg)
}

// GetConnection retrieves a connection for a device.
func (h *Hub) GetConnection(deviceID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, exists := h.connections[deviceID]
	return conn, exists
}

// SessionDevices returns the devices watching a session.
func (h *Hub) SessionDevices(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.sessions[sessionID]...)
}

// Connection represents a WebSocket connection with send queue.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan Message
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewConnection wraps a WebSocket connection.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		sendCh: make(chan Message, 256),
		logger: logger,
	}
}

// Send queues a message for delivery.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts down the connection.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.sendCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

// Queued returns the messages waiting in the send queue. Intended for
// connections without a socket, such as in tests.
func (c *Connection) Queued() []Message {
	var out []Message
	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

// WritePump sends messages from the send queue.
func (c *Connection) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Msg("write error")
				return
			}
		}
	}
}

// ReadPump receives messages and calls the handler.
func (c *Connection) ReadPump(handler func(Message) error) {
	defer c.conn.Close()

	// Set read deadline to 60 seconds, extend on pong
	readDeadline := time.Now().Add(60 * time.Second)
	c.conn.SetReadDeadline(readDeadline)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			break
		}

		if err := handler(msg); err != nil {
			c.logger.Warn().Err(err).Msg("message handler error")
		}
	}
}

var (
	ErrConnectionNotFound = &Error{Code: "connection_not_found", Message: "Device connection not found"}
	ErrConnectionClosed   = &Error{Code: "connection_closed", Message: "Connection is closed"}
	ErrSendQueueFull      = &Error{Code: "send_queue_full", Message: "Send queue is full"}
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
