package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/owlvin/internal/logging"
)

// Conn is one voice gateway WebSocket connection. Writes are serialized and
// bounded by a deadline; it satisfies relay.Transport.
type Conn struct {
	ConnID      string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewConn wraps an upgraded WebSocket connection.
func NewConn(socket *websocket.Conn, writeTimeout time.Duration, log *logging.Logger) *Conn {
	return &Conn{
		ConnID:       uuid.New().String(),
		Socket:       socket,
		ConnectedAt:  time.Now(),
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// send writes one JSON message. Thread-safe.
func (c *Conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.writeTimeout > 0 {
		c.Socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Socket.WriteJSON(v)
}

// SendText sends a text token.
func (c *Conn) SendText(token string, last bool) error {
	return c.send(NewText(token, last))
}

// SendEnd asks the voice gateway to hang up.
func (c *Conn) SendEnd(handoffData string) error {
	return c.send(NewEnd(handoffData))
}

// ReadMessage reads the next raw message.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, msg, err := c.Socket.ReadMessage()
	return msg, err
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.Socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.Socket.Close()
}
