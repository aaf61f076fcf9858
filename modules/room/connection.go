package room

import (
	"errors"
	"sync"
	"time"
)

const defaultWriteTimeout = 5 * time.Second

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is the transport a Connection writes frames to. The Fiber websocket
// connection satisfies it.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one authenticated client connection.
type Connection struct {
	ID     string
	UserID string

	conn         Conn
	mu           sync.Mutex
	closed       bool
	writeTimeout time.Duration
}

// NewConnection wraps a transport for an authenticated user.
func NewConnection(id, userID string, conn Conn) *Connection {
	return &Connection{ID: id, UserID: userID, conn: conn, writeTimeout: defaultWriteTimeout}
}

// Send writes a frame. Writes are serialized per connection and fail once
// the peer has not accepted the frame within the write timeout.
func (c *Connection) Send(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}

func (c *Connection) setWriteTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimeout = d
}

// Close closes the transport once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
