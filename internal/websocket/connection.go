package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relaygate/pkg/interfaces"
)

// Connection wraps one physical WebSocket behind a single writer goroutine.
// WebSocket writes must be serialized: tunnel read loops and the dispatcher
// both push frames at the same client, and a transport cannot interleave
// partial writes from two sources.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ interfaces.Transport = (*Connection)(nil)

// NewConnection starts the writer goroutine for an upgraded socket.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine allowed to touch conn for data frames.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// SendMessage marshals v and queues it on the exclusive writer. Blocks at
// most writeTimeout when the queue is full so a slow client cannot wedge a
// tunnel read loop forever.
func (c *Connection) SendMessage(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithStatus sends a close frame carrying the reason, then closes.
// Used when the server drops a client by policy.
func (c *Connection) CloseWithStatus(reason string) error {
	deadline := time.Now().Add(c.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.Close()
}

// Close tears the transport down. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done exposes the connection's lifetime for ping tickers.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
