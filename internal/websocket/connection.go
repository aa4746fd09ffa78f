package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"schoolchat/pkg/types"
)

// Connection wraps one live WebSocket. All outbound frames funnel
// through a single writer goroutine so fanout deliveries and keepalive
// pings on the same transport never interleave mid-frame.
type Connection struct {
	id           string
	conn         *websocket.Conn
	principal    types.Principal
	scope        types.Scope
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded WebSocket for an authenticated
// principal under its routing scope and starts the writer goroutine.
func NewConnection(conn *websocket.Conn, principal types.Principal, scope types.Scope, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		principal:    principal,
		scope:        scope,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer. It exits when the connection is
// cancelled or a write fails; remaining buffered frames are dropped,
// which is acceptable because the message store is the source of truth.
// A write failure closes the connection before the loop exits so the
// connection leaves OPEN immediately: later WriteJSON calls fail and
// the next fanout pass evicts it, instead of frames being accepted into
// a buffer nothing drains.
func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues one JSON frame for the writer goroutine. Safe for
// concurrent use from fanout tasks and the keepalive loop.
func (c *Connection) WriteJSON(v interface{}) error {
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

// CloseWithStatus sends a close frame carrying code and reason before
// tearing down, so the peer can tell "session gone" from a network
// blip.
func (c *Connection) CloseWithStatus(code int, reason string) error {
	deadline := time.Now().Add(c.writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.Close()
}

// Close cancels the writer goroutine and closes the transport. Safe to
// call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// IsOpen reports the observed liveness state: true until the first
// Close (or CloseWithStatus).
func (c *Connection) IsOpen() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Done is closed when the connection leaves the OPEN state. The
// keepalive loop's lifetime is bound to it.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context carries the connection's lifetime for blocking calls made on
// its behalf.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Principal() types.Principal {
	return c.principal
}

func (c *Connection) Scope() types.Scope {
	return c.scope
}
