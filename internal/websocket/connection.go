package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"familychat/pkg/types"
)

// ConnectionOptions tunes one client connection.
type ConnectionOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Connection implements interfaces.Connection over a gorilla socket.
// All frames go through a single writer goroutine.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	opts    ConnectionOptions

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	aborted   atomic.Bool
}

// NewConnection wraps conn and starts its writer. The session ID is a
// fresh UUID.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 100
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// writeLoop owns the socket: it is the only writer of data frames and it
// closes the socket on exit. Frames queued before Close are flushed first,
// unless the connection was dropped for overflowing its buffer.
func (c *Connection) writeLoop() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			if !c.aborted.Load() {
				c.flush()
			}
			return
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON encodes v and queues it. It never blocks: a client that lets
// its buffer fill up is disconnected instead of stalling its room.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := types.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.aborted.Store(true)
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// ping sends a control frame; gorilla allows it concurrently with the writer.
func (c *Connection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
}

// Close is idempotent and does not block. The writer closes the socket once
// it has flushed what was already queued.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}
