package ws

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Connection is one upgraded socket bound to an authenticated user.
// Consume never blocks on the network: frames are queued for the write pump.
type Connection struct {
	handle    string
	userID    string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

func newConnection(ws *websocket.Conn, userID string, sendBuffer int, limiter *rate.Limiter) *Connection {
	return &Connection{
		handle:  uuid.New().String(),
		userID:  userID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

func (c *Connection) Handle() string { return c.handle }

func (c *Connection) UserID() string { return c.userID }

func (c *Connection) Consume(ctx context.Context, e event.DomainEvent) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.ErrBufferFull
	}
}

// allow reports whether one more inbound event fits the rate budget.
func (c *Connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Close is idempotent. The send channel is never closed so late producers cannot panic.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
