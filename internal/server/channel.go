package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duel-server/internal/obslog"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

// binding is the seat a channel currently speaks for.
type binding struct {
	RoomID   string
	PlayerID string
	Seat     int
	Epoch    uint64
}

type outbound struct {
	data   []byte
	close  bool
	code   websocket.StatusCode
	reason string
}

// Channel is one client websocket. Every write goes through the outbox so a
// client sees events in the order they were queued.
type Channel struct {
	id     string
	conn   *websocket.Conn
	outbox chan outbound
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	bound bool
	b     binding
}

func newChannel(conn *websocket.Conn) *Channel {
	return &Channel{
		id:     uuid.NewString(),
		conn:   conn,
		outbox: make(chan outbound, outboxSize),
		done:   make(chan struct{}),
	}
}

// ID is the connection id used by the rate limiter and health tracker.
func (c *Channel) ID() string { return c.id }

// Done is closed once the channel is shutting down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Binding reports the seat this channel speaks for, if any.
func (c *Channel) Binding() (binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b, c.bound
}

func (c *Channel) setBinding(b binding) {
	c.mu.Lock()
	c.b, c.bound = b, true
	c.mu.Unlock()
}

func (c *Channel) clearBinding() (binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.b, c.bound
	c.b, c.bound = binding{}, false
	return b, ok
}

// Send queues msg and never blocks. A channel whose outbox is full is closed;
// the client gets a full resync when it reconnects.
func (c *Channel) Send(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		obslog.L().Error("marshal_failed", zap.String("conn_id", c.id), zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	return c.enqueue(outbound{data: data})
}

// CloseWith closes the socket after everything already queued is written.
func (c *Channel) CloseWith(code websocket.StatusCode, reason string) {
	c.enqueue(outbound{close: true, code: code, reason: reason})
}

func (c *Channel) enqueue(o outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- o:
		return true
	default:
		obslog.L().Warn("channel_overflow", zap.String("conn_id", c.id))
		c.abort(websocket.StatusPolicyViolation, "client too slow")
		return false
	}
}

// abort closes the socket without flushing the outbox.
func (c *Channel) abort(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			go func() { _ = c.conn.Close(code, reason) }()
		}
	})
}

func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case o := <-c.outbox:
			if o.close {
				c.abort(o.code, o.reason)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, o.data)
			cancel()
			if err != nil {
				obslog.L().Debug("write_failed", zap.String("conn_id", c.id), zap.Error(err))
				c.abort(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
