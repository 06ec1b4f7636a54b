package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// conn is one accepted WebSocket. Outbound frames are queued on send and written
// by writeLoop so publishers never block on a slow client.
type conn struct {
	id          string
	identity    string
	displayName string
	ws          *websocket.Conn

	send      chan arenadto.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, identity, displayName string, buffer int) *conn {
	return &conn{
		id:          uuid.NewString(),
		identity:    identity,
		displayName: displayName,
		ws:          ws,
		send:        make(chan arenadto.Outbound, buffer),
		done:        make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Send queues msg. A client that cannot keep up is disconnected; it resyncs by
// joining again.
func (c *conn) Send(msg arenadto.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		obslog.L().Warn("ws_send_buffer_full",
			zap.String("conn_id", c.id),
			zap.String("identity", c.identity),
			zap.String("type", msg.Type),
		)
		c.close(websocket.StatusPolicyViolation, "send buffer full")
		return false
	}
}

// close is safe to call from publishers; the close handshake runs in the background.
func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			go func() { _ = c.ws.Close(code, reason) }()
		}
	})
}

func (c *conn) writeLoop(ctx context.Context, writeTimeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, msg)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
				c.close(websocket.StatusGoingAway, "write failure")
				return
			}
		}
	}
}

// pingLoop closes the connection after two consecutive failed pings.
func (c *conn) pingLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
