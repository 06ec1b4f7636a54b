// Package gateway exposes the protocol handler over WebSocket.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

func (o *Options) setDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type Server struct {
	handler *protocol.Handler
	opts    Options
}

func NewServer(h *protocol.Handler, opts Options) *Server {
	opts.setDefaults()
	return &Server{handler: h, opts: opts}
}

// Routes returns the mux serving GET /ws.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	return mux
}

// ServeWS upgrades the request. The caller identity comes from ?identity= or the
// X-User-Id header; the display name from ?name= or X-User-Name.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := firstNonEmpty(r.URL.Query().Get("identity"), r.Header.Get("X-User-Id"))
	name := firstNonEmpty(r.URL.Query().Get("name"), r.Header.Get("X-User-Name"), identity)
	if identity == "" {
		http.Error(w, "identity is required", http.StatusUnauthorized)
		return
	}
	if identity == domain.BotIdentity {
		http.Error(w, "reserved identity", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  s.opts.OriginPatterns,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("identity", identity), zap.Error(err))
		return
	}

	c := newConn(ws, identity, name, s.opts.SendBuffer)
	s.serve(r.Context(), c)
}

func (s *Server) serve(parent context.Context, c *conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.handler.Connect(c)
	obslog.L().Info("ws_connected", zap.String("conn_id", c.id), zap.String("identity", c.identity))
	defer func() {
		s.handler.Disconnect(c)
		c.close(websocket.StatusNormalClosure, "bye")
		obslog.L().Info("ws_disconnected", zap.String("conn_id", c.id), zap.String("identity", c.identity))
	}()

	go c.writeLoop(ctx, s.opts.WriteTimeout)
	go c.pingLoop(ctx, s.opts.PingInterval)

	for {
		var in arenadto.Inbound
		if err := wsjson.Read(ctx, c.ws, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("ws_read_failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		in.Type = strings.TrimSpace(in.Type)
		s.handler.Dispatch(ctx, c, c.identity, c.displayName, in)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
