// Package httpapi serves read-only game views and bot game creation over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// UserIndex lists the sessions a player has taken part in.
type UserIndex interface {
	GamesByUser(ctx context.Context, userID string) ([]string, error)
}

// OpeningNamer names the opening reached by a position.
type OpeningNamer interface {
	Opening(pos rules.Position) (code, title string)
}

type Options struct {
	DefaultTimeControl string
	RequestTimeout     time.Duration
}

type Server struct {
	reg      *session.Registry
	users    UserIndex
	openings OpeningNamer
	opts     Options
	now      func() time.Time
	srv      *fasthttp.Server
}

func NewServer(reg *session.Registry, users UserIndex, openings OpeningNamer, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	s := &Server{reg: reg, users: users, openings: openings, opts: opts, now: time.Now}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "cheese-arena",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handle routes:
//
//	GET  /healthz
//	GET  /games/{id}
//	GET  /games/{id}/pgn
//	GET  /users/{identity}/games
//	POST /games
func (s *Server) Handle(rc *fasthttp.RequestCtx) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	parts := splitPath(string(rc.Path()))
	method := string(rc.Method())
	switch {
	case method == fasthttp.MethodGet && len(parts) == 1 && parts[0] == "healthz":
		writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case method == fasthttp.MethodGet && len(parts) == 2 && parts[0] == "games":
		s.getGame(ctx, rc, parts[1])
	case method == fasthttp.MethodGet && len(parts) == 3 && parts[0] == "games" && parts[2] == "pgn":
		s.getPGN(ctx, rc, parts[1])
	case method == fasthttp.MethodGet && len(parts) == 3 && parts[0] == "users" && parts[2] == "games":
		s.userGames(ctx, rc, parts[1])
	case method == fasthttp.MethodPost && len(parts) == 1 && parts[0] == "games":
		s.createGame(ctx, rc)
	default:
		writeError(rc, fasthttp.StatusNotFound, "not_found", "no such route")
	}
}

// getGame serves sessions held in memory or, after a restart, in the store.
func (s *Server) getGame(ctx context.Context, rc *fasthttp.RequestCtx, id string) {
	snap, err := s.reg.Restore(ctx, id)
	if err != nil {
		s.fail(rc, err)
		return
	}
	view := protocol.View(snap, s.now())
	if s.openings != nil {
		view.OpeningCode, view.OpeningTitle = s.openings.Opening(rules.Position{StartFEN: snap.StartFEN, Moves: snap.MovesUCI})
	}
	writeJSON(rc, fasthttp.StatusOK, view)
}

func (s *Server) getPGN(ctx context.Context, rc *fasthttp.RequestCtx, id string) {
	snap, err := s.reg.Restore(ctx, id)
	if err != nil {
		s.fail(rc, err)
		return
	}
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetContentType("application/x-chess-pgn")
	rc.SetBodyString(store.BuildPGN(snap))
}

func (s *Server) userGames(ctx context.Context, rc *fasthttp.RequestCtx, identity string) {
	if s.users == nil {
		writeJSON(rc, fasthttp.StatusOK, arenadto.UserGames{Identity: identity, Games: []string{}})
		return
	}
	ids, err := s.users.GamesByUser(ctx, identity)
	if err != nil {
		obslog.L().Error("user_games_failed", zap.String("identity", identity), zap.Error(err))
		writeError(rc, fasthttp.StatusInternalServerError, protocol.ReasonInternal, "could not list games")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(rc, fasthttp.StatusOK, arenadto.UserGames{Identity: identity, Games: ids})
}

// createGame starts a game against the bot.
func (s *Server) createGame(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req arenadto.CreateGameRequest
	if err := json.Unmarshal(rc.PostBody(), &req); err != nil {
		writeError(rc, fasthttp.StatusBadRequest, protocol.ReasonInvalidRequest, "malformed json body")
		return
	}
	identity := strings.TrimSpace(req.Identity)
	if identity == "" || identity == domain.BotIdentity {
		writeError(rc, fasthttp.StatusBadRequest, protocol.ReasonInvalidRequest, "identity is required")
		return
	}
	tier, err := oracle.ParseTier(req.BotLevel)
	if err != nil {
		writeError(rc, fasthttp.StatusBadRequest, protocol.ReasonInvalidRequest, err.Error())
		return
	}
	tc := strings.TrimSpace(req.TimeControl)
	if tc == "" {
		tc = s.opts.DefaultTimeControl
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = identity
	}

	human := domain.Participant{ID: identity, Name: name}
	botSeat := domain.Participant{ID: domain.BotIdentity, Name: "Bot"}
	side := matchmaking.ParseColorChoice(req.Color).Side()
	cr := session.CreateRequest{TimeControl: tc, AutomatedSide: side.Opposite(), BotTier: tier}
	if side == domain.White {
		cr.White, cr.Black = human, botSeat
	} else {
		cr.White, cr.Black = botSeat, human
	}

	snap, err := s.reg.Create(ctx, cr)
	if err != nil {
		s.fail(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, arenadto.CreateGameResponse{SessionID: snap.ID, Side: string(side)})
}

func (s *Server) fail(rc *fasthttp.RequestCtx, err error) {
	code := protocol.ReasonCode(err)
	status := fasthttp.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = fasthttp.StatusNotFound
	case errors.Is(err, session.ErrInvalidRequest):
		status = fasthttp.StatusBadRequest
	case errors.Is(err, session.ErrDuplicateSession):
		status = fasthttp.StatusConflict
	case errors.Is(err, session.ErrPersistence):
		status = fasthttp.StatusServiceUnavailable
	}
	if status >= 500 {
		obslog.L().Error("http_request_failed", zap.String("path", string(rc.Path())), zap.Error(err))
	}
	writeError(rc, status, code, err.Error())
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(body)
}

func writeError(rc *fasthttp.RequestCtx, status int, reason, message string) {
	writeJSON(rc, status, arenadto.Error{Reason: reason, Message: message})
}
