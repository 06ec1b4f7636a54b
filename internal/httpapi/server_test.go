package httpapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type fixture struct {
	reg    *session.Registry
	store  *store.MemoryStore
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	chess := rules.NewChess()
	reg := session.NewRegistry(chess, st, events.NewPublisher(), session.Config{BotMoveDelay: time.Hour, BotFirstMoveDelay: time.Hour})
	t.Cleanup(reg.Close)
	srv := NewServer(reg, st, chess, Options{DefaultTimeControl: "10+0"})

	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, srv.Handle) }()
	t.Cleanup(func() { _ = ln.Close() })

	hc := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return &fixture{reg: reg, store: st, client: NewClient("http://arena.test", WithHTTPClient(hc), WithRetry(1))}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	if err := f.client.Health(context.Background()); err != nil { t.Fatalf("health: %v", err) }
}

func TestCreateGameAndRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.client.CreateGame(ctx, arenadto.CreateGameRequest{Identity: "alice", Name: "Alice", Color: "white", BotLevel: "medium"})
	if err != nil { t.Fatalf("create: %v", err) }
	if resp.Side != "white" || resp.SessionID == "" { t.Fatalf("unexpected response %+v", resp) }

	if _, err := f.reg.ApplyMove(ctx, resp.SessionID, "e2e4", "alice"); err != nil { t.Fatalf("move: %v", err) }

	view, err := f.client.Game(ctx, resp.SessionID)
	if err != nil { t.Fatalf("game: %v", err) }
	if view.TimeControl != "10+0" || view.BotTier != "medium" || view.Black.ID != domain.BotIdentity { t.Fatalf("unexpected view %+v", view) }
	if len(view.MovesSAN) != 1 || view.MovesSAN[0] != "e4" { t.Fatalf("unexpected moves %v", view.MovesSAN) }
	if view.OpeningCode == "" { t.Fatalf("expected an opening name for 1.e4") }

	pgn, err := f.client.PGN(ctx, resp.SessionID)
	if err != nil { t.Fatalf("pgn: %v", err) }
	if !strings.Contains(pgn, `[White "Alice"]`) || !strings.Contains(pgn, "1. e4") { t.Fatalf("unexpected pgn:\n%s", pgn) }

	games, err := f.client.UserGames(ctx, "alice")
	if err != nil { t.Fatalf("user games: %v", err) }
	if len(games.Games) != 1 || games.Games[0] != resp.SessionID { t.Fatalf("unexpected index %+v", games) }
}

func TestCreateGame_BlackLetsBotOpen(t *testing.T) {
	f := newFixture(t)
	resp, err := f.client.CreateGame(context.Background(), arenadto.CreateGameRequest{Identity: "bob", Color: "black", TimeControl: "3+2"})
	if err != nil { t.Fatalf("create: %v", err) }
	snap, err := f.reg.Get(resp.SessionID)
	if err != nil { t.Fatalf("get: %v", err) }
	if snap.White.ID != domain.BotIdentity || snap.AutomatedSide != domain.White || snap.BotTier != "random" || snap.TimeControl != "3+2" { t.Fatalf("unexpected session %+v", snap) }
}

func TestErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Game(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != fasthttp.StatusNotFound || apiErr.Reason != "session_not_found" { t.Fatalf("expected 404 session_not_found, got %v", err) }

	cases := []arenadto.CreateGameRequest{
		{Identity: ""},
		{Identity: domain.BotIdentity},
		{Identity: "alice", BotLevel: "grandmaster"},
		{Identity: "alice", TimeControl: "blitz"},
	}
	for _, req := range cases {
		_, err := f.client.CreateGame(ctx, req)
		if !errors.As(err, &apiErr) || apiErr.Status != fasthttp.StatusBadRequest { t.Fatalf("%+v: expected 400, got %v", req, err) }
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	err := f.client.doJSON(context.Background(), fasthttp.MethodDelete, "/games/x", nil, nil, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != fasthttp.StatusNotFound { t.Fatalf("expected 404, got %v", err) }
}

func TestSplitPath(t *testing.T) {
	got := splitPath("/users//alice/games/")
	if len(got) != 3 || got[1] != "alice" { t.Fatalf("unexpected split %v", got) }
}

func TestGame_ServesStoredSessionNotYetInMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seeded := domain.Snapshot{
		ID:          "seeded",
		FEN:         "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		MovesUCI:    []string{"e2e4"},
		MovesSAN:    []string{"e4"},
		Turn:        domain.Black,
		TimeControl: "none",
		White:       domain.Participant{ID: "alice", Name: "Alice"},
		Black:       domain.Participant{ID: "bob", Name: "Bob"},
		Status:      domain.StatusActive,
		Chat:        []domain.ChatMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.store.Save(ctx, seeded); err != nil { t.Fatalf("seed: %v", err) }

	view, err := f.client.Game(ctx, "seeded")
	if err != nil { t.Fatalf("game: %v", err) }
	if len(view.MovesSAN) != 1 || view.White.ID != "alice" { t.Fatalf("unexpected view %+v", view) }
	pgn, err := f.client.PGN(ctx, "seeded")
	if err != nil || !strings.Contains(pgn, "1. e4") { t.Fatalf("pgn: %v\n%s", err, pgn) }
	if _, err := f.reg.ApplyMove(ctx, "seeded", "e7e5", "bob"); err != nil { t.Fatalf("move after read: %v", err) }
}
