package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

func newTestServer(t *testing.T) (*httptest.Server, *matchmaking.Queue) {
	t.Helper()
	pub := events.NewPublisher()
	reg := session.NewRegistry(rules.NewChess(), store.NewMemoryStore(), pub, session.Config{})
	t.Cleanup(reg.Close)
	q := matchmaking.NewQueue()
	h := protocol.NewHandler(reg, q, protocol.NewHub(), msgcat.MustDefault(), pub)
	ts := httptest.NewServer(NewServer(h, Options{}).Routes())
	t.Cleanup(ts.Close)
	return ts, q
}

type inbox struct {
	mu     sync.Mutex
	frames []arenadto.Frame
	ch     chan arenadto.Frame
}

func dial(t *testing.T, ts *httptest.Server, identity string) (*Client, *inbox) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?identity=" + identity + "&name=" + identity
	c := NewClient(url, 0)
	box := &inbox{ch: make(chan arenadto.Frame, 32)}
	c.OnFrame(func(f arenadto.Frame) {
		box.mu.Lock()
		box.frames = append(box.frames, f)
		box.mu.Unlock()
		box.ch <- f
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil { t.Fatalf("connect %s: %v", identity, err) }
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, box
}

func (b *inbox) await(t *testing.T, typ string) arenadto.Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-b.ch:
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestGateway_PairsTwoClients(t *testing.T) {
	ts, _ := newTestServer(t)
	c1, box1 := dial(t, ts, "U1")
	c2, box2 := dial(t, ts, "U2")
	ctx := context.Background()

	if err := c1.Send(ctx, arenadto.Inbound{Type: arenadto.TypeFindMatch, TimeControl: "5+0"}); err != nil { t.Fatalf("send: %v", err) }
	box1.await(t, arenadto.TypeSearching)
	if err := c2.Send(ctx, arenadto.Inbound{Type: arenadto.TypeFindMatch, TimeControl: "5+0"}); err != nil { t.Fatalf("send: %v", err) }

	var m1, m2 arenadto.MatchFound
	if err := json.Unmarshal(box1.await(t, arenadto.TypeMatchFound).Payload, &m1); err != nil { t.Fatalf("decode: %v", err) }
	if err := json.Unmarshal(box2.await(t, arenadto.TypeMatchFound).Payload, &m2); err != nil { t.Fatalf("decode: %v", err) }
	if m1.SessionID == "" || m1.SessionID != m2.SessionID || m1.Side == m2.Side { t.Fatalf("bad pairing: %+v / %+v", m1, m2) }

	white, whiteBox, blackBox := c1, box1, box2
	if m2.Side == "white" {
		white, whiteBox, blackBox = c2, box2, box1
	}
	if err := white.Send(ctx, arenadto.Inbound{Type: arenadto.TypeMove, SessionID: m1.SessionID, Move: "e2e4"}); err != nil { t.Fatalf("send move: %v", err) }
	var mv arenadto.MoveApplied
	if err := json.Unmarshal(blackBox.await(t, arenadto.TypeMoveApplied).Payload, &mv); err != nil { t.Fatalf("decode: %v", err) }
	if mv.SAN != "e4" || mv.SideToMove != "black" { t.Fatalf("unexpected move frame: %+v", mv) }
	whiteBox.await(t, arenadto.TypeMoveApplied)
}

func TestGateway_DisconnectLeavesQueue(t *testing.T) {
	ts, q := newTestServer(t)
	c1, box1 := dial(t, ts, "U1")
	if err := c1.Send(context.Background(), arenadto.Inbound{Type: arenadto.TypeFindMatch, TimeControl: "3+2"}); err != nil { t.Fatalf("send: %v", err) }
	box1.await(t, arenadto.TypeSearching)
	if q.Size("3+2") != 1 { t.Fatalf("expected one waiter") }

	_ = c1.Close(context.Background())
	deadline := time.Now().Add(3 * time.Second)
	for q.Size("3+2") != 0 {
		if time.Now().After(deadline) { t.Fatalf("queue entry survived disconnect") }
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGateway_RejectsMissingOrReservedIdentity(t *testing.T) {
	ts, _ := newTestServer(t)
	cases := map[string]int{
		"/ws":              http.StatusUnauthorized,
		"/ws?identity=bot": http.StatusForbidden,
	}
	for path, want := range cases {
		resp, err := http.Get(ts.URL + path)
		if err != nil { t.Fatalf("GET %s: %v", path, err) }
		_ = resp.Body.Close()
		if resp.StatusCode != want { t.Fatalf("GET %s: status %d want %d", path, resp.StatusCode, want) }
	}
}

func TestConn_FullBufferClosesConnection(t *testing.T) {
	c := &conn{id: "c1", send: make(chan arenadto.Outbound, 1), done: make(chan struct{})}
	if !c.Send(arenadto.Outbound{Type: "a"}) { t.Fatalf("first send must be queued") }
	if c.Send(arenadto.Outbound{Type: "b"}) { t.Fatalf("second send must fail") }
	select {
	case <-c.done:
	default:
		t.Fatalf("full buffer must close the connection")
	}
	if c.Send(arenadto.Outbound{Type: "c"}) { t.Fatalf("send after close must fail") }
}

func TestBackoffDuration(t *testing.T) {
	if backoffDuration(0) != 100*time.Millisecond || backoffDuration(3) != 400*time.Millisecond || backoffDuration(10) != 3200*time.Millisecond { t.Fatalf("unexpected backoff") }
}
