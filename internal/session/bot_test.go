package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/rules"
)

// scriptedOracle answers from a fixed list, then fails.
type scriptedOracle struct {
	mu    sync.Mutex
	moves []string
	err   error
	gate  chan struct{}
	tiers []oracle.Tier
}

func (s *scriptedOracle) SelectMove(ctx context.Context, pos rules.Position, tier oracle.Tier) (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers = append(s.tiers, tier)
	if s.err != nil {
		return "", s.err
	}
	if len(s.moves) == 0 {
		return "", oracle.ErrNoMove
	}
	mv := s.moves[0]
	s.moves = s.moves[1:]
	return mv, nil
}

func botMoveEvent(t *testing.T, h *harness) events.MovePayload {
	t.Helper()
	for {
		ev := h.rec.await(t, events.MoveApplied)
		if p := ev.Payload.(events.MovePayload); p.By == domain.Black {
			return p
		}
	}
}

func TestBot_RepliesThroughApplyMove(t *testing.T) {
	h := newHarness(t)
	o := &scriptedOracle{moves: []string{"e7e5"}}
	h.reg.AttachOracle(o)
	h.create(t, CreateRequest{ID: "g1", White: alice, Black: bot, AutomatedSide: domain.Black, BotTier: oracle.TierMedium})

	h.move(t, "g1", "e2e4", "alice")
	p := botMoveEvent(t, h)
	if p.UCI != "e7e5" || p.SideToMove != domain.White { t.Fatalf("unexpected bot move: %+v", p) }

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.tiers) != 1 || o.tiers[0] != oracle.TierMedium { t.Fatalf("unexpected tiers: %v", o.tiers) }
}

func TestBot_PlaysFirstWhenWhite(t *testing.T) {
	h := newHarness(t)
	h.reg.AttachOracle(&scriptedOracle{moves: []string{"d2d4"}})
	snap := h.create(t, CreateRequest{ID: "g1", White: bot, Black: alice, AutomatedSide: domain.White})
	if snap.BotTier != string(oracle.TierRandom) { t.Fatalf("default tier not applied: %q", snap.BotTier) }

	ev := h.rec.await(t, events.MoveApplied)
	if p := ev.Payload.(events.MovePayload); p.UCI != "d2d4" || p.By != domain.White { t.Fatalf("unexpected first move: %+v", p) }
}

func TestBot_FallsBackWhenOracleFails(t *testing.T) {
	h := newHarness(t)
	h.reg.AttachOracle(&scriptedOracle{err: oracle.ErrOracleUnavailable})
	h.create(t, CreateRequest{ID: "g1", White: alice, Black: bot, AutomatedSide: domain.Black})

	h.move(t, "g1", "e2e4", "alice")
	botMoveEvent(t, h)
	snap, _ := h.reg.Get("g1")
	if len(snap.MovesUCI) != 2 || snap.Turn != domain.White { t.Fatalf("fallback move not played: %+v", snap.MovesUCI) }
}

func TestBot_IllegalOracleMoveFallsBack(t *testing.T) {
	h := newHarness(t)
	h.reg.AttachOracle(&scriptedOracle{moves: []string{"e2e4"}})
	h.create(t, CreateRequest{ID: "g1", White: alice, Black: bot, AutomatedSide: domain.Black})

	h.move(t, "g1", "d2d4", "alice")
	p := botMoveEvent(t, h)
	if p.UCI == "e2e4" { t.Fatalf("illegal oracle move was applied") }
}

func TestBot_WithoutOracleStillMoves(t *testing.T) {
	h := newHarness(t)
	h.create(t, CreateRequest{ID: "g1", White: alice, Black: bot, AutomatedSide: domain.Black})
	h.move(t, "g1", "g1f3", "alice")
	botMoveEvent(t, h)
}

func TestBot_LateMoveAfterEndIsDiscarded(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.reg.AttachOracle(&scriptedOracle{moves: []string{"e7e5"}, gate: gate})
	h.create(t, CreateRequest{ID: "g1", White: alice, Black: bot, AutomatedSide: domain.Black})

	h.move(t, "g1", "e2e4", "alice")
	if err := h.reg.End(context.Background(), "g1"); err != nil { t.Fatalf("end: %v", err) }
	close(gate)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap, _ := h.reg.Get("g1")
		if len(snap.MovesUCI) != 1 || snap.Status != domain.StatusAborted { t.Fatalf("late bot move changed session: %+v", snap) }
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBot_HumanCannotImpersonateBotSeat(t *testing.T) {
	h := newHarness(t)
	h.create(t, CreateRequest{ID: "g1", White: alice, Black: bot, AutomatedSide: domain.Black})
	h.reg.Close()
	h.move(t, "g1", "e2e4", "alice")
	if _, err := h.reg.ApplyMove(context.Background(), "g1", "e7e5", "alice"); !errors.Is(err, ErrNotYourTurn) { t.Fatalf("expected ErrNotYourTurn, got %v", err) }
}

func TestScenario_HumanMoveThenBotReply(t *testing.T) {
	h := newHarness(t)
	h.reg.AttachOracle(oracle.NewTiered(oracle.Config{}))
	h.create(t, CreateRequest{ID: "g1", TimeControl: "5+0", White: alice, Black: bot, AutomatedSide: domain.Black, BotTier: oracle.TierRandom})

	time.Sleep(20 * time.Millisecond)
	if snap, _ := h.reg.Get("g1"); len(snap.MovesUCI) != 0 { t.Fatalf("bot moved on white's turn: %v", snap.MovesUCI) }

	h.clock.Advance(3 * time.Second)
	res := h.move(t, "g1", "e2e4", "alice")
	if res.Clock.WhiteMs >= 300_000 { t.Fatalf("white clock did not decrease: %d", res.Clock.WhiteMs) }

	botMoveEvent(t, h)
	snap, _ := h.reg.Get("g1")
	if snap.Turn != domain.White || len(snap.MovesUCI) != 2 { t.Fatalf("expected white to move after bot reply: %+v", snap) }
}
