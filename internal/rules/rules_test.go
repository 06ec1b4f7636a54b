package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/park285/cheese-arena/internal/domain"
)

func play(t *testing.T, e *Chess, moves ...string) Position {
	t.Helper()
	pos := StartPosition()
	for _, mv := range moves {
		a, err := e.Apply(pos, mv)
		if err != nil { t.Fatalf("Apply(%s): %v", mv, err) }
		pos = a.Position
	}
	return pos
}

func TestApply_UCIAndSANFallback(t *testing.T) {
	e := NewChess()
	a, err := e.Apply(StartPosition(), "e2e4")
	if err != nil { t.Fatalf("Apply UCI: %v", err) }
	if a.UCI != "e2e4" || a.SAN != "e4" || a.Turn != domain.Black {
		t.Fatalf("unexpected applied move: %+v", a)
	}
	b, err := e.Apply(a.Position, "Nc6")
	if err != nil { t.Fatalf("Apply SAN: %v", err) }
	if b.UCI != "b8c6" || b.Turn != domain.White || len(b.Position.Moves) != 2 {
		t.Fatalf("unexpected SAN result: %+v", b)
	}
	if len(a.Position.Moves) != 1 { t.Fatalf("Apply must not mutate the input position") }
}

func TestApply_Illegal(t *testing.T) {
	e := NewChess()
	for _, mv := range []string{"", "e2e5", "invalid", "Ke2"} {
		if _, err := e.Apply(StartPosition(), mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%q) err=%v, want ErrIllegalMove", mv, err)
		}
	}
}

func TestLegalMoves_StartAndCaptures(t *testing.T) {
	e := NewChess()
	moves, err := e.LegalMoves(StartPosition())
	if err != nil { t.Fatalf("LegalMoves: %v", err) }
	if len(moves) != 20 { t.Fatalf("expected 20 opening moves, got %d", len(moves)) }

	pos := play(t, e, "e2e4", "d7d5")
	moves, err = e.LegalMoves(pos)
	if err != nil { t.Fatalf("LegalMoves: %v", err) }
	found := false
	for _, mv := range moves {
		if mv.UCI == "e4d5" {
			found = mv.Capture
		}
	}
	if !found { t.Fatalf("expected e4d5 flagged as capture in %v", moves) }
}

func TestClassify_Checkmate(t *testing.T) {
	e := NewChess()
	pos := play(t, e, "f2f3", "e7e5", "g2g4", "d8h4")
	c, err := e.Classify(pos)
	if err != nil { t.Fatalf("Classify: %v", err) }
	if c.State != Win || c.Winner != domain.Black || c.Cause != domain.CauseCheckmate {
		t.Fatalf("unexpected classification: %+v", c)
	}
	if o := c.Outcome(); o.Result != domain.ResultBlackWins { t.Fatalf("outcome=%+v", o) }
	if moves, _ := e.LegalMoves(pos); len(moves) != 0 { t.Fatalf("mated side must have no moves") }
}

func TestClassify_Stalemate(t *testing.T) {
	e := NewChess()
	pos := Position{StartFEN: "7k/8/6K1/8/8/8/8/5Q2 w - - 0 1"}
	a, err := e.Apply(pos, "f1f7")
	if err != nil { t.Fatalf("Apply: %v", err) }
	c, err := e.Classify(a.Position)
	if err != nil { t.Fatalf("Classify: %v", err) }
	if c.State != Draw || c.Cause != domain.CauseStalemate {
		t.Fatalf("expected stalemate draw, got %+v", c)
	}
}

func TestClassify_ThreefoldRepetitionIsDraw(t *testing.T) {
	e := NewChess()
	pos := play(t, e,
		"g1f3", "g8f6", "f3g1", "f6g8",
		"g1f3", "g8f6", "f3g1", "f6g8",
	)
	c, err := e.Classify(pos)
	if err != nil { t.Fatalf("Classify: %v", err) }
	if c.State != Draw { t.Fatalf("expected repetition draw, got %+v", c) }
}

func TestTurnAlternates(t *testing.T) {
	e := NewChess()
	moves := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1c4"}
	pos := StartPosition()
	for i, mv := range moves {
		a, err := e.Apply(pos, mv)
		if err != nil { t.Fatalf("Apply: %v", err) }
		pos = a.Position
		want := domain.Black
		if i%2 == 1 {
			want = domain.White
		}
		turn, err := e.Turn(pos)
		if err != nil || turn != want { t.Fatalf("after %d moves turn=%s want %s (err=%v)", i+1, turn, want, err) }
	}
}

func TestInvalidStartFEN(t *testing.T) {
	e := NewChess()
	if _, err := e.Turn(Position{StartFEN: "not a fen"}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestOpening_NamesKnownLine(t *testing.T) {
	c := NewChess()
	pos := Position{Moves: []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"}}
	code, title := c.Opening(pos)
	if code == "" || title == "" { t.Fatalf("expected an ECO opening, got %q %q", code, title) }
	if code, _ := c.Opening(Position{StartFEN: "7k/8/6K1/8/8/8/8/5Q2 w - - 0 1", Moves: []string{"f1f7"}}); code != "" { t.Fatalf("custom start must not be named, got %q", code) }
}

func TestChess_ConcurrentReplaysStayIsolated(t *testing.T) {
	c := NewChess()
	bare := Position{StartFEN: "8/8/8/4k3/8/8/8/4K3 w - - 0 1"}
	start := StartPosition()
	placement := func(fen string) string { return strings.Fields(fen)[0] }

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				if (g+i)%2 == 0 {
					fen, err := c.FEN(bare)
					if err != nil || placement(fen) != "8/8/8/4k3/8/8/8/4K3" {
						errs <- fmt.Sprintf("bare kings replayed as %q (%v)", fen, err)
						return
					}
					continue
				}
				a, err := c.Apply(start, "e2e4")
				if err != nil || placement(a.FEN) != "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR" {
					errs <- fmt.Sprintf("1.e4 replayed as %q (%v)", a.FEN, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for msg := range errs { t.Fatalf("concurrent replay: %s", msg) }
}
