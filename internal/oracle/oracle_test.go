package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/cheese-arena/internal/oracle/uci"
	"github.com/park285/cheese-arena/internal/rules"
)

type fakeSearcher struct {
	move  string
	err   error
	calls int
	last  uci.Limits
}

func (f *fakeSearcher) BestMove(ctx context.Context, startFEN string, moves []string, l uci.Limits) (string, error) {
	f.calls++
	f.last = l
	return f.move, f.err
}

func isLegal(t *testing.T, pos rules.Position, mv string) {
	t.Helper()
	if _, err := rules.NewChess().Apply(pos, mv); err != nil { t.Fatalf("move %q not legal: %v", mv, err) }
}

func TestRandomTier_ReturnsLegalMove(t *testing.T) {
	o := NewTiered(Config{})
	pos := rules.StartPosition()
	for i := 0; i < 20; i++ {
		mv, err := o.SelectMove(context.Background(), pos, TierRandom)
		if err != nil { t.Fatalf("select: %v", err) }
		isLegal(t, pos, mv)
	}
}

func TestMediumTier_PrefersCapture(t *testing.T) {
	o := NewTiered(Config{})
	// After 1.e4 d5 the only capture for white is exd5.
	pos := rules.Position{Moves: []string{"e2e4", "d7d5"}}
	for i := 0; i < 10; i++ {
		mv, err := o.SelectMove(context.Background(), pos, TierMedium)
		if err != nil { t.Fatalf("select: %v", err) }
		if mv != "e4d5" { t.Fatalf("expected capture e4d5, got %s", mv) }
	}
}

func TestUnknownTierPlaysRandom(t *testing.T) {
	o := NewTiered(Config{})
	mv, err := o.SelectMove(context.Background(), rules.StartPosition(), Tier("grandmaster"))
	if err != nil { t.Fatalf("select: %v", err) }
	isLegal(t, rules.StartPosition(), mv)
}

func TestNoLegalMove(t *testing.T) {
	o := NewTiered(Config{})
	mated := rules.Position{Moves: []string{"f2f3", "e7e5", "g2g4", "d8h4"}}
	for _, tier := range []Tier{TierRandom, TierMedium} {
		if _, err := o.SelectMove(context.Background(), mated, tier); !errors.Is(err, ErrNoMove) { t.Fatalf("%s: expected ErrNoMove, got %v", tier, err) }
	}
}

func TestHardTier_UsesEngine(t *testing.T) {
	s := &fakeSearcher{move: "g1f3"}
	o := NewTiered(Config{Engine: s})
	mv, err := o.SelectMove(context.Background(), rules.StartPosition(), TierHard)
	if err != nil { t.Fatalf("select: %v", err) }
	if mv != "g1f3" || s.calls != 1 { t.Fatalf("got %s calls=%d", mv, s.calls) }
	if s.last.Depth != 10 || s.last.MoveTime.Seconds() != 3 { t.Fatalf("unexpected limits: %+v", s.last) }
}

func TestHardTier_Unavailable(t *testing.T) {
	o := NewTiered(Config{})
	if _, err := o.SelectMove(context.Background(), rules.StartPosition(), TierHard); !errors.Is(err, ErrOracleUnavailable) { t.Fatalf("expected ErrOracleUnavailable, got %v", err) }

	failing := NewTiered(Config{Engine: &fakeSearcher{err: errors.New("broken pipe")}})
	if _, err := failing.SelectMove(context.Background(), rules.StartPosition(), TierHard); !errors.Is(err, ErrOracleUnavailable) { t.Fatalf("expected ErrOracleUnavailable, got %v", err) }

	none := NewTiered(Config{Engine: &fakeSearcher{err: uci.ErrNoBestMove}})
	if _, err := none.SelectMove(context.Background(), rules.StartPosition(), TierHard); !errors.Is(err, ErrNoMove) { t.Fatalf("expected ErrNoMove, got %v", err) }
}

func TestSelectMove_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTiered(Config{}).SelectMove(ctx, rules.StartPosition(), TierRandom); !errors.Is(err, context.Canceled) { t.Fatalf("expected context.Canceled, got %v", err) }
}

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{"": TierRandom, "easy": TierRandom, "Medium": TierMedium, " hard ": TierHard}
	for in, want := range cases {
		got, err := ParseTier(in)
		if err != nil || got != want { t.Fatalf("ParseTier(%q)=%q,%v want %q", in, got, err, want) }
	}
	if _, err := ParseTier("expert"); err == nil { t.Fatalf("expected error") }
}

func TestBook_NilIsOutOfBook(t *testing.T) {
	var b *Book
	mv, err := b.Lookup(rules.NewChess(), rules.StartPosition())
	if err != nil || mv != "" { t.Fatalf("got %q %v", mv, err) }
	if _, err := OpenBook(""); err == nil { t.Fatalf("expected error for empty path") }
}

func TestCastleTarget_RewritesKingTakesRook(t *testing.T) {
	castleReady := "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R w KQkq - 0 1"
	cases := map[string]string{"e1h1": "e1g1", "e1a1": "e1c1", "e8h8": "e8g8", "e8a8": "e8c8", "e2e4": "e2e4"}
	for in, want := range cases {
		if got := castleTarget(castleReady, in); got != want { t.Fatalf("castleTarget(%q)=%q want %q", in, got, want) }
	}
	rookOnE1 := "4k3/8/8/8/8/8/8/4R2K w - - 0 1"
	if got := castleTarget(rookOnE1, "e1h1"); got != "e1h1" { t.Fatalf("non-king move rewritten to %q", got) }

	eng := rules.NewChess()
	pos := rules.Position{StartFEN: castleReady}
	if _, err := eng.Apply(pos, castleTarget(castleReady, "e1h1")); err != nil { t.Fatalf("rewritten castle not legal: %v", err) }
}
