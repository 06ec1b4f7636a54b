// Package rules adapts github.com/corentings/chess/v2 to the session engine.
// Positions are replayed from their UCI history on every call. The library's FEN
// parser writes into package-level state, so every replay and the work done on its
// result run under replayMu.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"github.com/park285/cheese-arena/internal/domain"
)

// replayMu serializes library calls across all games.
var replayMu sync.Mutex

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrInvalidPosition = errors.New("invalid position")
)

// Position is a start FEN plus the UCI moves played from it.
type Position struct {
	StartFEN string   `json:"start_fen,omitempty"`
	Moves    []string `json:"moves"`
}

// StartPosition is the standard initial position.
func StartPosition() Position { return Position{} }

// With returns a copy of p extended by uci.
func (p Position) With(uci string) Position {
	moves := make([]string, 0, len(p.Moves)+1)
	moves = append(moves, p.Moves...)
	return Position{StartFEN: p.StartFEN, Moves: append(moves, uci)}
}

type Move struct {
	UCI     string
	Capture bool
}

type State int

const (
	Ongoing State = iota
	Win
	Draw
)

type Classification struct {
	State  State
	Winner domain.Side
	Cause  string
}

func (c Classification) Terminal() bool { return c.State != Ongoing }

// Outcome converts a terminal classification into a session outcome.
func (c Classification) Outcome() domain.Outcome {
	switch c.State {
	case Win:
		return domain.Outcome{Result: domain.WinnerResult(c.Winner), Cause: c.Cause}
	case Draw:
		return domain.Outcome{Result: domain.ResultDraw, Cause: c.Cause}
	}
	return domain.Outcome{}
}

type Applied struct {
	Position Position
	UCI      string
	SAN      string
	FEN      string
	Turn     domain.Side
}

// Engine is the rules capability consumed by the session registry.
type Engine interface {
	LegalMoves(pos Position) ([]Move, error)
	Apply(pos Position, move string) (Applied, error)
	Classify(pos Position) (Classification, error)
	Turn(pos Position) (domain.Side, error)
	FEN(pos Position) (string, error)
}

// Chess implements Engine with standard chess rules.
type Chess struct {
	ecoOnce sync.Once
	eco     *opening.BookECO
}

func NewChess() *Chess { return &Chess{} }

// Opening names the ECO opening reached by pos. Games from a custom FEN have none.
func (c *Chess) Opening(pos Position) (code, title string) {
	if fen := strings.TrimSpace(pos.StartFEN); (fen != "" && fen != "startpos") || len(pos.Moves) == 0 {
		return "", ""
	}
	replayMu.Lock()
	defer replayMu.Unlock()
	game, err := replay(pos)
	if err != nil {
		return "", ""
	}
	c.ecoOnce.Do(func() { c.eco = opening.NewBookECO() })
	if o := c.eco.Find(game.Moves()); o != nil {
		return o.Code(), o.Title()
	}
	return "", ""
}

func (c *Chess) LegalMoves(pos Position) ([]Move, error) {
	replayMu.Lock()
	defer replayMu.Unlock()

	game, err := replay(pos)
	if err != nil {
		return nil, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return nil, nil
	}
	valid := game.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, mv := range valid {
		out = append(out, Move{
			UCI:     mv.String(),
			Capture: mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant),
		})
	}
	return out, nil
}

// Apply accepts UCI ("e2e4", "e7e8q") and falls back to SAN ("Nf3").
func (c *Chess) Apply(pos Position, raw string) (Applied, error) {
	replayMu.Lock()
	defer replayMu.Unlock()

	game, err := replay(pos)
	if err != nil {
		return Applied{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Applied{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	if game.Outcome() != nchess.NoOutcome {
		return Applied{}, fmt.Errorf("%w: game is over", ErrIllegalMove)
	}

	p := game.Position()
	mv, derr := nchess.UCINotation{}.Decode(p, strings.ToLower(raw))
	if derr != nil {
		mv, derr = nchess.AlgebraicNotation{}.Decode(p, raw)
		if derr != nil {
			return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
		}
	}
	san := nchess.AlgebraicNotation{}.Encode(p, mv)
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}

	uci := mv.String()
	return Applied{
		Position: pos.With(uci),
		UCI:      uci,
		SAN:      san,
		FEN:      game.FEN(),
		Turn:     colorFrom(game.Position().Turn()),
	}, nil
}

func (c *Chess) Classify(pos Position) (Classification, error) {
	replayMu.Lock()
	defer replayMu.Unlock()

	game, err := replay(pos)
	if err != nil {
		return Classification{}, err
	}
	claimDraws(game)

	cause := methodCause(game.Method())
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Classification{State: Win, Winner: domain.White, Cause: cause}, nil
	case nchess.BlackWon:
		return Classification{State: Win, Winner: domain.Black, Cause: cause}, nil
	case nchess.Draw:
		return Classification{State: Draw, Cause: cause}, nil
	}
	return Classification{State: Ongoing}, nil
}

func (c *Chess) Turn(pos Position) (domain.Side, error) {
	replayMu.Lock()
	defer replayMu.Unlock()

	game, err := replay(pos)
	if err != nil {
		return "", err
	}
	return colorFrom(game.Position().Turn()), nil
}

func (c *Chess) FEN(pos Position) (string, error) {
	replayMu.Lock()
	defer replayMu.Unlock()

	game, err := replay(pos)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

// replay must be called with replayMu held.
func replay(pos Position) (*nchess.Game, error) {
	var game *nchess.Game
	if fen := strings.TrimSpace(pos.StartFEN); fen == "" || fen == "startpos" {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("%w: fen %q: %v", ErrInvalidPosition, fen, err)
		}
		game = nchess.NewGame(opt)
	}
	for _, mv := range pos.Moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: replay %q: %v", ErrInvalidPosition, mv, err)
		}
	}
	return game, nil
}

// claimDraws ends the game on threefold repetition and the fifty-move rule,
// which the library only offers as claimable.
func claimDraws(game *nchess.Game) {
	if game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return
		}
	}
}

func colorFrom(c nchess.Color) domain.Side {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}

// methodCause turns "ThreefoldRepetition" into "threefold_repetition".
func methodCause(m nchess.Method) string {
	name := m.String()
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
