// Package oracle proposes moves for the automated opponent.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/oracle/uci"
	"github.com/park285/cheese-arena/internal/rules"
	"go.uber.org/zap"
)

var (
	ErrOracleUnavailable = errors.New("move oracle unavailable")
	ErrNoMove            = errors.New("no legal move available")
)

type Tier string

const (
	TierRandom Tier = "random"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// ParseTier accepts a tier name case-insensitively. "easy" is an alias of random.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random", "easy", "":
		return TierRandom, nil
	case "medium":
		return TierMedium, nil
	case "hard":
		return TierHard, nil
	}
	return "", fmt.Errorf("unknown bot tier %q", s)
}

// MoveOracle returns one legal UCI move for pos.
type MoveOracle interface {
	SelectMove(ctx context.Context, pos rules.Position, tier Tier) (string, error)
}

// Searcher is the engine search used by the hard tier.
type Searcher interface {
	BestMove(ctx context.Context, startFEN string, moves []string, l uci.Limits) (string, error)
}

type Config struct {
	Rules    rules.Engine
	Book     *Book
	Engine   Searcher
	Depth    int
	MoveTime time.Duration
}

// Tiered dispatches by tier. Unknown tiers play like random.
type Tiered struct {
	rules    rules.Engine
	book     *Book
	engine   Searcher
	depth    int
	moveTime time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewTiered(cfg Config) *Tiered {
	if cfg.Rules == nil {
		cfg.Rules = rules.NewChess()
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	if cfg.MoveTime <= 0 {
		cfg.MoveTime = 3 * time.Second
	}
	return &Tiered{
		rules:    cfg.Rules,
		book:     cfg.Book,
		engine:   cfg.Engine,
		depth:    cfg.Depth,
		moveTime: cfg.MoveTime,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (o *Tiered) SelectMove(ctx context.Context, pos rules.Position, tier Tier) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch tier {
	case TierHard:
		return o.hard(ctx, pos)
	case TierMedium:
		return o.medium(pos)
	default:
		return o.Random(pos)
	}
}

// Random picks a uniformly random legal move.
func (o *Tiered) Random(pos rules.Position) (string, error) {
	moves, err := o.rules.LegalMoves(pos)
	if err != nil {
		return "", err
	}
	if len(moves) == 0 {
		return "", ErrNoMove
	}
	return moves[o.intn(len(moves))].UCI, nil
}

func (o *Tiered) medium(pos rules.Position) (string, error) {
	moves, err := o.rules.LegalMoves(pos)
	if err != nil {
		return "", err
	}
	if len(moves) == 0 {
		return "", ErrNoMove
	}
	var captures []rules.Move
	for _, mv := range moves {
		if mv.Capture {
			captures = append(captures, mv)
		}
	}
	if len(captures) > 0 {
		return captures[o.intn(len(captures))].UCI, nil
	}
	return moves[o.intn(len(moves))].UCI, nil
}

func (o *Tiered) hard(ctx context.Context, pos rules.Position) (string, error) {
	if o.book != nil {
		mv, err := o.book.Lookup(o.rules, pos)
		if err != nil {
			obslog.L().Warn("oracle_book_lookup_failed", zap.Error(err))
		} else if mv != "" {
			return mv, nil
		}
	}
	if o.engine == nil {
		return "", ErrOracleUnavailable
	}
	mv, err := o.engine.BestMove(ctx, pos.StartFEN, pos.Moves, uci.Limits{Depth: o.depth, MoveTime: o.moveTime})
	if errors.Is(err, uci.ErrNoBestMove) {
		return "", ErrNoMove
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return mv, nil
}

func (o *Tiered) intn(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.IntN(n)
}
