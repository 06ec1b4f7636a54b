package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/rules"
	"go.uber.org/zap"
)

// scheduleBot plays the automated side's move for ply after delay.
func (r *Registry) scheduleBot(id string, ply int, delay time.Duration) {
	r.spawn(func() { r.playBot(id, ply, delay) })
}

func (r *Registry) playBot(id string, ply int, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return
	case <-timer.C:
	}

	snap, err := r.Get(id)
	if err != nil || snap.Status.Terminal() || len(snap.MovesUCI) != ply {
		return
	}
	pos := rules.Position{StartFEN: snap.StartFEN, Moves: snap.MovesUCI}
	log := obslog.L().With(zap.String("session_id", id), zap.Int("ply", ply), zap.String("tier", snap.BotTier))

	mv, err := r.selectMove(pos, oracle.Tier(snap.BotTier))
	usedFallback := false
	if err != nil {
		log.Warn("bot_oracle_degraded", zap.Error(err))
		if mv, err = r.fallbackMove(pos); err != nil {
			log.Warn("bot_no_move", zap.Error(err))
			return
		}
		usedFallback = true
	}

	_, err = r.applyMove(r.ctx, id, mv, domain.BotIdentity, ply)
	if errors.Is(err, ErrIllegalMove) && !usedFallback {
		log.Warn("bot_oracle_illegal_move", zap.String("uci", mv))
		if mv, err = r.fallbackMove(pos); err != nil {
			log.Warn("bot_no_move", zap.Error(err))
			return
		}
		_, err = r.applyMove(r.ctx, id, mv, domain.BotIdentity, ply)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionTerminal), errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrTimeout), errors.Is(err, errStalePly):
		log.Debug("bot_move_discarded", zap.String("uci", mv), zap.Error(err))
	default:
		log.Warn("bot_move_failed", zap.String("uci", mv), zap.Error(err))
	}
}

func (r *Registry) selectMove(pos rules.Position, tier oracle.Tier) (string, error) {
	if r.oracle == nil {
		return "", oracle.ErrOracleUnavailable
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.OracleTimeout)
	defer cancel()

	type result struct {
		mv  string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		mv, err := r.oracle.SelectMove(ctx, pos, tier)
		ch <- result{mv: mv, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err == nil && res.mv == "" {
			return "", oracle.ErrNoMove
		}
		return res.mv, res.err
	}
}

func (r *Registry) fallbackMove(pos rules.Position) (string, error) {
	moves, err := r.rules.LegalMoves(pos)
	if err != nil {
		return "", err
	}
	if len(moves) == 0 {
		return "", oracle.ErrNoMove
	}
	return moves[rand.IntN(len(moves))].UCI, nil
}
