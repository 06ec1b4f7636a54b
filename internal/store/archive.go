package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/cheese-arena/internal/domain"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS arena_games (
	game_id       TEXT PRIMARY KEY,
	white_id      TEXT NOT NULL,
	white_name    TEXT NOT NULL,
	black_id      TEXT NOT NULL,
	black_name    TEXT NOT NULL,
	bot_tier      TEXT NOT NULL DEFAULT '',
	time_control  TEXT NOT NULL DEFAULT '',
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

// Archive records finished sessions in Postgres.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// EnsureSchema creates the results table when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if a == nil || a.db == nil {
		return ErrNotInitialized
	}
	_, err := a.db.ExecContext(ctx, schemaSQL)
	return err
}

// SaveResult upserts a finished session.
func (a *Archive) SaveResult(ctx context.Context, snap domain.Snapshot) error {
	if a == nil || a.db == nil {
		return nil
	}
	if !snap.Status.Terminal() {
		return nil
	}

	movesUCI, err := json.Marshal(nonNil(snap.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(snap.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	duration := snap.UpdatedAt.Sub(snap.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `INSERT INTO arena_games (
		game_id, white_id, white_name, black_id, black_name,
		bot_tier, time_control, result, result_method,
		moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11::jsonb,$12,$13,$14,$15
	) ON CONFLICT (game_id) DO UPDATE SET
		result=EXCLUDED.result,
		result_method=EXCLUDED.result_method,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err = a.db.ExecContext(ctx, q,
		snap.ID,
		snap.White.ID, snap.White.Name,
		snap.Black.ID, snap.Black.Name,
		snap.BotTier, snap.TimeControl,
		string(snap.Outcome.Result), snap.Outcome.Cause,
		string(movesUCI), string(movesSAN), BuildPGN(snap),
		snap.CreatedAt, snap.UpdatedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("archive %s: %w", snap.ID, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
