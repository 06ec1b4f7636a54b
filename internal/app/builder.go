// Package app assembles the arena server from configuration.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/gateway"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/oracle/uci"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

// SnapshotStore is the session store plus the indexes the REST API and restart
// recovery read.
type SnapshotStore interface {
	session.Store
	httpapi.UserIndex
	ActiveIDs(ctx context.Context) ([]string, error)
}

type Deps struct {
	Registry *session.Registry
	Queue    *matchmaking.Queue
	Handler  *protocol.Handler
	Gateway  *gateway.Server
	API      *httpapi.Server
	Store    SnapshotStore

	closers []func() error
}

// New wires every component. Redis, Postgres, the engine and the opening book are
// optional and enabled by their config values.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		rs, err := store.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		d.closers = append(d.closers, rs.Close)
		d.Store = rs
	} else {
		obslog.L().Warn("redis_disabled", zap.String("reason", "REDIS_URL not set; sessions live in memory only"))
		d.Store = store.NewMemoryStore()
	}

	var archive *store.Archive
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		a, err := store.NewArchive(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		d.closers = append(d.closers, a.Close)
		if err := a.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("archive schema: %w", err)
		}
		archive = a
	}

	chess := rules.NewChess()
	oracleCfg := oracle.Config{Rules: chess}
	if strings.TrimSpace(cfg.StockfishPath) != "" {
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath: cfg.StockfishPath,
			Capacity:   cfg.EnginePoolSize,
			Options: uci.Options{
				Threads:    cfg.EngineThreads,
				HashMB:     cfg.EngineHashMB,
				SkillLevel: cfg.EngineSkillLevel,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init engine pool: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		oracleCfg.Engine = pool
	}
	if strings.TrimSpace(cfg.PolyglotBookPath) != "" {
		book, err := oracle.OpenBook(cfg.PolyglotBookPath)
		if err != nil {
			return nil, fmt.Errorf("open opening book: %w", err)
		}
		oracleCfg.Book = book
	}
	tier, err := oracle.ParseTier(cfg.BotDefaultTier)
	if err != nil {
		return nil, err
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	pub := events.NewPublisher()
	d.Registry = session.NewRegistry(chess, d.Store, pub, session.Config{
		BotMoveDelay:      cfg.BotMoveDelay,
		BotFirstMoveDelay: cfg.BotFirstMoveDelay,
		OracleTimeout:     cfg.OracleTimeout,
		SweepInterval:     cfg.SweepInterval,
		DefaultTier:       tier,
		Retention:         cfg.SessionTTL,
	})
	d.closers = append(d.closers, func() error { d.Registry.Close(); return nil })
	d.Registry.AttachOracle(oracle.NewTiered(oracleCfg))
	if archive != nil {
		d.Registry.AttachArchiver(archive)
	}

	d.Queue = matchmaking.NewQueue()
	d.Handler = protocol.NewHandler(d.Registry, d.Queue, protocol.NewHub(), cat, pub)
	d.Gateway = gateway.NewServer(d.Handler, gateway.Options{})
	d.API = httpapi.NewServer(d.Registry, d.Store, chess, httpapi.Options{DefaultTimeControl: cfg.DefaultTimeControl})

	obslog.L().Info("arena_built",
		zap.Bool("redis", strings.TrimSpace(cfg.RedisURL) != ""),
		zap.Bool("archive", archive != nil),
		zap.Bool("engine", oracleCfg.Engine != nil),
		zap.Bool("book", oracleCfg.Book != nil),
		zap.String("default_tier", string(tier)),
	)
	ok = true
	return d, nil
}

// Recover reloads sessions that were active when the process last stopped.
func (d *Deps) Recover(ctx context.Context) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ids, err := d.Store.ActiveIDs(rctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	return d.Registry.RestoreAll(rctx, ids), nil
}

// Close releases resources in reverse order of acquisition.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			obslog.L().Warn("close_failed", zap.Error(err))
		}
	}
	d.closers = nil
}
