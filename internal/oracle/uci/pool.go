package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
}

// Pool keeps up to Capacity warm engine processes.
type Pool struct {
	binaryPath string
	opt        Options
	capacity   int

	mu     sync.Mutex
	total  int
	idle   chan *Engine
	closed bool
}

var (
	errPoolAtCapacity = errors.New("engine pool at capacity")
	ErrPoolClosed     = errors.New("engine pool closed")
)

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	if err := cfg.Options.validate(); err != nil {
		return nil, err
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		opt:        cfg.Options,
		capacity:   capacity,
		idle:       make(chan *Engine, capacity),
	}, nil
}

// Acquire returns an idle engine, starts a new one below capacity, or waits.
func (p *Pool) Acquire(ctx context.Context) (*Engine, error) {
	for {
		select {
		case e := <-p.idle:
			if err := e.EnsureReady(ctx); err != nil {
				p.discard(e)
				continue
			}
			return e, nil
		default:
		}

		e, err := p.create(ctx)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, errPoolAtCapacity) {
			return nil, err
		}

		select {
		case e := <-p.idle:
			if err := e.EnsureReady(ctx); err != nil {
				p.discard(e)
				continue
			}
			return e, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns e to the pool. An engine that failed a search is discarded.
func (p *Pool) Release(e *Engine, err error) {
	if e == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if err != nil || closed {
		p.discard(e)
		return
	}
	select {
	case p.idle <- e:
	default:
		p.discard(e)
	}
}

// BestMove runs one search on a pooled engine.
func (p *Pool) BestMove(ctx context.Context, startFEN string, moves []string, l Limits) (string, error) {
	e, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	mv, err := e.BestMove(ctx, startFEN, moves, l)
	p.Release(e, err)
	return mv, err
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case e := <-p.idle:
			if err := e.Close(); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errPoolAtCapacity
	}
	p.total++
	p.mu.Unlock()

	e, err := Start(ctx, p.binaryPath, p.opt)
	if err != nil {
		p.decrement()
		return nil, err
	}
	return e, nil
}

func (p *Pool) discard(e *Engine) {
	_ = e.Close()
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
