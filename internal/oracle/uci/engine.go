// Package uci drives a UCI chess engine process such as Stockfish.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

const defaultReadyTimeout = 4 * time.Second

var ErrNoBestMove = errors.New("engine returned no bestmove")

type Options struct {
	Threads    int
	HashMB     int
	SkillLevel int
	Elo        int
}

func (o Options) validate() error {
	if o.SkillLevel < 0 || o.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	}
	if o.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", o.HashMB)
	}
	if o.Elo < 0 {
		return fmt.Errorf("elo must be >= 0: %d", o.Elo)
	}
	return nil
}

type Limits struct {
	Depth    int
	MoveTime time.Duration
}

// Engine is one running engine process. Searches are serialized.
type Engine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	lines  chan lineResult
	done   chan struct{}

	mu     sync.Mutex
	search sync.Mutex
	closed bool
}

type lineResult struct {
	line string
	err  error
}

// Start launches binaryPath and completes the uci/isready handshake.
func Start(ctx context.Context, binaryPath string, opt Options) (*Engine, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &Engine{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		lines:  make(chan lineResult, 64),
		done:   make(chan struct{}),
	}
	go e.readLoop()

	if err := e.handshake(ctx, opt); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// BestMove searches the position reached from startFEN by moves.
func (e *Engine) BestMove(ctx context.Context, startFEN string, moves []string, l Limits) (string, error) {
	e.search.Lock()
	defer e.search.Unlock()

	goCmd, err := goCommand(l)
	if err != nil {
		return "", err
	}
	if err := e.send(positionCommand(startFEN, moves)); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	if err := e.send(goCmd); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	for {
		line, err := e.readLine(ctx)
		if err != nil {
			// The engine is still searching; make it stop so the next caller starts clean.
			_ = e.send("stop\n")
			obslog.L().Warn("uci_search_aborted",
				zap.Int("moves", len(moves)),
				zap.Int("depth", l.Depth),
				zap.Error(err),
			)
			return "", fmt.Errorf("read line: %w", err)
		}
		if mv, ok := parseBestMove(line); ok {
			if mv == "" {
				return "", ErrNoBestMove
			}
			return mv, nil
		}
	}
}

// EnsureReady pings the engine with isready.
func (e *Engine) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()
	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)
	_, _ = io.WriteString(e.stdin, "quit\n")
	_ = e.stdin.Close()
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		_ = e.cmd.Process.Kill()
		return <-done
	}
}

func (e *Engine) handshake(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	for _, cmd := range optionCommands(opt) {
		if err := e.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := e.send("ucinewgame\nisready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (e *Engine) send(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return os.ErrClosed
	}
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *Engine) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *Engine) readLoop() {
	for {
		line, err := e.stdout.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if !e.deliver(lineResult{line: line}) {
				return
			}
		}
		if err != nil {
			e.deliver(lineResult{err: err})
			return
		}
	}
}

func (e *Engine) deliver(r lineResult) bool {
	select {
	case e.lines <- r:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-e.lines:
		return res.line, res.err
	}
}

func optionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
	}
	if opt.Elo > 0 {
		cmds = append(cmds,
			"setoption name UCI_LimitStrength value true\n",
			fmt.Sprintf("setoption name UCI_Elo value %d\n", opt.Elo),
		)
	}
	return cmds
}

func positionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if fen = strings.TrimSpace(fen); fen == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func goCommand(l Limits) (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTime > 0 {
		args = append(args, "movetime", strconv.FormatInt(l.MoveTime.Milliseconds(), 10))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " ") + "\n", nil
}

// parseBestMove reports whether line is a bestmove line and returns its move.
// "(none)" and "0000" are returned as an empty move.
func parseBestMove(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "bestmove" {
		return "", false
	}
	if len(parts) < 2 || parts[1] == "(none)" || parts[1] == "0000" {
		return "", true
	}
	return parts[1], true
}
