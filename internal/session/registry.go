// Package session owns live chess sessions: move admission, clocks, termination
// and persistence. Every mutation of one session is serialized by that session's
// mutex and persisted before it becomes visible.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

const maxChatRunes = 500

// Store persists snapshots. Load returns store.ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context, id string) (*domain.Snapshot, error)
}

// Archiver records finished sessions.
type Archiver interface {
	SaveResult(ctx context.Context, snap domain.Snapshot) error
}

type Config struct {
	BotMoveDelay      time.Duration
	BotFirstMoveDelay time.Duration
	OracleTimeout     time.Duration
	SweepInterval     time.Duration
	DefaultTier       oracle.Tier
	// Retention is how long a finished session stays in memory after its last update.
	Retention time.Duration
}

func (c *Config) setDefaults() {
	if c.BotMoveDelay <= 0 {
		c.BotMoveDelay = 500 * time.Millisecond
	}
	if c.BotFirstMoveDelay <= 0 {
		c.BotFirstMoveDelay = time.Second
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 3 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.DefaultTier == "" {
		c.DefaultTier = oracle.TierRandom
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

const storeTimeout = 5 * time.Second

type CreateRequest struct {
	ID            string
	StartFEN      string
	TimeControl   string
	White         domain.Participant
	Black         domain.Participant
	AutomatedSide domain.Side
	BotTier       oracle.Tier
}

// AppliedMove is the result of an admitted move.
type AppliedMove struct {
	SessionID  string               `json:"session_id"`
	UCI        string               `json:"uci"`
	SAN        string               `json:"san"`
	FEN        string               `json:"fen"`
	Clock      domain.ClockSnapshot `json:"clock"`
	Status     domain.Status        `json:"status"`
	Outcome    domain.Outcome       `json:"outcome"`
	SideToMove domain.Side          `json:"side_to_move"`
}

type entry struct {
	mu   sync.Mutex
	snap domain.Snapshot
	tc   clock.TimeControl
	gone bool
}

func (e *entry) position() rules.Position {
	return rules.Position{StartFEN: e.snap.StartFEN, Moves: e.snap.MovesUCI}
}

func (e *entry) botToMove() bool {
	return e.snap.Status == domain.StatusActive && e.snap.Participant(e.snap.Turn).IsBot()
}

// Registry is the authoritative in-memory set of sessions.
type Registry struct {
	rules    rules.Engine
	store    Store
	pub      *events.Publisher
	oracle   oracle.MoveOracle
	archiver Archiver
	cfg      Config
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	bgMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRegistry(engine rules.Engine, st Store, pub *events.Publisher, cfg Config) *Registry {
	if engine == nil {
		engine = rules.NewChess()
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rules:    engine,
		store:    st,
		pub:      pub,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AttachOracle sets the move source for automated sides. Without one every bot move
// is a random legal move.
func (r *Registry) AttachOracle(o oracle.MoveOracle) { r.oracle = o }

// AttachArchiver sets where finished sessions are recorded.
func (r *Registry) AttachArchiver(a Archiver) { r.archiver = a }

// Close stops scheduling bot moves and waits for in-flight background work.
func (r *Registry) Close() {
	r.bgMu.Lock()
	r.closed = true
	r.bgMu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// spawn runs fn in a tracked goroutine unless the registry is closed.
func (r *Registry) spawn(fn func()) bool {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

func (r *Registry) Create(ctx context.Context, req CreateRequest) (domain.Snapshot, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = "g-" + uuid.NewString()
	}
	if err := validateSeats(req); err != nil {
		return domain.Snapshot{}, err
	}
	tc, err := clock.ParseTimeControl(req.TimeControl)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	pos := rules.Position{StartFEN: strings.TrimSpace(req.StartFEN)}
	fen, err := r.rules.FEN(pos)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	turn, err := r.rules.Turn(pos)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := r.now()
	snap := domain.Snapshot{
		ID:            id,
		StartFEN:      pos.StartFEN,
		FEN:           fen,
		MovesUCI:      []string{},
		MovesSAN:      []string{},
		Turn:          turn,
		TimeControl:   tc.String(),
		Clock:         tc.Start(now),
		White:         req.White,
		Black:         req.Black,
		AutomatedSide: req.AutomatedSide,
		Status:        domain.StatusActive,
		Chat:          []domain.ChatMessage{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.AutomatedSide != "" {
		tier := req.BotTier
		if tier == "" {
			tier = r.cfg.DefaultTier
		}
		snap.BotTier = string(tier)
	}

	// The entry is inserted locked so nothing can observe it before it is persisted.
	e := &entry{snap: snap, tc: tc}
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return domain.Snapshot{}, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.sessions[id] = e
	r.mu.Unlock()

	if err := r.store.Save(ctx, snap); err != nil {
		e.gone = true
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return domain.Snapshot{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	obslog.L().Info("session_created",
		zap.String("session_id", id),
		zap.String("white", snap.White.ID),
		zap.String("black", snap.Black.ID),
		zap.String("time_control", snap.TimeControl),
		zap.String("bot_tier", snap.BotTier),
	)
	if e.botToMove() {
		r.scheduleBot(id, len(snap.MovesUCI), r.cfg.BotFirstMoveDelay)
	}
	return snap.Clone(), nil
}

func validateSeats(req CreateRequest) error {
	white, black := strings.TrimSpace(req.White.ID), strings.TrimSpace(req.Black.ID)
	if white == "" || black == "" {
		return fmt.Errorf("%w: both seats must be filled", ErrInvalidRequest)
	}
	if white == black {
		return fmt.Errorf("%w: a player cannot face themselves", ErrInvalidRequest)
	}
	switch req.AutomatedSide {
	case "":
		if req.White.IsBot() || req.Black.IsBot() {
			return fmt.Errorf("%w: bot seated without an automated side", ErrInvalidRequest)
		}
	case domain.White, domain.Black:
		bot := req.White
		human := req.Black
		if req.AutomatedSide == domain.Black {
			bot, human = human, bot
		}
		if !bot.IsBot() || human.IsBot() {
			return fmt.Errorf("%w: bot must sit on the automated side only", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: automated side %q", ErrInvalidRequest, req.AutomatedSide)
	}
	return nil
}

// ApplyMove admits a move proposed by identity. Bot moves use domain.BotIdentity.
func (r *Registry) ApplyMove(ctx context.Context, id, move, identity string) (AppliedMove, error) {
	return r.applyMove(ctx, id, move, identity, -1)
}

// applyMove rejects with errStalePly when ply >= 0 and the session has moved on.
func (r *Registry) applyMove(ctx context.Context, id, move, identity string, ply int) (AppliedMove, error) {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return AppliedMove{}, err
	}
	defer e.mu.Unlock()
	if e.snap.Status.Terminal() {
		return AppliedMove{}, ErrSessionTerminal
	}
	if ply >= 0 && len(e.snap.MovesUCI) != ply {
		return AppliedMove{}, errStalePly
	}

	now := r.now()
	mover := e.snap.Turn
	if !e.tc.Untimed() && clock.Expired(e.snap.Clock, mover, now) {
		r.expireLocked(ctx, e, now)
		return AppliedMove{}, ErrTimeout
	}

	if owner := e.snap.Participant(mover); identity == "" || owner.ID != identity {
		return AppliedMove{}, ErrNotYourTurn
	}

	applied, err := r.rules.Apply(e.position(), move)
	if errors.Is(err, rules.ErrIllegalMove) {
		return AppliedMove{}, fmt.Errorf("%w: %s", ErrIllegalMove, strings.TrimSpace(move))
	}
	if err != nil {
		return AppliedMove{}, fmt.Errorf("apply %s: %w", id, err)
	}

	next := e.snap.Clone()
	next.MovesUCI = append(next.MovesUCI, applied.UCI)
	next.MovesSAN = append(next.MovesSAN, applied.SAN)
	next.FEN = applied.FEN
	next.Turn = applied.Turn
	next.UpdatedAt = now

	expired := false
	if !e.tc.Untimed() {
		next.Clock, expired = clock.Tick(next.Clock, mover, now, e.tc.Increment)
	} else {
		next.Clock.LastTick = now
	}
	if expired {
		next.Status = domain.StatusCompleted
		next.Outcome = domain.Outcome{Result: domain.WinnerResult(mover.Opposite()), Cause: domain.CauseTimeout}
	} else {
		cls, err := r.rules.Classify(applied.Position)
		if err != nil {
			return AppliedMove{}, fmt.Errorf("classify %s: %w", id, err)
		}
		if cls.Terminal() {
			next.Status = domain.StatusCompleted
			next.Outcome = cls.Outcome()
		}
	}

	if err := r.store.Save(ctx, next); err != nil {
		obslog.L().Warn("session_persist_failed",
			zap.String("session_id", id),
			zap.String("uci", applied.UCI),
			zap.Error(err),
		)
		return AppliedMove{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.snap = next

	result := AppliedMove{
		SessionID:  id,
		UCI:        applied.UCI,
		SAN:        applied.SAN,
		FEN:        next.FEN,
		Clock:      next.Clock,
		Status:     next.Status,
		Outcome:    next.Outcome,
		SideToMove: next.Turn,
	}
	obslog.L().Info("session_move",
		zap.String("session_id", id),
		zap.String("identity", identity),
		zap.String("uci", applied.UCI),
		zap.String("san", applied.SAN),
		zap.String("status", string(next.Status)),
	)
	r.pub.Publish(events.Event{
		Type:      events.MoveApplied,
		SessionID: id,
		Payload: events.MovePayload{
			UCI:        applied.UCI,
			SAN:        applied.SAN,
			FEN:        next.FEN,
			Moves:      append([]string(nil), next.MovesSAN...),
			Clock:      next.Clock,
			SideToMove: next.Turn,
			Status:     next.Status,
			Outcome:    next.Outcome,
			By:         mover,
		},
	})
	if next.Status.Terminal() {
		r.endedLocked(e)
	} else if e.botToMove() {
		r.scheduleBot(id, len(next.MovesUCI), r.cfg.BotMoveDelay)
	}
	return result, nil
}

// Get returns a copy of the session, loading it from the store when it is not in memory.
func (r *Registry) Get(id string) (domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return r.Restore(ctx, id)
}

// Len reports how many sessions are held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// End aborts an active session. Ending a finished session is a no-op.
func (r *Registry) End(ctx context.Context, id string) error {
	return r.terminate(ctx, id, func(snap *domain.Snapshot) error {
		snap.Status = domain.StatusAborted
		snap.Outcome = domain.Outcome{Result: domain.ResultNone, Cause: domain.CauseAborted}
		return nil
	}, true)
}

// Resign concedes the session for identity.
func (r *Registry) Resign(ctx context.Context, id, identity string) error {
	return r.terminate(ctx, id, func(snap *domain.Snapshot) error {
		side := snap.SideOf(identity)
		if side == "" {
			return ErrNotParticipant
		}
		snap.Status = domain.StatusCompleted
		snap.Outcome = domain.Outcome{Result: domain.WinnerResult(side.Opposite()), Cause: domain.CauseResignation}
		return nil
	}, false)
}

func (r *Registry) terminate(ctx context.Context, id string, mutate func(*domain.Snapshot) error, idempotent bool) error {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	if e.snap.Status.Terminal() {
		if idempotent {
			return nil
		}
		return ErrSessionTerminal
	}

	now := r.now()
	next := e.snap.Clone()
	if err := mutate(&next); err != nil {
		return err
	}
	if !e.tc.Untimed() {
		next.Clock = clock.Pending(next.Clock, next.Turn, now)
	}
	next.Clock.LastTick = now
	next.UpdatedAt = now

	if err := r.store.Save(ctx, next); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.snap = next
	r.endedLocked(e)
	return nil
}

// AppendChat records a chat line. Chat stays open after the game ends.
func (r *Registry) AppendChat(ctx context.Context, id, sender, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		text = string([]rune(text)[:maxChatRunes])
	}
	if strings.TrimSpace(sender) == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: empty sender", ErrInvalidRequest)
	}

	e, err := r.acquire(ctx, id)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	defer e.mu.Unlock()

	msg := domain.ChatMessage{Sender: sender, Text: text, SentAt: r.now()}
	next := e.snap.Clone()
	next.Chat = append(next.Chat, msg)
	next.UpdatedAt = msg.SentAt
	if err := r.store.Save(ctx, next); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.snap = next
	r.pub.Publish(events.Event{Type: events.ChatReceived, SessionID: id, Payload: msg})
	return msg, nil
}

// Restore returns the session, loading it from the store when it is not in memory.
func (r *Registry) Restore(ctx context.Context, id string) (domain.Snapshot, error) {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer e.mu.Unlock()
	return e.snap.Clone(), nil
}

// RestoreAll restores every id and returns how many are now in memory.
func (r *Registry) RestoreAll(ctx context.Context, ids []string) int {
	n := 0
	for _, id := range ids {
		if _, err := r.Restore(ctx, id); err != nil {
			obslog.L().Warn("session_restore_failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// acquire returns the locked entry for id, loading it from the store when it is
// not in memory. The caller unlocks.
func (r *Registry) acquire(ctx context.Context, id string) (*entry, error) {
	id = strings.TrimSpace(id)
	for attempt := 0; attempt < 3; attempt++ {
		r.mu.RLock()
		e, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			var err error
			if e, err = r.load(ctx, id); err != nil {
				return nil, err
			}
		}
		e.mu.Lock()
		if !e.gone {
			return e, nil
		}
		e.mu.Unlock()
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// load inserts the stored snapshot for id. An active timed session resumes its
// clock from now, so downtime is not charged to the side to move.
func (r *Registry) load(ctx context.Context, id string) (*entry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrSessionNotFound)
	}
	loaded, err := r.store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	tc, err := clock.ParseTimeControl(loaded.TimeControl)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}

	e := &entry{snap: loaded.Clone(), tc: tc}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.mu.Lock()
	if cur, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return cur, nil
	}
	r.sessions[id] = e
	r.mu.Unlock()

	if e.snap.Status == domain.StatusActive {
		e.snap.Clock.LastTick = r.now()
	}
	obslog.L().Info("session_restored",
		zap.String("session_id", id),
		zap.Int("moves", len(e.snap.MovesUCI)),
		zap.String("status", string(e.snap.Status)),
	)
	if e.botToMove() {
		r.scheduleBot(id, len(e.snap.MovesUCI), r.cfg.BotMoveDelay)
	}
	return e, nil
}

// expireLocked completes the session on time. The in-memory state wins over a failed write.
func (r *Registry) expireLocked(ctx context.Context, e *entry, now time.Time) {
	loser := e.snap.Turn
	next := e.snap.Clone()
	next.Clock = clock.Pending(next.Clock, loser, now)
	next.Clock.LastTick = now
	next.Status = domain.StatusCompleted
	next.Outcome = domain.Outcome{Result: domain.WinnerResult(loser.Opposite()), Cause: domain.CauseTimeout}
	next.UpdatedAt = now

	if err := r.store.Save(ctx, next); err != nil {
		obslog.L().Error("session_timeout_persist_failed",
			zap.String("session_id", next.ID),
			zap.Error(err),
		)
	}
	e.snap = next
	r.endedLocked(e)
}

// endedLocked publishes sessionEnded and hands the snapshot to the archiver.
func (r *Registry) endedLocked(e *entry) {
	snap := e.snap.Clone()
	obslog.L().Info("session_ended",
		zap.String("session_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.String("result", string(snap.Outcome.Result)),
		zap.String("cause", snap.Outcome.Cause),
	)
	r.pub.Publish(events.Event{
		Type:      events.SessionEnded,
		SessionID: snap.ID,
		Payload:   events.EndPayload{Outcome: snap.Outcome, Status: snap.Status, Snapshot: snap},
	})
	if r.archiver == nil {
		return
	}
	archive := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.archiver.SaveResult(ctx, snap); err != nil {
			obslog.L().Error("session_archive_failed", zap.String("session_id", snap.ID), zap.Error(err))
			return
		}
		obslog.L().Info("session_archived", zap.String("session_id", snap.ID), zap.String("cause", snap.Outcome.Cause))
	}
	if !r.spawn(archive) {
		archive()
	}
}
