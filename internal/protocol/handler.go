// Package protocol turns client requests into registry and queue operations and
// fans session events out to subscribed transports.
package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

type Handler struct {
	reg   *session.Registry
	queue *matchmaking.Queue
	hub   *Hub
	cat   *msgcat.Catalog
	now   func() time.Time
}

// NewHandler wires the handler to pub so committed session events reach subscribers.
func NewHandler(reg *session.Registry, queue *matchmaking.Queue, hub *Hub, cat *msgcat.Catalog, pub *events.Publisher) *Handler {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	h := &Handler{reg: reg, queue: queue, hub: hub, cat: cat, now: time.Now}
	if pub != nil {
		pub.Subscribe(events.MoveApplied, h.onMoveApplied)
		pub.Subscribe(events.ChatReceived, h.onChatReceived)
		pub.Subscribe(events.SessionEnded, h.onSessionEnded)
	}
	return h
}

func (h *Handler) Hub() *Hub { return h.hub }

// Connect registers t so it can receive matchFound frames.
func (h *Handler) Connect(t Transport) { h.hub.Register(t) }

// Dispatch routes one inbound frame.
func (h *Handler) Dispatch(ctx context.Context, t Transport, identity, displayName string, in arenadto.Inbound) {
	switch in.Type {
	case arenadto.TypeJoin:
		h.Join(ctx, t, in.SessionID)
	case arenadto.TypeLeave:
		h.Leave(ctx, t, in.SessionID)
	case arenadto.TypeMove:
		h.RequestMove(ctx, t, in.SessionID, in.Move, identity)
	case arenadto.TypeChat:
		h.SendChat(ctx, t, in.SessionID, in.Text, identity)
	case arenadto.TypeFindMatch:
		h.RequestPairing(ctx, t, identity, displayName, in.TimeControl)
	case arenadto.TypeCancelMatch:
		h.CancelPairing(ctx, t, identity)
	case arenadto.TypeResign:
		h.Resign(ctx, t, in.SessionID, identity)
	default:
		h.sendError(t, "", ReasonInvalidRequest, fmt.Sprintf("unknown frame type %q", in.Type))
	}
}

// Join subscribes t to sessionID and replies with the current state.
func (h *Handler) Join(ctx context.Context, t Transport, sessionID string) {
	snap, err := h.reg.Restore(ctx, sessionID)
	if err != nil {
		h.reject(t, sessionID, err, "")
		return
	}
	h.hub.Subscribe(snap.ID, t)
	t.Send(arenadto.Outbound{Type: arenadto.TypeSessionState, SessionID: snap.ID, Payload: View(snap, h.now())})
}

func (h *Handler) Leave(_ context.Context, t Transport, sessionID string) {
	h.hub.Unsubscribe(sessionID, t)
}

// RequestMove submits a move. Rejections go to t only; successes are broadcast.
func (h *Handler) RequestMove(ctx context.Context, t Transport, sessionID, move, identity string) {
	if _, err := h.reg.ApplyMove(ctx, sessionID, move, identity); err != nil {
		obslog.L().Debug("move_rejected",
			zap.String("session_id", sessionID),
			zap.String("identity", identity),
			zap.String("move", move),
			zap.Error(err),
		)
		h.reject(t, sessionID, err, move)
	}
}

func (h *Handler) SendChat(ctx context.Context, t Transport, sessionID, text, identity string) {
	if _, err := h.reg.AppendChat(ctx, sessionID, identity, text); err != nil {
		h.reject(t, sessionID, err, "")
	}
}

func (h *Handler) Resign(ctx context.Context, t Transport, sessionID, identity string) {
	if err := h.reg.Resign(ctx, sessionID, identity); err != nil {
		h.reject(t, sessionID, err, "")
	}
}

// RequestPairing pairs identity with the oldest waiter on the same time control,
// or leaves it waiting.
func (h *Handler) RequestPairing(ctx context.Context, t Transport, identity, displayName, timeControl string) {
	tc, err := clock.ParseTimeControl(timeControl)
	if err != nil {
		h.sendError(t, "", ReasonInvalidTimeControl, h.cat.Text("reason.invalid_time_control", map[string]any{"Key": timeControl}))
		return
	}
	key := tc.String()
	if strings.TrimSpace(displayName) == "" {
		displayName = identity
	}

	opp, matched, err := h.queue.FindOrEnqueue(identity, displayName, key, t.ID())
	if err != nil {
		h.sendError(t, "", ReasonInvalidRequest, h.cat.Text("reason.invalid_request", nil))
		return
	}
	if !matched {
		t.Send(arenadto.Outbound{Type: arenadto.TypeSearching, Payload: arenadto.Searching{
			TimeControl: key,
			Waiting:     h.queue.Size(key),
			Message:     h.cat.Text("match.searching", map[string]any{"Key": key}),
		}})
		return
	}

	me := domain.Participant{ID: identity, Name: displayName}
	them := domain.Participant{ID: opp.Identity, Name: opp.DisplayName}
	whiteID, _ := matchmaking.AssignSides(me.ID, them.ID)
	white, black := me, them
	if whiteID != me.ID {
		white, black = them, me
	}

	snap, err := h.reg.Create(ctx, session.CreateRequest{TimeControl: key, White: white, Black: black})
	oppT, oppOnline := h.hub.Transport(opp.Transport)
	if err != nil {
		obslog.L().Error("match_create_failed",
			zap.String("white", white.ID),
			zap.String("black", black.ID),
			zap.Error(err),
		)
		h.queue.Requeue(opp)
		msg := h.cat.Text("match.create_failed", nil)
		h.sendError(t, "", ReasonCode(err), msg)
		if oppOnline {
			h.sendError(oppT, "", ReasonCode(err), msg)
		}
		return
	}

	obslog.L().Info("match_found",
		zap.String("session_id", snap.ID),
		zap.String("white", white.ID),
		zap.String("black", black.ID),
		zap.String("time_control", key),
	)
	h.notifyMatch(t, snap, me.ID, them)
	if oppOnline {
		h.notifyMatch(oppT, snap, them.ID, me)
	}
}

func (h *Handler) notifyMatch(t Transport, snap domain.Snapshot, identity string, opponent domain.Participant) {
	side := snap.SideOf(identity)
	h.hub.Subscribe(snap.ID, t)
	t.Send(arenadto.Outbound{Type: arenadto.TypeMatchFound, SessionID: snap.ID, Payload: arenadto.MatchFound{
		SessionID:   snap.ID,
		Side:        string(side),
		Opponent:    player(opponent),
		TimeControl: snap.TimeControl,
		Message:     h.cat.Text("match.found", map[string]any{"Opponent": opponent.Name, "Side": side}),
	}})
}

func (h *Handler) CancelPairing(_ context.Context, t Transport, identity string) {
	removed := h.queue.Cancel(identity)
	t.Send(arenadto.Outbound{Type: arenadto.TypeSearchCancelled, Payload: arenadto.SearchCancelled{
		Removed: removed,
		Message: h.cat.Text("match.cancelled", nil),
	}})
}

// Disconnect drops t's queue entries and subscriptions. Sessions keep running.
func (h *Handler) Disconnect(t Transport) {
	if n := h.queue.CancelByTransport(t.ID()); n > 0 {
		obslog.L().Info("queue_entries_dropped", zap.String("transport", t.ID()), zap.Int("count", n))
	}
	h.hub.Unregister(t)
}

func (h *Handler) onMoveApplied(ev events.Event) {
	p, ok := ev.Payload.(events.MovePayload)
	if !ok {
		return
	}
	h.hub.Broadcast(ev.SessionID, arenadto.Outbound{Type: arenadto.TypeMoveApplied, SessionID: ev.SessionID, Payload: arenadto.MoveApplied{
		UCI:        p.UCI,
		SAN:        p.SAN,
		FEN:        p.FEN,
		Moves:      p.Moves,
		Clock:      clockView(p.Clock),
		SideToMove: string(p.SideToMove),
		Status:     string(p.Status),
		Outcome:    outcomeView(p.Outcome),
		By:         string(p.By),
	}})
}

func (h *Handler) onChatReceived(ev events.Event) {
	m, ok := ev.Payload.(domain.ChatMessage)
	if !ok {
		return
	}
	h.hub.Broadcast(ev.SessionID, arenadto.Outbound{Type: arenadto.TypeChatReceived, SessionID: ev.SessionID, Payload: arenadto.ChatLine{
		Sender: m.Sender,
		Text:   m.Text,
		SentAt: m.SentAt,
	}})
}

func (h *Handler) onSessionEnded(ev events.Event) {
	p, ok := ev.Payload.(events.EndPayload)
	if !ok {
		return
	}
	h.hub.Broadcast(ev.SessionID, arenadto.Outbound{Type: arenadto.TypeSessionEnded, SessionID: ev.SessionID, Payload: arenadto.SessionEnded{
		Status:  string(p.Status),
		Outcome: outcomeView(p.Outcome),
		Message: h.endMessage(p),
	}})
}

func (h *Handler) endMessage(p events.EndPayload) string {
	key := "game.ended." + p.Outcome.Cause
	if p.Outcome.Result == domain.ResultDraw && p.Outcome.Cause != domain.CauseStalemate {
		key = "game.ended.draw"
	}
	winner := ""
	switch p.Outcome.Result {
	case domain.ResultWhiteWins:
		winner = p.Snapshot.White.Name
	case domain.ResultBlackWins:
		winner = p.Snapshot.Black.Name
	}
	return h.cat.Text(key, map[string]any{"Winner": winner, "Cause": p.Outcome.Cause})
}

func (h *Handler) reject(t Transport, sessionID string, err error, move string) {
	code := ReasonCode(err)
	data := map[string]any{"Move": move, "SessionID": sessionID}
	msg := h.cat.Text("reason."+code, data)
	if code == ReasonInternal {
		obslog.L().Error("request_failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	t.Send(arenadto.Outbound{Type: arenadto.TypeMoveRejected, SessionID: sessionID, Payload: arenadto.MoveRejected{
		ReasonCode: code,
		Message:    msg,
	}})
}

func (h *Handler) sendError(t Transport, sessionID, reason, message string) {
	t.Send(arenadto.Outbound{Type: arenadto.TypeError, SessionID: sessionID, Payload: arenadto.Error{
		Reason:  reason,
		Message: message,
	}})
}
