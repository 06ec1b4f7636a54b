package protocol

import (
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Stable reason codes sent in moveRejected and error frames.
const (
	ReasonIllegalMove        = "illegal_move"
	ReasonNotYourTurn        = "not_your_turn"
	ReasonSessionNotFound    = "session_not_found"
	ReasonSessionTerminal    = "session_terminal"
	ReasonDuplicateSession   = "duplicate_session"
	ReasonPersistence        = "persistence_failed"
	ReasonTimeout            = "timeout"
	ReasonNotParticipant     = "not_participant"
	ReasonEmptyMessage       = "empty_message"
	ReasonInvalidRequest     = "invalid_request"
	ReasonInvalidTimeControl = "invalid_time_control"
	ReasonInternal           = "internal"
)

// ReasonCode maps an error to its reason code.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, session.ErrIllegalMove):
		return ReasonIllegalMove
	case errors.Is(err, session.ErrNotYourTurn):
		return ReasonNotYourTurn
	case errors.Is(err, session.ErrSessionNotFound):
		return ReasonSessionNotFound
	case errors.Is(err, session.ErrSessionTerminal):
		return ReasonSessionTerminal
	case errors.Is(err, session.ErrDuplicateSession):
		return ReasonDuplicateSession
	case errors.Is(err, session.ErrPersistence):
		return ReasonPersistence
	case errors.Is(err, session.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, session.ErrNotParticipant):
		return ReasonNotParticipant
	case errors.Is(err, session.ErrEmptyMessage):
		return ReasonEmptyMessage
	case errors.Is(err, clock.ErrInvalidTimeControl):
		return ReasonInvalidTimeControl
	case errors.Is(err, session.ErrInvalidRequest):
		return ReasonInvalidRequest
	}
	return ReasonInternal
}

// View renders snap with the running side's clock as of now.
func View(snap domain.Snapshot, now time.Time) arenadto.SessionState {
	c := snap.Clock
	if snap.Status == domain.StatusActive && snap.TimeControl != "none" {
		c = clock.Pending(c, snap.Turn, now)
	}
	chat := make([]arenadto.ChatLine, 0, len(snap.Chat))
	for _, m := range snap.Chat {
		chat = append(chat, arenadto.ChatLine{Sender: m.Sender, Text: m.Text, SentAt: m.SentAt})
	}
	return arenadto.SessionState{
		ID:          snap.ID,
		StartFEN:    snap.StartFEN,
		FEN:         snap.FEN,
		MovesSAN:    append([]string{}, snap.MovesSAN...),
		MovesUCI:    append([]string{}, snap.MovesUCI...),
		Turn:        string(snap.Turn),
		White:       player(snap.White),
		Black:       player(snap.Black),
		TimeControl: snap.TimeControl,
		Clock:       clockView(c),
		Status:      string(snap.Status),
		Outcome:     outcomeView(snap.Outcome),
		BotTier:     snap.BotTier,
		Chat:        chat,
		CreatedAt:   snap.CreatedAt,
		UpdatedAt:   snap.UpdatedAt,
	}
}

func player(p domain.Participant) arenadto.Player {
	return arenadto.Player{ID: p.ID, Name: p.Name}
}

func clockView(c domain.ClockSnapshot) arenadto.Clock {
	return arenadto.Clock{WhiteMs: c.WhiteMs, BlackMs: c.BlackMs}
}

func outcomeView(o domain.Outcome) arenadto.Outcome {
	return arenadto.Outcome{Result: string(o.Result), Cause: o.Cause}
}
