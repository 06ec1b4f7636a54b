package domain

import "time"

// BotIdentity marks the seat played by the automated opponent.
const BotIdentity = "bot"

// Side identifies a chess side.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func (s Side) Opposite() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) Valid() bool { return s == White || s == Black }

// Status is the session lifecycle state. Transitions only leave Active.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAborted   Status = "ABORTED"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAborted }

// Result is the final score of a session.
type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
)

func WinnerResult(side Side) Result {
	if side == White {
		return ResultWhiteWins
	}
	return ResultBlackWins
}

const (
	CauseCheckmate   = "checkmate"
	CauseStalemate   = "stalemate"
	CauseTimeout     = "timeout"
	CauseResignation = "resignation"
	CauseAborted     = "aborted"
)

type Outcome struct {
	Result Result `json:"result"`
	Cause  string `json:"cause,omitempty"`
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p Participant) IsBot() bool { return p.ID == BotIdentity }

// ClockSnapshot holds both remaining times at LastTick.
type ClockSnapshot struct {
	WhiteMs  int64     `json:"white_ms"`
	BlackMs  int64     `json:"black_ms"`
	LastTick time.Time `json:"last_tick"`
}

func (c ClockSnapshot) Remaining(side Side) int64 {
	if side == White {
		return c.WhiteMs
	}
	return c.BlackMs
}

type ChatMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Snapshot is the durable mirror of a session.
type Snapshot struct {
	ID            string        `json:"id"`
	StartFEN      string        `json:"start_fen,omitempty"`
	FEN           string        `json:"fen"`
	MovesUCI      []string      `json:"moves_uci"`
	MovesSAN      []string      `json:"moves_san"`
	Turn          Side          `json:"turn"`
	TimeControl   string        `json:"time_control"`
	Clock         ClockSnapshot `json:"clock"`
	White         Participant   `json:"white"`
	Black         Participant   `json:"black"`
	AutomatedSide Side          `json:"automated_side,omitempty"`
	BotTier       string        `json:"bot_tier,omitempty"`
	Status        Status        `json:"status"`
	Outcome       Outcome       `json:"outcome"`
	Chat          []ChatMessage `json:"chat"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Participant returns the player seated on side.
func (s *Snapshot) Participant(side Side) Participant {
	if side == White {
		return s.White
	}
	return s.Black
}

// SideOf returns the side played by identity, or "" when it is not seated.
func (s *Snapshot) SideOf(identity string) Side {
	switch identity {
	case "":
		return ""
	case s.White.ID:
		return White
	case s.Black.ID:
		return Black
	}
	return ""
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	out.MovesUCI = append([]string(nil), s.MovesUCI...)
	out.MovesSAN = append([]string(nil), s.MovesSAN...)
	out.Chat = append([]ChatMessage(nil), s.Chat...)
	return out
}
