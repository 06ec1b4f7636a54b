// Package arenadto holds the JSON frames exchanged over the arena WebSocket.
package arenadto

import (
	"encoding/json"
	"time"
)

// Inbound frame types.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeMove        = "move"
	TypeChat        = "chat"
	TypeFindMatch   = "findMatch"
	TypeCancelMatch = "cancelMatch"
	TypeResign      = "resign"
)

// Outbound frame types.
const (
	TypeMatchFound      = "matchFound"
	TypeSearching       = "searching"
	TypeSearchCancelled = "searchCancelled"
	TypeSessionState    = "sessionState"
	TypeMoveApplied     = "moveApplied"
	TypeChatReceived    = "chatReceived"
	TypeSessionEnded    = "sessionEnded"
	TypeMoveRejected    = "moveRejected"
	TypeError           = "error"
)

// Inbound is a client request. Only the fields of its type are set.
type Inbound struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	Move        string `json:"move,omitempty"`
	Text        string `json:"text,omitempty"`
	TimeControl string `json:"timeControl,omitempty"`
}

// Outbound is a server event.
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Frame is Outbound as decoded by clients, with the payload left raw.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Clock struct {
	WhiteMs int64 `json:"whiteMs"`
	BlackMs int64 `json:"blackMs"`
}

type Outcome struct {
	Result string `json:"result,omitempty"`
	Cause  string `json:"cause,omitempty"`
}

type ChatLine struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// SessionState is the full view sent on join and served by GET /games/{id}.
type SessionState struct {
	ID           string     `json:"id"`
	StartFEN     string     `json:"startFen,omitempty"`
	FEN          string     `json:"fen"`
	MovesSAN     []string   `json:"moves"`
	MovesUCI     []string   `json:"movesUci"`
	Turn         string     `json:"turn"`
	White        Player     `json:"white"`
	Black        Player     `json:"black"`
	TimeControl  string     `json:"timeControl"`
	Clock        Clock      `json:"clock"`
	Status       string     `json:"status"`
	Outcome      Outcome    `json:"outcome"`
	BotTier      string     `json:"botTier,omitempty"`
	OpeningCode  string     `json:"openingCode,omitempty"`
	OpeningTitle string     `json:"openingTitle,omitempty"`
	Chat         []ChatLine `json:"chat"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type MatchFound struct {
	SessionID   string `json:"sessionId"`
	Side        string `json:"side"`
	Opponent    Player `json:"opponent"`
	TimeControl string `json:"timeControl"`
	Message     string `json:"message,omitempty"`
}

type Searching struct {
	TimeControl string `json:"timeControl"`
	Waiting     int    `json:"waiting"`
	Message     string `json:"message,omitempty"`
}

type SearchCancelled struct {
	Removed bool   `json:"removed"`
	Message string `json:"message,omitempty"`
}

type MoveApplied struct {
	UCI        string   `json:"uci"`
	SAN        string   `json:"san"`
	FEN        string   `json:"fen"`
	Moves      []string `json:"moves"`
	Clock      Clock    `json:"clock"`
	SideToMove string   `json:"sideToMove"`
	Status     string   `json:"status"`
	Outcome    Outcome  `json:"outcome"`
	By         string   `json:"by"`
}

type SessionEnded struct {
	Status  string  `json:"status"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}

type MoveRejected struct {
	ReasonCode string `json:"reasonCode"`
	Message    string `json:"message"`
}

type Error struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// CreateGameRequest is the body of POST /games.
type CreateGameRequest struct {
	Identity    string `json:"identity"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	TimeControl string `json:"timeControl"`
	BotLevel    string `json:"botLevel"`
}

type CreateGameResponse struct {
	SessionID string `json:"sessionId"`
	Side      string `json:"side"`
}

type UserGames struct {
	Identity string   `json:"identity"`
	Games    []string `json:"games"`
}
