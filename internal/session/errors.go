package session

import "errors"

var (
	ErrIllegalMove      = errors.New("illegal move")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionTerminal  = errors.New("session is over")
	ErrDuplicateSession = errors.New("session already exists")
	ErrPersistence      = errors.New("session persistence failed")
	ErrTimeout          = errors.New("flag fell")
	ErrNotParticipant   = errors.New("not a participant")
	ErrEmptyMessage     = errors.New("empty chat message")
	ErrInvalidRequest   = errors.New("invalid session request")

	// errStalePly marks a bot move computed for a position that has since changed.
	errStalePly = errors.New("position changed")
)
