package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// PGNResult maps a session result to the PGN result token.
func PGNResult(r domain.Result) string {
	switch r {
	case domain.ResultWhiteWins:
		return "1-0"
	case domain.ResultBlackWins:
		return "0-1"
	case domain.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the SAN move log with the seven-tag roster plus TimeControl and Termination.
func BuildPGN(snap domain.Snapshot) string {
	result := PGNResult(snap.Outcome.Result)
	date := snap.CreatedAt
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	tag := func(name, value string) {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", name, sanitizePGN(value))
	}
	tag("Event", "Arena game")
	tag("Site", "cheese-arena")
	tag("Date", fmt.Sprintf("%04d.%02d.%02d", date.Year(), int(date.Month()), date.Day()))
	tag("Round", "-")
	tag("White", displayName(snap.White))
	tag("Black", displayName(snap.Black))
	tag("Result", result)
	if fen := strings.TrimSpace(snap.StartFEN); fen != "" && fen != "startpos" {
		tag("SetUp", "1")
		tag("FEN", fen)
	}
	if tc := strings.TrimSpace(snap.TimeControl); tc != "" {
		tag("TimeControl", tc)
	}
	if cause := strings.TrimSpace(snap.Outcome.Cause); cause != "" {
		tag("Termination", cause)
	}
	b.WriteString("\n")

	for i := 0; i < len(snap.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(snap.MovesSAN[i]))
		if i+1 < len(snap.MovesSAN) {
			b.WriteString(strings.TrimSpace(snap.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func displayName(p domain.Participant) string {
	if p.IsBot() {
		return "Bot"
	}
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.ID
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
