package oracle

import (
	"fmt"
	"os"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/park285/cheese-arena/internal/rules"
)

// Book answers positions from a polyglot opening book.
type Book struct {
	book *chesslib.PolyglotBook
}

func OpenBook(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	b, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return &Book{book: b}, nil
}

// Lookup returns the heaviest book move for pos, or "" when the position is out of book.
func (b *Book) Lookup(eng rules.Engine, pos rules.Position) (string, error) {
	if b == nil || b.book == nil {
		return "", nil
	}
	fen, err := eng.FEN(pos)
	if err != nil {
		return "", err
	}
	hashStr, err := chesslib.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return "", fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.book.FindMoves(chesslib.ZobristHashToUint64(hashStr))
	if len(entries) == 0 {
		return "", nil
	}

	best := entries[0]
	for _, e := range entries[1:] {
		if e.Weight > best.Weight {
			best = e
		}
	}
	move := chesslib.DecodeMove(best.Move).ToMove()
	uciMove := castleTarget(fen, move.String())
	if _, err := eng.Apply(pos, uciMove); err != nil {
		return "", fmt.Errorf("book move %q invalid for position: %w", uciMove, err)
	}
	return uciMove, nil
}

// polyglot encodes castling as the king capturing its own rook.
var polyglotCastles = map[string]string{
	"e1h1": "e1g1",
	"e1a1": "e1c1",
	"e8h8": "e8g8",
	"e8a8": "e8c8",
}

// castleTarget rewrites a polyglot castling move into UCI when a king stands on
// the from-square of fen.
func castleTarget(fen, uci string) string {
	to, ok := polyglotCastles[uci]
	if !ok {
		return uci
	}
	want := byte('K')
	if uci[1] == '8' {
		want = 'k'
	}
	if pieceAt(fen, uci[:2]) != want {
		return uci
	}
	return to
}

// pieceAt reads the piece letter on square from the placement field of fen, or 0.
func pieceAt(fen, square string) byte {
	placement, _, _ := strings.Cut(strings.TrimSpace(fen), " ")
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 || len(square) != 2 || square[1] < '1' || square[1] > '8' {
		return 0
	}
	file := int(square[0] - 'a')
	row := ranks[8-int(square[1]-'0')]
	col := 0
	for i := 0; i < len(row); i++ {
		c := row[i]
		if c >= '1' && c <= '8' {
			col += int(c - '0')
			continue
		}
		if col == file {
			return c
		}
		col++
	}
	return 0
}
