package baduk

import (
	"fmt"
	"strings"
)

type Color string

const (
	Black Color = "b"
	White Color = "w"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool {
	return c == Black || c == White
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	default:
		return string(c)
	}
}

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "b", "black":
		return Black, nil
	case "w", "white":
		return White, nil
	default:
		return "", fmt.Errorf("unknown color %q", s)
	}
}

// Move is one ply of the history echoed to the engine on every request.
type Move struct {
	Color Color
	Coord string
}

// Pair renders the move the way the analysis engine expects it: ["b","D4"].
func (m Move) Pair() [2]string {
	return [2]string{string(m.Color), m.Coord}
}

// ColorToMove returns whose turn it is after the given history. An empty
// history is black to move (no handicap placement).
func ColorToMove(moves []Move) Color {
	if len(moves) == 0 {
		return Black
	}
	return moves[len(moves)-1].Color.Opponent()
}

func CloneMoves(moves []Move) []Move {
	if moves == nil {
		return []Move{}
	}
	return append(make([]Move, 0, len(moves)), moves...)
}
