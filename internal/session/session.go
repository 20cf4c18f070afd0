package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/baduk-coach/internal/baduk"
)

var ErrOutOfTurn = errors.New("move played out of turn")

// Session is the authoritative move history of one game. Readers always get
// a copy, so a request that embedded a snapshot never sees later appends.
type Session struct {
	mu    sync.RWMutex
	moves []baduk.Move
}

func New() *Session {
	return &Session{moves: []baduk.Move{}}
}

// Reset clears the history; black is to move.
func (s *Session) Reset() {
	s.mu.Lock()
	s.moves = []baduk.Move{}
	s.mu.Unlock()
}

// Append adds one ply. color must be the side to move.
func (s *Session) Append(color baduk.Color, move string) error {
	if !color.Valid() {
		return fmt.Errorf("invalid color %q", color)
	}
	coord := baduk.NormalizeMove(move)
	if coord == "" {
		return fmt.Errorf("empty move")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if next := nextColor(len(s.moves)); color != next {
		return fmt.Errorf("%w: %s played, %s to move", ErrOutOfTurn, color, next)
	}
	s.moves = append(s.moves, baduk.Move{Color: color, Coord: coord})
	return nil
}

func (s *Session) Moves() []baduk.Move {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return baduk.CloneMoves(s.moves)
}

// NextColor is black after an even number of plies, passes included.
func (s *Session) NextColor() baduk.Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nextColor(len(s.moves))
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.moves)
}

// Restore replaces the history with moves, re-checking turn order.
func (s *Session) Restore(moves []baduk.Move) error {
	for i, m := range moves {
		if m.Color != nextColor(i) {
			return fmt.Errorf("%w: ply %d is %s", ErrOutOfTurn, i+1, m.Color)
		}
		if strings.TrimSpace(m.Coord) == "" {
			return fmt.Errorf("empty move at ply %d", i+1)
		}
	}
	s.mu.Lock()
	s.moves = baduk.CloneMoves(moves)
	s.mu.Unlock()
	return nil
}

func nextColor(n int) baduk.Color {
	if n%2 == 0 {
		return baduk.Black
	}
	return baduk.White
}
