package review

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("review record not found")

// Record is one graded move.
type Record struct {
	ID          string
	SessionID   string
	Ply         int
	Color       string
	Move        string
	BestMove    string
	BotMove     string
	Path        string
	Label       string
	LossWinrate float64
	LossScore   float64
	EngineCalls int
	Moves       []string
	CreatedAt   time.Time
}

type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error)
}

const defaultRecentLimit = 20

// prepare fills the id and timestamp when the caller left them empty.
func prepare(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Moves == nil {
		rec.Moves = []string{}
	}
}
