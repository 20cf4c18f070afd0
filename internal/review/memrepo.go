package review

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// memrepo keeps records in process memory; used when no database is
// configured.
type memrepo struct {
	mu        sync.RWMutex
	byID      map[string]*Record
	bySession map[string][]*Record
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:      make(map[string]*Record),
		bySession: make(map[string][]*Record),
	}
}

func (m *memrepo) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("nil review record")
	}
	prepare(rec)
	cp := clone(rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[cp.ID]; exists {
		return errors.New("duplicate review record id")
	}
	m.byID[cp.ID] = cp
	m.bySession[cp.SessionID] = append(m.bySession[cp.SessionID], cp)
	return nil
}

func (m *memrepo) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (m *memrepo) Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	m.mu.RLock()
	list := append([]*Record(nil), m.bySession[sessionID]...)
	m.mu.RUnlock()

	// newest first; ties by ply
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].Ply > list[j].Ply
	})
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*Record, 0, len(list))
	for _, r := range list {
		out = append(out, clone(r))
	}
	return out, nil
}

// clone copies rec so callers never share its Moves backing array.
func clone(rec *Record) *Record {
	cp := *rec
	cp.Moves = make([]string, len(rec.Moves))
	copy(cp.Moves, rec.Moves)
	return &cp
}
