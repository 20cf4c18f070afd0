package session

import (
	"errors"
	"sync"
)

// DefaultID names the single shared session the HTTP surface uses.
const DefaultID = "default"

var ErrNotFound = errors.New("session not found")

type entry struct {
	lock    sync.Mutex
	session *Session
}

// Registry holds sessions by id, each with its own serialization lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]*entry)}
	r.entries[DefaultID] = &entry{session: New()}
	return r
}

func (r *Registry) Default() *Session {
	s, _ := r.Get(DefaultID)
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.session, nil
}

// Lock returns the mutex that serializes evaluation runs for id.
func (r *Registry) Lock(id string) (*sync.Mutex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e.lock, nil
}
