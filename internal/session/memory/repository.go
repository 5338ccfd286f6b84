// Package sessionmemory is the default session store. The data model is
// ephemeral: nothing survives a restart.
package sessionmemory

import (
	"context"
	"sync"

	"github.com/ledossier/backend/internal/serviceerr"
	"github.com/ledossier/backend/internal/session"
)

type Repository struct {
	mu       sync.RWMutex
	states   map[string]session.State
	sessions map[string]session.Session
}

var _ = session.Repository(&Repository{})

func NewRepository() *Repository {
	return &Repository{
		states:   make(map[string]session.State),
		sessions: make(map[string]session.Session),
	}
}

func (r *Repository) LoadState(_ context.Context, stateID string) (session.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[stateID]
	if !ok {
		return session.State{}, serviceerr.ErrNotFound
	}

	return state, nil
}

func (r *Repository) StoreState(_ context.Context, state session.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[state.ID]; ok {
		return serviceerr.ErrConflict
	}
	r.states[state.ID] = state

	return nil
}

func (r *Repository) DeleteState(_ context.Context, stateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[stateID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.states, stateID)

	return nil
}

func (r *Repository) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return session.Session{}, serviceerr.ErrNotFound
	}

	return s, nil
}

func (r *Repository) StoreSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s

	return nil
}

func (r *Repository) ListSessions(_ context.Context) ([]session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	return sessions, nil
}

func (r *Repository) DeleteSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.sessions, s.ID)

	return nil
}
