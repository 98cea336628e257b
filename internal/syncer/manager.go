package syncer

import (
	"context"
	"errors"
	"sync"
)

// Factory builds a fresh orchestrator for a user.
type Factory func(userID string) (*Orchestrator, error)

// Manager caches one started session per user. A session whose load failed
// is discarded on the next access so the user can retry by making a new
// request, matching the reload-to-recover behavior of the client.
type Manager struct {
	factory Factory

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

// NewManager constructs the session manager.
func NewManager(factory Factory) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("syncer: session factory is required")
	}
	return &Manager{
		factory:  factory,
		sessions: make(map[string]*Orchestrator),
	}, nil
}

// Session returns the ready session for the user, starting one when none
// exists yet. The per-user lock is the manager-wide mutex: session starts
// are rare (one per login) and cheap enough to serialize.
func (m *Manager) Session(ctx context.Context, userID string) (*Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[userID]; ok {
		if session.Phase() != PhaseErrored {
			return session, nil
		}
		delete(m.sessions, userID)
	}

	session, err := m.factory(userID)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	m.sessions[userID] = session
	return session, nil
}

// Drop forgets the cached session for the user, forcing a fresh load on
// the next access.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// DrainSaves waits for the background save workers of every cached session,
// so acknowledged mutations reach the store before the process exits. The
// first context expiry aborts the drain and is returned.
func (m *Manager) DrainSaves(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Orchestrator, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		if err := session.WaitForSaves(ctx); err != nil {
			return err
		}
	}
	return nil
}
