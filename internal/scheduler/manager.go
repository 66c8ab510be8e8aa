package scheduler

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Factory builds a new, unstarted session for an account.
type Factory func(accountID string) (*Session, error)

// Manager keeps at most one session per account.
type Manager struct {
	mu       sync.Mutex
	factory  Factory
	sessions map[string]*Session
}

// NewManager creates a Manager that builds sessions with factory.
func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory, sessions: make(map[string]*Session)}
}

// Open returns the session for accountID, starting one if needed.
// A session whose initial load failed is kept so Refresh can retry it; the
// load error is returned alongside it. The session is registered before it
// starts, so Get and Switch do not wait on the initial load.
func (m *Manager) Open(ctx context.Context, accountID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[accountID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s, err := m.factory(accountID)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("build session for %s: %w", accountID, err)
	}
	m.sessions[accountID] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Get returns the session for accountID, if any.
func (m *Manager) Get(accountID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[accountID]
	return s, ok
}

// Close tears down the session for accountID.
func (m *Manager) Close(accountID string) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	delete(m.sessions, accountID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Switch replaces the session of one account with a session of another. The
// old session's tasks are fully stopped before the new one starts.
func (m *Manager) Switch(ctx context.Context, from, to string) (*Session, error) {
	if from != to {
		m.Close(from)
		log.WithFields(log.Fields{"from": from, "to": to}).Info("account switched")
	}
	return m.Open(ctx, to)
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
