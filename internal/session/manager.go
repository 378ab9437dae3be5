package session

import (
	"sync"
	"time"
)

// closeAllTimeout bounds how long CloseAll waits for session teardown
// so a stuck session cannot hang daemon shutdown.
const closeAllTimeout = 5 * time.Second

// Manager owns the active call sessions. Sessions are single-shot;
// ended sessions stay registered until removed so the control API can
// still read their final status and transcript.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers a session under its ID.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get returns the session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	return s, ok
}

// Remove drops a session from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// All returns the registered sessions.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll hangs up every active session and waits for each teardown
// to finish. Used on daemon shutdown: the room must not be left until
// every session has unpublished its custom track.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Hangup()
	}

	deadline := time.After(closeAllTimeout)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			log.Warnf("shutdown: session %s did not finish tearing down in time", s.ID)
			return
		}
	}
}
