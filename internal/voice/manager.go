package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aurelia-labs/voicecore/internal/observe"
)

// SessionManager is the registry of live sessions. It owns nothing about a
// session's behavior; it only tracks membership and fans out shutdown.
type SessionManager struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*VoiceSession
}

// NewSessionManager creates an empty registry.
func NewSessionManager(log *slog.Logger, metrics *observe.Metrics) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		log:      log,
		metrics:  metrics,
		sessions: make(map[string]*VoiceSession),
	}
}

// Add registers a session. Returns false if the id is already taken.
func (m *SessionManager) Add(s *VoiceSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID()]; exists {
		return false
	}
	m.sessions[s.ID()] = s
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	return true
}

// Get returns the session with the given id, if registered.
func (m *SessionManager) Get(id string) (*VoiceSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session from the registry. Safe to call for ids that were
// already removed.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.metrics.ActiveSessions.Add(context.Background(), -1)
}

// Len returns the number of registered sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every registered session and waits for each to finish.
// Stopping a session removes it from the registry via its onClose hook, so
// iteration works on a snapshot.
func (m *SessionManager) Shutdown(reason string) {
	m.mu.Lock()
	snapshot := make([]*VoiceSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	m.log.Info("manager: shutting down sessions", "count", len(snapshot), "reason", reason)
	for _, s := range snapshot {
		s.Stop(reason)
	}
}
