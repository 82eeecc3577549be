package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks the open sessions of a multiplexing binding.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	log         *slog.Logger
	idleTimeout time.Duration
	newID       func() string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger passed to created sessions.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithIdleTimeout closes sessions that have seen no activity and have no
// attached writer for longer than d. Reaping happens inside Run.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithIDGenerator overrides the session id generator.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		log:      slog.New(slog.DiscardHandler),
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create opens a new session and tracks it until it closes.
func (m *Manager) Create(binding string, opts ...Option) *Session {
	opts = append([]Option{WithLogger(m.log)}, opts...)
	s := New(m.newID(), binding, opts...)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	s.OnClose(func() { m.remove(s) })
	m.log.Debug("sessions.create", slog.String("session_id", s.ID()), slog.String("binding", binding))
	return s
}

// Get returns the open session with the given id and records activity.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Closed() {
		return nil, false
	}
	s.Touch()
	return s, true
}

// Close closes the session with the given id. It reports whether the
// session was open.
func (m *Manager) Close(id string) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	_ = s.Close()
	return true
}

// CloseAll closes every tracked session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		_ = s.Close()
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run reaps idle sessions until ctx is done. It returns immediately when no
// idle timeout is configured.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	interval := m.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reapIdle(now)
		}
	}
}

func (m *Manager) reapIdle(now time.Time) int {
	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if !s.HasWriter() && now.Sub(s.LastActive()) > m.idleTimeout {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		m.log.Info("sessions.reap_idle", slog.String("session_id", s.ID()))
		_ = s.Close()
	}
	return len(idle)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.ID()]; ok && cur == s {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()
}
