package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chemsearch/searchservice/internal/metrics"
)

const (
	defaultIdleTTL      = 30 * time.Minute
	defaultReapInterval = time.Minute
)

// Manager owns the live sessions and closes the ones left idle.
type Manager struct {
	lookup       Lookup
	sessionOpts  []SessionOption
	idleTTL      time.Duration
	reapInterval time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

type ManagerOption func(*Manager)

func WithSessionOptions(opts ...SessionOption) ManagerOption {
	return func(m *Manager) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

func WithReapInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.reapInterval = interval
		}
	}
}

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(lookup Lookup, opts ...ManagerOption) *Manager {
	m := &Manager{
		lookup:       lookup,
		idleTTL:      defaultIdleTTL,
		reapInterval: defaultReapInterval,
		logger:       slog.Default(),
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create() *Session {
	id := uuid.NewString()
	opts := append([]SessionOption{WithLogger(m.logger)}, m.sessionOpts...)
	session := NewSession(id, m.lookup, opts...)

	m.mu.Lock()
	m.sessions[id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	m.logger.Debug("session created", slog.String("session", id))
	return session
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	metrics.SessionsActive.Set(float64(count))
	session.Close()
	m.logger.Debug("session closed", slog.String("session", id))
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartBackground runs the idle reaper until ctx is done.
func (m *Manager) StartBackground(ctx context.Context) {
	go m.runReaper(ctx)
}

func (m *Manager) runReaper(ctx context.Context) {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.reapIdle(time.Now()); n > 0 {
				m.logger.Info("idle sessions closed", slog.Int("count", n))
			}
		}
	}
}

func (m *Manager) reapIdle(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, session := range m.sessions {
		if now.Sub(session.LastActive()) > m.idleTTL {
			idle = append(idle, session)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}
	metrics.SessionsActive.Set(float64(count))
	for _, session := range idle {
		session.Close()
	}
	return len(idle)
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, session := range m.sessions {
		sessions = append(sessions, session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	metrics.SessionsActive.Set(0)
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()
			session.Close()
		}(session)
	}
	wg.Wait()
}
