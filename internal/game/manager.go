package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/metrics"
)

// cleanupInterval is how often idle sessions are looked for
const cleanupInterval = 30 * time.Second

// Manager owns the live sessions, one per mission
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration
	interval time.Duration

	deps    Deps
	config  Config
	metrics *metrics.Metrics

	totalSessions uint64
	replaced      uint64
	expired       uint64

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerStats represents manager statistics for monitoring
type ManagerStats struct {
	ActiveSessions int    `json:"active_sessions"`
	TotalSessions  uint64 `json:"total_sessions"`
	Replaced       uint64 `json:"replaced_sessions"`
	Expired        uint64 `json:"expired_sessions"`
}

// NewManager creates a session manager and starts its cleanup routine.
// Sessions without traffic for timeout are stopped.
func NewManager(logger *slog.Logger, timeout time.Duration, deps Deps, config Config, m *metrics.Metrics) *Manager {
	return newManager(logger, timeout, cleanupInterval, deps, config, m)
}

func newManager(logger *slog.Logger, timeout, interval time.Duration, deps Deps, config Config, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With(slog.String("component", "game")),
		timeout:  timeout,
		interval: interval,
		deps:     deps,
		config:   config,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// CreateSession registers a new session for the mission. An existing
// session for the same mission is stopped first, so a reconnecting player
// takes over the broadcast.
func (m *Manager) CreateSession(missionID string, sender Sender) (*Session, error) {
	session, err := NewSession(m.ctx, missionID, sender, m.deps, m.config, m.logger, m.metrics)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	existing, exists := m.sessions[missionID]
	m.sessions[missionID] = session
	m.totalSessions++
	if exists {
		m.replaced++
	}
	m.mu.Unlock()

	if exists {
		m.logger.Warn("Session already exists, replacing",
			slog.String("mission_id", missionID),
			slog.Time("existing_start", existing.StartTime),
		)
		existing.Stop()
	}

	m.logger.Info("Created game session", slog.String("mission_id", missionID))
	return session, nil
}

// GetSession returns the live session for a mission
func (m *Manager) GetSession(missionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[missionID]
	return s, ok
}

// RemoveSession stops and forgets a session. It does nothing when the
// mission has since been taken over by a newer session.
func (m *Manager) RemoveSession(missionID string, session *Session) bool {
	m.mu.Lock()
	current, ok := m.sessions[missionID]
	if !ok || current != session {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, missionID)
	m.mu.Unlock()

	session.Stop()

	info := session.GetInfo()
	m.logger.Info("Removed game session",
		slog.String("mission_id", missionID),
		slog.Duration("duration", info.Duration),
		slog.Uint64("lines_spoken", info.LinesSpoken),
		slog.Uint64("user_messages", info.UserMessages),
		slog.Int("awakened_listeners", info.AwakenedListeners),
	)
	return true
}

// GetActiveSessionCount returns the number of live sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns snapshots of every live session
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.GetInfo())
	}
	return infos
}

// GetStats returns manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{
		ActiveSessions: len(m.sessions),
		TotalSessions:  m.totalSessions,
		Replaced:       m.replaced,
		Expired:        m.expired,
	}
}

// Stop ends every session and the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping game manager...")

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.Stop()
	}

	<-m.cleanup

	stats := m.GetStats()
	m.logger.Info("Game manager stopped",
		slog.Int("stopped_sessions", len(sessions)),
		slog.Uint64("total_sessions", stats.TotalSessions),
		slog.Uint64("replaced_sessions", stats.Replaced),
		slog.Uint64("expired_sessions", stats.Expired),
	)
}

// startCleanupRoutine runs in a separate goroutine to stop idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("check_interval", m.interval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	if m.timeout <= 0 {
		return
	}
	now := time.Now()

	m.mu.RLock()
	expired := make(map[string]*Session)
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.timeout {
			expired[id] = s
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
	for id, s := range expired {
		if m.RemoveSession(id, s) {
			m.mu.Lock()
			m.expired++
			m.mu.Unlock()
		}
	}
}
