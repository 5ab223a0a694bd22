package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/events"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/metrics"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcription"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	MaxSessions     int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Session         Config
}

// Manager owns every live session in the service. It enforces the
// concurrent session limit, reaps sessions whose clients went quiet, and
// feeds the monitoring API.
type Manager struct {
	config ManagerConfig
	logger *slog.Logger

	// Shared session dependencies
	connector transcription.Connector
	analyzer  *analysis.Analyzer
	publisher *events.Publisher
	metrics   *metrics.Metrics

	sessions map[string]*Session
	mu       sync.RWMutex

	// Statistics
	totalCreated uint64

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine.
// Publisher and metrics may be nil; sessions then skip those side channels.
func NewManager(config ManagerConfig, connector transcription.Connector, analyzer *analysis.Analyzer,
	publisher *events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Manager {

	if config.MaxSessions <= 0 {
		config.MaxSessions = 100
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		config:    config,
		logger:    logger,
		connector: connector,
		analyzer:  analyzer,
		publisher: publisher,
		metrics:   m,
		sessions:  make(map[string]*Session),
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Create registers a new idle session bound to one client's emitter
func (m *Manager) Create(emitter Emitter) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.config.MaxSessions {
		m.logger.Warn("Session limit reached",
			slog.Int("max_sessions", m.config.MaxSessions))
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	session := New(id, m.config.Session, m.connector, m.analyzer, m.publisher, m.metrics, emitter, m.logger)
	m.sessions[id] = session
	m.totalCreated++

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created recording session",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(m.sessions)))

	return session, nil
}

// Get retrieves an existing session
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// Remove closes a session and forgets it. The close happens outside the
// manager lock because it waits for the session's goroutines.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.Close()

	duration := time.Since(session.CreatedAt)
	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(duration.Seconds())
		m.metrics.SetActiveSessions(active)
	}

	m.logger.Info("Recording session removed",
		slog.String("session_id", id),
		slog.String("state", session.State().String()),
		slog.Duration("duration", duration),
		slog.Int("active_sessions", active))

	return true
}

// ActiveCount returns the number of currently tracked sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TotalCreated returns how many sessions this manager has ever created
func (m *Manager) TotalCreated() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalCreated
}

// Infos returns a snapshot of every tracked session for monitoring
func (m *Manager) Infos() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetInfo())
	}
	return infos
}

// Stop closes every session and halts the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("closed_sessions", len(sessions)),
		slog.Uint64("total_created", m.TotalCreated()))
}

// startCleanupRoutine runs in a separate goroutine to reap idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions removes sessions with no traffic inside the idle
// timeout. A recording session with audio flowing touches its activity
// constantly, so only abandoned sessions age out.
func (m *Manager) cleanupIdleSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up idle sessions",
		slog.Int("expired_count", len(expired)))

	for _, id := range expired {
		m.Remove(id)
	}
}
