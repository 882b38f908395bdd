package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paydeck/formflow/internal/app/metrics"
	"github.com/paydeck/formflow/internal/app/storage"
	"github.com/paydeck/formflow/internal/form/events"
	"github.com/paydeck/formflow/internal/form/feequote"
	"github.com/paydeck/formflow/internal/upstream"
	"github.com/paydeck/formflow/pkg/logger"
)

// Manager owns the live sessions. Sessions are ephemeral: they exist only
// in memory and are discarded on close.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	api           upstream.API
	audit         storage.SubmissionAuditStore
	events        events.Log
	debounceDelay time.Duration
	log           *logger.Logger
}

// NewManager creates a session manager.
func NewManager(api upstream.API, audit storage.SubmissionAuditStore, log events.Log, debounceDelay time.Duration, lg *logger.Logger) *Manager {
	if lg == nil {
		lg = logger.NewDefault("session-manager")
	}
	if log == nil {
		log = events.NopLog{}
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		api:           api,
		audit:         audit,
		events:        log,
		debounceDelay: debounceDelay,
		log:           lg,
	}
}

// CreateParams are the caller-supplied properties of a new session.
type CreateParams struct {
	Direction feequote.Direction
	Source    string
	Balance   *decimal.Decimal
}

// Create opens a new session.
func (m *Manager) Create(params CreateParams) *Session {
	s := New(Config{
		Direction:     params.Direction,
		Source:        params.Source,
		Balance:       params.Balance,
		DebounceDelay: m.debounceDelay,
		API:           m.api,
		Audit:         m.audit,
		Events:        m.events,
		Log:           m.log,
	})

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	metrics.SessionOpened()
	m.log.WithField("session_id", s.ID()).
		WithField("direction", params.Direction.String()).
		Info("session created")
	return s
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close discards a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Close()
	metrics.SessionClosed()
	m.log.WithField("session_id", id).Info("session closed")
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Events returns the shared event log.
func (m *Manager) Events() events.Log { return m.events }
