package session

import (
	"go.uber.org/zap"
)

// Manager owns every open session and the cursor over them. The UI
// shows one session at a time; the session switcher moves the cursor.
type Manager struct {
	sessions []*Session
	index    int
	logger   *zap.Logger
	onChange func()
}

// NewManager creates a manager with one empty default session.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{logger: logger, index: -1}
	m.Add(NewSession("default", logger))
	return m
}

// SetOnChange registers the callback fired after each mutation; the
// engine uses it to schedule a UI update.
func (m *Manager) SetOnChange(fn func()) { m.onChange = fn }

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// Sessions returns every open session in order.
func (m *Manager) Sessions() []*Session { return m.sessions }

// Index returns the current session cursor.
func (m *Manager) Index() int { return m.index }

// Current returns the active session.
func (m *Manager) Current() *Session {
	if m.index < 0 || m.index >= len(m.sessions) {
		return nil
	}
	return m.sessions[m.index]
}

// Add appends a session and makes it current.
func (m *Manager) Add(s *Session) {
	m.sessions = append(m.sessions, s)
	m.index = len(m.sessions) - 1
	m.changed()
}

// SwitchTo moves the cursor to an open session. Out-of-bounds indexes
// are ignored with a warning.
func (m *Manager) SwitchTo(i int) {
	if i < 0 || i >= len(m.sessions) {
		m.logger.Warn("switchTo out of bounds", zap.Int("index", i), zap.Int("sessions", len(m.sessions)))
		return
	}
	m.index = i
	m.changed()
}

// NotifyChanged fires the change callback for mutations made directly
// on a session or view.
func (m *Manager) NotifyChanged() { m.changed() }
