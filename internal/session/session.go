package session

import (
	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cvu"
)

// Datasource names the query a view loads plus its sort side-channel.
type Datasource struct {
	Query         string `json:"query"`
	SortProperty  string `json:"sortProperty,omitempty"`
	SortAscending bool   `json:"sortAscending,omitempty"`
}

// View is one entry in a session's navigation history. It binds a view
// definition to a datasource and the overlays the view accumulated.
type View struct {
	UID int64 `json:"uid,omitempty"`
	// Name is the stored-definition selector this view was opened from,
	// e.g. "Person[]" or ".inbox". Empty for inline definitions.
	Name string `json:"name,omitempty"`
	// Definition carries inline CVU source when the view was opened
	// from a literal definition rather than a stored one.
	Definition string `json:"definition,omitempty"`
	// Parsed carries an already-parsed inline definition for views
	// opened straight from an action argument. Not persisted; such
	// views reload from their datasource after a restart.
	Parsed *cvu.Definition `json:"-"`

	Datasource Datasource     `json:"datasource"`
	Rendering  string         `json:"rendering,omitempty"`
	UserState  *UserState     `json:"userState,omitempty"`
	Args       *ViewArguments `json:"viewArguments,omitempty"`
}

// NewView builds a view with empty overlays.
func NewView(name string, ds Datasource) *View {
	return &View{
		Name:       name,
		Datasource: ds,
		UserState:  NewUserState(),
		Args:       NewViewArguments(nil),
	}
}

// Clone deep-copies the view for session duplication.
func (v *View) Clone() *View {
	cp := *v
	cp.UID = 0
	cp.UserState = v.UserState.Clone()
	cp.Args = v.Args.Clone()
	return &cp
}

// Session is an ordered view history with a cursor, browser-back
// style. Views are only removed by forward-history truncation on push.
type Session struct {
	UID   int64
	Name  string
	views []*View
	index int

	EditMode        bool
	ShowFilterPanel bool
	ShowContextPane bool

	logger *zap.Logger
}

// NewSession creates an empty session.
func NewSession(name string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{Name: name, index: -1, logger: logger}
}

// Views returns the history in order.
func (s *Session) Views() []*View { return s.views }

// Index returns the cursor position, -1 when empty.
func (s *Session) Index() int { return s.index }

// CurrentView returns the view under the cursor, nil when empty.
func (s *Session) CurrentView() *View {
	if s.index < 0 || s.index >= len(s.views) {
		return nil
	}
	return s.views[s.index]
}

// Push appends a view and moves the cursor to it. Pushing from a
// non-terminal position truncates the forward history first.
func (s *Session) Push(v *View) {
	if s.index < len(s.views)-1 {
		dropped := len(s.views) - 1 - s.index
		s.views = s.views[:s.index+1]
		s.logger.Debug("truncated forward history", zap.Int("dropped", dropped))
	}
	s.views = append(s.views, v)
	s.index = len(s.views) - 1
}

// Back moves the cursor one view back. At the start of history this is
// a no-op with a warning.
func (s *Session) Back() *View {
	if s.index <= 0 {
		s.logger.Warn("back: already at the start of session history",
			zap.Int("index", s.index), zap.Int("views", len(s.views)))
		return s.CurrentView()
	}
	s.index--
	return s.CurrentView()
}

// Forward moves the cursor one view ahead. At the end of history this
// is a no-op with a warning.
func (s *Session) Forward() *View {
	if s.index >= len(s.views)-1 {
		s.logger.Warn("forward: already at the end of session history",
			zap.Int("index", s.index), zap.Int("views", len(s.views)))
		return s.CurrentView()
	}
	s.index++
	return s.CurrentView()
}

// ForwardToFront jumps the cursor to the newest view.
func (s *Session) ForwardToFront() *View {
	s.index = len(s.views) - 1
	return s.CurrentView()
}

// SetIndex moves the cursor to an absolute position within bounds.
func (s *Session) SetIndex(i int) {
	if i < 0 || i >= len(s.views) {
		s.logger.Warn("setIndex out of bounds", zap.Int("index", i), zap.Int("views", len(s.views)))
		return
	}
	s.index = i
}

// Duplicate deep-copies the whole session including its history and
// cursor. The copy has no uid until persisted.
func (s *Session) Duplicate(name string) *Session {
	cp := NewSession(name, s.logger)
	cp.EditMode = s.EditMode
	cp.ShowFilterPanel = s.ShowFilterPanel
	cp.ShowContextPane = s.ShowContextPane
	for _, v := range s.views {
		cp.views = append(cp.views, v.Clone())
	}
	cp.index = s.index
	return cp
}
