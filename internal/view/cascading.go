package view

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/cascade"
	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/schema"
	"github.com/memri/memri-go/internal/session"
)

// State is the view-load lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateCascading State = "cascading"
	StateQuerying  State = "querying"
	StateLoaded    State = "loaded"
)

// CascadingView binds one session view to its resolved definition
// cascade and live result set. Loading runs a small state machine:
// when the item type is inferable from the query text the cascade is
// assembled before data arrives, otherwise the query runs first and
// the type comes from the results. Both orders end at StateLoaded.
type CascadingView struct {
	SessionView *session.View

	defs       *Definitions
	cache      *cache.Cache
	schema     *schema.Schema
	dateFormat string
	logger     *zap.Logger

	mu        stdsync.Mutex
	state     State
	stack     *cascade.Stack
	resultSet *cache.ResultSet
	itemType  string
	isList    bool
}

// NewCascadingView wraps a session view; nothing is resolved until Load.
func NewCascadingView(sv *session.View, defs *Definitions, c *cache.Cache, sch *schema.Schema, dateFormat string, logger *zap.Logger) *CascadingView {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadingView{
		SessionView: sv,
		defs:        defs,
		cache:       c,
		schema:      sch,
		dateFormat:  dateFormat,
		logger:      logger,
		state:       StateIdle,
	}
}

// State returns the current lifecycle position.
func (cv *CascadingView) State() State {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.state
}

// ResultSet returns the live result set, nil before the first load.
func (cv *CascadingView) ResultSet() *cache.ResultSet {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.resultSet
}

// ItemType returns the resolved item type, empty before load.
func (cv *CascadingView) ItemType() string {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.itemType
}

// Load resolves the cascade and result set. A load already in flight
// makes a second call a logged no-op; a finished view reloads.
func (cv *CascadingView) Load(ctx context.Context) error {
	cv.mu.Lock()
	if cv.state != StateIdle && cv.state != StateLoaded {
		cv.logger.Warn("view load already in progress", zap.String("state", string(cv.state)))
		cv.mu.Unlock()
		return nil
	}
	cv.state = StateLoading
	cv.mu.Unlock()

	err := cv.load(ctx)
	cv.mu.Lock()
	if err != nil {
		cv.state = StateIdle
	} else {
		cv.state = StateLoaded
	}
	cv.mu.Unlock()
	return err
}

func (cv *CascadingView) load(ctx context.Context) error {
	q := cv.query()

	if !q.MatchesAll() {
		// Type is static: renderer config is ready before data.
		cv.setState(StateCascading)
		typeName := strings.TrimSuffix(q.ItemType, "[]")
		if err := cv.buildStack(typeName); err != nil {
			return err
		}
		cv.setState(StateQuerying)
		cv.runQuery(ctx, q)
		return nil
	}

	cv.setState(StateQuerying)
	cv.runQuery(ctx, q)
	cv.setState(StateCascading)
	typeName := cv.resultSet.DeterminedType()
	if typeName == "" || typeName == "mixed" {
		typeName = "*"
	}
	return cv.buildStack(typeName)
}

func (cv *CascadingView) setState(s State) {
	cv.mu.Lock()
	cv.state = s
	cv.mu.Unlock()
}

func (cv *CascadingView) query() cache.Query {
	ds := cv.SessionView.Datasource
	q := cache.ParseQuery(ds.Query)
	q.SortProperty = ds.SortProperty
	q.SortAscending = ds.SortAscending
	return q
}

// isListQuery reports whether the datasource addresses a collection. A
// filter pinning a single uid means an item detail view.
func (cv *CascadingView) isListQuery(q cache.Query) bool {
	return !strings.Contains(q.Filter, "uid =")
}

func (cv *CascadingView) runQuery(ctx context.Context, q cache.Query) {
	rs := cv.cache.ResultSet(q)
	rs.Load(ctx)

	// Client-side filters ride on user state.
	us := cv.SessionView.UserState
	rs.SetFilterText(us.Get("filterText").Str())
	rs.SetStarredOnly(us.Get("showStarred").AsBool())

	cv.mu.Lock()
	cv.resultSet = rs
	cv.mu.Unlock()
}

func (cv *CascadingView) buildStack(typeName string) error {
	q := cv.query()
	isList := cv.isListQuery(q)

	var defs []*cvu.Definition

	if cv.SessionView.Parsed != nil {
		defs = append(defs, cv.SessionView.Parsed)
	}
	if src := cv.SessionView.Definition; src != "" {
		parsed, errs := cvu.ParseString(src, cvu.DomainSession)
		if len(errs) > 0 {
			return fmt.Errorf("inline view definition: %w", errs[0])
		}
		defs = append(defs, parsed...)
	}
	if name := cv.SessionView.Name; name != "" && !isSelector(name) {
		named, err := cv.defs.ByName(strings.TrimPrefix(name, "."))
		if err != nil {
			return err
		}
		defs = append(defs, named)
	}
	defs = append(defs, cv.defs.ForType(typeName, isList)...)
	if len(defs) == 0 {
		return fmt.Errorf("no view definition found for type %q", typeName)
	}

	stack := cascade.New(cv.logger, defs...)
	if err := stack.ResolveInherit(cv.defs.ByName, cv.scope(nil)); err != nil {
		return err
	}

	cv.mu.Lock()
	cv.stack = stack
	cv.itemType = typeName
	cv.isList = isList
	cv.mu.Unlock()
	return nil
}

// isSelector reports whether a view name is really a type selector
// such as "Person[]" rather than a stored-definition name.
func isSelector(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	head := strings.TrimSuffix(name, "[]")
	_, ok := item.LookupFamily(head)
	return ok || head == "*"
}

func (cv *CascadingView) scope(it *item.Item) *expression.Scope {
	return &expression.Scope{
		Item:       it,
		Variables:  cv.SessionView.Args.Resolve,
		Resolver:   cv.cache,
		Schema:     cv.schema,
		DateFormat: cv.dateFormat,
		Logger:     cv.logger,
	}
}

// Property resolves a cascaded view property in the view's own scope.
func (cv *CascadingView) Property(name string) item.Value {
	cv.mu.Lock()
	stack := cv.stack
	cv.mu.Unlock()
	if stack == nil {
		return item.Nil()
	}
	return stack.Property(name, cv.scope(nil))
}

// Title returns the cascaded view title.
func (cv *CascadingView) Title() string {
	return cv.Property("title").AsString(cv.dateFormat)
}

// DefaultRenderer returns the renderer the cascade selects when the
// session view has no explicit choice.
func (cv *CascadingView) DefaultRenderer() string {
	return cv.Property("defaultRenderer").AsString(cv.dateFormat)
}

// ActiveRenderer returns the session view's renderer override, falling
// back to the cascade default, then "list".
func (cv *CascadingView) ActiveRenderer() string {
	if r := cv.SessionView.Rendering; r != "" {
		return r
	}
	if r := cv.DefaultRenderer(); r != "" {
		return r
	}
	return "list"
}

// EditActionButton returns the cascaded action for the nav bar, if any.
func (cv *CascadingView) EditActionButton() item.Value {
	return cv.Property("editActionButton")
}

// FilterButtons returns the cascaded filter-button actions.
func (cv *CascadingView) FilterButtons() []item.Value {
	cv.mu.Lock()
	stack := cv.stack
	cv.mu.Unlock()
	if stack == nil {
		return nil
	}
	return stack.List("filterButtons", true, cv.scope(nil))
}
