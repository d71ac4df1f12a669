// Package engine assembles the application: store, cache, pod client,
// sync, sessions, view definitions and action dispatch behind one root
// object the wire surface talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	stdsync "sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/memri/memri-go/defaults"
	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/config"
	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/pod"
	"github.com/memri/memri-go/internal/schema"
	"github.com/memri/memri-go/internal/session"
	"github.com/memri/memri-go/internal/store"
	"github.com/memri/memri-go/internal/sync"
	"github.com/memri/memri-go/internal/view"
)

// Engine is the root context object. It implements action.Context.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	debug  *DebugHistory

	store    *store.Store
	cache    *cache.Cache
	schema   *schema.Schema
	pod      pod.Client
	syncer   *sync.Syncer
	sessions *session.Manager
	defs     *view.Definitions
	watcher  *cvu.Watcher

	mu      stdsync.Mutex
	current *view.CascadingView

	uiKick   chan struct{}
	onUpdate func()
}

// New boots the engine: opens the store, loads the cache, parses the
// bundled default definitions and restores persisted sessions. A
// default definition that fails to parse is a fatal error; the bundled
// files ship with the binary and must be valid.
func New(ctx context.Context, cfg *config.Config, p pod.Client, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	debug := NewDebugHistory(defaultHistorySize)
	logger = withHistory(logger, debug)

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	sch, err := schema.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	c, err := cache.New(ctx, st, sch, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading cache: %w", err)
	}

	syncCfg := sync.DefaultConfig()
	syncCfg.PollInterval = cfg.PollInterval()
	if cfg.Sync.BatchSize > 0 {
		syncCfg.BatchSize = cfg.Sync.BatchSize
	}

	sessions, err := session.Load(ctx, c, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("restoring sessions: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		debug:    debug,
		store:    st,
		cache:    c,
		schema:   sch,
		pod:      p,
		syncer:   sync.New(c, p, syncCfg, logger),
		sessions: sessions,
		defs:     view.NewDefinitions(c, logger),
		uiKick:   make(chan struct{}, 1),
	}

	if err := e.loadDefaults(); err != nil {
		st.Close()
		return nil, err
	}
	if err := e.loadUserDirs(ctx); err != nil {
		st.Close()
		return nil, err
	}

	sessions.SetOnChange(e.ScheduleUIUpdate)
	c.Bus().Subscribe("engine", cache.HandlerFunc(func(context.Context, cache.Event) error {
		e.ScheduleUIUpdate()
		return nil
	}))
	return e, nil
}

func (e *Engine) loadDefaults() error {
	names, srcs, err := defaults.Files()
	if err != nil {
		return fmt.Errorf("reading bundled definitions: %w", err)
	}
	for _, name := range names {
		defs, errs := cvu.ParseString(srcs[name], cvu.DomainDefaults)
		if len(errs) > 0 {
			return fmt.Errorf("bundled definition %s: %w", name, errs[0])
		}
		e.defs.RegisterDefaults(defs)
	}
	return nil
}

// loadUserDirs imports .cvu files from the configured directories as
// user-domain stored definitions, keyed by path so a re-import updates
// in place.
func (e *Engine) loadUserDirs(ctx context.Context) error {
	for _, dir := range e.cfg.CVU.Paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading cvu directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(pathExt(entry.Name()), ".cvu") {
				continue
			}
			e.importUserFile(ctx, dir+string(os.PathSeparator)+entry.Name())
		}
	}
	return nil
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// importUserFile upserts one on-disk .cvu file as a stored user
// definition. Parse failures are logged and skipped so a half-saved
// file never takes the engine down.
func (e *Engine) importUserFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.Warn("reading cvu file", zap.String("path", path), zap.Error(err))
		return
	}
	src := string(data)
	if _, errs := cvu.ParseString(src, cvu.DomainUser); len(errs) > 0 {
		e.logger.Warn("skipping unparsable cvu file",
			zap.String("path", path), zap.Error(errs[0]))
		return
	}
	_, err = e.cache.CreateItem(ctx, item.FamilyCVUStoredDefinition, map[string]item.Value{
		"name":       item.String(path),
		"domain":     item.String(string(cvu.DomainUser)),
		"definition": item.String(src),
	}, "name")
	if err != nil {
		e.logger.Warn("storing cvu file", zap.String("path", path), zap.Error(err))
	}
}

// Run drives the engine's background work until the context ends: the
// event bus, the sync loops, the coalesced UI-update pump and, when
// configured, the .cvu directory watcher.
func (e *Engine) Run(ctx context.Context) error {
	e.cache.Bus().Start(ctx)

	if len(e.cfg.CVU.Paths) > 0 {
		w, err := cvu.NewWatcher(e.cfg.CVU.Paths, func(path string) {
			e.importUserFile(ctx, path)
			e.ScheduleUIUpdate()
		}, e.logger)
		if err != nil {
			return fmt.Errorf("watching cvu directories: %w", err)
		}
		e.watcher = w
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.syncer.Run(ctx) })
	g.Go(func() error { return e.uiLoop(ctx) })
	if e.watcher != nil {
		g.Go(func() error { return e.watcher.Run(ctx) })
	}
	err := g.Wait()
	e.cache.Bus().Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store. Call after Run has returned.
func (e *Engine) Close() error {
	return e.store.Close()
}

// SetOnUpdate installs the callback the UI pump invokes. Updates fired
// before a callback exists are dropped.
func (e *Engine) SetOnUpdate(fn func()) {
	e.mu.Lock()
	e.onUpdate = fn
	e.mu.Unlock()
}

func (e *Engine) uiLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.uiKick:
			e.mu.Lock()
			fn := e.onUpdate
			e.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	}
}

// Cache implements action.Context.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Schema implements action.Context.
func (e *Engine) Schema() *schema.Schema { return e.schema }

// Sessions implements action.Context.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Logger implements action.Context.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// DateFormat implements action.Context.
func (e *Engine) DateFormat() string { return e.cfg.DateFormat }

// Definitions exposes the view-definition resolver.
func (e *Engine) Definitions() *view.Definitions { return e.defs }

// Syncer exposes the sync engine for subscription wiring.
func (e *Engine) Syncer() *sync.Syncer { return e.syncer }

// Debug exposes the captured warn/error history.
func (e *Engine) Debug() *DebugHistory { return e.debug }

// ScheduleUIUpdate coalesces repaint requests: any number of calls
// between pump iterations collapse into one callback.
func (e *Engine) ScheduleUIUpdate() {
	select {
	case e.uiKick <- struct{}{}:
	default:
	}
}

// ScheduleSync nudges the outbound sync loop.
func (e *Engine) ScheduleSync() {
	e.syncer.Schedule()
}

// CurrentView returns the cascading view for the session's current
// navigation entry, loading it on first access. Returns nil when the
// session has no views yet.
func (e *Engine) CurrentView(ctx context.Context) (*view.CascadingView, error) {
	sv := e.sessions.Current().CurrentView()
	if sv == nil {
		return nil, nil
	}

	e.mu.Lock()
	if e.current != nil && e.current.SessionView == sv {
		cv := e.current
		e.mu.Unlock()
		return cv, nil
	}
	cv := view.NewCascadingView(sv, e.defs, e.cache, e.schema, e.cfg.DateFormat, e.logger)
	e.current = cv
	e.mu.Unlock()

	if err := cv.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading view: %w", err)
	}
	return cv, nil
}

// OpenViewDef implements action.Context: push a view built from an
// inline definition.
func (e *Engine) OpenViewDef(ctx context.Context, def *cvu.Definition, target *item.Item, args *session.ViewArguments) error {
	sv := session.NewView("", datasourceFrom(def, target))
	sv.Parsed = def
	if args != nil {
		sv.Args = args
	}
	return e.push(ctx, sv)
}

// OpenViewNamed implements action.Context: push a view resolved from a
// stored definition.
func (e *Engine) OpenViewNamed(ctx context.Context, name string, target *item.Item, args *session.ViewArguments) error {
	trimmed := strings.TrimPrefix(name, ".")
	def, err := e.defs.ByName(trimmed)
	if err != nil {
		return err
	}
	sv := session.NewView("."+trimmed, datasourceFrom(def, target))
	if args != nil {
		sv.Args = args
	}
	return e.push(ctx, sv)
}

// OpenItem implements action.Context: push an item detail view.
func (e *Engine) OpenItem(ctx context.Context, target *item.Item, args *session.ViewArguments) error {
	sv := session.NewView(string(target.Family), session.Datasource{
		Query: detailQuery(target),
	})
	if args != nil {
		sv.Args = args
	}
	return e.push(ctx, sv)
}

func (e *Engine) push(ctx context.Context, sv *session.View) error {
	e.sessions.Current().Push(sv)
	if _, err := e.CurrentView(ctx); err != nil {
		return err
	}
	if err := session.Save(ctx, e.cache, e.sessions); err != nil {
		e.logger.Warn("persisting sessions", zap.Error(err))
	}
	e.ScheduleSync()
	e.ScheduleUIUpdate()
	return nil
}

// RunImporter implements action.Context: ask the pod to start an
// importer run, then sync to pick up its results.
func (e *Engine) RunImporter(ctx context.Context, uid int64) error {
	resp, err := e.pod.RunImporter(ctx, uid)
	if err != nil {
		return err
	}
	e.logger.Info("importer run started",
		zap.Int64("uid", uid), zap.String("message", resp.Message))
	e.ScheduleSync()
	return nil
}

// RunIndexer implements action.Context.
func (e *Engine) RunIndexer(ctx context.Context, uid int64) error {
	resp, err := e.pod.RunIndexer(ctx, uid)
	if err != nil {
		return err
	}
	e.logger.Info("indexer run started",
		zap.Int64("uid", uid), zap.String("message", resp.Message))
	e.ScheduleSync()
	return nil
}

// datasourceFrom derives a view's datasource: the definition's own
// [datasource] child when present, a uid-pinned detail query for a
// target item, else the definition's type selector.
func datasourceFrom(def *cvu.Definition, target *item.Item) session.Datasource {
	for _, child := range def.Children {
		if child.Kind != cvu.KindDatasource {
			continue
		}
		return session.Datasource{
			Query:         child.Get("query").Str(),
			SortProperty:  child.Get("sortProperty").Str(),
			SortAscending: child.Get("sortAscending").AsBool(),
		}
	}
	if target != nil {
		return session.Datasource{Query: detailQuery(target)}
	}
	if def.Type != "" {
		return session.Datasource{Query: def.Type}
	}
	return session.Datasource{Query: "*"}
}

func detailQuery(target *item.Item) string {
	return fmt.Sprintf("%s uid = %d", target.Family, target.UID)
}
