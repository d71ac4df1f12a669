package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/item"
)

const indexSettingKey = "sessions/currentIndex"

// Save persists the manager's sessions and views as items, so session
// state rides the normal cache/sync path like any other data.
func Save(ctx context.Context, c *cache.Cache, m *Manager) error {
	for _, s := range m.sessions {
		if err := saveSession(ctx, c, s); err != nil {
			return err
		}
	}
	idx, err := json.Marshal(m.index)
	if err != nil {
		return err
	}
	_, err = c.CreateItem(ctx, item.FamilySetting, map[string]item.Value{
		"key":  item.String(indexSettingKey),
		"json": item.String(string(idx)),
	}, "key")
	return err
}

func saveSession(ctx context.Context, c *cache.Cache, s *Session) error {
	props := map[string]item.Value{
		"name":             item.String(s.Name),
		"currentViewIndex": item.Int(int64(s.index)),
		"editMode":         item.Bool(s.EditMode),
		"showFilterPanel":  item.Bool(s.ShowFilterPanel),
		"showContextPane":  item.Bool(s.ShowContextPane),
	}
	if s.UID != 0 {
		props["uid"] = item.Int(s.UID)
	}
	sessionItem, err := c.CreateItem(ctx, item.FamilySession, props)
	if err != nil {
		return fmt.Errorf("saving session %q: %w", s.Name, err)
	}
	s.UID = sessionItem.UID

	current := map[int64]bool{}
	for i, v := range s.views {
		viewItem, err := saveView(ctx, c, v)
		if err != nil {
			return err
		}
		current[viewItem.UID] = true
		if err := c.Link(ctx, sessionItem, viewItem, "view", "", i, false); err != nil {
			return err
		}
	}

	// Views dropped by forward-history truncation lose their edge.
	for _, e := range c.Edges(sessionItem.UID) {
		if e.Type != "view" || current[e.TargetUID] {
			continue
		}
		target := c.Get(e.TargetUID)
		if target == nil {
			continue
		}
		if err := c.Unlink(ctx, sessionItem, target, "view"); err != nil {
			return err
		}
	}
	return nil
}

func saveView(ctx context.Context, c *cache.Cache, v *View) (*item.Item, error) {
	ds, err := json.Marshal(v.Datasource)
	if err != nil {
		return nil, err
	}
	state, err := json.Marshal(v.UserState)
	if err != nil {
		return nil, err
	}
	args, err := json.Marshal(v.Args)
	if err != nil {
		return nil, err
	}
	props := map[string]item.Value{
		"name":           item.String(v.Name),
		"viewDefinition": item.String(v.Definition),
		"datasource":     item.String(string(ds)),
		"rendering":      item.String(v.Rendering),
		"userState":      item.String(string(state)),
		"viewArguments":  item.String(string(args)),
	}
	if v.UID != 0 {
		props["uid"] = item.Int(v.UID)
	}
	viewItem, err := c.CreateItem(ctx, item.FamilySessionView, props)
	if err != nil {
		return nil, fmt.Errorf("saving session view %q: %w", v.Name, err)
	}
	v.UID = viewItem.UID
	return viewItem, nil
}

// Load restores the manager from persisted items. A store with no
// sessions yields a fresh manager with one empty default session.
func Load(ctx context.Context, c *cache.Cache, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stored := c.Query(cache.Query{ItemType: string(item.FamilySession)})
	if len(stored) == 0 {
		return NewManager(logger), nil
	}

	m := &Manager{logger: logger, index: -1}
	for _, si := range stored {
		s, err := loadSession(c, si, logger)
		if err != nil {
			logger.Warn("skipping unreadable session", zap.Int64("uid", si.UID), zap.Error(err))
			continue
		}
		m.sessions = append(m.sessions, s)
	}
	if len(m.sessions) == 0 {
		return NewManager(logger), nil
	}

	m.index = len(m.sessions) - 1
	if setting := findSetting(c, indexSettingKey); setting != nil {
		var idx int
		if err := json.Unmarshal([]byte(setting.Get("json").Str()), &idx); err == nil &&
			idx >= 0 && idx < len(m.sessions) {
			m.index = idx
		}
	}
	return m, nil
}

func loadSession(c *cache.Cache, si *item.Item, logger *zap.Logger) (*Session, error) {
	s := NewSession(si.Get("name").Str(), logger)
	s.UID = si.UID
	s.EditMode = si.Get("editMode").BoolVal()
	s.ShowFilterPanel = si.Get("showFilterPanel").BoolVal()
	s.ShowContextPane = si.Get("showContextPane").BoolVal()

	viewItems, err := c.Targets(si, "view")
	if err != nil {
		return nil, err
	}
	for _, vi := range viewItems {
		v, err := loadView(vi)
		if err != nil {
			return nil, err
		}
		s.views = append(s.views, v)
	}
	idx := int(si.Get("currentViewIndex").IntVal())
	if idx >= 0 && idx < len(s.views) {
		s.index = idx
	} else {
		s.index = len(s.views) - 1
	}
	return s, nil
}

func loadView(vi *item.Item) (*View, error) {
	v := &View{
		UID:        vi.UID,
		Name:       vi.Get("name").Str(),
		Definition: vi.Get("viewDefinition").Str(),
		Rendering:  vi.Get("rendering").Str(),
		UserState:  NewUserState(),
		Args:       NewViewArguments(nil),
	}
	if raw := vi.Get("datasource").Str(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &v.Datasource); err != nil {
			return nil, fmt.Errorf("view %d datasource: %w", vi.UID, err)
		}
	}
	if raw := vi.Get("userState").Str(); raw != "" {
		if err := json.Unmarshal([]byte(raw), v.UserState); err != nil {
			return nil, fmt.Errorf("view %d userState: %w", vi.UID, err)
		}
	}
	if raw := vi.Get("viewArguments").Str(); raw != "" {
		if err := json.Unmarshal([]byte(raw), v.Args); err != nil {
			return nil, fmt.Errorf("view %d viewArguments: %w", vi.UID, err)
		}
	}
	return v, nil
}

func findSetting(c *cache.Cache, key string) *item.Item {
	for _, it := range c.Query(cache.Query{ItemType: string(item.FamilySetting)}) {
		if it.Get("key").Str() == key {
			return it
		}
	}
	return nil
}
