package engine

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/action"
	"github.com/memri/memri-go/internal/config"
	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/pod"
)

var _ action.Context = (*Engine)(nil)

func mustParseView(t *testing.T, src string) *cvu.Definition {
	t.Helper()
	defs, errs := cvu.ParseString(src, cvu.DomainSession)
	require.Empty(t, errs)
	require.Len(t, defs, 1)
	return defs[0]
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Database.Path = ":memory:"
	}
	stub := pod.NewStub()
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	e, err := New(context.Background(), cfg, pod.NewClient(srv.URL, "", nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestEngine_BootsWithValidDefaults(t *testing.T) {
	e := newTestEngine(t, nil)

	// The bundled definitions registered; named lookup works.
	_, err := e.Definitions().ByName("all-notes")
	require.NoError(t, err)

	// A fresh session has no views yet.
	cv, err := e.CurrentView(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cv)
}

func TestEngine_OpenViewNamed(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	cv, err := e.CurrentView(ctx)
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.Equal(t, "All Notes", cv.Title())
	assert.Equal(t, "list", cv.ActiveRenderer())
}

func TestEngine_OpenItemPushesDetailView(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	note, err := e.Cache().CreateItem(ctx, item.FamilyNote, map[string]item.Value{
		"title": item.String("meeting notes"),
	})
	require.NoError(t, err)

	require.NoError(t, e.OpenItem(ctx, note, nil))

	cv, err := e.CurrentView(ctx)
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.Equal(t, "meeting notes", cv.Title())
	require.Len(t, cv.ResultSet().Items(), 1)
	assert.Equal(t, note.UID, cv.ResultSet().Items()[0].UID)
}

func TestEngine_OpenUnknownNamedViewErrors(t *testing.T) {
	e := newTestEngine(t, nil)
	err := e.OpenViewNamed(context.Background(), ".does-not-exist", nil, nil)
	require.Error(t, err)
}

func TestEngine_SessionsSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memri.db")
	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath

	e1 := newTestEngine(t, cfg)
	require.NoError(t, e1.OpenViewNamed(context.Background(), ".all-notes", nil, nil))

	e2 := newTestEngine(t, cfg)
	sv := e2.Sessions().Current().CurrentView()
	require.NotNil(t, sv)
	assert.Equal(t, ".all-notes", sv.Name)
	assert.Equal(t, "Note", sv.Datasource.Query)
}

func TestEngine_UserCVUDirectoryOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.cvu"), []byte(`
Note[] {
    title: "My Notebook"
}
`), 0o644))

	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.CVU.Paths = []string{dir}
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, e.OpenViewDef(ctx, mustParseView(t, `Note[] { }`), nil, nil))
	cv, err := e.CurrentView(ctx)
	require.NoError(t, err)
	assert.Equal(t, "My Notebook", cv.Title())
}

func TestEngine_UnparsableUserFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cvu"), []byte(`[view = ] {`), 0o644))

	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.CVU.Paths = []string{dir}

	// Boot succeeds; the broken user file only logs.
	e := newTestEngine(t, cfg)
	_, err := e.Definitions().ByName("all-notes")
	require.NoError(t, err)
}

func TestEngine_ActionsDispatchAgainstEngine(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	sess := e.Sessions().Current()
	require.False(t, sess.EditMode)
	action.ExecuteAction(ctx, e, item.String("toggleEditMode"), nil, nil)
	assert.True(t, sess.EditMode)
}

func TestEngine_UIUpdatesCoalesce(t *testing.T) {
	e := newTestEngine(t, nil)

	updates := make(chan struct{}, 16)
	e.SetOnUpdate(func() { updates <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	for i := 0; i < 5; i++ {
		e.ScheduleUIUpdate()
	}
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no UI update delivered")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestDebugHistory_CapturesWarnings(t *testing.T) {
	e := newTestEngine(t, nil)

	e.Logger().Warn("something odd", zap.String("detail", "here"))
	e.Logger().Info("routine") // below the capture threshold

	entries := e.Debug().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "something odd", entries[0].Message)
	assert.Equal(t, "here", entries[0].Fields["detail"])
}

func TestDebugHistory_RingDropsOldest(t *testing.T) {
	h := NewDebugHistory(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		h.append(DebugEntry{Message: msg})
	}
	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message)
	assert.Equal(t, "e", entries[2].Message)
}
