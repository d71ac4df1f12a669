package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/store"
)

func threeViewSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession("test", nil)
	s.Push(NewView("a", Datasource{Query: "Note"}))
	s.Push(NewView("b", Datasource{Query: "Person"}))
	s.Push(NewView("c", Datasource{Query: "Photo"}))
	return s
}

func TestSession_BackAtStartIsNoop(t *testing.T) {
	s := threeViewSession(t)
	s.SetIndex(0)

	got := s.Back()
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, "a", got.Name)
}

func TestSession_ForwardAtEndIsNoop(t *testing.T) {
	s := threeViewSession(t)
	require.Equal(t, 2, s.Index())

	got := s.Forward()
	assert.Equal(t, 2, s.Index())
	assert.Equal(t, "c", got.Name)
}

func TestSession_BackThenForward(t *testing.T) {
	s := threeViewSession(t)

	assert.Equal(t, "b", s.Back().Name)
	assert.Equal(t, "a", s.Back().Name)
	assert.Equal(t, "b", s.Forward().Name)
	assert.Equal(t, "c", s.ForwardToFront().Name)
}

func TestSession_PushTruncatesForwardHistory(t *testing.T) {
	s := threeViewSession(t)
	s.SetIndex(0)

	s.Push(NewView("d", Datasource{Query: "File"}))

	views := s.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].Name)
	assert.Equal(t, "d", views[1].Name)
	assert.Equal(t, 1, s.Index())
}

func TestSession_DuplicateIsIndependent(t *testing.T) {
	s := threeViewSession(t)
	s.CurrentView().UserState.Set("scroll", item.Int(40))
	s.EditMode = true

	dup := s.Duplicate("copy")
	require.Len(t, dup.Views(), 3)
	assert.Equal(t, s.Index(), dup.Index())
	assert.True(t, dup.EditMode)
	assert.Equal(t, int64(40), dup.CurrentView().UserState.Get("scroll").IntVal())

	dup.CurrentView().UserState.Set("scroll", item.Int(99))
	assert.Equal(t, int64(40), s.CurrentView().UserState.Get("scroll").IntVal())
}

func TestManager_SwitchBounds(t *testing.T) {
	m := NewManager(nil)
	m.Add(NewSession("second", nil))
	require.Equal(t, 1, m.Index())

	m.SwitchTo(0)
	assert.Equal(t, "default", m.Current().Name)

	m.SwitchTo(7)
	assert.Equal(t, 0, m.Index())
}

func TestManager_OnChangeFires(t *testing.T) {
	m := NewManager(nil)
	var fired int
	m.SetOnChange(func() { fired++ })

	m.Add(NewSession("x", nil))
	m.SwitchTo(0)
	assert.Equal(t, 2, fired)
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	c, err := cache.New(ctx, st, nil, nil)
	require.NoError(t, err)
	return c
}

func TestPersist_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	person, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)

	m := NewManager(nil)
	s := m.Current()
	s.Name = "main"
	s.EditMode = true
	v := NewView("Person[]", Datasource{Query: "Person", SortProperty: "firstName", SortAscending: true})
	v.Rendering = "list"
	v.UserState.Set("scroll", item.Int(12))
	v.Args.Set("subject", item.Ref(person.Ref()))
	s.Push(v)
	s.Push(NewView("Note[]", Datasource{Query: "Note"}))
	s.Back()

	require.NoError(t, Save(ctx, c, m))

	loaded, err := Load(ctx, c, nil)
	require.NoError(t, err)
	require.Len(t, loaded.Sessions(), 1)
	ls := loaded.Current()
	assert.Equal(t, "main", ls.Name)
	assert.True(t, ls.EditMode)
	require.Len(t, ls.Views(), 2)
	assert.Equal(t, 0, ls.Index())

	lv := ls.CurrentView()
	assert.Equal(t, "Person[]", lv.Name)
	assert.Equal(t, "Person", lv.Datasource.Query)
	assert.Equal(t, "firstName", lv.Datasource.SortProperty)
	assert.Equal(t, "list", lv.Rendering)
	assert.Equal(t, int64(12), lv.UserState.Get("scroll").IntVal())

	// The item argument comes back as a ref, not a snapshot.
	ref := lv.Args.Get("subject")
	require.Equal(t, item.KindItemRef, ref.Kind())
	assert.Equal(t, person.UID, ref.RefVal().UID)
}

func TestPersist_TruncationDropsViewEdges(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m := NewManager(nil)
	s := m.Current()
	s.Push(NewView("a", Datasource{Query: "Note"}))
	s.Push(NewView("b", Datasource{Query: "Person"}))
	s.Push(NewView("c", Datasource{Query: "Photo"}))
	require.NoError(t, Save(ctx, c, m))

	s.SetIndex(0)
	s.Push(NewView("d", Datasource{Query: "File"}))
	require.NoError(t, Save(ctx, c, m))

	loaded, err := Load(ctx, c, nil)
	require.NoError(t, err)
	views := loaded.Current().Views()
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].Name)
	assert.Equal(t, "d", views[1].Name)
}
