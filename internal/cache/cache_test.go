package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/schema"
	"github.com/memri/memri-go/internal/store"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	sch, err := schema.Load()
	require.NoError(t, err)

	c, err := New(ctx, st, sch, nil)
	require.NoError(t, err)
	return c
}

func TestCache_UIDsAreMonotonic(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("a")})
	require.NoError(t, err)
	b, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("b")})
	require.NoError(t, err)

	assert.Greater(t, a.UID, DefaultUIDBase)
	assert.Greater(t, b.UID, a.UID)
}

func TestCache_UIDCounterResumesAbovePersisted(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	c1, err := New(ctx, st, nil, nil)
	require.NoError(t, err)
	a, err := c1.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)

	// A second cache over the same store must not reissue a's uid.
	c2, err := New(ctx, st, nil, nil)
	require.NoError(t, err)
	b, err := c2.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)
	assert.Greater(t, b.UID, a.UID)
}

func TestCache_CreateItemUpsertsOnUniquePredicate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a, err := c.CreateItem(ctx, item.FamilyPerson,
		map[string]item.Value{"firstName": item.String("Ada"), "lastName": item.String("Lovelace")},
		"firstName", "lastName")
	require.NoError(t, err)

	b, err := c.CreateItem(ctx, item.FamilyPerson,
		map[string]item.Value{"firstName": item.String("Ada"), "lastName": item.String("Lovelace"), "displayName": item.String("Ada L.")},
		"firstName", "lastName")
	require.NoError(t, err)

	assert.Equal(t, a.UID, b.UID)
	assert.Equal(t, "Ada L.", b.Get("displayName").Str())
	// The first snapshot is untouched; the upsert installed a copy.
	assert.True(t, a.Get("displayName").IsNil())
}

func TestCache_CreateItemDropsMistypedProperty(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	it, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{
		"title":   item.Int(5),
		"content": item.String("body"),
	})
	require.NoError(t, err)
	assert.True(t, it.Get("title").IsNil())
	assert.Equal(t, "body", it.Get("content").Str())
}

func TestCache_SetPropertyMarksDirtyOnlyOnChange(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	it, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("a")})
	require.NoError(t, err)
	require.NoError(t, c.MarkSynced(ctx, []int64{it.UID}, nil))
	it = c.Get(it.UID)
	require.False(t, it.Dirty())

	// Same value: no dirty flag.
	require.NoError(t, c.SetProperty(ctx, it, "title", item.String("a")))
	assert.False(t, c.Get(it.UID).Dirty())

	require.NoError(t, c.SetProperty(ctx, it, "title", item.String("b")))
	it = c.Get(it.UID)
	assert.Equal(t, item.SyncUpdate, it.SyncAction)
	assert.True(t, it.ChangedFields["title"])
}

func TestCache_DeleteCascadesAndAuditsOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	person, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)
	addr, err := c.CreateItem(ctx, item.FamilyAddress, map[string]item.Value{"city": item.String("London")})
	require.NoError(t, err)
	require.NoError(t, c.Link(ctx, person, addr, "address", "", 0, false))

	require.NoError(t, c.Delete(ctx, person))
	// Second delete is a no-op, no extra audit item.
	require.NoError(t, c.Delete(ctx, person))

	got := c.Get(person.UID)
	assert.True(t, got.Deleted)
	assert.Equal(t, item.SyncDelete, got.SyncAction)
	assert.Empty(t, c.Edges(person.UID))

	audits := c.Query(Query{ItemType: "AuditItem"})
	require.Len(t, audits, 1)
	assert.Equal(t, "delete", audits[0].Get("action").Str())
}

func TestCache_LinkExclusiveReplacesTarget(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	note, err := c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)
	a, err := c.CreateItem(ctx, item.FamilyLabel, map[string]item.Value{"name": item.String("a")})
	require.NoError(t, err)
	b, err := c.CreateItem(ctx, item.FamilyLabel, map[string]item.Value{"name": item.String("b")})
	require.NoError(t, err)

	require.NoError(t, c.Link(ctx, note, a, "label", "", 0, true))
	require.NoError(t, c.Link(ctx, note, b, "label", "", 0, true))

	targets, err := c.Targets(note, "label")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, b.UID, targets[0].UID)
}

func TestCache_UnlinkNeverSyncsUnsentEdge(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	note, err := c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)
	label, err := c.CreateItem(ctx, item.FamilyLabel, nil)
	require.NoError(t, err)
	require.NoError(t, c.Link(ctx, note, label, "label", "", 0, false))
	require.NoError(t, c.Unlink(ctx, note, label, "label"))

	assert.Empty(t, c.DirtyEdges())
}

func TestCache_MergeAdoptsUnknownItemClean(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	incoming := item.New(item.FamilyNote)
	incoming.UID = 77
	incoming.Version = 4
	incoming.Set("title", item.String("remote"))

	got, err := c.MergeFromRemote(ctx, incoming)
	require.NoError(t, err)
	assert.False(t, got.Dirty())
	assert.Equal(t, 4, got.Version)
	assert.Same(t, got, c.Get(77))
}

func TestCache_MergeCleanLocalTakesRemote(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	local, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("v1")})
	require.NoError(t, err)
	require.NoError(t, c.MarkSynced(ctx, []int64{local.UID}, nil))
	local = c.Get(local.UID)

	incoming := item.New(item.FamilyNote)
	incoming.UID = local.UID
	incoming.Version = local.Version + 1
	incoming.Set("title", item.String("v2"))

	got, err := c.MergeFromRemote(ctx, incoming)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Get("title").Str())
	assert.Equal(t, local.Version+1, got.Version)
}

func TestCache_MergeConflictOnOverlappingEdit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	local, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("base")})
	require.NoError(t, err)
	require.NoError(t, c.MarkSynced(ctx, []int64{local.UID}, nil))
	require.NoError(t, c.SetProperty(ctx, local, "title", item.String("local edit")))
	local = c.Get(local.UID)

	incoming := item.New(item.FamilyNote)
	incoming.UID = local.UID
	incoming.Version = local.Version + 1
	incoming.Set("title", item.String("remote edit"))

	_, err = c.MergeFromRemote(ctx, incoming)
	require.ErrorIs(t, err, ErrConflict)
	// The local edit survives.
	assert.Equal(t, "local edit", c.Get(local.UID).Get("title").Str())
}

func TestCache_MergePreservesDisjointLocalEdit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	local, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{
		"title":   item.String("base"),
		"content": item.String("base body"),
	})
	require.NoError(t, err)
	require.NoError(t, c.MarkSynced(ctx, []int64{local.UID}, nil))
	require.NoError(t, c.SetProperty(ctx, local, "title", item.String("local title")))
	local = c.Get(local.UID)

	incoming := item.New(item.FamilyNote)
	incoming.UID = local.UID
	incoming.Version = local.Version + 1
	incoming.Set("title", item.String("base"))
	incoming.Set("content", item.String("remote body"))

	got, err := c.MergeFromRemote(ctx, incoming)
	require.NoError(t, err)
	assert.Equal(t, "local title", got.Get("title").Str())
	assert.Equal(t, "remote body", got.Get("content").Str())
}

func TestCache_DirtyItemsAndMarkSynced(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a, err := c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)
	b, err := c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)

	dirty := c.DirtyItems()
	require.Len(t, dirty, 2)

	require.NoError(t, c.MarkSynced(ctx, []int64{a.UID, b.UID}, nil))
	assert.Empty(t, c.DirtyItems())
	assert.Equal(t, 1, c.Get(a.UID).Version)
}

func TestCache_MergeCompletesPartialAtSameVersion(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// A shallow query result arrives first: same uid, limited fields.
	shallow := item.New(item.FamilyNote)
	shallow.UID = 42
	shallow.Version = 1
	shallow.Partial = true
	_, err := c.MergeFromRemote(ctx, shallow)
	require.NoError(t, err)
	require.True(t, c.Get(42).Partial)

	full := item.New(item.FamilyNote)
	full.UID = 42
	full.Version = 1
	full.Set("title", item.String("now complete"))
	full.Set("content", item.String("body"))

	merged, err := c.MergeFromRemote(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, "now complete", merged.Get("title").Str())
	assert.False(t, merged.Partial)

	// Once complete, a same-version remote is discarded again.
	stale := item.New(item.FamilyNote)
	stale.UID = 42
	stale.Version = 1
	stale.Set("title", item.String("stale"))
	again, err := c.MergeFromRemote(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, "now complete", again.Get("title").Str())
}

func TestCache_MutationsInstallFreshSnapshots(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	it, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("before")})
	require.NoError(t, err)
	snap := c.Get(it.UID)

	require.NoError(t, c.SetProperty(ctx, it, "title", item.String("after")))

	assert.Equal(t, "before", snap.Get("title").Str())
	got := c.Get(it.UID)
	assert.NotSame(t, snap, got)
	assert.Equal(t, "after", got.Get("title").Str())
}

func TestCache_SnapshotReadsDuringRemoteMerges(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	seed := item.New(item.FamilyNote)
	seed.UID = 9001
	seed.Version = 1
	seed.Set("title", item.String("seed"))
	_, err := c.MergeFromRemote(ctx, seed)
	require.NoError(t, err)

	// Merges run on the poll goroutine in production; reads off any
	// snapshot must stay safe while they land.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := 2; v < 60; v++ {
			remote := item.New(item.FamilyNote)
			remote.UID = 9001
			remote.Version = v
			remote.Set("title", item.String("merged"))
			if _, err := c.MergeFromRemote(ctx, remote); err != nil {
				return
			}
		}
	}()

	for {
		assert.False(t, c.Get(9001).Get("title").IsNil())
		select {
		case <-done:
			assert.Equal(t, "merged", c.Get(9001).Get("title").Str())
			return
		default:
		}
	}
}

func TestParseQuery(t *testing.T) {
	q := ParseQuery("Person deleted = false")
	assert.Equal(t, "Person", q.ItemType)
	assert.Equal(t, "deleted = false", q.Filter)

	all := ParseQuery("*")
	assert.True(t, all.MatchesAll())
}

func TestQuery_FilterClauses(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Grace")})
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("Ada notes")})
	require.NoError(t, err)

	assert.Len(t, c.Query(ParseQuery("Person")), 2)
	assert.Len(t, c.Query(ParseQuery("Person firstName = 'Ada'")), 1)
	assert.Len(t, c.Query(ParseQuery("Person firstName != 'Ada'")), 1)
	assert.Len(t, c.Query(ParseQuery("* firstName CONTAINS 'ra'")), 1)
	assert.Len(t, c.Query(ParseQuery("*")), 3)
}

func TestQuery_SortAndDeletedExcluded(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Zoe")})
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)

	q := Query{ItemType: "Person", SortProperty: "firstName", SortAscending: true}
	got := c.Query(q)
	require.Len(t, got, 2)
	assert.Equal(t, "Ada", got[0].Get("firstName").Str())

	require.NoError(t, c.Delete(ctx, a))
	assert.Len(t, c.Query(q), 1)
}
