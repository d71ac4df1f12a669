package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/item"
)

func TestResultSet_SharedPerSignature(t *testing.T) {
	c := newTestCache(t)

	a := c.ResultSet(ParseQuery("Person"))
	b := c.ResultSet(ParseQuery("Person"))
	other := c.ResultSet(ParseQuery("Note"))

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}

func TestResultSet_LoadNotifiesOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)

	rs := c.ResultSet(ParseQuery("Person"))
	var calls int
	rs.Subscribe(func(*ResultSet) { calls++ })

	rs.Load(ctx)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rs.Count())
	assert.False(t, rs.Loading())
}

func TestResultSet_MutationRefreshesLoadedSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	rs := c.ResultSet(ParseQuery("Person"))
	rs.Load(ctx)
	require.Zero(t, rs.Count())

	var notified int
	rs.Subscribe(func(*ResultSet) { notified++ })

	_, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)

	assert.Equal(t, 1, rs.Count())
	assert.Equal(t, 1, notified)
}

func TestResultSet_TextFilterWithoutRequery(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Ada")})
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, item.FamilyPerson, map[string]item.Value{"firstName": item.String("Grace")})
	require.NoError(t, err)

	rs := c.ResultSet(ParseQuery("Person"))
	rs.Load(ctx)
	require.Equal(t, 2, rs.Count())

	rs.SetFilterText("ada")
	assert.Equal(t, 1, rs.Count())

	// Clearing restores the full list with no query round-trip.
	rs.SetFilterText("")
	assert.Equal(t, 2, rs.Count())
}

func TestResultSet_StarredFilter(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	starred, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("keep")})
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("other")})
	require.NoError(t, err)
	require.NoError(t, c.SetStarred(ctx, []*item.Item{starred}, true))

	rs := c.ResultSet(ParseQuery("Note"))
	rs.Load(ctx)
	require.Equal(t, 2, rs.Count())

	rs.SetStarredOnly(true)
	got := rs.Items()
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].Get("title").Str())
}

func TestResultSet_DeterminedType(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, item.FamilyPerson, nil)
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)

	single := c.ResultSet(ParseQuery("Person"))
	single.Load(ctx)
	assert.Equal(t, "Person", single.DeterminedType())

	mixed := c.ResultSet(ParseQuery("*"))
	mixed.Load(ctx)
	assert.Equal(t, "mixed", mixed.DeterminedType())

	empty := c.ResultSet(ParseQuery("Photo"))
	empty.Load(ctx)
	assert.Equal(t, "Photo", empty.DeterminedType())
}
