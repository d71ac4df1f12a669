package cascade

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
)

func def(t *testing.T, src string) *cvu.Definition {
	t.Helper()
	defs, errs := cvu.ParseString(src, cvu.DomainDefaults)
	require.Empty(t, errs)
	require.Len(t, defs, 1)
	return defs[0]
}

func TestStack_PropertyPrecedence(t *testing.T) {
	stateDef := def(t, `[view = "v"] { title: "state" }`)
	userDef := def(t, `[view = "v"] { title: "user" }`)
	defaultDef := def(t, `[view = "v"] { title: "default" }`)

	s := New(nil, stateDef, userDef, defaultDef)
	assert.Equal(t, "state", s.PropertyString("title", nil))

	// Removing the state definition's property falls through.
	delete(stateDef.Properties, "title")
	s = New(nil, stateDef, userDef, defaultDef)
	assert.Equal(t, "user", s.PropertyString("title", nil))
}

func TestStack_PropertyMemoized(t *testing.T) {
	top := def(t, `[view = "v"] { title: "a" }`)
	s := New(nil, top)
	assert.Equal(t, "a", s.PropertyString("title", nil))

	// Mutating the definition after the first read is not observed.
	top.Set("title", item.String("b"))
	assert.Equal(t, "a", s.PropertyString("title", nil))
}

func TestStack_ListMergeStable(t *testing.T) {
	a := def(t, `[view = "v"] { buttons: star schedule }`)
	b := def(t, `[view = "v"] { buttons: delete }`)
	s := New(nil, a, b)

	first := s.List("buttons", true, nil)
	second := s.List("buttons", true, nil)

	names := func(vs []item.Value) []string {
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = v.Str()
		}
		return out
	}
	require.Equal(t, []string{"star", "schedule", "delete"}, names(first))
	// Merging twice yields the same concatenated order.
	assert.Empty(t, cmp.Diff(names(first), names(second)))

	// merge=false returns only the first list found.
	assert.Equal(t, []string{"star", "schedule"}, names(s.List("buttons", false, nil)))
}

func TestStack_DictFirstWriterWins(t *testing.T) {
	a := def(t, `[view = "v"] { options: { color: "red" } }`)
	b := def(t, `[view = "v"] { options: { color: "blue", size: 12 } }`)
	s := New(nil, a, b)

	m := s.Dict("options", false, nil)
	assert.Equal(t, "red", m["color"].Str())
	assert.Equal(t, int64(12), m["size"].IntVal())
}

func TestStack_DictForceArray(t *testing.T) {
	a := def(t, `[view = "v"] { options: { color: "red" } }`)
	s := New(nil, a)

	m := s.Dict("options", true, nil)
	require.Equal(t, item.KindList, m["color"].Kind())
	assert.Equal(t, "red", m["color"].ListVal()[0].Str())
}

func TestStack_GroupedListUniqueKeyMerge(t *testing.T) {
	user := def(t, `[view = "v"] { fields: { name: "email", title: "Email address" } }`)
	defaults := def(t, `[view = "v"] { fields: [{ name: "email", title: "Email", rows: 3 }, { name: "phone", title: "Phone" }] }`)
	s := New(nil, user, defaults)

	merged := s.GroupedList("fields", "name", nil)
	require.Len(t, merged, 2)

	email := merged[0]
	// Higher-priority entry overrides, lower-priority fills gaps.
	assert.Equal(t, "Email address", email["title"].Str())
	assert.Equal(t, int64(3), email["rows"].IntVal())

	assert.Equal(t, "phone", merged[1]["name"].Str())
}

func TestStack_LazyExpressionPerScope(t *testing.T) {
	d := def(t, `[view = "v"] { title: "{.title}" }`)
	s := New(nil, d)

	mk := func(title string) *expression.Scope {
		it := item.New(item.FamilyNote)
		it.Properties["title"] = item.String(title)
		return &expression.Scope{Item: it}
	}

	assert.Equal(t, "first", s.PropertyString("title", mk("first")))
	// The same stack renders differently for another context item.
	assert.Equal(t, "second", s.PropertyString("title", mk("second")))
}

func TestStack_InheritMergesBeneath(t *testing.T) {
	child := def(t, `[view = "child"] { inherit: "base"
		title: "Child" }`)
	base := def(t, `[view = "base"] { title: "Base"
		subtitle: "From base" }`)

	s := New(nil, child)
	err := s.ResolveInherit(func(name string) (*cvu.Definition, error) {
		if name == "base" {
			return base, nil
		}
		return nil, fmt.Errorf("unknown view %q", name)
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Child", s.PropertyString("title", nil))
	assert.Equal(t, "From base", s.PropertyString("subtitle", nil))
}

func TestStack_InheritCycle(t *testing.T) {
	a := def(t, `[view = "a"] { inherit: "b" }`)
	b := def(t, `[view = "b"] { inherit: "a" }`)
	byName := map[string]*cvu.Definition{"a": a, "b": b}

	s := New(nil, a)
	err := s.ResolveInherit(func(name string) (*cvu.Definition, error) {
		return byName[name], nil
	}, nil)
	require.ErrorIs(t, err, ErrInheritCycle)
}
