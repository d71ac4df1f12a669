package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/memri/memri-go/internal/item"
)

// Observer is notified when a result set's item list changes. Each
// load cycle fires every observer exactly once.
type Observer func(rs *ResultSet)

// ResultSet is the observable, cached result of one datasource query.
// The backing item list refreshes when the cache mutates; the text and
// starred filters are applied client-side without re-querying.
type ResultSet struct {
	cache *Cache
	query Query

	mu          sync.Mutex
	items       []*item.Item
	loading     bool
	loaded      bool
	filterText  string
	starredOnly bool
	observers   []Observer
}

func newResultSet(c *Cache, q Query) *ResultSet {
	return &ResultSet{cache: c, query: q}
}

// Query returns the query this result set answers.
func (rs *ResultSet) Query() Query { return rs.query }

// Subscribe registers an observer for load cycles.
func (rs *ResultSet) Subscribe(fn Observer) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.observers = append(rs.observers, fn)
}

// Load runs the query and notifies observers. Reentrant loads while
// one is in flight are ignored.
func (rs *ResultSet) Load(ctx context.Context) {
	rs.mu.Lock()
	if rs.loading {
		rs.mu.Unlock()
		return
	}
	rs.loading = true
	rs.mu.Unlock()

	items := rs.cache.Query(rs.query)

	rs.mu.Lock()
	rs.items = items
	rs.loading = false
	rs.loaded = true
	rs.mu.Unlock()
	rs.notify()
}

// setItems replaces the backing list after a cache mutation.
func (rs *ResultSet) setItems(items []*item.Item) {
	rs.mu.Lock()
	rs.items = items
	rs.loaded = true
	rs.mu.Unlock()
	rs.notify()
}

// Loading reports whether a load cycle is in flight.
func (rs *ResultSet) Loading() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.loading
}

// Loaded reports whether the result set has completed at least one load.
func (rs *ResultSet) Loaded() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.loaded
}

// Items returns the loaded items with the client-side filters applied.
func (rs *ResultSet) Items() []*item.Item {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.filterText == "" && !rs.starredOnly {
		return rs.items
	}
	needle := strings.ToLower(rs.filterText)
	var out []*item.Item
	for _, it := range rs.items {
		if rs.starredOnly && !it.Starred {
			continue
		}
		if needle != "" && !matchesText(it, needle) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Count returns the filtered item count.
func (rs *ResultSet) Count() int { return len(rs.Items()) }

// FilterText returns the active client-side text filter.
func (rs *ResultSet) FilterText() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.filterText
}

// SetFilterText changes the text filter and notifies observers. The
// backing list is untouched, so clearing the filter restores the full
// result instantly.
func (rs *ResultSet) SetFilterText(text string) {
	rs.mu.Lock()
	if rs.filterText == text {
		rs.mu.Unlock()
		return
	}
	rs.filterText = text
	rs.mu.Unlock()
	rs.notify()
}

// StarredOnly reports whether the starred filter is on.
func (rs *ResultSet) StarredOnly() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.starredOnly
}

// SetStarredOnly toggles the client-side starred filter.
func (rs *ResultSet) SetStarredOnly(on bool) {
	rs.mu.Lock()
	if rs.starredOnly == on {
		rs.mu.Unlock()
		return
	}
	rs.starredOnly = on
	rs.mu.Unlock()
	rs.notify()
}

// DeterminedType returns the single family shared by every loaded
// item, or "mixed" when families differ, or "" when empty.
func (rs *ResultSet) DeterminedType() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.items) == 0 {
		if !rs.query.MatchesAll() {
			return strings.TrimSuffix(rs.query.ItemType, "[]")
		}
		return ""
	}
	family := rs.items[0].Family
	for _, it := range rs.items[1:] {
		if it.Family != family {
			return "mixed"
		}
	}
	return string(family)
}

func (rs *ResultSet) notify() {
	rs.mu.Lock()
	obs := make([]Observer, len(rs.observers))
	copy(obs, rs.observers)
	rs.mu.Unlock()
	for _, fn := range obs {
		fn(rs)
	}
}

func matchesText(it *item.Item, needle string) bool {
	for _, v := range it.Properties {
		if v.Kind() != item.KindString {
			continue
		}
		if strings.Contains(strings.ToLower(v.Str()), needle) {
			return true
		}
	}
	return false
}
