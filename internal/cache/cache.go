package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/schema"
	"github.com/memri/memri-go/internal/store"
)

var (
	// ErrNotFound is returned for uids the cache has never seen.
	ErrNotFound = errors.New("cache: item not found")
	// ErrConflict is returned by MergeFromRemote when a remote change
	// collides with an unsynced local edit of the same field.
	ErrConflict = errors.New("cache: merge conflict")
)

// Cache holds every locally known item and edge in memory, backed by
// the sqlite store. It is the only component that assigns uids, tracks
// changed fields, and decides what is dirty for sync.
//
// Items handed out are immutable snapshots: every mutation clones the
// current entry and installs the clone, so pointers obtained earlier
// keep showing the state that was committed when they were read.
type Cache struct {
	mu    sync.RWMutex
	items map[int64]*item.Item
	edges map[item.EdgeKey]*item.Edge
	out   map[int64][]*item.Edge

	store   *store.Store
	schema  *schema.Schema
	counter *uidCounter
	bus     *Bus
	logger  *zap.Logger

	rsMu       sync.Mutex
	resultSets map[string]*ResultSet
}

// New loads the full item graph from the store into memory and seeds
// the uid counter above everything already persisted.
func New(ctx context.Context, st *store.Store, sch *schema.Schema, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := newUIDCounter(ctx, st, DefaultUIDBase, logger)
	if err != nil {
		return nil, fmt.Errorf("seeding uid counter: %w", err)
	}
	c := &Cache{
		items:      map[int64]*item.Item{},
		edges:      map[item.EdgeKey]*item.Edge{},
		out:        map[int64][]*item.Edge{},
		store:      st,
		schema:     sch,
		counter:    counter,
		bus:        NewBus(0, logger),
		logger:     logger,
		resultSets: map[string]*ResultSet{},
	}

	items, err := st.LoadItems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	for _, it := range items {
		c.items[it.UID] = it
		counter.Observe(ctx, it.UID)
	}
	edges, err := st.LoadEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}
	for _, e := range edges {
		c.indexEdge(e)
	}
	logger.Info("cache loaded", zap.Int("items", len(items)), zap.Int("edges", len(edges)))
	return c, nil
}

// Bus exposes the change-event bus for subscribers.
func (c *Cache) Bus() *Bus { return c.bus }

// Schema returns the item-family schema the cache validates against.
func (c *Cache) Schema() *schema.Schema { return c.schema }

func (c *Cache) indexEdge(e *item.Edge) {
	key := e.Key()
	if old, ok := c.edges[key]; ok {
		*old = *e
		return
	}
	c.edges[key] = e
	c.out[e.SourceUID] = append(c.out[e.SourceUID], e)
}

// Get returns the current snapshot for a uid, or nil when unknown.
// Re-fetch after a mutation; held pointers never change underneath.
func (c *Cache) Get(uid int64) *item.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[uid]
}

// liveLocked resolves a possibly stale caller pointer to the current
// cache entry for the same uid.
func (c *Cache) liveLocked(it *item.Item) *item.Item {
	if cur, ok := c.items[it.UID]; ok {
		return cur
	}
	return it
}

// Fetch implements expression.ItemResolver.
func (c *Cache) Fetch(ref item.ItemRef) (*item.Item, error) {
	if it := c.Get(ref.UID); it != nil {
		return it, nil
	}
	return nil, fmt.Errorf("%w: uid %d", ErrNotFound, ref.UID)
}

// Target resolves a to-one edge traversal.
func (c *Cache) Target(it *item.Item, edgeType string) (*item.Item, error) {
	targets, err := c.Targets(it, edgeType)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets[0], nil
}

// Targets resolves a to-many edge traversal, ordered by edge sequence.
func (c *Cache) Targets(it *item.Item, edgeType string) ([]*item.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var live []*item.Edge
	for _, e := range c.out[it.UID] {
		if e.Type == edgeType && !e.Deleted {
			live = append(live, e)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].Sequence < live[j].Sequence })
	var out []*item.Item
	for _, e := range live {
		if t := c.items[e.TargetUID]; t != nil && !t.Deleted {
			out = append(out, t)
		}
	}
	return out, nil
}

// Edges returns clones of the live outgoing edges of an item, every
// type. Edge records are mutated in place under the cache lock, so
// only copies may escape it.
func (c *Cache) Edges(uid int64) []*item.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*item.Edge
	for _, e := range c.out[uid] {
		if !e.Deleted {
			out = append(out, e.Clone())
		}
	}
	return out
}

// CreateItem registers a new item, or updates an existing one when a
// unique predicate matches. Values are validated against the schema;
// properties of the wrong declared type are dropped with a warning.
// The returned item is the current cache snapshot.
func (c *Cache) CreateItem(ctx context.Context, family item.Family, values map[string]item.Value, uniqueBy ...string) (*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.findUnique(family, values, uniqueBy); existing != nil {
		next := existing.Clone()
		changed := false
		for k, v := range values {
			if k == "uid" {
				continue
			}
			if !c.validProperty(family, k, v) {
				continue
			}
			if next.Set(k, v) {
				changed = true
			}
		}
		if !changed {
			return existing, nil
		}
		c.markDirtyLocked(next, item.SyncUpdate)
		c.items[next.UID] = next
		if err := c.persistItemLocked(ctx, next); err != nil {
			return nil, err
		}
		c.bus.Publish(Event{Kind: EventUpdated, Item: next})
		c.invalidateResultSets()
		return next, nil
	}

	it := item.New(family)
	if uv, ok := values["uid"]; ok {
		it.UID = uv.IntVal()
		c.counter.Observe(ctx, it.UID)
	} else {
		uid, err := c.counter.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocating uid: %w", err)
		}
		it.UID = uid
	}
	for k, v := range values {
		if k == "uid" || !c.validProperty(family, k, v) {
			continue
		}
		it.Set(k, v)
	}
	it.SyncAction = item.SyncCreate
	c.items[it.UID] = it
	if err := c.persistItemLocked(ctx, it); err != nil {
		return nil, err
	}
	c.bus.Publish(Event{Kind: EventCreated, Item: it})
	c.invalidateResultSets()
	return it, nil
}

func (c *Cache) findUnique(family item.Family, values map[string]item.Value, uniqueBy []string) *item.Item {
	if uv, ok := values["uid"]; ok {
		if existing := c.items[uv.IntVal()]; existing != nil {
			return existing
		}
	}
	if len(uniqueBy) == 0 {
		return nil
	}
	for _, it := range c.items {
		if it.Family != family || it.Deleted {
			continue
		}
		match := true
		for _, key := range uniqueBy {
			if !it.Get(key).Equal(values[key]) {
				match = false
				break
			}
		}
		if match {
			return it
		}
	}
	return nil
}

// validProperty checks a value against the schema's declared type.
// Unknown properties pass through (the schema is advisory for user
// data); known properties with a mismatched kind are dropped.
func (c *Cache) validProperty(family item.Family, name string, v item.Value) bool {
	if c.schema == nil || v.IsNil() {
		return true
	}
	pt, ok := c.schema.Property(string(family), name)
	if !ok {
		if _, isEdge := c.schema.Edge(string(family), name); isEdge {
			c.logger.Warn("property write targets an edge, dropping",
				zap.String("family", string(family)), zap.String("property", name))
			return false
		}
		return true
	}
	valid := false
	switch pt {
	case schema.TypeString:
		valid = v.Kind() == item.KindString || v.Kind() == item.KindExpr
	case schema.TypeInt:
		valid = v.Kind() == item.KindInt
	case schema.TypeDouble:
		valid = v.Kind() == item.KindDouble || v.Kind() == item.KindInt
	case schema.TypeBool:
		valid = v.Kind() == item.KindBool
	case schema.TypeDateTime:
		valid = v.Kind() == item.KindTime
	}
	if !valid {
		c.logger.Warn("dropping property with mismatched type",
			zap.String("family", string(family)), zap.String("property", name),
			zap.String("declared", string(pt)))
	}
	return valid
}

// SetProperty mutates one property through the cache, marking the item
// dirty and notifying observers when the value actually changed.
func (c *Cache) SetProperty(ctx context.Context, it *item.Item, name string, v item.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.liveLocked(it)
	if !c.validProperty(live.Family, name, v) {
		return nil
	}
	next := live.Clone()
	if !next.Set(name, v) {
		return nil
	}
	c.markDirtyLocked(next, item.SyncUpdate)
	c.items[next.UID] = next
	if err := c.persistItemLocked(ctx, next); err != nil {
		return err
	}
	c.bus.Publish(Event{Kind: EventUpdated, Item: next})
	c.invalidateResultSets()
	return nil
}

// SetStarred flips the starred flag on a set of items.
func (c *Cache) SetStarred(ctx context.Context, items []*item.Item, starred bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		live := c.liveLocked(it)
		if live.Starred == starred {
			continue
		}
		next := live.Clone()
		next.Starred = starred
		next.ChangedFields["starred"] = true
		next.DateModified = time.Now()
		c.markDirtyLocked(next, item.SyncUpdate)
		c.items[next.UID] = next
		if err := c.persistItemLocked(ctx, next); err != nil {
			return err
		}
		c.bus.Publish(Event{Kind: EventUpdated, Item: next})
	}
	c.invalidateResultSets()
	return nil
}

func (c *Cache) markDirtyLocked(it *item.Item, action item.SyncAction) {
	// A pending create stays a create until it reaches the pod.
	if it.SyncAction == item.SyncCreate && action == item.SyncUpdate {
		return
	}
	it.SyncAction = action
}

func (c *Cache) persistItemLocked(ctx context.Context, it *item.Item) error {
	return c.store.SaveItem(ctx, it)
}

// Link upserts a typed edge between two items. With exclusive set, any
// other live edge of the same type from the source is soft-deleted
// first, giving to-one semantics.
func (c *Cache) Link(ctx context.Context, source, target *item.Item, edgeType, label string, sequence int, exclusive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var touched []*item.Edge
	if exclusive {
		for _, e := range c.out[source.UID] {
			if e.Type == edgeType && !e.Deleted && e.TargetUID != target.UID {
				e.Deleted = true
				e.SyncAction = item.SyncDelete
				e.DateModified = time.Now()
				touched = append(touched, e)
			}
		}
	}

	key := item.EdgeKey{SourceUID: source.UID, TargetUID: target.UID, Type: edgeType}
	now := time.Now()
	if e, ok := c.edges[key]; ok {
		if !e.Deleted && e.Label == label && e.Sequence == sequence {
			if len(touched) == 0 {
				return nil
			}
		} else {
			e.Deleted = false
			e.Label = label
			e.Sequence = sequence
			e.DateModified = now
			if e.SyncAction == item.SyncNone {
				e.SyncAction = item.SyncUpdate
			}
			touched = append(touched, e)
		}
	} else {
		e := &item.Edge{
			SourceFamily: string(source.Family),
			SourceUID:    source.UID,
			TargetFamily: string(target.Family),
			TargetUID:    target.UID,
			Type:         edgeType,
			Label:        label,
			Sequence:     sequence,
			DateCreated:  now,
			DateModified: now,
			SyncAction:   item.SyncCreate,
		}
		c.indexEdge(e)
		touched = append(touched, e)
	}

	if err := c.store.SaveEdges(ctx, touched); err != nil {
		return err
	}
	c.bus.Publish(Event{Kind: EventUpdated, Item: source})
	c.invalidateResultSets()
	return nil
}

// Unlink soft-deletes the edge of the given type between two items.
// Unlinking an absent edge is a no-op.
func (c *Cache) Unlink(ctx context.Context, source, target *item.Item, edgeType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := item.EdgeKey{SourceUID: source.UID, TargetUID: target.UID, Type: edgeType}
	e, ok := c.edges[key]
	if !ok || e.Deleted {
		return nil
	}
	e.Deleted = true
	e.DateModified = time.Now()
	if e.SyncAction == item.SyncCreate {
		// Never reached the pod, nothing to delete remotely.
		e.SyncAction = item.SyncNone
	} else {
		e.SyncAction = item.SyncDelete
	}
	if err := c.store.SaveEdge(ctx, e); err != nil {
		return err
	}
	c.bus.Publish(Event{Kind: EventUpdated, Item: source})
	c.invalidateResultSets()
	return nil
}

// Delete soft-deletes an item, cascades to its outgoing edges, and
// records a single audit item describing the deletion. Deleting an
// already deleted item is a no-op.
func (c *Cache) Delete(ctx context.Context, it *item.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(ctx, it)
}

// DeleteAll soft-deletes a batch; each item gets its own audit record.
func (c *Cache) DeleteAll(ctx context.Context, items []*item.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		if err := c.deleteLocked(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) deleteLocked(ctx context.Context, it *item.Item) error {
	live := c.liveLocked(it)
	if live.Deleted {
		return nil
	}
	now := time.Now()
	next := live.Clone()
	next.Deleted = true
	next.DateModified = now
	c.markDirtyLocked(next, item.SyncDelete)
	c.items[next.UID] = next
	if err := c.persistItemLocked(ctx, next); err != nil {
		return err
	}

	var cascaded []*item.Edge
	for _, e := range c.out[next.UID] {
		if e.Deleted {
			continue
		}
		e.Deleted = true
		e.DateModified = now
		if e.SyncAction == item.SyncCreate {
			e.SyncAction = item.SyncNone
		} else {
			e.SyncAction = item.SyncDelete
		}
		cascaded = append(cascaded, e)
	}
	if len(cascaded) > 0 {
		if err := c.store.SaveEdges(ctx, cascaded); err != nil {
			return err
		}
	}

	if err := c.auditLocked(ctx, next, "delete"); err != nil {
		return err
	}

	c.bus.Publish(Event{Kind: EventDeleted, Item: next})
	c.invalidateResultSets()
	return nil
}

// auditLocked records one AuditItem for an action on an item.
func (c *Cache) auditLocked(ctx context.Context, subject *item.Item, action string) error {
	uid, err := c.counter.Next(ctx)
	if err != nil {
		return fmt.Errorf("allocating audit uid: %w", err)
	}
	audit := item.New(item.FamilyAuditItem)
	audit.UID = uid
	audit.Set("action", item.String(action))
	audit.Set("date", item.Time(time.Now()))
	audit.Set("content", item.String(fmt.Sprintf("%s %d", subject.Family, subject.UID)))
	audit.SyncAction = item.SyncCreate
	c.items[audit.UID] = audit
	if err := c.persistItemLocked(ctx, audit); err != nil {
		return err
	}

	e := &item.Edge{
		SourceFamily: string(audit.Family),
		SourceUID:    audit.UID,
		TargetFamily: string(subject.Family),
		TargetUID:    subject.UID,
		Type:         "appliesTo",
		Sequence:     -1,
		DateCreated:  audit.DateCreated,
		DateModified: audit.DateCreated,
		SyncAction:   item.SyncCreate,
	}
	c.indexEdge(e)
	return c.store.SaveEdge(ctx, e)
}

// MergeFromRemote folds a remotely fetched item into the cache.
//
// Unknown uid: the item is adopted as-is and marked clean. Known uid:
// a non-greater version is discarded, unless the cached copy is partial
// or the remote carries a deletion. When the local copy is clean the
// remote wins wholesale. When the local copy has unsynced edits, remote
// values merge field by field; a remote change to a field the local
// edit also touched returns ErrConflict and leaves the cache untouched.
func (c *Cache) MergeFromRemote(ctx context.Context, incoming *item.Item) (*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter.Observe(ctx, incoming.UID)

	local, known := c.items[incoming.UID]
	if !known {
		adopted := incoming.Clone()
		adopted.SyncAction = item.SyncNone
		adopted.ChangedFields = map[string]bool{}
		c.items[adopted.UID] = adopted
		if err := c.persistItemLocked(ctx, adopted); err != nil {
			return nil, err
		}
		c.bus.Publish(Event{Kind: EventCreated, Item: adopted})
		c.invalidateResultSets()
		return adopted, nil
	}

	// A partial local copy still accepts a same-version remote: that
	// is how a shallow query result gets completed by a full fetch.
	if incoming.Version <= local.Version && !incoming.Deleted && !local.Partial {
		return local, nil
	}

	if !local.Dirty() {
		next := local.Clone()
		next.Properties = make(map[string]item.Value, len(incoming.Properties))
		for k, v := range incoming.Properties {
			next.Properties[k] = v
		}
		next.Version = incoming.Version
		next.Deleted = incoming.Deleted
		next.Starred = incoming.Starred
		next.Partial = incoming.Partial
		next.DateModified = incoming.DateModified
		c.items[next.UID] = next
		if err := c.persistItemLocked(ctx, next); err != nil {
			return nil, err
		}
		kind := EventUpdated
		if incoming.Deleted {
			kind = EventDeleted
		}
		c.bus.Publish(Event{Kind: kind, Item: next})
		c.invalidateResultSets()
		return next, nil
	}

	// Local unsynced edits present: detect overlapping field changes
	// before touching anything.
	for name := range local.ChangedFields {
		remote, hasRemote := incoming.Properties[name]
		if !hasRemote {
			continue
		}
		if !remote.Equal(local.Get(name)) {
			return nil, fmt.Errorf("%w: uid %d field %q changed both locally and remotely",
				ErrConflict, local.UID, name)
		}
	}

	next := local.Clone()
	for k, v := range incoming.Properties {
		if next.ChangedFields[k] {
			continue
		}
		next.Properties[k] = v
	}
	next.Version = incoming.Version
	next.Partial = incoming.Partial
	c.items[next.UID] = next
	if err := c.persistItemLocked(ctx, next); err != nil {
		return nil, err
	}
	c.bus.Publish(Event{Kind: EventUpdated, Item: next})
	c.invalidateResultSets()
	return next, nil
}

// MergeEdgeFromRemote folds a remote edge in. Local dirty edges are
// left alone; clean or unknown edges take the remote state.
func (c *Cache) MergeEdgeFromRemote(ctx context.Context, incoming *item.Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.edges[incoming.Key()]; ok {
		if e.Dirty() || incoming.Version <= e.Version {
			return nil
		}
		*e = *incoming.Clone()
		e.SyncAction = item.SyncNone
		return c.store.SaveEdge(ctx, e)
	}
	adopted := incoming.Clone()
	adopted.SyncAction = item.SyncNone
	c.indexEdge(adopted)
	return c.store.SaveEdge(ctx, adopted)
}

// DirtyItems returns clones of every item with a pending sync action.
func (c *Cache) DirtyItems() []*item.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*item.Item
	for _, it := range c.items {
		if it.Dirty() {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// DirtyEdges returns clones of every edge with a pending sync action.
func (c *Cache) DirtyEdges() []*item.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*item.Edge
	for _, e := range c.edges {
		if e.Dirty() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceUID != out[j].SourceUID {
			return out[i].SourceUID < out[j].SourceUID
		}
		return out[i].TargetUID < out[j].TargetUID
	})
	return out
}

// MarkSynced bumps versions and clears dirty flags after the pod has
// acknowledged a batch. Called with the uids and keys that were sent.
func (c *Cache) MarkSynced(ctx context.Context, uids []int64, keys []item.EdgeKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, uid := range uids {
		it := c.items[uid]
		if it == nil || !it.Dirty() {
			continue
		}
		next := it.Clone()
		next.Version++
		next.ClearDirty()
		c.items[next.UID] = next
		if err := c.persistItemLocked(ctx, next); err != nil {
			return err
		}
	}
	var edges []*item.Edge
	for _, key := range keys {
		e := c.edges[key]
		if e == nil || !e.Dirty() {
			continue
		}
		e.Version++
		e.SyncAction = item.SyncNone
		edges = append(edges, e)
	}
	if len(edges) > 0 {
		return c.store.SaveEdges(ctx, edges)
	}
	return nil
}

// Query runs a parsed query against the in-memory item set.
func (c *Cache) Query(q Query) []*item.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queryLocked(q)
}

func (c *Cache) queryLocked(q Query) []*item.Item {
	var out []*item.Item
	for _, it := range c.items {
		if q.Match(it) {
			out = append(out, it)
		}
	}
	q.sortItems(out)
	return out
}

// ResultSet returns the shared result set for a query, creating it on
// first use. Result sets with the same query signature are one object.
func (c *Cache) ResultSet(q Query) *ResultSet {
	c.rsMu.Lock()
	defer c.rsMu.Unlock()
	sig := q.Signature()
	if rs, ok := c.resultSets[sig]; ok {
		return rs
	}
	rs := newResultSet(c, q)
	c.resultSets[sig] = rs
	return rs
}

// invalidateResultSets refreshes every loaded result set so dependent
// observers see the mutation. Callers hold c.mu, so observers fired
// here must not call back into cache methods that lock; UI observers
// coalesce into a scheduled update instead.
func (c *Cache) invalidateResultSets() {
	c.rsMu.Lock()
	sets := make([]*ResultSet, 0, len(c.resultSets))
	for _, rs := range c.resultSets {
		sets = append(sets, rs)
	}
	c.rsMu.Unlock()
	for _, rs := range sets {
		if rs.Loaded() {
			rs.setItems(c.queryLocked(rs.query))
		}
	}
}
