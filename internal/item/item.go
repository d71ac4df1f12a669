package item

import (
	"time"
)

// SyncAction tags an item or edge with its pending outbound mutation.
// Empty means clean.
type SyncAction string

const (
	SyncNone   SyncAction = ""
	SyncCreate SyncAction = "create"
	SyncUpdate SyncAction = "update"
	SyncDelete SyncAction = "delete"
)

// Item is a versioned, identifiable graph node. All dynamic properties
// live in the Properties bag; bookkeeping fields are fixed columns.
type Item struct {
	UID        int64
	Family     Family
	Properties map[string]Value

	Version int
	Deleted bool
	Starred bool
	Partial bool

	DateCreated  time.Time
	DateModified time.Time
	DateAccessed time.Time

	SyncAction    SyncAction
	ChangedFields map[string]bool
}

// New creates an unregistered item of the given family. UID assignment
// and change tracking happen in the cache, not here.
func New(family Family) *Item {
	now := time.Now()
	return &Item{
		Family:        family,
		Properties:    map[string]Value{},
		Version:       0,
		DateCreated:   now,
		DateModified:  now,
		DateAccessed:  now,
		ChangedFields: map[string]bool{},
	}
}

// Get returns the named property. Missing properties return nil values.
func (it *Item) Get(name string) Value {
	return it.Properties[name]
}

// Set writes the named property and records it as changed when the value
// actually differs. Returns whether a change was recorded.
func (it *Item) Set(name string, v Value) bool {
	old, had := it.Properties[name]
	if had && old.Equal(v) {
		return false
	}
	it.Properties[name] = v
	it.ChangedFields[name] = true
	it.DateModified = time.Now()
	return true
}

// MarkAccessed bumps the access timestamp.
func (it *Item) MarkAccessed() {
	it.DateAccessed = time.Now()
}

// Dirty reports whether the item carries a pending sync action.
func (it *Item) Dirty() bool { return it.SyncAction != SyncNone }

// ClearDirty resets sync bookkeeping after a successful outbound sync.
func (it *Item) ClearDirty() {
	it.SyncAction = SyncNone
	it.ChangedFields = map[string]bool{}
}

// Ref returns a serializable reference to this item.
func (it *Item) Ref() ItemRef {
	return ItemRef{Family: string(it.Family), UID: it.UID}
}

// Clone returns a deep-enough copy: the property map and changed-field
// set are copied, values are immutable by construction.
func (it *Item) Clone() *Item {
	cp := *it
	cp.Properties = make(map[string]Value, len(it.Properties))
	for k, v := range it.Properties {
		cp.Properties[k] = v
	}
	cp.ChangedFields = make(map[string]bool, len(it.ChangedFields))
	for k := range it.ChangedFields {
		cp.ChangedFields[k] = true
	}
	return &cp
}
