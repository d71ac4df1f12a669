package item

import "time"

// Edge is a directed, typed relationship between two items. Edges are the
// sole mechanism for one-to-many and many-to-many relations; an edge is
// uniquely identified by (source, target, type) for upsert purposes.
type Edge struct {
	SourceFamily string
	SourceUID    int64
	TargetFamily string
	TargetUID    int64
	Type         string
	Label        string
	Sequence     int // ordering index for list-like edges; <0 when unordered

	Version      int
	Deleted      bool
	DateCreated  time.Time
	DateModified time.Time
	SyncAction   SyncAction
}

// EdgeKey uniquely identifies an edge for upserts.
type EdgeKey struct {
	SourceUID int64
	TargetUID int64
	Type      string
}

// Key returns the edge's identity.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{SourceUID: e.SourceUID, TargetUID: e.TargetUID, Type: e.Type}
}

// Dirty reports whether the edge carries a pending sync action.
func (e *Edge) Dirty() bool { return e.SyncAction != SyncNone }

// Clone returns a copy of the edge.
func (e *Edge) Clone() *Edge {
	cp := *e
	return &cp
}
