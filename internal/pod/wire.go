// Package pod talks to a remote pod over its JSON HTTP API. The cache
// and sync engine depend only on the Client contract here, so a stub
// pod can stand in during tests and local development.
package pod

import (
	"time"

	"github.com/memri/memri-go/internal/item"
)

// ItemPayload is the wire form of an item.
type ItemPayload struct {
	UID          int64          `json:"uid"`
	Type         string         `json:"_type"`
	Properties   map[string]any `json:"properties"`
	Version      int            `json:"version"`
	Deleted      bool           `json:"deleted,omitempty"`
	Starred      bool           `json:"starred,omitempty"`
	Partial      bool           `json:"partial,omitempty"`
	DateCreated  int64          `json:"dateCreated"`
	DateModified int64          `json:"dateModified"`
}

// EdgePayload is the wire form of an edge.
type EdgePayload struct {
	SourceType string `json:"_sourceType"`
	SourceUID  int64  `json:"_source"`
	TargetType string `json:"_targetType"`
	TargetUID  int64  `json:"_target"`
	Type       string `json:"_type"`
	Label      string `json:"label,omitempty"`
	Sequence   int    `json:"sequence"`
	Version    int    `json:"version"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// EncodeItem converts a cache item to its wire form.
func EncodeItem(it *item.Item) ItemPayload {
	props := make(map[string]any, len(it.Properties))
	for k, v := range it.Properties {
		props[k] = v.ToJSON()
	}
	return ItemPayload{
		UID:          it.UID,
		Type:         string(it.Family),
		Properties:   props,
		Version:      it.Version,
		Deleted:      it.Deleted,
		Starred:      it.Starred,
		Partial:      it.Partial,
		DateCreated:  it.DateCreated.UnixMilli(),
		DateModified: it.DateModified.UnixMilli(),
	}
}

// DecodeItem converts a wire item back to a cache item. Unknown type
// discriminators decode with a raw family so callers can decide.
func DecodeItem(p ItemPayload) *item.Item {
	family, ok := item.LookupFamily(p.Type)
	if !ok {
		family = item.Family(p.Type)
	}
	it := item.New(family)
	it.UID = p.UID
	it.Version = p.Version
	it.Deleted = p.Deleted
	it.Starred = p.Starred
	it.Partial = p.Partial
	it.DateCreated = time.UnixMilli(p.DateCreated)
	it.DateModified = time.UnixMilli(p.DateModified)
	it.Properties = make(map[string]item.Value, len(p.Properties))
	for k, raw := range p.Properties {
		it.Properties[k] = item.FromJSON(raw)
	}
	it.ChangedFields = map[string]bool{}
	return it
}

// EncodeEdge converts a cache edge to its wire form.
func EncodeEdge(e *item.Edge) EdgePayload {
	return EdgePayload{
		SourceType: e.SourceFamily,
		SourceUID:  e.SourceUID,
		TargetType: e.TargetFamily,
		TargetUID:  e.TargetUID,
		Type:       e.Type,
		Label:      e.Label,
		Sequence:   e.Sequence,
		Version:    e.Version,
		Deleted:    e.Deleted,
	}
}

// DecodeEdge converts a wire edge back to a cache edge.
func DecodeEdge(p EdgePayload) *item.Edge {
	return &item.Edge{
		SourceFamily: p.SourceType,
		SourceUID:    p.SourceUID,
		TargetFamily: p.TargetType,
		TargetUID:    p.TargetUID,
		Type:         p.Type,
		Label:        p.Label,
		Sequence:     p.Sequence,
		Version:      p.Version,
		Deleted:      p.Deleted,
	}
}

// QueryRequest asks the pod to run a datasource query.
type QueryRequest struct {
	Query         string `json:"query"`
	SortProperty  string `json:"sortProperty,omitempty"`
	SortAscending bool   `json:"sortAscending,omitempty"`
	WithEdges     bool   `json:"withEdges,omitempty"`
}

// QueryResponse carries matched items and, when requested, their edges.
type QueryResponse struct {
	Items []ItemPayload `json:"items"`
	Edges []EdgePayload `json:"edges,omitempty"`
}

// SyncRequest is one outbound batch of local mutations.
type SyncRequest struct {
	CreateItems []ItemPayload `json:"createItems,omitempty"`
	UpdateItems []ItemPayload `json:"updateItems,omitempty"`
	DeleteItems []int64       `json:"deleteItems,omitempty"`
	CreateEdges []EdgePayload `json:"createEdges,omitempty"`
	UpdateEdges []EdgePayload `json:"updateEdges,omitempty"`
	DeleteEdges []EdgePayload `json:"deleteEdges,omitempty"`
}

// Empty reports whether the batch carries no mutations.
func (r SyncRequest) Empty() bool {
	return len(r.CreateItems) == 0 && len(r.UpdateItems) == 0 && len(r.DeleteItems) == 0 &&
		len(r.CreateEdges) == 0 && len(r.UpdateEdges) == 0 && len(r.DeleteEdges) == 0
}

// RunResponse is the pod's acknowledgement of an importer or indexer run.
type RunResponse struct {
	UID     int64  `json:"uid"`
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
