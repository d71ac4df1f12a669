// Package server is the wire surface a UI client connects to: a JSON
// WebSocket channel carrying action invocations inbound and rendered
// view updates outbound.
package server

import (
	"encoding/json"
)

// ClientMessage is the envelope for all client-to-server messages.
type ClientMessage struct {
	Type string          `json:"type"` // "action", "filter", "select", "ping"
	ID   string          `json:"id"`   // client-assigned request id
	Data json.RawMessage `json:"data,omitempty"`
}

// ActionData is the payload for "action" messages. Action holds the
// JSON form of a CVU action value: a plain name string, a map carrying
// "action" plus arguments, or a list of either.
type ActionData struct {
	Action any `json:"action"`
}

// FilterData is the payload for "filter" messages.
type FilterData struct {
	Text        string `json:"text"`
	StarredOnly bool   `json:"starredOnly"`
}

// SelectData is the payload for "select" messages. It replaces the
// current view's multi-selection; an empty uid list clears it.
type SelectData struct {
	UIDs []int64 `json:"uids"`
}

// ServerMessage is the envelope for all server-to-client messages.
type ServerMessage struct {
	Type      string `json:"type"` // "session", "view", "error", "pong"
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// SessionData is sent once after connect.
type SessionData struct {
	ConnectionID string `json:"connection_id"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ViewUpdate is one rendered snapshot of the current view.
type ViewUpdate struct {
	Title    string       `json:"title"`
	Renderer string       `json:"renderer"`
	ItemType string       `json:"itemType"`
	EditMode bool         `json:"editMode"`
	Items    []ItemUpdate `json:"items"`
}

// ItemUpdate is one data item plus the UI nodes the active renderer
// produced for it.
type ItemUpdate struct {
	UID     int64      `json:"uid"`
	Type    string     `json:"_type"`
	Starred bool       `json:"starred"`
	Nodes   []NodeData `json:"nodes,omitempty"`
}

// NodeData is the JSON form of a rendered UI node.
type NodeData struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Children   []NodeData     `json:"children,omitempty"`
}
