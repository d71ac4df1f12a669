// Package session models per-device navigation state: sessions, their
// view history, and the key-value overlays each view carries.
package session

import (
	"encoding/json"

	"github.com/memri/memri-go/internal/item"
)

// ViewArguments is a key-value overlay scoped to one view invocation.
// Item references are stored by type and uid, never as object graphs,
// so an overlay serializes safely and re-resolves against the live
// cache at read time.
type ViewArguments struct {
	vals map[string]item.Value
}

// NewViewArguments builds an overlay from initial values. Nil is fine.
func NewViewArguments(vals map[string]item.Value) *ViewArguments {
	if vals == nil {
		vals = map[string]item.Value{}
	}
	return &ViewArguments{vals: vals}
}

// Get returns the named argument, nil Value when absent.
func (va *ViewArguments) Get(name string) item.Value {
	if va == nil {
		return item.Nil()
	}
	return va.vals[name]
}

// Resolve makes ViewArguments usable as an expression variable scope.
func (va *ViewArguments) Resolve(name string) (item.Value, bool) {
	if va == nil {
		return item.Nil(), false
	}
	v, ok := va.vals[name]
	return v, ok
}

// Set writes one argument.
func (va *ViewArguments) Set(name string, v item.Value) {
	va.vals[name] = v
}

// Len returns the number of arguments.
func (va *ViewArguments) Len() int {
	if va == nil {
		return 0
	}
	return len(va.vals)
}

// Merge copies the other overlay's entries over this one.
func (va *ViewArguments) Merge(other *ViewArguments) {
	if other == nil {
		return
	}
	for k, v := range other.vals {
		va.vals[k] = v
	}
}

// Clone returns an independent copy.
func (va *ViewArguments) Clone() *ViewArguments {
	cp := NewViewArguments(nil)
	cp.Merge(va)
	return cp
}

// MarshalJSON serializes the overlay. Item refs become {_type, uid}.
func (va *ViewArguments) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(va.vals))
	for k, v := range va.vals {
		out[k] = v.ToJSON()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores an overlay from its serialized form.
func (va *ViewArguments) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	va.vals = make(map[string]item.Value, len(raw))
	for k, v := range raw {
		va.vals[k] = item.FromJSON(v)
	}
	return nil
}

// UserState is the persisted per-view UI state overlay. Same shape as
// ViewArguments, different lifecycle: user state survives navigation
// and is saved with the session.
type UserState = ViewArguments

// NewUserState builds an empty user-state overlay.
func NewUserState() *UserState { return NewViewArguments(nil) }
