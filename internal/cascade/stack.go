// Package cascade resolves properties across a priority-ordered stack of
// parsed CVU definitions: most-specific first (state > session > user >
// type default > wildcard default). Scalar lookups take the first
// definition that sets the property; list and dict lookups can merge
// across the whole stack.
package cascade

import (
	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
)

// Stack is an ordered list of definitions, most-specific first. A Stack
// memoizes which definition supplies each property; expression values
// are executed per read against the supplied scope, so the same stack
// renders differently per invocation context.
type Stack struct {
	defs   []*cvu.Definition
	memo   map[string]item.Value
	logger *zap.Logger
}

// New creates a stack over defs, most-specific first.
func New(logger *zap.Logger, defs ...*cvu.Definition) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{defs: defs, memo: map[string]item.Value{}, logger: logger}
}

// Defs returns the underlying definitions in priority order.
func (s *Stack) Defs() []*cvu.Definition { return s.defs }

// Append adds a definition at the lowest priority.
func (s *Stack) Append(def *cvu.Definition) {
	s.defs = append(s.defs, def)
	s.memo = map[string]item.Value{}
}

// InsertAt splices a definition at the given priority index.
func (s *Stack) InsertAt(i int, def *cvu.Definition) {
	if i < 0 {
		i = 0
	}
	if i > len(s.defs) {
		i = len(s.defs)
	}
	s.defs = append(s.defs[:i], append([]*cvu.Definition{def}, s.defs[i:]...)...)
	s.memo = map[string]item.Value{}
}

// raw returns the first definition's value for name, memoized.
func (s *Stack) raw(name string) item.Value {
	if v, ok := s.memo[name]; ok {
		return v
	}
	var found item.Value
	for _, d := range s.defs {
		if v, ok := d.Properties[name]; ok && !v.IsNil() {
			found = v
			break
		}
	}
	s.memo[name] = found
	return found
}

// Property returns the first defined value for name scanning the stack
// front to back. Expression values are executed against sc at read time;
// evaluation failures resolve to nil and are logged.
func (s *Stack) Property(name string, sc *expression.Scope) item.Value {
	return s.eval(s.raw(name), sc)
}

// PropertyString is Property with string coercion.
func (s *Stack) PropertyString(name string, sc *expression.Scope) string {
	df := ""
	if sc != nil {
		df = sc.DateFormat
	}
	return s.Property(name, sc).AsString(df)
}

// PropertyBool is Property with boolean coercion.
func (s *Stack) PropertyBool(name string, sc *expression.Scope) bool {
	return s.Property(name, sc).AsBool()
}

// List resolves a list-valued property. With merge=false it returns the
// first list (or singleton) found; with merge=true it concatenates
// lists and singletons across the entire stack in encounter order.
func (s *Stack) List(name string, merge bool, sc *expression.Scope) []item.Value {
	if !merge {
		v := s.Property(name, sc)
		return flatten(v)
	}
	var out []item.Value
	for _, d := range s.defs {
		v, ok := d.Properties[name]
		if !ok || v.IsNil() {
			continue
		}
		out = append(out, flatten(s.eval(v, sc))...)
	}
	return out
}

// Dict merges map-valued properties across the stack, first-writer-wins
// per key. forceArray coerces scalar entry values into singleton lists
// so every value has a uniform list type.
func (s *Stack) Dict(name string, forceArray bool, sc *expression.Scope) map[string]item.Value {
	out := map[string]item.Value{}
	for _, d := range s.defs {
		v, ok := d.Properties[name]
		if !ok || v.IsNil() {
			continue
		}
		m := dictEntries(v)
		for k, entry := range m {
			if _, exists := out[k]; exists {
				continue
			}
			ev := s.eval(entry, sc)
			if forceArray && ev.Kind() != item.KindList {
				ev = item.List([]item.Value{ev})
			}
			out[k] = ev
		}
	}
	return out
}

// GroupedList merges a list of map entries across the stack, keyed by
// uniqueKey: stack entries sharing a key deep-merge into one entry, the
// higher-priority definition supplying overrides and lower-priority
// ones filling gaps. Entries without the key append in encounter order.
func (s *Stack) GroupedList(name, uniqueKey string, sc *expression.Scope) []map[string]item.Value {
	var order []string
	byKey := map[string]map[string]item.Value{}
	var keyless []map[string]item.Value

	for _, d := range s.defs {
		v, ok := d.Properties[name]
		if !ok || v.IsNil() {
			continue
		}
		for _, entry := range flatten(v) {
			if entry.Kind() != item.KindMap {
				s.logger.Warn("grouped list entry is not a map; dropped",
					zap.String("property", name), zap.String("kind", entry.Kind().String()))
				continue
			}
			m := entry.MapVal()
			kv, hasKey := m[uniqueKey]
			if !hasKey {
				keyless = append(keyless, s.evalMap(m, sc))
				continue
			}
			key := kv.AsString("")
			existing, seen := byKey[key]
			if !seen {
				byKey[key] = s.evalMap(m, sc)
				order = append(order, key)
				continue
			}
			// A higher-priority entry already claimed the key; fill
			// only the sub-keys it left unset.
			for sk, sv := range m {
				if _, ok := existing[sk]; !ok {
					existing[sk] = s.eval(sv, sc)
				}
			}
		}
	}

	out := make([]map[string]item.Value, 0, len(order)+len(keyless))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return append(out, keyless...)
}

// eval executes expression values against the scope; other values pass
// through.
func (s *Stack) eval(v item.Value, sc *expression.Scope) item.Value {
	if v.Kind() != item.KindExpr {
		return v
	}
	cp, ok := v.ExprVal().(*expression.CompiledProperty)
	if !ok {
		return item.Value{}
	}
	if sc == nil {
		sc = &expression.Scope{}
	}
	res, err := cp.Execute(sc)
	if err != nil {
		s.logger.Warn("cascade expression failed",
			zap.String("expr", cp.Source()), zap.Error(err))
		return item.Value{}
	}
	return res.Value
}

func (s *Stack) evalMap(m map[string]item.Value, sc *expression.Scope) map[string]item.Value {
	out := make(map[string]item.Value, len(m))
	for k, v := range m {
		out[k] = s.eval(v, sc)
	}
	return out
}

// flatten turns a value into list form: lists stay, nil vanishes,
// scalars become singletons.
func flatten(v item.Value) []item.Value {
	switch v.Kind() {
	case item.KindNil:
		return nil
	case item.KindList:
		return v.ListVal()
	default:
		return []item.Value{v}
	}
}

// dictEntries extracts map entries from a map value or a nested
// definition's property bag.
func dictEntries(v item.Value) map[string]item.Value {
	switch v.Kind() {
	case item.KindMap:
		return v.MapVal()
	case item.KindDef:
		if d, ok := v.DefVal().(*cvu.Definition); ok {
			return d.Properties
		}
	}
	return nil
}
