// Package item defines the core data model: versioned graph Items, typed
// Edges between them, and the tagged Value variant used for all dynamic
// property storage.
package item

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ValueKind discriminates the closed set of property value types.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindString
	KindBool
	KindInt
	KindDouble
	KindTime
	KindItemRef
	KindList
	KindMap
	KindExpr
	KindDef
)

func (k ValueKind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindTime:
		return "time"
	case KindItemRef:
		return "itemref"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindExpr:
		return "expression"
	case KindDef:
		return "definition"
	}
	return "unknown"
}

// Expression is implemented by compiled CVU expressions. Values of kind
// KindExpr hold one; evaluation happens in higher layers that know the
// concrete type.
type Expression interface {
	Source() string
}

// SubDefinition is implemented by nested CVU definitions stored inside a
// parent definition's property map.
type SubDefinition interface {
	DefName() string
}

// ItemRef points at an Item by family and uid without holding the object
// graph. Refs are re-resolved through the cache at read time.
type ItemRef struct {
	Family string `json:"_type"`
	UID    int64  `json:"uid"`
}

// Value is a closed tagged variant covering every type a dynamic property
// can carry. The zero Value is nil.
type Value struct {
	kind ValueKind
	str  string
	b    bool
	i    int64
	f    float64
	t    time.Time
	ref  ItemRef
	list []Value
	m    map[string]Value
	expr Expression
	def  SubDefinition
}

// Constructors.

func Nil() Value                   { return Value{} }
func String(s string) Value        { return Value{kind: KindString, str: s} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Int(i int64) Value            { return Value{kind: KindInt, i: i} }
func Double(f float64) Value       { return Value{kind: KindDouble, f: f} }
func Time(t time.Time) Value       { return Value{kind: KindTime, t: t} }
func Ref(r ItemRef) Value          { return Value{kind: KindItemRef, ref: r} }
func List(vs []Value) Value        { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }
func Expr(e Expression) Value      { return Value{kind: KindExpr, expr: e} }
func Def(d SubDefinition) Value    { return Value{kind: KindDef, def: d} }

// Kind returns the value's discriminator.
func (v Value) Kind() ValueKind { return v.kind }

// IsNil reports whether the value is unset.
func (v Value) IsNil() bool { return v.kind == KindNil }

// Accessors. Each returns the zero value when the kind does not match;
// the ok form reports whether it did.

func (v Value) Str() string               { return v.str }
func (v Value) StrOK() (string, bool)     { return v.str, v.kind == KindString }
func (v Value) BoolVal() bool             { return v.b }
func (v Value) BoolOK() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) IntVal() int64             { return v.i }
func (v Value) IntOK() (int64, bool)      { return v.i, v.kind == KindInt }
func (v Value) DoubleVal() float64        { return v.f }
func (v Value) TimeVal() time.Time        { return v.t }
func (v Value) TimeOK() (time.Time, bool) { return v.t, v.kind == KindTime }
func (v Value) RefVal() ItemRef           { return v.ref }
func (v Value) ListVal() []Value          { return v.list }
func (v Value) MapVal() map[string]Value  { return v.m }
func (v Value) ExprVal() Expression       { return v.expr }
func (v Value) DefVal() SubDefinition     { return v.def }

// AsBool coerces the value into a boolean: nil and empty strings are
// false, numbers are false at zero, lists are false when empty.
func (v Value) AsBool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNil:
		return false
	case KindString:
		return v.str != "" && v.str != "false"
	case KindInt:
		return v.i != 0
	case KindDouble:
		return v.f != 0
	case KindList:
		return len(v.list) > 0
	default:
		return true
	}
}

// AsString renders the value for concatenation into display text. Times
// use the supplied format; nil renders empty.
func (v Value) AsString(dateFormat string) string {
	switch v.kind {
	case KindNil:
		return ""
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindTime:
		if dateFormat == "" {
			dateFormat = "2006/01/02 15:04"
		}
		return v.t.Format(dateFormat)
	case KindItemRef:
		return fmt.Sprintf("%s#%d", v.ref.Family, v.ref.UID)
	case KindExpr:
		return v.expr.Source()
	default:
		return fmt.Sprintf("<%s>", v.kind)
	}
}

// AsInt coerces numeric and numeric-string values into an int64.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindDouble:
		return int64(v.f), true
	case KindString:
		n, err := strconv.ParseInt(v.str, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Equal reports deep equality of two values. Expressions compare by
// source text; definitions compare by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f
	case KindTime:
		return v.t.Equal(o.t)
	case KindItemRef:
		return v.ref == o.ref
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := o.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	case KindExpr:
		return v.expr.Source() == o.expr.Source()
	case KindDef:
		return v.def == o.def
	}
	return false
}

// MapKeys returns the sorted keys of a map value.
func (v Value) MapKeys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToJSON converts the value into a plain interface tree suitable for
// encoding/json. Expressions serialize as their source text, definitions
// are skipped (they are never persisted through item properties).
func (v Value) ToJSON() any {
	switch v.kind {
	case KindNil:
		return nil
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDouble:
		return v.f
	case KindTime:
		return map[string]any{"$date": v.t.UnixMilli()}
	case KindItemRef:
		return map[string]any{"_type": v.ref.Family, "uid": v.ref.UID}
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToJSON()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToJSON()
		}
		return out
	case KindExpr:
		return v.expr.Source()
	default:
		return nil
	}
}

// FromJSON converts a decoded interface tree back into a Value. Maps with
// exactly the keys "_type" and "uid" decode as item refs.
func FromJSON(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Nil()
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Double(t)
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromJSON(e)
		}
		return List(vs)
	case map[string]any:
		if len(t) == 1 {
			switch ms := t["$date"].(type) {
			case float64:
				return Time(time.UnixMilli(int64(ms)))
			case int64:
				return Time(time.UnixMilli(ms))
			}
		}
		if len(t) == 2 {
			if family, ok := t["_type"].(string); ok {
				switch uid := t["uid"].(type) {
				case float64:
					return Ref(ItemRef{Family: family, UID: int64(uid)})
				case int64:
					return Ref(ItemRef{Family: family, UID: uid})
				}
			}
		}
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromJSON(e)
		}
		return Map(m)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
