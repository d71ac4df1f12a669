package expression

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/schema"
)

// maxLookupDepth bounds re-entrant variable evaluation. Cyclic variable
// definitions abort instead of recursing forever.
const maxLookupDepth = 4

// ErrRecursionLimit is returned when variable lookups re-enter evaluation
// past maxLookupDepth.
var ErrRecursionLimit = errors.New("expression: lookup recursion limit exceeded")

// ItemResolver resolves item refs and edge traversals. The cache
// implements this.
type ItemResolver interface {
	Fetch(ref item.ItemRef) (*item.Item, error)
	Target(it *item.Item, edgeType string) (*item.Item, error)
	Targets(it *item.Item, edgeType string) ([]*item.Item, error)
}

// VariableFn resolves a named variable from the enclosing view-argument
// scope. The returned value may itself be an unevaluated expression.
type VariableFn func(name string) (item.Value, bool)

// Scope carries everything a single evaluation needs. Scopes are cheap;
// build one per invocation context.
type Scope struct {
	Item       *item.Item
	Variables  VariableFn
	Resolver   ItemResolver
	Schema     *schema.Schema
	DateFormat string
	Logger     *zap.Logger

	depth int
}

func (sc *Scope) logger() *zap.Logger {
	if sc.Logger == nil {
		return zap.NewNop()
	}
	return sc.Logger
}

// Result is a typed evaluation result. Value always holds the variant
// form; Item/Items are set when the lookup resolved to live items.
type Result struct {
	Value item.Value
	Item  *item.Item
	Items []*item.Item
}

// Execute evaluates the compiled property against the scope. A
// single-lookup expression returns the natively typed value; multi-token
// expressions concatenate all resolved parts as a string. Per-lookup
// failures resolve to nil and are logged, not raised; only the recursion
// guard produces an error.
func (cp *CompiledProperty) Execute(sc *Scope) (Result, error) {
	if cp.SingleLookup() {
		return sc.resolve(cp.tokens[0].lookup)
	}
	var b strings.Builder
	for _, t := range cp.tokens {
		if t.lookup == nil {
			b.WriteString(t.literal)
			continue
		}
		res, err := sc.resolve(t.lookup)
		if err != nil {
			return Result{}, err
		}
		b.WriteString(res.Value.AsString(sc.DateFormat))
	}
	return Result{Value: item.String(b.String())}, nil
}

// ExecuteString evaluates and stringifies.
func (cp *CompiledProperty) ExecuteString(sc *Scope) (string, error) {
	res, err := cp.Execute(sc)
	if err != nil {
		return "", err
	}
	return res.Value.AsString(sc.DateFormat), nil
}

// ExecuteBool evaluates with boolean coercion.
func (cp *CompiledProperty) ExecuteBool(sc *Scope) (bool, error) {
	res, err := cp.Execute(sc)
	if err != nil {
		return false, err
	}
	return res.Value.AsBool(), nil
}

// resolve walks one lookup path. Evaluation errors inside the path are
// logged and resolve to nil; the recursion guard propagates.
func (sc *Scope) resolve(lu *Lookup) (Result, error) {
	res, err := sc.walk(lu)
	if err != nil {
		if errors.Is(err, ErrRecursionLimit) {
			return Result{}, err
		}
		sc.logger().Warn("expression lookup failed",
			zap.String("lookup", lu.Source), zap.Error(err))
		return Result{}, nil
	}
	if lu.Negate {
		return Result{Value: item.Bool(!res.Value.AsBool())}, nil
	}
	return res, nil
}

func (sc *Scope) walk(lu *Lookup) (Result, error) {
	var cur Result

	segs := lu.Segments
	first := segs[0]
	switch {
	case first.Name == "" && !first.Call:
		if sc.Item == nil {
			return Result{}, fmt.Errorf("no contextual item for %q", lu.Source)
		}
		cur = Result{Item: sc.Item}
		segs = segs[1:]
	case first.Call:
		// A bare function call has no receiver; nothing defines one.
		return Result{}, fmt.Errorf("call %q has no receiver", first.Name)
	default:
		v, err := sc.variable(first.Name)
		if err != nil {
			return Result{}, err
		}
		cur, err = sc.materialize(v)
		if err != nil {
			return Result{}, err
		}
		segs = segs[1:]
	}

	for _, seg := range segs {
		var err error
		cur, err = sc.step(cur, seg)
		if err != nil {
			return Result{}, err
		}
	}

	if cur.Item != nil && cur.Value.IsNil() {
		cur.Value = item.Ref(cur.Item.Ref())
	}
	if cur.Items != nil && cur.Value.IsNil() {
		refs := make([]item.Value, len(cur.Items))
		for i, it := range cur.Items {
			refs[i] = item.Ref(it.Ref())
		}
		cur.Value = item.List(refs)
	}
	return cur, nil
}

// variable resolves a named scope variable, re-entering evaluation for
// expression-valued variables under the recursion guard.
func (sc *Scope) variable(name string) (item.Value, error) {
	if sc.Variables == nil {
		return item.Value{}, fmt.Errorf("undefined variable %q (no scope)", name)
	}
	v, ok := sc.Variables(name)
	if !ok {
		return item.Value{}, fmt.Errorf("undefined variable %q", name)
	}
	if v.Kind() == item.KindExpr {
		if sc.depth+1 > maxLookupDepth {
			return item.Value{}, fmt.Errorf("resolving %q: %w", name, ErrRecursionLimit)
		}
		inner, ok := v.ExprVal().(*CompiledProperty)
		if !ok {
			return item.Value{}, fmt.Errorf("variable %q holds a foreign expression", name)
		}
		nested := *sc
		nested.depth = sc.depth + 1
		res, err := inner.Execute(&nested)
		if err != nil {
			return item.Value{}, err
		}
		return res.Value, nil
	}
	return v, nil
}

// materialize dereferences item refs into live items.
func (sc *Scope) materialize(v item.Value) (Result, error) {
	if v.Kind() == item.KindItemRef && sc.Resolver != nil {
		it, err := sc.Resolver.Fetch(v.RefVal())
		if err != nil {
			return Result{}, err
		}
		return Result{Item: it, Value: v}, nil
	}
	return Result{Value: v}, nil
}

// step applies one path segment to the current result.
func (sc *Scope) step(cur Result, seg Segment) (Result, error) {
	if seg.Call {
		return sc.call(cur, seg)
	}

	switch {
	case cur.Item != nil:
		return sc.itemProperty(cur.Item, seg.Name)
	case cur.Value.Kind() == item.KindMap:
		v, ok := cur.Value.MapVal()[seg.Name]
		if !ok {
			return Result{}, fmt.Errorf("map has no key %q", seg.Name)
		}
		return sc.materialize(v)
	case cur.Value.Kind() == item.KindItemRef:
		r, err := sc.materialize(cur.Value)
		if err != nil {
			return Result{}, err
		}
		return sc.itemProperty(r.Item, seg.Name)
	default:
		return Result{}, fmt.Errorf("cannot look up %q on %s value", seg.Name, cur.Value.Kind())
	}
}

// itemProperty resolves fixed fields, schema properties, and edges on an
// item. Properties absent from the schema fail gracefully at the caller.
func (sc *Scope) itemProperty(it *item.Item, name string) (Result, error) {
	switch name {
	case "uid":
		return Result{Value: item.Int(it.UID)}, nil
	case "version":
		return Result{Value: item.Int(int64(it.Version))}, nil
	case "deleted":
		return Result{Value: item.Bool(it.Deleted)}, nil
	case "starred":
		return Result{Value: item.Bool(it.Starred)}, nil
	case "type", "genericType":
		return Result{Value: item.String(string(it.Family))}, nil
	case "dateCreated":
		return Result{Value: item.Time(it.DateCreated)}, nil
	case "dateModified":
		return Result{Value: item.Time(it.DateModified)}, nil
	case "dateAccessed":
		return Result{Value: item.Time(it.DateAccessed)}, nil
	}

	if sc.Schema != nil {
		if _, ok := sc.Schema.Property(string(it.Family), name); ok {
			return Result{Value: it.Get(name)}, nil
		}
		if spec, ok := sc.Schema.Edge(string(it.Family), name); ok {
			if sc.Resolver == nil {
				return Result{}, fmt.Errorf("no resolver for edge %q", name)
			}
			if spec.Many {
				targets, err := sc.Resolver.Targets(it, name)
				if err != nil {
					return Result{}, err
				}
				return Result{Items: targets}, nil
			}
			target, err := sc.Resolver.Target(it, name)
			if err != nil {
				return Result{}, err
			}
			if target == nil {
				return Result{}, nil
			}
			return Result{Item: target}, nil
		}
		return Result{}, fmt.Errorf("%s has no property or edge %q", it.Family, name)
	}
	return Result{Value: it.Get(name)}, nil
}
