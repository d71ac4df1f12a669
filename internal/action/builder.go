package action

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/session"
)

// buildInvocation resolves every argument slot for an action call.
// Resolution order per slot: explicit value, then the kind's defaults,
// then process-wide base values. Expression-valued inputs execute
// against the view-argument scope before coercion.
func buildInvocation(ctx context.Context, ac Context, spec *Spec, rawArgs map[string]item.Value, contextItem *item.Item, viewArgs *session.ViewArguments) (*Invocation, error) {
	inv := &Invocation{
		Kind: spec.Kind,
		Item: contextItem,
		Args: map[string]item.Value{},
	}
	if s := ac.Sessions().Current(); s != nil {
		inv.View = s.CurrentView()
	}

	merged := map[string]item.Value{}
	for k, v := range baseValues {
		merged[k] = v
	}
	for k, v := range spec.DefaultValues {
		merged[k] = v
	}
	for k, v := range rawArgs {
		merged[k] = v
	}

	for name, raw := range merged {
		// Bindings stay unevaluated; the toggle resolves them itself.
		if name == "binding" {
			v, err := asExpression(raw)
			if err != nil {
				ac.Logger().Warn("dropping malformed binding",
					zap.String("action", string(spec.Kind)), zap.Error(err))
				continue
			}
			inv.Args[name] = v
			continue
		}

		declared, ok := spec.ArgTypes[name]
		if !ok {
			declared = ArgAny
		}
		resolved, err := resolveArg(ctx, ac, declared, raw, contextItem, viewArgs)
		if err != nil {
			// Known slot, wrong shape: warn and drop rather than fail
			// the whole action.
			ac.Logger().Warn("dropping action argument",
				zap.String("action", string(spec.Kind)), zap.String("argument", name), zap.Error(err))
			continue
		}
		inv.Args[name] = resolved
	}
	return inv, nil
}

func asExpression(raw item.Value) (item.Value, error) {
	switch raw.Kind() {
	case item.KindExpr:
		return raw, nil
	case item.KindString:
		cp, err := expression.Compile(raw.Str())
		if err != nil {
			return item.Value{}, err
		}
		return item.Expr(cp), nil
	default:
		return item.Value{}, fmt.Errorf("binding must be an expression, got %v", raw.Kind())
	}
}

func exprScope(ac Context, contextItem *item.Item, viewArgs *session.ViewArguments) *expression.Scope {
	return &expression.Scope{
		Item:       contextItem,
		Variables:  viewArgs.Resolve,
		Resolver:   ac.Cache(),
		Schema:     ac.Schema(),
		DateFormat: ac.DateFormat(),
		Logger:     ac.Logger(),
	}
}

func resolveArg(ctx context.Context, ac Context, declared ArgType, raw item.Value, contextItem *item.Item, viewArgs *session.ViewArguments) (item.Value, error) {
	if declared == ArgExpr {
		return asExpression(raw)
	}

	var res expression.Result
	if raw.Kind() == item.KindExpr {
		cp, ok := raw.ExprVal().(*expression.CompiledProperty)
		if !ok {
			return item.Value{}, fmt.Errorf("unexpected expression type %T", raw.ExprVal())
		}
		r, err := cp.Execute(exprScope(ac, contextItem, viewArgs))
		if err != nil {
			return item.Value{}, err
		}
		res = r
	} else {
		res = expression.Result{Value: raw}
	}

	switch declared {
	case ArgAny:
		return res.Value, nil
	case ArgString:
		return item.String(res.Value.AsString(ac.DateFormat())), nil
	case ArgBool:
		return item.Bool(res.Value.AsBool()), nil
	case ArgInt:
		n, ok := res.Value.AsInt()
		if !ok {
			return item.Value{}, fmt.Errorf("expected an integer, got %v", res.Value.Kind())
		}
		return item.Int(n), nil
	case ArgDef:
		if res.Value.Kind() != item.KindDef {
			return item.Value{}, fmt.Errorf("expected a definition, got %v", res.Value.Kind())
		}
		return res.Value, nil
	case ArgViewArgs:
		if res.Value.Kind() != item.KindMap {
			return item.Value{}, fmt.Errorf("expected a map, got %v", res.Value.Kind())
		}
		return res.Value, nil
	case ArgActions:
		if res.Value.Kind() != item.KindList && res.Value.Kind() != item.KindMap && res.Value.Kind() != item.KindString {
			return item.Value{}, fmt.Errorf("expected actions, got %v", res.Value.Kind())
		}
		return res.Value, nil
	case ArgItem:
		return resolveItemArg(ctx, ac, res, contextItem, viewArgs)
	default:
		return item.Value{}, fmt.Errorf("unknown argument type %d", declared)
	}
}

// resolveItemArg turns an argument into a cache-registered item ref.
// Accepted shapes: an item resolved by the expression, an explicit
// ref, or an item-literal map carrying a "_type" discriminator, which
// is materialized through the cache.
func resolveItemArg(ctx context.Context, ac Context, res expression.Result, contextItem *item.Item, viewArgs *session.ViewArguments) (item.Value, error) {
	if res.Item != nil {
		return item.Ref(res.Item.Ref()), nil
	}
	v := res.Value
	switch v.Kind() {
	case item.KindItemRef:
		return v, nil
	case item.KindMap:
		m := v.MapVal()
		typeName, ok := m["_type"]
		if !ok {
			return item.Value{}, fmt.Errorf("item literal is missing _type")
		}
		family, ok := item.LookupFamily(typeName.Str())
		if !ok {
			return item.Value{}, fmt.Errorf("item literal has unknown type %q", typeName.Str())
		}
		props := map[string]item.Value{}
		for k, pv := range m {
			if k == "_type" {
				continue
			}
			if pv.Kind() == item.KindExpr {
				cp, ok := pv.ExprVal().(*expression.CompiledProperty)
				if !ok {
					return item.Value{}, fmt.Errorf("unexpected expression type %T", pv.ExprVal())
				}
				r, err := cp.Execute(exprScope(ac, contextItem, viewArgs))
				if err != nil {
					return item.Value{}, err
				}
				pv = r.Value
			}
			props[k] = pv
		}
		created, err := ac.Cache().CreateItem(ctx, family, props)
		if err != nil {
			return item.Value{}, err
		}
		ac.ScheduleSync()
		return item.Ref(created.Ref()), nil
	case item.KindNil:
		if contextItem == nil {
			return item.Value{}, fmt.Errorf("no item in scope")
		}
		return item.Ref(contextItem.Ref()), nil
	default:
		return item.Value{}, fmt.Errorf("cannot resolve %v as an item", v.Kind())
	}
}

// fetchItemArg loads the item behind a resolved ArgItem value. Falls
// back to the invocation's context item when the slot is absent.
func fetchItemArg(ac Context, inv *Invocation, name string) (*item.Item, error) {
	v := inv.Arg(name)
	if v.IsNil() {
		if inv.Item != nil {
			return inv.Item, nil
		}
		return nil, fmt.Errorf("action %q needs an item and none is in scope", inv.Kind)
	}
	return ac.Cache().Fetch(v.RefVal())
}
