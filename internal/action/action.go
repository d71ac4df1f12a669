// Package action implements the closed set of user-invocable commands.
// Every command goes through one dispatch table: a kind, its default
// argument values, a typed argument builder, and an exec function. The
// ExecuteAction boundary catches every failure so a bad action logs
// instead of crashing the session.
package action

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/schema"
	"github.com/memri/memri-go/internal/session"
)

// ErrUnknownAction is returned for names outside the closed kind set.
var ErrUnknownAction = errors.New("action: unknown action")

// Context is the surface actions mutate. The engine implements it; the
// narrow interface keeps this package free of engine wiring.
type Context interface {
	Cache() *cache.Cache
	Schema() *schema.Schema
	Sessions() *session.Manager
	Logger() *zap.Logger
	DateFormat() string

	// OpenViewDef pushes a view built from an inline definition.
	OpenViewDef(ctx context.Context, def *cvu.Definition, target *item.Item, args *session.ViewArguments) error
	// OpenViewNamed pushes a view resolved from a stored definition.
	OpenViewNamed(ctx context.Context, name string, target *item.Item, args *session.ViewArguments) error
	// OpenItem pushes an item detail view.
	OpenItem(ctx context.Context, target *item.Item, args *session.ViewArguments) error

	ScheduleUIUpdate()
	ScheduleSync()

	RunImporter(ctx context.Context, uid int64) error
	RunIndexer(ctx context.Context, uid int64) error
}

// Invocation is one resolved action call: the context item it was
// invoked on, the view-argument scope, and the typed arguments.
type Invocation struct {
	Kind Kind
	Item *item.Item
	View *session.View
	Args map[string]item.Value
}

// Arg returns a resolved argument, nil Value when absent.
func (inv *Invocation) Arg(name string) item.Value {
	return inv.Args[name]
}

// ExecuteAction is the top-level action boundary. The raw value is the
// parsed CVU form: a plain name, a map carrying "action" plus argument
// entries, or a list of either. Failures, including panics in an exec
// body, are logged and swallowed; the UI simply does not change.
func ExecuteAction(ctx context.Context, ac Context, raw item.Value, contextItem *item.Item, viewArgs *session.ViewArguments) {
	defer func() {
		if r := recover(); r != nil {
			ac.Logger().Error("action panicked", zap.Any("panic", r))
		}
	}()
	if err := executeValue(ctx, ac, raw, contextItem, viewArgs); err != nil {
		ac.Logger().Warn("action failed", zap.Error(err))
	}
}

func executeValue(ctx context.Context, ac Context, raw item.Value, contextItem *item.Item, viewArgs *session.ViewArguments) error {
	switch raw.Kind() {
	case item.KindList:
		for _, entry := range raw.ListVal() {
			if err := executeValue(ctx, ac, entry, contextItem, viewArgs); err != nil {
				return err
			}
		}
		return nil
	case item.KindString, item.KindMap:
		name, rawArgs := splitCall(raw)
		return executeOne(ctx, ac, name, rawArgs, contextItem, viewArgs)
	case item.KindNil:
		return nil
	default:
		return fmt.Errorf("action: cannot execute %v value", raw.Kind())
	}
}

func splitCall(raw item.Value) (string, map[string]item.Value) {
	if raw.Kind() == item.KindString {
		return raw.Str(), nil
	}
	m := raw.MapVal()
	args := make(map[string]item.Value, len(m))
	name := ""
	for k, v := range m {
		if k == "action" {
			name = v.Str()
			continue
		}
		args[k] = v
	}
	return name, args
}

func executeOne(ctx context.Context, ac Context, name string, rawArgs map[string]item.Value, contextItem *item.Item, viewArgs *session.ViewArguments) error {
	spec, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	inv, err := buildInvocation(ctx, ac, spec, rawArgs, contextItem, viewArgs)
	if err != nil {
		return fmt.Errorf("building %q arguments: %w", name, err)
	}

	if binding := inv.Arg("binding"); !binding.IsNil() {
		if err := toggleBinding(ctx, ac, binding, inv); err != nil {
			return fmt.Errorf("toggling %q binding: %w", name, err)
		}
	}

	if spec.Exec != nil {
		if err := spec.Exec(ctx, ac, inv); err != nil {
			return fmt.Errorf("executing %q: %w", name, err)
		}
	}
	ac.ScheduleUIUpdate()
	return nil
}
