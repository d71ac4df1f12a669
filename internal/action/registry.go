package action

import (
	"context"

	"github.com/memri/memri-go/internal/item"
)

// Kind names one command in the closed action set.
type Kind string

const (
	KindOpenView            Kind = "openView"
	KindOpenViewByName      Kind = "openViewByName"
	KindBack                Kind = "back"
	KindForward             Kind = "forward"
	KindForwardToFront      Kind = "forwardToFront"
	KindBackAsSession       Kind = "backAsSession"
	KindOpenSession         Kind = "openSession"
	KindDelete              Kind = "delete"
	KindDuplicate           Kind = "duplicate"
	KindAddItem             Kind = "addItem"
	KindLink                Kind = "link"
	KindUnlink              Kind = "unlink"
	KindStar                Kind = "star"
	KindToggleEditMode      Kind = "toggleEditMode"
	KindToggleFilterPanel   Kind = "toggleFilterPanel"
	KindShowStarred         Kind = "showStarred"
	KindShowContextPane     Kind = "showContextPane"
	KindShowSessionSwitcher Kind = "showSessionSwitcher"
	KindSchedule            Kind = "schedule"
	KindSetRenderer         Kind = "setRenderer"
	KindRunImporter         Kind = "runImporterRun"
	KindRunIndexer          Kind = "runIndexerRun"
	KindNoop                Kind = "noop"
)

// ArgType declares how one argument slot is coerced.
type ArgType int

const (
	ArgAny ArgType = iota
	ArgString
	ArgBool
	ArgInt
	ArgItem
	ArgDef
	ArgViewArgs
	ArgActions
	ArgExpr
)

// ExecFunc runs an action against the engine context.
type ExecFunc func(ctx context.Context, ac Context, inv *Invocation) error

// Spec describes one action kind: its argument contract, defaults, and
// exec body. Kinds with a nil Exec rely entirely on their binding
// toggle side effect.
type Spec struct {
	Kind          Kind
	ArgTypes      map[string]ArgType
	DefaultValues map[string]item.Value
	Exec          ExecFunc
}

// baseValues are process-wide presentation defaults every action
// inherits; explicit and per-kind defaults win over them.
var baseValues = map[string]item.Value{
	"icon":            item.String(""),
	"color":           item.String("primary"),
	"backgroundColor": item.String("clear"),
	"withAnimation":   item.Bool(true),
}

var registry = map[Kind]*Spec{}

func register(s *Spec) {
	registry[s.Kind] = s
}

// Lookup resolves an action name to its spec.
func Lookup(name string) (*Spec, bool) {
	s, ok := registry[Kind(name)]
	return s, ok
}

// Kinds returns every registered action name.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, string(k))
	}
	return out
}

func bindingExpr(path string) item.Value {
	return item.String("{" + path + "}")
}

func init() {
	register(&Spec{
		Kind: KindOpenView,
		ArgTypes: map[string]ArgType{
			"view": ArgDef, "viewName": ArgString, "viewArguments": ArgViewArgs, "item": ArgItem,
		},
		DefaultValues: map[string]item.Value{"icon": item.String("layers")},
		Exec:          execOpenView,
	})
	register(&Spec{
		Kind:     KindOpenViewByName,
		ArgTypes: map[string]ArgType{"name": ArgString, "viewArguments": ArgViewArgs, "item": ArgItem},
		Exec:     execOpenViewByName,
	})
	register(&Spec{
		Kind:          KindBack,
		DefaultValues: map[string]item.Value{"icon": item.String("chevron.left")},
		Exec:          execBack,
	})
	register(&Spec{Kind: KindForward, Exec: execForward})
	register(&Spec{Kind: KindForwardToFront, Exec: execForwardToFront})
	register(&Spec{Kind: KindBackAsSession, Exec: execBackAsSession})
	register(&Spec{
		Kind:     KindOpenSession,
		ArgTypes: map[string]ArgType{"session": ArgInt, "name": ArgString},
		Exec:     execOpenSession,
	})
	register(&Spec{
		Kind:          KindDelete,
		ArgTypes:      map[string]ArgType{"item": ArgItem},
		DefaultValues: map[string]item.Value{"icon": item.String("trash"), "color": item.String("red")},
		Exec:          execDelete,
	})
	register(&Spec{
		Kind:     KindDuplicate,
		ArgTypes: map[string]ArgType{"item": ArgItem},
		Exec:     execDuplicate,
	})
	register(&Spec{
		Kind:          KindAddItem,
		ArgTypes:      map[string]ArgType{"template": ArgItem, "openNewItem": ArgBool},
		DefaultValues: map[string]item.Value{"icon": item.String("plus"), "openNewItem": item.Bool(true)},
		Exec:          execAddItem,
	})
	register(&Spec{
		Kind:     KindLink,
		ArgTypes: map[string]ArgType{"subject": ArgItem, "edgeType": ArgString, "distinct": ArgBool},
		Exec:     execLink,
	})
	register(&Spec{
		Kind:     KindUnlink,
		ArgTypes: map[string]ArgType{"subject": ArgItem, "edgeType": ArgString},
		Exec:     execUnlink,
	})

	// Toggle-style actions: the binding side effect is the behavior.
	register(&Spec{
		Kind: KindStar,
		DefaultValues: map[string]item.Value{
			"icon": item.String("star"), "binding": bindingExpr(".starred"),
		},
	})
	register(&Spec{
		Kind: KindToggleEditMode,
		DefaultValues: map[string]item.Value{
			"icon": item.String("pencil"), "binding": bindingExpr("currentSession.editMode"),
		},
	})
	register(&Spec{
		Kind: KindToggleFilterPanel,
		DefaultValues: map[string]item.Value{
			"icon": item.String("rhombus.fill"), "binding": bindingExpr("currentSession.showFilterPanel"),
		},
	})
	register(&Spec{
		Kind: KindShowStarred,
		DefaultValues: map[string]item.Value{
			"icon": item.String("star.fill"), "binding": bindingExpr("view.userState.showStarred"),
		},
	})
	register(&Spec{
		Kind: KindShowContextPane,
		DefaultValues: map[string]item.Value{
			"icon": item.String("ellipsis"), "binding": bindingExpr("currentSession.showContextPane"),
		},
	})
	register(&Spec{
		Kind: KindShowSessionSwitcher,
		DefaultValues: map[string]item.Value{
			"icon": item.String("square.stack"), "binding": bindingExpr("view.userState.showSessionSwitcher"),
		},
	})
	register(&Spec{
		Kind: KindSchedule,
		DefaultValues: map[string]item.Value{
			"icon": item.String("alarm"), "binding": bindingExpr("view.userState.showSchedule"),
		},
	})

	register(&Spec{
		Kind:     KindSetRenderer,
		ArgTypes: map[string]ArgType{"renderer": ArgString},
		Exec:     execSetRenderer,
	})
	register(&Spec{
		Kind:     KindRunImporter,
		ArgTypes: map[string]ArgType{"importerRun": ArgItem},
		Exec:     execRunImporter,
	})
	register(&Spec{
		Kind:     KindRunIndexer,
		ArgTypes: map[string]ArgType{"indexerRun": ArgItem},
		Exec:     execRunIndexer,
	})
	register(&Spec{Kind: KindNoop})
}
