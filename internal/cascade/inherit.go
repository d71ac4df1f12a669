package cascade

import (
	"errors"
	"fmt"

	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
)

// ErrInheritCycle is returned when inherit directives form a loop.
var ErrInheritCycle = errors.New("cascade: inherit cycle")

// DefinitionFetcher resolves a view name to its parsed definition.
type DefinitionFetcher func(name string) (*cvu.Definition, error)

// ResolveInherit processes the stack's inherit directives: for every
// definition declaring `inherit: <name-or-expr>`, the referenced
// definition is fetched (or evaluated) and merged beneath it, filling
// gaps. Chained inherits resolve recursively; cycles abort.
func (s *Stack) ResolveInherit(fetch DefinitionFetcher, sc *expression.Scope) error {
	for _, d := range s.defs {
		if err := resolveInheritOn(d, fetch, sc, map[string]bool{}); err != nil {
			return err
		}
	}
	s.memo = map[string]item.Value{}
	return nil
}

func resolveInheritOn(d *cvu.Definition, fetch DefinitionFetcher, sc *expression.Scope, seen map[string]bool) error {
	v, ok := d.Properties["inherit"]
	if !ok || v.IsNil() {
		return nil
	}

	name, err := inheritTarget(v, sc)
	if err != nil {
		return err
	}
	if seen[name] {
		return fmt.Errorf("%w via %q", ErrInheritCycle, name)
	}
	seen[name] = true

	base, err := fetch(name)
	if err != nil {
		return fmt.Errorf("resolving inherit %q: %w", name, err)
	}
	if err := resolveInheritOn(base, fetch, sc, seen); err != nil {
		return err
	}

	delete(d.Properties, "inherit")
	d.MergeUnder(base)
	return nil
}

// inheritTarget extracts the referenced view name, evaluating
// expression-valued directives against the scope.
func inheritTarget(v item.Value, sc *expression.Scope) (string, error) {
	if v.Kind() == item.KindExpr {
		cp, ok := v.ExprVal().(*expression.CompiledProperty)
		if !ok {
			return "", fmt.Errorf("inherit holds a foreign expression")
		}
		if sc == nil {
			sc = &expression.Scope{}
		}
		name, err := cp.ExecuteString(sc)
		if err != nil {
			return "", err
		}
		return name, nil
	}
	name := v.AsString("")
	if name == "" {
		return "", fmt.Errorf("inherit directive has no target")
	}
	return name, nil
}
