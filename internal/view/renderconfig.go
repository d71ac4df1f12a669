package view

import (
	"fmt"

	"github.com/memri/memri-go/internal/cascade"
	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
	"go.uber.org/zap"
)

// RenderConfig is the cascaded configuration of one renderer for one
// view: renderer-level properties plus the UI element tree it renders
// per item.
type RenderConfig struct {
	Name string

	view  *CascadingView
	stack *cascade.Stack
}

// RenderConfig assembles the renderer cascade for a renderer name.
// Renderer definitions nested in the view cascade contribute in view
// order; standalone user-domain renderer overrides are spliced ahead
// of the view-level matches of the same priority rather than appended.
func (cv *CascadingView) RenderConfig(name string) (*RenderConfig, error) {
	cv.mu.Lock()
	viewStack := cv.stack
	cv.mu.Unlock()
	if viewStack == nil {
		return nil, fmt.Errorf("render config requested before view load")
	}

	var defs []*cvu.Definition
	for _, vd := range viewStack.Defs() {
		if rd := vd.RendererFor(name); rd != nil {
			defs = append(defs, rd)
		}
	}
	stack := cascade.New(cv.logger, defs...)

	splice := cv.defs.Renderers(cvu.DomainUser, name)
	for i, rd := range splice {
		stack.InsertAt(i, rd)
	}

	if len(stack.Defs()) == 0 {
		return nil, fmt.Errorf("no renderer definition named %q", name)
	}
	return &RenderConfig{Name: name, view: cv, stack: stack}, nil
}

// Property resolves a renderer property with an optional context item.
func (rc *RenderConfig) Property(name string, it *item.Item) item.Value {
	return rc.stack.Property(name, rc.view.scope(it))
}

// PressAction returns the unevaluated action bound to row press.
func (rc *RenderConfig) PressAction() item.Value {
	return rc.stack.Property("press", rc.view.scope(nil))
}

// EditFields returns the grouped editor-field configuration, merged
// across the cascade by the "name" unique key.
func (rc *RenderConfig) EditFields() []map[string]item.Value {
	return rc.stack.GroupedList("fields", "name", rc.view.scope(nil))
}

// ElementTree returns the highest-priority UI element tree declared by
// the renderer cascade.
func (rc *RenderConfig) ElementTree() []*cvu.Definition {
	for _, rd := range rc.stack.Defs() {
		var elements []*cvu.Definition
		for _, child := range rd.Children {
			if child.Kind == cvu.KindUIElement {
				elements = append(elements, child)
			}
		}
		if len(elements) > 0 {
			return elements
		}
	}
	return nil
}

// Node is one concrete, fully evaluated UI node for one data item.
type Node struct {
	Type       string
	Properties map[string]item.Value
	Children   []*Node
}

// MaterializeItem evaluates the renderer's element tree against one
// data item, producing the concrete node tree the UI draws. Expression
// failures resolve to nil properties; a node whose "show" property
// evaluates false is omitted along with its subtree.
func (rc *RenderConfig) MaterializeItem(it *item.Item) []*Node {
	var out []*Node
	for _, el := range rc.ElementTree() {
		if n := rc.materialize(el, it); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (rc *RenderConfig) materialize(el *cvu.Definition, it *item.Item) *Node {
	sc := rc.view.scope(it)
	n := &Node{
		Type:       el.ElementType,
		Properties: make(map[string]item.Value, len(el.Properties)),
	}
	for name, v := range el.Properties {
		n.Properties[name] = rc.evalValue(v, sc)
	}
	if show, ok := n.Properties["show"]; ok && !show.AsBool() {
		return nil
	}
	for _, child := range el.Children {
		if child.Kind != cvu.KindUIElement {
			continue
		}
		if cn := rc.materialize(child, it); cn != nil {
			n.Children = append(n.Children, cn)
		}
	}
	return n
}

// evalValue executes expression values, leaving actions and other
// literals for their own layers.
func (rc *RenderConfig) evalValue(v item.Value, sc *expression.Scope) item.Value {
	if v.Kind() != item.KindExpr {
		return v
	}
	cp, ok := v.ExprVal().(*expression.CompiledProperty)
	if !ok {
		return item.Nil()
	}
	if sc == nil {
		sc = &expression.Scope{}
	}
	res, err := cp.Execute(sc)
	if err != nil {
		rc.view.logger.Warn("render expression failed",
			zap.String("expr", cp.Source()), zap.Error(err))
		return item.Nil()
	}
	return res.Value
}
