package cvu

import (
	"strings"

	"github.com/memri/memri-go/internal/item"
)

// DefinitionKind discriminates parsed definition types.
type DefinitionKind string

const (
	KindView       DefinitionKind = "view"
	KindRenderer   DefinitionKind = "renderer"
	KindDatasource DefinitionKind = "datasource"
	KindStyle      DefinitionKind = "style"
	KindLanguage   DefinitionKind = "language"
	KindSession    DefinitionKind = "session"
	KindSessions   DefinitionKind = "sessions"
	KindUIElement  DefinitionKind = "uielement"
)

// Domain orders definitions for cascading: ephemeral state overrides
// beat session state, which beats user customization, which beats the
// bundled defaults. DomainView tags definitions nested inside a view.
type Domain string

const (
	DomainState    Domain = "state"
	DomainSession  Domain = "session"
	DomainUser     Domain = "user"
	DomainDefaults Domain = "defaults"
	DomainView     Domain = "view"
)

// Definition is one parsed CVU definition: a selector, a property bag,
// and child definitions. Property values may be literals, unevaluated
// expressions, or nested definitions.
type Definition struct {
	Kind        DefinitionKind
	Name        string // [view = Name] header or .named selector
	Selector    string // raw selector text, e.g. "Person[]", "*"
	Type        string // item type for type selectors ("Person", "*")
	IsList      bool   // Person[] vs Person
	ElementType string // UI element type for KindUIElement ("VStack", "Text", ...)
	Domain      Domain

	Properties map[string]item.Value
	Children   []*Definition
}

// DefName implements item.SubDefinition.
func (d *Definition) DefName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.ElementType != "" {
		return d.ElementType
	}
	return d.Selector
}

// Get returns the named property, nil when absent.
func (d *Definition) Get(name string) item.Value {
	return d.Properties[name]
}

// Set writes a property.
func (d *Definition) Set(name string, v item.Value) {
	if d.Properties == nil {
		d.Properties = map[string]item.Value{}
	}
	d.Properties[name] = v
}

// SubDefinition returns the nested definition stored under a property
// key (e.g. "datasource"), or nil.
func (d *Definition) SubDefinition(name string) *Definition {
	v := d.Properties[name]
	if v.Kind() != item.KindDef {
		return nil
	}
	sub, _ := v.DefVal().(*Definition)
	return sub
}

// RendererFor returns the child renderer definition with the given name,
// or nil.
func (d *Definition) RendererFor(name string) *Definition {
	for _, c := range d.Children {
		if c.Kind == KindRenderer && c.Name == name {
			return c
		}
	}
	return nil
}

// Clone deep-copies the definition tree. Values are immutable and shared.
func (d *Definition) Clone() *Definition {
	cp := *d
	cp.Properties = make(map[string]item.Value, len(d.Properties))
	for k, v := range d.Properties {
		cp.Properties[k] = v
	}
	cp.Children = make([]*Definition, len(d.Children))
	for i, c := range d.Children {
		cp.Children[i] = c.Clone()
	}
	return &cp
}

// MergeUnder fills the definition's gaps from other: properties absent
// here are copied from other, children are appended. Used by the
// inherit directive, where the inheriting definition wins.
func (d *Definition) MergeUnder(other *Definition) {
	for k, v := range other.Properties {
		if _, ok := d.Properties[k]; !ok {
			d.Set(k, v)
		}
	}
	d.Children = append(d.Children, other.Children...)
}

// MatchesType reports whether a type selector applies to the given item
// type name, either exactly or via the wildcard.
func (d *Definition) MatchesType(typeName string) bool {
	return d.Type == typeName || d.Type == "*"
}

// ParseSelector splits a raw selector such as "Person[]" or "*" into
// type name and list flag.
func ParseSelector(sel string) (typeName string, isList bool) {
	if strings.HasSuffix(sel, "[]") {
		return strings.TrimSuffix(sel, "[]"), true
	}
	return sel, false
}
