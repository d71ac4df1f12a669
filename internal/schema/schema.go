// Package schema loads the item-family property and edge schema from the
// embedded CUE definitions. The cache and expression layers consult it to
// validate property access and to distinguish properties from relations.
package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed definitions/*.cue
var definitions embed.FS

// PropType is the declared type of an item property.
type PropType string

const (
	TypeString   PropType = "string"
	TypeInt      PropType = "int"
	TypeDouble   PropType = "double"
	TypeBool     PropType = "bool"
	TypeDateTime PropType = "datetime"
)

// EdgeSpec declares a named relation from one family to another.
type EdgeSpec struct {
	Target string
	Many   bool
}

// FamilySchema holds the declared properties and edges of one family.
type FamilySchema struct {
	Name       string
	Properties map[string]PropType
	Edges      map[string]EdgeSpec
}

// Schema is the full item-family schema, immutable after Load.
type Schema struct {
	families map[string]*FamilySchema
}

// Load compiles the embedded CUE files and extracts the schema.
func Load() (*Schema, error) {
	return LoadFS(definitions, "definitions")
}

// LoadFS compiles every .cue file under dir in fsys and unifies them.
func LoadFS(fsys fs.FS, dir string) (*Schema, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading schema dir: %w", err)
	}

	cctx := cuecontext.New()
	var root cue.Value
	first := true
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		v := cctx.CompileBytes(data, cue.Filename(e.Name()))
		if v.Err() != nil {
			return nil, fmt.Errorf("compiling %s: %w", e.Name(), v.Err())
		}
		if first {
			root = v
			first = false
		} else {
			root = root.Unify(v)
		}
	}
	if first {
		return nil, fmt.Errorf("no schema files under %s", dir)
	}
	if root.Err() != nil {
		return nil, fmt.Errorf("unifying schema: %w", root.Err())
	}

	items := root.LookupPath(cue.ParsePath("items"))
	if items.Err() != nil {
		return nil, fmt.Errorf("schema has no items struct: %w", items.Err())
	}

	s := &Schema{families: map[string]*FamilySchema{}}
	iter, err := items.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating families: %w", err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		fam, err := parseFamily(name, iter.Value())
		if err != nil {
			return nil, err
		}
		s.families[name] = fam
	}
	return s, nil
}

func parseFamily(name string, v cue.Value) (*FamilySchema, error) {
	fam := &FamilySchema{
		Name:       name,
		Properties: map[string]PropType{},
		Edges:      map[string]EdgeSpec{},
	}

	props := v.LookupPath(cue.ParsePath("properties"))
	if props.Exists() {
		iter, err := props.Fields()
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", name, err)
		}
		for iter.Next() {
			pname := iter.Selector().Unquoted()
			ptype, err := iter.Value().String()
			if err != nil {
				return nil, fmt.Errorf("family %s property %s: %w", name, pname, err)
			}
			switch PropType(ptype) {
			case TypeString, TypeInt, TypeDouble, TypeBool, TypeDateTime:
				fam.Properties[pname] = PropType(ptype)
			default:
				return nil, fmt.Errorf("family %s property %s: unknown type %q", name, pname, ptype)
			}
		}
	}

	edges := v.LookupPath(cue.ParsePath("edges"))
	if edges.Exists() {
		iter, err := edges.Fields()
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", name, err)
		}
		for iter.Next() {
			ename := iter.Selector().Unquoted()
			ev := iter.Value()
			target, err := ev.LookupPath(cue.ParsePath("target")).String()
			if err != nil {
				return nil, fmt.Errorf("family %s edge %s: missing target: %w", name, ename, err)
			}
			many := false
			if mv := ev.LookupPath(cue.ParsePath("many")); mv.Exists() {
				many, _ = mv.Bool()
			}
			fam.Edges[ename] = EdgeSpec{Target: target, Many: many}
		}
	}
	return fam, nil
}

// Family returns the schema for a family name, or nil when unknown.
func (s *Schema) Family(name string) *FamilySchema {
	return s.families[name]
}

// Property returns the declared type of family.name. The second result is
// false for unknown families or undeclared properties.
func (s *Schema) Property(family, name string) (PropType, bool) {
	f := s.families[family]
	if f == nil {
		return "", false
	}
	t, ok := f.Properties[name]
	return t, ok
}

// Edge returns the declared edge spec of family.name.
func (s *Schema) Edge(family, name string) (EdgeSpec, bool) {
	f := s.families[family]
	if f == nil {
		return EdgeSpec{}, false
	}
	e, ok := f.Edges[name]
	return e, ok
}

// FamilyNames returns all declared family names, sorted.
func (s *Schema) FamilyNames() []string {
	out := make([]string, 0, len(s.families))
	for k := range s.families {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
