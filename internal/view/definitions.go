// Package view assembles what the UI renders: it resolves stored and
// bundled CVU definitions into a cascade per view, drives the view-load
// state machine, and materializes per-item render trees.
package view

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/item"
)

// Definitions resolves view/renderer definitions by selector across
// domains. Bundled defaults are registered at boot; user and session
// definitions live as CVUStoredDefinition items in the cache and are
// parsed lazily through the parse cache.
type Definitions struct {
	cache    *cache.Cache
	parse    *cvu.ParseCache
	defaults []*cvu.Definition
	logger   *zap.Logger
}

// NewDefinitions builds an empty resolver; call RegisterDefaults with
// the parsed bundled files before first use.
func NewDefinitions(c *cache.Cache, logger *zap.Logger) *Definitions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Definitions{
		cache:  c,
		parse:  cvu.NewParseCache(),
		logger: logger,
	}
}

// RegisterDefaults installs the bundled default definitions.
func (d *Definitions) RegisterDefaults(defs []*cvu.Definition) {
	d.defaults = append(d.defaults, defs...)
}

// stored returns the parsed definitions of one domain from the cache.
// Unparsable stored definitions are skipped with a warning; one broken
// user customization must not take the app down.
func (d *Definitions) stored(domain cvu.Domain) []*cvu.Definition {
	var out []*cvu.Definition
	for _, it := range d.cache.Query(cache.Query{ItemType: string(item.FamilyCVUStoredDefinition)}) {
		if it.Get("domain").Str() != string(domain) {
			continue
		}
		src := it.Get("definition").Str()
		if src == "" {
			continue
		}
		defs, err := d.parse.Parse(src, domain)
		if err != nil {
			d.logger.Warn("skipping unparsable stored definition",
				zap.Int64("uid", it.UID), zap.Error(err))
			continue
		}
		out = append(out, defs...)
	}
	return out
}

func (d *Definitions) inDomain(domain cvu.Domain) []*cvu.Definition {
	if domain == cvu.DomainDefaults {
		return d.defaults
	}
	return d.stored(domain)
}

// lookupDomains is the fixed selector precedence order.
var lookupDomains = []cvu.Domain{cvu.DomainUser, cvu.DomainDefaults}

// ByName resolves a named definition (".inbox" selectors and inherit
// targets), user domain first. Missing names return a descriptive
// error for the action boundary to log.
func (d *Definitions) ByName(name string) (*cvu.Definition, error) {
	for _, domain := range lookupDomains {
		for _, def := range d.inDomain(domain) {
			if def.Name == name {
				return def, nil
			}
		}
	}
	return nil, fmt.Errorf("no view definition named %q", name)
}

// ForType collects every view definition applying to an item type, most
// specific first: "<Type>[]" or "<Type>" in the user domain, then the
// defaults domain, then the "*[]"/"*" wildcard per domain in the same
// order.
func (d *Definitions) ForType(typeName string, isList bool) []*cvu.Definition {
	var out []*cvu.Definition
	for _, domain := range lookupDomains {
		out = append(out, d.matchType(domain, typeName, isList)...)
	}
	if typeName != "*" {
		for _, domain := range lookupDomains {
			out = append(out, d.matchType(domain, "*", isList)...)
		}
	}
	return out
}

func (d *Definitions) matchType(domain cvu.Domain, typeName string, isList bool) []*cvu.Definition {
	var out []*cvu.Definition
	// A list view prefers the "<Type>[]" selector but falls through to
	// the singular form.
	for _, def := range d.inDomain(domain) {
		if def.Kind != cvu.KindView || def.Type != typeName {
			continue
		}
		if isList == def.IsList {
			out = append(out, def)
		}
	}
	for _, def := range d.inDomain(domain) {
		if def.Kind != cvu.KindView || def.Type != typeName {
			continue
		}
		if isList != def.IsList {
			out = append(out, def)
		}
	}
	return out
}

// Renderers collects standalone renderer definitions for a name in one
// domain, used to splice user renderer overrides into a cascade.
func (d *Definitions) Renderers(domain cvu.Domain, name string) []*cvu.Definition {
	var out []*cvu.Definition
	for _, def := range d.inDomain(domain) {
		if def.Kind == cvu.KindRenderer && def.Name == name {
			out = append(out, def)
		}
	}
	return out
}
