package cvu

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ParseCache parses definition text lazily and memoizes the result by
// content hash, so repeatedly-read stored definitions parse once.
type ParseCache struct {
	mu    sync.Mutex
	cache map[string]parsed
}

type parsed struct {
	defs []*Definition
	err  error
}

// NewParseCache creates an empty parse cache.
func NewParseCache() *ParseCache {
	return &ParseCache{cache: map[string]parsed{}}
}

// Parse parses src tagged with the given domain, reusing a previous
// result for identical content. Parse errors are joined into one error.
func (c *ParseCache) Parse(src string, domain Domain) ([]*Definition, error) {
	sum := sha256.Sum256([]byte(string(domain) + "\x00" + src))
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cache[key]; ok {
		return p.defs, p.err
	}

	defs, errs := ParseString(src, domain)
	var err error
	if len(errs) > 0 {
		err = fmt.Errorf("parsing CVU: %w", errors.Join(errs...))
		defs = nil
	}
	c.cache[key] = parsed{defs: defs, err: err}
	return defs, err
}

// Invalidate drops all memoized results, e.g. after a live reload.
func (c *ParseCache) Invalidate() {
	c.mu.Lock()
	c.cache = map[string]parsed{}
	c.mu.Unlock()
}
