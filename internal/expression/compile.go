// Package expression implements the CVU property-binding expression
// interpreter. A property string containing embedded {...} lookup
// segments compiles into a list of literal and lookup tokens; evaluation
// resolves lookups against a variable scope and a contextual data item.
package expression

import (
	"fmt"
	"strings"
)

// Segment is one dot-separated step of a lookup path. A leading empty
// segment means "the implicit contextual data item". Call is set when the
// segment ends in ')'.
type Segment struct {
	Name string
	Call bool
	Args []string
}

// Lookup is a parsed {...} lookup path.
type Lookup struct {
	Source   string
	Negate   bool
	Segments []Segment
}

type token struct {
	literal string  // set for literal text tokens
	lookup  *Lookup // set for lookup tokens
}

// CompiledProperty is the compiled form of a property string: literal
// text interleaved with lookup paths. It implements item.Expression.
type CompiledProperty struct {
	source string
	tokens []token
}

// Source returns the original property string.
func (cp *CompiledProperty) Source() string { return cp.source }

// SingleLookup reports whether the expression is exactly one lookup with
// no surrounding literal text. Such expressions evaluate to the natively
// typed value instead of a string.
func (cp *CompiledProperty) SingleLookup() bool {
	return len(cp.tokens) == 1 && cp.tokens[0].lookup != nil
}

// HasLookups reports whether any token is a lookup.
func (cp *CompiledProperty) HasLookups() bool {
	for _, t := range cp.tokens {
		if t.lookup != nil {
			return true
		}
	}
	return false
}

// Compile parses a property string into its compiled form. Unterminated
// lookups are a compile error; everything else is deferred to evaluation.
func Compile(s string) (*CompiledProperty, error) {
	cp := &CompiledProperty{source: s}
	var lit strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '{' {
			lit.WriteByte(c)
			i++
			continue
		}
		end := matchBrace(s, i)
		if end < 0 {
			return nil, fmt.Errorf("unterminated lookup in %q", s)
		}
		if lit.Len() > 0 {
			cp.tokens = append(cp.tokens, token{literal: lit.String()})
			lit.Reset()
		}
		lu, err := parseLookup(s[i+1 : end])
		if err != nil {
			return nil, fmt.Errorf("in %q: %w", s, err)
		}
		cp.tokens = append(cp.tokens, token{lookup: lu})
		i = end + 1
	}
	if lit.Len() > 0 {
		cp.tokens = append(cp.tokens, token{literal: lit.String()})
	}
	return cp, nil
}

// MustCompile is Compile for statically known-good strings.
func MustCompile(s string) *CompiledProperty {
	cp, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return cp
}

// matchBrace returns the index of the '}' closing the '{' at open,
// skipping quoted sections, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseLookup parses the inside of a {...} into a lookup path.
func parseLookup(body string) (*Lookup, error) {
	lu := &Lookup{Source: "{" + body + "}"}
	body = strings.TrimSpace(body)
	for strings.HasPrefix(body, "!") {
		lu.Negate = !lu.Negate
		body = strings.TrimSpace(body[1:])
	}
	if body == "" {
		return nil, fmt.Errorf("empty lookup")
	}

	parts, err := splitPath(body)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		seg, err := parseSegment(p)
		if err != nil {
			return nil, err
		}
		lu.Segments = append(lu.Segments, seg)
	}
	return lu, nil
}

// splitPath splits on '.' outside of parentheses and quotes. A leading
// dot yields an initial empty part (the contextual item).
func splitPath(s string) ([]string, error) {
	var parts []string
	var cur strings.Builder
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			cur.WriteByte(c)
		case '(':
			depth++
			cur.WriteByte(c)
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ')' in lookup %q", s)
			}
			cur.WriteByte(c)
		case '.':
			if depth == 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			} else {
				cur.WriteByte(c)
			}
		default:
			cur.WriteByte(c)
		}
	}
	if depth != 0 || quote != 0 {
		return nil, fmt.Errorf("unbalanced lookup %q", s)
	}
	parts = append(parts, cur.String())
	return parts, nil
}

// parseSegment parses one path step, detecting function-call syntax.
func parseSegment(s string) (Segment, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ")") {
		return Segment{Name: s}, nil
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return Segment{}, fmt.Errorf("malformed call segment %q", s)
	}
	name := s[:open]
	argsRaw := strings.TrimSpace(s[open+1 : len(s)-1])
	seg := Segment{Name: name, Call: true}
	if argsRaw != "" {
		for _, a := range strings.Split(argsRaw, ",") {
			a = strings.TrimSpace(a)
			a = strings.Trim(a, `'"`)
			seg.Args = append(seg.Args, a)
		}
	}
	return seg, nil
}
