package cvu

import (
	"strconv"
	"strings"

	"github.com/memri/memri-go/internal/expression"
	"github.com/memri/memri-go/internal/item"
)

// Parser builds definition trees from a token stream. Errors are
// collected, not fatal: a malformed entry is dropped and parsing resumes
// at the next line or block boundary.
type Parser struct {
	tokens []Token
	pos    int
	domain Domain
	errors []error
}

// NewParser creates a parser over tokens. All produced top-level
// definitions are tagged with the given domain.
func NewParser(tokens []Token, domain Domain) *Parser {
	return &Parser{tokens: tokens, domain: domain}
}

// Parse parses a whole CVU document into top-level definitions.
func (p *Parser) Parse() ([]*Definition, []error) {
	var defs []*Definition
	for {
		p.skipNewlines()
		if p.peek().Type == TokenEOF {
			break
		}
		def := p.parseTopLevel()
		if def != nil {
			defs = append(defs, def)
		}
	}
	return defs, p.errors
}

// ParseString lexes and parses source in one call.
func ParseString(src string, domain Domain) ([]*Definition, []error) {
	lexer := NewLexer(src)
	tokens, lexErrs := lexer.Tokenize()
	parser := NewParser(tokens, domain)
	defs, parseErrs := parser.Parse()
	return defs, append(lexErrs, parseErrs...)
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(t TokenType) (Token, bool) {
	tok := p.peek()
	if tok.Type != t {
		p.errorf(tok, "expected %s, got %s %q", t, tok.Type, tok.Literal)
		return tok, false
	}
	return p.advance(), true
}

func (p *Parser) errorf(tok Token, format string, args ...any) {
	p.errors = append(p.errors, newParseErrorf(tok, format, args...))
}

func (p *Parser) skipNewlines() {
	for p.peek().Type == TokenNewline {
		p.advance()
	}
}

// recover skips to the next newline or closing brace.
func (p *Parser) recover() {
	for {
		switch p.peek().Type {
		case TokenNewline, TokenRBrace, TokenEOF:
			return
		}
		p.advance()
	}
}

// parseTopLevel parses one selector-headed definition.
func (p *Parser) parseTopLevel() *Definition {
	def := p.parseSelectorHeader()
	if def == nil {
		p.recover()
		p.advance()
		return nil
	}
	def.Domain = p.domain
	p.skipNewlines()
	if _, ok := p.expect(TokenLBrace); !ok {
		p.recover()
		return nil
	}
	p.parseBlock(def)
	return def
}

// parseSelectorHeader parses `[kind = name]`, `Type`, `Type[]`, `*`,
// `*[]`, or `.namedView`.
func (p *Parser) parseSelectorHeader() *Definition {
	tok := p.peek()
	switch tok.Type {
	case TokenLBrack:
		return p.parseBracketHeader()

	case TokenIdent:
		p.advance()
		def := &Definition{Kind: KindView, Selector: tok.Literal, Type: tok.Literal}
		if p.peek().Type == TokenLBrack && p.peekAt(1).Type == TokenRBrack {
			p.advance()
			p.advance()
			def.Selector += "[]"
			def.IsList = true
		}
		return def

	case TokenStar:
		p.advance()
		def := &Definition{Kind: KindView, Selector: "*", Type: "*"}
		if p.peek().Type == TokenLBrack && p.peekAt(1).Type == TokenRBrack {
			p.advance()
			p.advance()
			def.Selector = "*[]"
			def.IsList = true
		}
		return def

	case TokenDot:
		p.advance()
		name, ok := p.expect(TokenIdent)
		if !ok {
			return nil
		}
		return &Definition{Kind: KindView, Name: name.Literal, Selector: "." + name.Literal}

	default:
		p.errorf(tok, "expected a definition selector, got %s %q", tok.Type, tok.Literal)
		return nil
	}
}

// parseBracketHeader parses `[kind = name]`.
func (p *Parser) parseBracketHeader() *Definition {
	p.advance() // [
	kindTok, ok := p.expect(TokenIdent)
	if !ok {
		return nil
	}
	kind, known := definitionKinds[kindTok.Literal]
	if !known {
		p.errors = append(p.errors, &ParseError{
			Message:    "unknown definition kind '" + kindTok.Literal + "'",
			Line:       kindTok.Line,
			Col:        kindTok.Col,
			Pos:        kindTok.Pos,
			Suggestion: suggestFrom(kindTok.Literal, DefinitionKindNames(), 2),
		})
		return nil
	}
	if _, ok := p.expect(TokenEquals); !ok {
		return nil
	}
	nameTok := p.peek()
	if nameTok.Type != TokenIdent && nameTok.Type != TokenString {
		p.errorf(nameTok, "expected definition name, got %s %q", nameTok.Type, nameTok.Literal)
		return nil
	}
	p.advance()
	if _, ok := p.expect(TokenRBrack); !ok {
		return nil
	}
	return &Definition{Kind: kind, Name: nameTok.Literal, Selector: "[" + kindTok.Literal + " = " + nameTok.Literal + "]"}
}

// parseBlock parses entries until the closing brace. The opening brace
// has already been consumed.
func (p *Parser) parseBlock(def *Definition) {
	for {
		p.skipNewlines()
		tok := p.peek()
		switch tok.Type {
		case TokenRBrace:
			p.advance()
			return
		case TokenEOF:
			p.errorf(tok, "unexpected end of input inside block")
			return

		case TokenLBrack:
			child := p.parseBracketHeader()
			if child == nil {
				p.recover()
				continue
			}
			child.Domain = DomainView
			p.skipNewlines()
			if _, ok := p.expect(TokenLBrace); !ok {
				p.recover()
				continue
			}
			p.parseBlock(child)
			def.Children = append(def.Children, child)

		case TokenIdent, TokenString:
			p.parseEntry(def)

		default:
			p.errorf(tok, "unexpected %s %q in block", tok.Type, tok.Literal)
			p.recover()
		}
	}
}

// parseEntry parses `key: values`, `Element { ... }` (UI child), or
// `name { ... }` (nested sub-definition).
func (p *Parser) parseEntry(def *Definition) {
	keyTok := p.advance()
	key := keyTok.Literal

	switch p.peek().Type {
	case TokenColon:
		p.advance()
		v, ok := p.parseValueList()
		if !ok {
			p.recover()
			return
		}
		def.Set(key, v)

	case TokenLBrace:
		p.advance()
		child := &Definition{Domain: DomainView}
		if kind, known := definitionKinds[key]; known {
			child.Kind = kind
			p.parseBlock(child)
			def.Set(key, item.Def(child))
			return
		}
		if startsUpper(key) {
			child.Kind = KindUIElement
			child.ElementType = key
			p.parseBlock(child)
			def.Children = append(def.Children, child)
			return
		}
		// Lowercase non-keyword block: a nested property group.
		child.Kind = KindView
		child.Name = key
		p.parseBlock(child)
		def.Set(key, item.Def(child))

	default:
		p.errorf(p.peek(), "expected ':' or '{' after %q", key)
		p.recover()
	}
}

// parseValueList parses one or more values up to the end of line. A
// single value stays scalar; multiple values become a list.
func (p *Parser) parseValueList() (item.Value, bool) {
	var values []item.Value
	for {
		switch p.peek().Type {
		case TokenNewline, TokenRBrace, TokenEOF:
			switch len(values) {
			case 0:
				p.errorf(p.peek(), "expected a value")
				return item.Value{}, false
			case 1:
				return values[0], true
			default:
				return item.List(values), true
			}
		case TokenComma:
			p.advance()
			continue
		}
		v, ok := p.parseValue()
		if !ok {
			return item.Value{}, false
		}
		values = append(values, v)
	}
}

// parseValue parses a single value token or construct.
func (p *Parser) parseValue() (item.Value, bool) {
	tok := p.peek()
	switch tok.Type {
	case TokenString:
		p.advance()
		return p.stringValue(tok), true

	case TokenInt:
		p.advance()
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf(tok, "bad integer %q", tok.Literal)
			return item.Value{}, false
		}
		return item.Int(n), true

	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf(tok, "bad number %q", tok.Literal)
			return item.Value{}, false
		}
		return item.Double(f), true

	case TokenBool:
		p.advance()
		return item.Bool(tok.Literal == "true"), true

	case TokenNil:
		p.advance()
		return item.Nil(), true

	case TokenExpr:
		p.advance()
		cp, err := expression.Compile("{" + tok.Literal + "}")
		if err != nil {
			p.errorf(tok, "bad expression: %v", err)
			return item.Value{}, false
		}
		return item.Expr(cp), true

	case TokenIdent:
		p.advance()
		// Action (or constant) with an argument block.
		if p.peek().Type == TokenLBrace {
			p.advance()
			args, ok := p.parseDictBody()
			if !ok {
				return item.Value{}, false
			}
			args["action"] = item.String(tok.Literal)
			return item.Map(args), true
		}
		return item.String(tok.Literal), true

	case TokenLBrace:
		p.advance()
		m, ok := p.parseDictBody()
		if !ok {
			return item.Value{}, false
		}
		return item.Map(m), true

	case TokenLBrack:
		p.advance()
		return p.parseListLiteral()

	default:
		p.errorf(tok, "unexpected %s %q in value position", tok.Type, tok.Literal)
		return item.Value{}, false
	}
}

// stringValue turns a string literal into a plain string or, when it
// contains {...} lookups, a compiled expression.
func (p *Parser) stringValue(tok Token) item.Value {
	if !strings.Contains(tok.Literal, "{") {
		return item.String(tok.Literal)
	}
	cp, err := expression.Compile(tok.Literal)
	if err != nil {
		// Malformed interpolation degrades to the raw text.
		p.errorf(tok, "bad interpolation: %v", err)
		return item.String(tok.Literal)
	}
	if !cp.HasLookups() {
		return item.String(tok.Literal)
	}
	return item.Expr(cp)
}

// parseDictBody parses `key: value` entries until the closing brace.
func (p *Parser) parseDictBody() (map[string]item.Value, bool) {
	m := map[string]item.Value{}
	for {
		p.skipNewlines()
		tok := p.peek()
		switch tok.Type {
		case TokenRBrace:
			p.advance()
			return m, true
		case TokenEOF:
			p.errorf(tok, "unexpected end of input inside dict")
			return nil, false
		case TokenIdent, TokenString:
			p.advance()
			if _, ok := p.expect(TokenColon); !ok {
				p.recover()
				continue
			}
			v, ok := p.parseValueList()
			if !ok {
				p.recover()
				continue
			}
			m[tok.Literal] = v
		default:
			p.errorf(tok, "unexpected %s %q in dict", tok.Type, tok.Literal)
			p.recover()
		}
	}
}

// parseListLiteral parses values until the closing bracket.
func (p *Parser) parseListLiteral() (item.Value, bool) {
	var values []item.Value
	for {
		p.skipNewlines()
		switch p.peek().Type {
		case TokenRBrack:
			p.advance()
			return item.List(values), true
		case TokenEOF:
			p.errorf(p.peek(), "unterminated list literal")
			return item.Value{}, false
		case TokenComma:
			p.advance()
			continue
		}
		v, ok := p.parseValue()
		if !ok {
			return item.Value{}, false
		}
		values = append(values, v)
	}
}

func startsUpper(s string) bool {
	return len(s) > 0 && s[0] >= 'A' && s[0] <= 'Z'
}
