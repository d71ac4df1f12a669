package cvu

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes CVU source text. Newlines are significant (they
// terminate property value lists) and are emitted as tokens.
type Lexer struct {
	input  string
	pos    int
	line   int
	col    int
	tokens []Token
	errors []error
}

// NewLexer creates a lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Tokenize scans the entire input and returns all tokens plus any
// errors. Comments are skipped; consecutive newlines collapse into one.
func (l *Lexer) Tokenize() ([]Token, []error) {
	for {
		tok := l.next()
		if tok.Type == TokenComment {
			continue
		}
		if tok.Type == TokenNewline && len(l.tokens) > 0 &&
			l.tokens[len(l.tokens)-1].Type == TokenNewline {
			continue
		}
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return l.tokens, l.errors
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) peekAt(offset int) rune {
	p := l.pos + offset
	if p >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[p:])
	return r
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// skipSpace advances past spaces and tabs, not newlines.
func (l *Lexer) skipSpace() {
	for l.pos < len(l.input) {
		r := l.peek()
		if r == ' ' || r == '\t' || r == '\r' {
			l.advance()
		} else {
			break
		}
	}
}

func (l *Lexer) next() Token {
	l.skipSpace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, Line: l.line, Col: l.col}
	}

	startPos, startLine, startCol := l.pos, l.line, l.col
	r := l.peek()

	if r == '\n' || r == ';' {
		l.advance()
		return Token{Type: TokenNewline, Literal: "\n", Pos: startPos, Line: startLine, Col: startCol}
	}

	if r == '"' || r == '\'' {
		return l.scanString(startPos, startLine, startCol)
	}

	if r >= '0' && r <= '9' || (r == '-' && l.peekAt(1) >= '0' && l.peekAt(1) <= '9') {
		return l.scanNumber(startPos, startLine, startCol)
	}

	if isIdentStart(r) {
		return l.scanIdent(startPos, startLine, startCol)
	}

	// {{ ... }} bare expression
	if r == '{' && l.peekAt(1) == '{' {
		return l.scanExpr(startPos, startLine, startCol)
	}

	// Comments
	if r == '/' && l.peekAt(1) == '/' {
		return l.scanLineComment(startPos, startLine, startCol)
	}
	if r == '/' && l.peekAt(1) == '*' {
		return l.scanBlockComment(startPos, startLine, startCol)
	}

	l.advance()
	switch r {
	case ':':
		return Token{Type: TokenColon, Literal: ":", Pos: startPos, Line: startLine, Col: startCol}
	case ',':
		return Token{Type: TokenComma, Literal: ",", Pos: startPos, Line: startLine, Col: startCol}
	case '=':
		return Token{Type: TokenEquals, Literal: "=", Pos: startPos, Line: startLine, Col: startCol}
	case '.':
		return Token{Type: TokenDot, Literal: ".", Pos: startPos, Line: startLine, Col: startCol}
	case '*':
		return Token{Type: TokenStar, Literal: "*", Pos: startPos, Line: startLine, Col: startCol}
	case '{':
		return Token{Type: TokenLBrace, Literal: "{", Pos: startPos, Line: startLine, Col: startCol}
	case '}':
		return Token{Type: TokenRBrace, Literal: "}", Pos: startPos, Line: startLine, Col: startCol}
	case '[':
		return Token{Type: TokenLBrack, Literal: "[", Pos: startPos, Line: startLine, Col: startCol}
	case ']':
		return Token{Type: TokenRBrack, Literal: "]", Pos: startPos, Line: startLine, Col: startCol}
	}

	l.errors = append(l.errors, fmt.Errorf("line %d col %d: unexpected character %q", startLine, startCol, r))
	return Token{Type: TokenIdent, Literal: string(r), Pos: startPos, Line: startLine, Col: startCol}
}

func (l *Lexer) scanString(startPos, startLine, startCol int) Token {
	quote := l.advance()
	var b strings.Builder
	for l.pos < len(l.input) {
		r := l.advance()
		if r == quote {
			return Token{Type: TokenString, Literal: b.String(), Pos: startPos, Line: startLine, Col: startCol}
		}
		if r == '\\' {
			next := l.advance()
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			case '\'':
				b.WriteByte('\'')
			default:
				b.WriteByte('\\')
				b.WriteRune(next)
			}
			continue
		}
		b.WriteRune(r)
	}
	l.errors = append(l.errors, fmt.Errorf("line %d col %d: unterminated string", startLine, startCol))
	return Token{Type: TokenString, Literal: b.String(), Pos: startPos, Line: startLine, Col: startCol}
}

func (l *Lexer) scanNumber(startPos, startLine, startCol int) Token {
	start := l.pos
	if l.peek() == '-' {
		l.advance()
	}
	isFloat := false
	for l.pos < len(l.input) {
		r := l.peek()
		if r >= '0' && r <= '9' {
			l.advance()
		} else if r == '.' && !isFloat && l.peekAt(1) >= '0' && l.peekAt(1) <= '9' {
			isFloat = true
			l.advance()
		} else {
			break
		}
	}
	lit := l.input[start:l.pos]
	if isFloat {
		return Token{Type: TokenFloat, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
	}
	return Token{Type: TokenInt, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
}

func (l *Lexer) scanIdent(startPos, startLine, startCol int) Token {
	start := l.pos
	for l.pos < len(l.input) {
		r := l.peek()
		if isIdentPart(r) {
			l.advance()
		} else {
			break
		}
	}
	lit := l.input[start:l.pos]
	switch lit {
	case "true", "false":
		return Token{Type: TokenBool, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
	case "nil", "null":
		return Token{Type: TokenNil, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
	}
	return Token{Type: TokenIdent, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
}

// scanExpr reads a {{...}} body, tracking nested braces and quotes.
func (l *Lexer) scanExpr(startPos, startLine, startCol int) Token {
	l.advance() // {
	l.advance() // {
	start := l.pos
	depth := 0
	var quote rune
	for l.pos < len(l.input) {
		r := l.peek()
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			l.advance()
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
			l.advance()
		case '{':
			depth++
			l.advance()
		case '}':
			if depth == 0 && l.peekAt(1) == '}' {
				body := strings.TrimSpace(l.input[start:l.pos])
				l.advance()
				l.advance()
				return Token{Type: TokenExpr, Literal: body, Pos: startPos, Line: startLine, Col: startCol}
			}
			if depth > 0 {
				depth--
			}
			l.advance()
		default:
			l.advance()
		}
	}
	l.errors = append(l.errors, fmt.Errorf("line %d col %d: unterminated expression", startLine, startCol))
	return Token{Type: TokenExpr, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
}

func (l *Lexer) scanLineComment(startPos, startLine, startCol int) Token {
	start := l.pos
	for l.pos < len(l.input) && l.peek() != '\n' {
		l.advance()
	}
	return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
}

func (l *Lexer) scanBlockComment(startPos, startLine, startCol int) Token {
	start := l.pos
	l.advance() // /
	l.advance() // *
	for l.pos < len(l.input) {
		if l.peek() == '*' && l.peekAt(1) == '/' {
			l.advance()
			l.advance()
			return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
		}
		l.advance()
	}
	l.errors = append(l.errors, fmt.Errorf("line %d col %d: unterminated comment", startLine, startCol))
	return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
