// Package cvu parses the CVU view-description language into typed
// definition trees. A CVU document is a sequence of selector-headed
// brace blocks; blocks contain key/value properties, nested selector
// definitions, and UI element children.
package cvu

import "fmt"

// TokenType identifies a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent
	TokenString
	TokenInt
	TokenFloat
	TokenBool
	TokenNil
	TokenExpr // raw {{...}} expression body
	TokenColon
	TokenComma
	TokenEquals
	TokenDot
	TokenStar
	TokenLBrace
	TokenRBrace
	TokenLBrack
	TokenRBrack
	TokenComment
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenNewline: "newline",
	TokenIdent:   "identifier",
	TokenString:  "string",
	TokenInt:     "int",
	TokenFloat:   "float",
	TokenBool:    "bool",
	TokenNil:     "nil",
	TokenExpr:    "expression",
	TokenColon:   ":",
	TokenComma:   ",",
	TokenEquals:  "=",
	TokenDot:     ".",
	TokenStar:    "*",
	TokenLBrace:  "{",
	TokenRBrace:  "}",
	TokenLBrack:  "[",
	TokenRBrack:  "]",
	TokenComment: "comment",
}

func (t TokenType) String() string {
	if n, ok := tokenNames[t]; ok {
		return n
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexical token with source position.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // byte offset
	Line    int // 1-based
	Col     int // 1-based
}

// definitionKinds are the selector kinds accepted in [kind = name]
// headers.
var definitionKinds = map[string]DefinitionKind{
	"view":       KindView,
	"renderer":   KindRenderer,
	"datasource": KindDatasource,
	"style":      KindStyle,
	"language":   KindLanguage,
	"session":    KindSession,
	"sessions":   KindSessions,
}

// DefinitionKindNames returns the accepted header kinds, for error
// suggestions.
func DefinitionKindNames() []string {
	out := make([]string, 0, len(definitionKinds))
	for k := range definitionKinds {
		out = append(out, k)
	}
	return out
}
