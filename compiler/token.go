package compiler

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// tokenKind classifies a lexical token.
type tokenKind uint8

const (
	tkEOF tokenKind = iota
	tkIdent
	tkKeyword
	tkNumber
	tkString
	tkPunct
)

// token is one lexical token with its source position. newline reports
// whether a line terminator appeared between the previous token and this
// one, which drives automatic semicolon insertion.
type token struct {
	kind    tokenKind
	lit     string // identifier, keyword, punctuator or string value
	num     float64
	line    int
	col     int
	newline bool
}

// keywords are the reserved words of the accepted language subset.
var keywords = map[string]bool{
	"var": true, "let": true, "const": true,
	"function": true, "return": true, "yield": true,
	"if": true, "else": true, "while": true, "do": true, "for": true,
	"break": true, "continue": true, "switch": true, "case": true, "default": true,
	"try": true, "catch": true, "finally": true, "throw": true,
	"new": true, "delete": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"this": true, "null": true, "undefined": true, "true": true, "false": true,
}

func (t token) is(kind tokenKind, lit string) bool {
	return t.kind == kind && t.lit == lit
}

func (t token) isPunct(lit string) bool   { return t.is(tkPunct, lit) }
func (t token) isKeyword(lit string) bool { return t.is(tkKeyword, lit) }
