package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type lexer struct {
	file string
	src  string

	pos  int
	line int
	col  int

	sawNewline bool
}

func newLexer(file, src string) *lexer {
	return &lexer{file: file, src: src, line: 1, col: 1}
}

func (lx *lexer) errorf(line, col int, format string, args ...interface{}) error {
	return &SyntaxError{File: lx.file, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) peekByte() byte {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *lexer) peekByteAt(n int) byte {
	if lx.pos+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+n]
}

func (lx *lexer) advance() byte {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

// skipSpace consumes whitespace and comments, tracking line terminators for
// semicolon insertion.
func (lx *lexer) skipSpace() error {
	for lx.pos < len(lx.src) {
		c := lx.peekByte()
		switch {
		case c == '\n':
			lx.sawNewline = true
			lx.advance()
		case c == ' ' || c == '\t' || c == '\r':
			lx.advance()
		case c == '/' && lx.peekByteAt(1) == '/':
			for lx.pos < len(lx.src) && lx.peekByte() != '\n' {
				lx.advance()
			}
		case c == '/' && lx.peekByteAt(1) == '*':
			line, col := lx.line, lx.col
			lx.advance()
			lx.advance()
			closed := false
			for lx.pos < len(lx.src) {
				if lx.peekByte() == '*' && lx.peekByteAt(1) == '/' {
					lx.advance()
					lx.advance()
					closed = true
					break
				}
				if lx.peekByte() == '\n' {
					lx.sawNewline = true
				}
				lx.advance()
			}
			if !closed {
				return lx.errorf(line, col, "unterminated comment")
			}
		default:
			return nil
		}
	}
	return nil
}

// next scans the next token.
func (lx *lexer) next() (token, error) {
	if err := lx.skipSpace(); err != nil {
		return token{}, err
	}
	tok := token{line: lx.line, col: lx.col, newline: lx.sawNewline}
	lx.sawNewline = false

	if lx.pos >= len(lx.src) {
		tok.kind = tkEOF
		return tok, nil
	}

	c := lx.peekByte()
	switch {
	case isIdentStart(c):
		return lx.scanIdent(tok)
	case c >= '0' && c <= '9':
		return lx.scanNumber(tok)
	case c == '.' && lx.peekByteAt(1) >= '0' && lx.peekByteAt(1) <= '9':
		return lx.scanNumber(tok)
	case c == '"' || c == '\'':
		return lx.scanString(tok)
	default:
		return lx.scanPunct(tok)
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= utf8.RuneSelf
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (lx *lexer) scanIdent(tok token) (token, error) {
	start := lx.pos
	for lx.pos < len(lx.src) && isIdentPart(lx.peekByte()) {
		if lx.peekByte() >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			for i := 0; i < size; i++ {
				lx.advance()
			}
			continue
		}
		lx.advance()
	}
	tok.lit = lx.src[start:lx.pos]
	if keywords[tok.lit] {
		tok.kind = tkKeyword
	} else {
		tok.kind = tkIdent
	}
	return tok, nil
}

func (lx *lexer) scanNumber(tok token) (token, error) {
	start := lx.pos
	tok.kind = tkNumber

	if lx.peekByte() == '0' && (lx.peekByteAt(1) == 'x' || lx.peekByteAt(1) == 'X') {
		lx.advance()
		lx.advance()
		digits := lx.pos
		for lx.pos < len(lx.src) && isHexDigit(lx.peekByte()) {
			lx.advance()
		}
		if lx.pos == digits {
			return tok, lx.errorf(tok.line, tok.col, "malformed hexadecimal literal")
		}
		n, err := strconv.ParseUint(lx.src[digits:lx.pos], 16, 64)
		if err != nil {
			return tok, lx.errorf(tok.line, tok.col, "malformed hexadecimal literal")
		}
		tok.num = float64(n)
		tok.lit = lx.src[start:lx.pos]
		return tok, nil
	}
	if lx.peekByte() == '0' && (lx.peekByteAt(1) == 'b' || lx.peekByteAt(1) == 'B') {
		lx.advance()
		lx.advance()
		digits := lx.pos
		for lx.pos < len(lx.src) && (lx.peekByte() == '0' || lx.peekByte() == '1') {
			lx.advance()
		}
		if lx.pos == digits {
			return tok, lx.errorf(tok.line, tok.col, "malformed binary literal")
		}
		n, _ := strconv.ParseUint(lx.src[digits:lx.pos], 2, 64)
		tok.num = float64(n)
		tok.lit = lx.src[start:lx.pos]
		return tok, nil
	}

	for lx.pos < len(lx.src) && lx.peekByte() >= '0' && lx.peekByte() <= '9' {
		lx.advance()
	}
	if lx.peekByte() == '.' {
		lx.advance()
		for lx.pos < len(lx.src) && lx.peekByte() >= '0' && lx.peekByte() <= '9' {
			lx.advance()
		}
	}
	if c := lx.peekByte(); c == 'e' || c == 'E' {
		lx.advance()
		if c := lx.peekByte(); c == '+' || c == '-' {
			lx.advance()
		}
		digits := lx.pos
		for lx.pos < len(lx.src) && lx.peekByte() >= '0' && lx.peekByte() <= '9' {
			lx.advance()
		}
		if lx.pos == digits {
			return tok, lx.errorf(tok.line, tok.col, "malformed exponent")
		}
	}
	tok.lit = lx.src[start:lx.pos]
	f, err := strconv.ParseFloat(tok.lit, 64)
	if err != nil {
		// Overflowing literals round to the infinities.
		if ne, ok := err.(*strconv.NumError); !ok || ne.Err != strconv.ErrRange {
			return tok, lx.errorf(tok.line, tok.col, "malformed number literal %q", tok.lit)
		}
	}
	tok.num = f
	return tok, nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (lx *lexer) scanString(tok token) (token, error) {
	quote := lx.advance()
	tok.kind = tkString
	var b strings.Builder
	for {
		if lx.pos >= len(lx.src) {
			return tok, lx.errorf(tok.line, tok.col, "unterminated string literal")
		}
		c := lx.peekByte()
		if c == quote {
			lx.advance()
			tok.lit = b.String()
			return tok, nil
		}
		if c == '\n' {
			return tok, lx.errorf(tok.line, tok.col, "unterminated string literal")
		}
		if c != '\\' {
			b.WriteByte(lx.advance())
			continue
		}
		lx.advance()
		if lx.pos >= len(lx.src) {
			return tok, lx.errorf(tok.line, tok.col, "unterminated string literal")
		}
		esc := lx.advance()
		switch esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
			// line continuation
		case 'x':
			if lx.pos+2 > len(lx.src) || !isHexDigit(lx.src[lx.pos]) || !isHexDigit(lx.src[lx.pos+1]) {
				return tok, lx.errorf(lx.line, lx.col, "malformed \\x escape")
			}
			n, _ := strconv.ParseUint(lx.src[lx.pos:lx.pos+2], 16, 16)
			lx.advance()
			lx.advance()
			b.WriteRune(rune(n))
		case 'u':
			if lx.pos+4 > len(lx.src) {
				return tok, lx.errorf(lx.line, lx.col, "malformed \\u escape")
			}
			n, err := strconv.ParseUint(lx.src[lx.pos:lx.pos+4], 16, 32)
			if err != nil {
				return tok, lx.errorf(lx.line, lx.col, "malformed \\u escape")
			}
			for i := 0; i < 4; i++ {
				lx.advance()
			}
			b.WriteRune(rune(n))
		default:
			b.WriteByte(esc)
		}
	}
}

// punctuators, longest first within each starting byte.
var puncts = []string{
	">>>=", "===", "!==", "<<=", ">>=", ">>>",
	"==", "!=", "<=", ">=", "&&", "||", "??", "=>", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<", ">>", "...",
	"{", "}", "(", ")", "[", "]", ";", ",", ".", "?", ":",
	"=", "+", "-", "*", "/", "%", "<", ">", "!", "&", "|", "^", "~",
}

func (lx *lexer) scanPunct(tok token) (token, error) {
	tok.kind = tkPunct
	rest := lx.src[lx.pos:]
	for _, p := range puncts {
		if strings.HasPrefix(rest, p) {
			for range p {
				lx.advance()
			}
			tok.lit = p
			return tok, nil
		}
	}
	return tok, lx.errorf(tok.line, tok.col, "unexpected character %q", rest[0])
}
