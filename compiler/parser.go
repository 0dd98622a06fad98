package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------
//
// Recursive descent with precedence climbing for binary expressions. Arrow
// function parameter lists and destructuring reuse the covering literal
// grammar: the parser reads an array or object literal (or a parenthesized
// expression) and converts it to a pattern when the following token proves
// it was one.

type parser struct {
	lx  *lexer
	tok token
}

// Parse builds the syntax tree of a source file.
func Parse(file, src string) (*Node, error) {
	p := &parser{lx: newLexer(file, src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.parseProgram()
}

type parserState struct {
	lx  lexer
	tok token
}

func (p *parser) save() parserState {
	return parserState{lx: *p.lx, tok: p.tok}
}

func (p *parser) restore(s parserState) {
	*p.lx = s.lx
	p.tok = s.tok
}

func (p *parser) advance() error {
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{File: p.lx.file, Line: p.tok.line, Col: p.tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectPunct(lit string) error {
	if !p.tok.isPunct(lit) {
		return p.errorf("expected %q, found %s", lit, describeToken(p.tok))
	}
	return p.advance()
}

func describeToken(t token) string {
	switch t.kind {
	case tkEOF:
		return "end of input"
	case tkString:
		return fmt.Sprintf("string %q", t.lit)
	case tkNumber:
		return fmt.Sprintf("number %s", t.lit)
	default:
		return fmt.Sprintf("%q", t.lit)
	}
}

// eatPunct consumes lit if present.
func (p *parser) eatPunct(lit string) (bool, error) {
	if p.tok.isPunct(lit) {
		return true, p.advance()
	}
	return false, nil
}

// consumeSemicolon applies automatic semicolon insertion: an explicit
// semicolon, a closing brace, end of input, or a preceding line terminator
// all end the statement.
func (p *parser) consumeSemicolon() error {
	if p.tok.isPunct(";") {
		return p.advance()
	}
	if p.tok.kind == tkEOF || p.tok.isPunct("}") || p.tok.newline {
		return nil
	}
	return p.errorf("expected ';', found %s", describeToken(p.tok))
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *parser) parseProgram() (*Node, error) {
	prog := newNode(NProgram, 1, 1)
	for p.tok.kind != tkEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Kids = append(prog.Kids, stmt)
	}
	return prog, nil
}

func (p *parser) parseStatement() (*Node, error) {
	t := p.tok
	switch {
	case t.isPunct("{"):
		return p.parseBlock()
	case t.isPunct(";"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return newNode(NEmpty, t.line, t.col), nil
	case t.isKeyword("var"), t.isKeyword("let"), t.isKeyword("const"):
		decl, err := p.parseVarDecl()
		if err != nil {
			return nil, err
		}
		return decl, p.consumeSemicolon()
	case t.isKeyword("function"):
		return p.parseFunctionDecl()
	case t.isKeyword("if"):
		return p.parseIf()
	case t.isKeyword("while"):
		return p.parseWhile()
	case t.isKeyword("do"):
		return p.parseDoWhile()
	case t.isKeyword("for"):
		return p.parseFor()
	case t.isKeyword("switch"):
		return p.parseSwitch()
	case t.isKeyword("try"):
		return p.parseTry()
	case t.isKeyword("return"):
		return p.parseReturn()
	case t.isKeyword("throw"):
		return p.parseThrow()
	case t.isKeyword("break"), t.isKeyword("continue"):
		return p.parseBreakContinue()
	default:
		return p.parseLabeledOrExpr()
	}
}

func (p *parser) parseBlock() (*Node, error) {
	t := p.tok
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	block := newNode(NBlock, t.line, t.col)
	for !p.tok.isPunct("}") {
		if p.tok.kind == tkEOF {
			return nil, p.errorf("unexpected end of input in block")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Kids = append(block.Kids, stmt)
	}
	return block, p.advance()
}

func (p *parser) parseVarDecl() (*Node, error) {
	t := p.tok
	decl := newNode(NVarDecl, t.line, t.col)
	decl.Lit = t.lit
	if err := p.advance(); err != nil {
		return nil, err
	}
	for {
		d, err := p.parseDeclarator(decl.Lit == "const")
		if err != nil {
			return nil, err
		}
		decl.Kids = append(decl.Kids, d)
		more, err := p.eatPunct(",")
		if err != nil {
			return nil, err
		}
		if !more {
			return decl, nil
		}
	}
}

func (p *parser) parseDeclarator(requireInit bool) (*Node, error) {
	t := p.tok
	target, err := p.parseBindingTarget()
	if err != nil {
		return nil, err
	}
	d := newNode(NDeclarator, t.line, t.col, target)
	eq, err := p.eatPunct("=")
	if err != nil {
		return nil, err
	}
	if eq {
		init, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		d.Kids = append(d.Kids, init)
	} else if requireInit {
		return nil, p.errorf("missing initializer in const declaration")
	} else if target.Kind != NIdent {
		return nil, p.errorf("missing initializer in destructuring declaration")
	}
	return d, nil
}

// parseBindingTarget parses an identifier, array pattern or object pattern.
func (p *parser) parseBindingTarget() (*Node, error) {
	t := p.tok
	switch {
	case t.kind == tkIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n := newNode(NIdent, t.line, t.col)
		n.Lit = t.lit
		return n, nil
	case t.isPunct("["):
		expr, err := p.parseArrayLiteral()
		if err != nil {
			return nil, err
		}
		return p.toPattern(expr)
	case t.isPunct("{"):
		expr, err := p.parseObjectLiteral()
		if err != nil {
			return nil, err
		}
		return p.toPattern(expr)
	default:
		return nil, p.errorf("expected a binding target, found %s", describeToken(t))
	}
}

func (p *parser) parseFunctionDecl() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	generator, err := p.eatPunct("*")
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tkIdent {
		return nil, p.errorf("expected function name, found %s", describeToken(p.tok))
	}
	name := p.tok.lit
	if err := p.advance(); err != nil {
		return nil, err
	}
	fn, err := p.parseFunctionRest(t, name, generator)
	if err != nil {
		return nil, err
	}
	fn.Flags |= FlagDeclaration
	return fn, nil
}

// parseFunctionRest parses the parameter list and body shared by function
// declarations and expressions.
func (p *parser) parseFunctionRest(t token, name string, generator bool) (*Node, error) {
	fn := newNode(NFunc, t.line, t.col)
	fn.Lit = name
	if generator {
		fn.Flags |= FlagGenerator
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for !p.tok.isPunct(")") {
		param, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		fn.Kids = append(fn.Kids, param)
		if param.Kind == NRest {
			break
		}
		more, err := p.eatPunct(",")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Kids = append(fn.Kids, body)
	return fn, nil
}

func (p *parser) parseParam() (*Node, error) {
	t := p.tok
	if t.isPunct("...") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		target, err := p.parseBindingTarget()
		if err != nil {
			return nil, err
		}
		return newNode(NRest, t.line, t.col, target), nil
	}
	target, err := p.parseBindingTarget()
	if err != nil {
		return nil, err
	}
	eq, err := p.eatPunct("=")
	if err != nil {
		return nil, err
	}
	if eq {
		def, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return newNode(NDefault, t.line, t.col, target, def), nil
	}
	return target, nil
}

func (p *parser) parseIf() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	test, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	cons, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	n := newNode(NIf, t.line, t.col, test, cons)
	if p.tok.isKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		alt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, alt)
	}
	return n, nil
}

func (p *parser) parseWhile() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	test, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return newNode(NWhile, t.line, t.col, test, body), nil
}

func (p *parser) parseDoWhile() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.tok.isKeyword("while") {
		return nil, p.errorf("expected 'while' after do body, found %s", describeToken(p.tok))
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	test, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return newNode(NDoWhile, t.line, t.col, body, test), p.consumeSemicolon()
}

func (p *parser) parseFor() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	// Init clause, which may turn out to be a for-in/for-of target.
	var init *Node
	switch {
	case p.tok.isPunct(";"):
		init = newNode(NEmpty, p.tok.line, p.tok.col)
	case p.tok.isKeyword("var"), p.tok.isKeyword("let"), p.tok.isKeyword("const"):
		kw := p.tok
		decl := newNode(NVarDecl, kw.line, kw.col)
		decl.Lit = kw.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		target, err := p.parseBindingTarget()
		if err != nil {
			return nil, err
		}
		if p.tok.isKeyword("in") || p.tok.isKeyword("of") {
			decl.Kids = append(decl.Kids, newNode(NDeclarator, kw.line, kw.col, target))
			return p.parseForInOf(t, decl)
		}
		// Regular declaration list.
		d := newNode(NDeclarator, kw.line, kw.col, target)
		eq, err := p.eatPunct("=")
		if err != nil {
			return nil, err
		}
		if eq {
			v, err := p.parseAssignNoIn()
			if err != nil {
				return nil, err
			}
			d.Kids = append(d.Kids, v)
		} else if decl.Lit == "const" {
			return nil, p.errorf("missing initializer in const declaration")
		} else if target.Kind != NIdent {
			return nil, p.errorf("missing initializer in destructuring declaration")
		}
		decl.Kids = append(decl.Kids, d)
		for {
			more, err := p.eatPunct(",")
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
			d, err := p.parseDeclarator(decl.Lit == "const")
			if err != nil {
				return nil, err
			}
			decl.Kids = append(decl.Kids, d)
		}
		init = decl
	default:
		expr, err := p.parseExpressionNoIn()
		if err != nil {
			return nil, err
		}
		if p.tok.isKeyword("in") || p.tok.isKeyword("of") {
			target, err := p.toPattern(expr)
			if err != nil {
				return nil, err
			}
			return p.parseForInOf(t, target)
		}
		init = newNode(NExprStmt, expr.Line, expr.Col, expr)
	}

	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	test := newNode(NEmpty, p.tok.line, p.tok.col)
	if !p.tok.isPunct(";") {
		var err error
		test, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	update := newNode(NEmpty, p.tok.line, p.tok.col)
	if !p.tok.isPunct(")") {
		var err error
		update, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return newNode(NFor, t.line, t.col, init, test, update, body), nil
}

// parseForInOf continues after "for ( target" once in/of is seen.
func (p *parser) parseForInOf(t token, target *Node) (*Node, error) {
	kind := NForIn
	if p.tok.isKeyword("of") {
		kind = NForOf
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	source, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return newNode(kind, t.line, t.col, target, source, body), nil
}

func (p *parser) parseSwitch() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	disc, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	n := newNode(NSwitch, t.line, t.col, disc)
	sawDefault := false
	for !p.tok.isPunct("}") {
		ct := p.tok
		c := newNode(NCase, ct.line, ct.col)
		switch {
		case ct.isKeyword("case"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			test, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			c.Kids = append(c.Kids, test)
		case ct.isKeyword("default"):
			if sawDefault {
				return nil, p.errorf("multiple default clauses in switch")
			}
			sawDefault = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			c.Kids = append(c.Kids, newNode(NEmpty, ct.line, ct.col))
		default:
			return nil, p.errorf("expected 'case' or 'default', found %s", describeToken(ct))
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		for !p.tok.isPunct("}") && !p.tok.isKeyword("case") && !p.tok.isKeyword("default") {
			stmt, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			c.Kids = append(c.Kids, stmt)
		}
		n.Kids = append(n.Kids, c)
	}
	return n, p.advance()
}

func (p *parser) parseTry() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	catchParam := newNode(NEmpty, t.line, t.col)
	catchBlock := newNode(NEmpty, t.line, t.col)
	finallyBlock := newNode(NEmpty, t.line, t.col)
	hasHandler := false

	if p.tok.isKeyword("catch") {
		hasHandler = true
		if err := p.advance(); err != nil {
			return nil, err
		}
		open, err := p.eatPunct("(")
		if err != nil {
			return nil, err
		}
		if open {
			catchParam, err = p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
		}
		catchBlock, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	if p.tok.isKeyword("finally") {
		hasHandler = true
		if err := p.advance(); err != nil {
			return nil, err
		}
		finallyBlock, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	if !hasHandler {
		return nil, p.errorf("missing catch or finally after try")
	}
	return newNode(NTry, t.line, t.col, block, catchParam, catchBlock, finallyBlock), nil
}

func (p *parser) parseReturn() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	n := newNode(NReturn, t.line, t.col)
	if !p.tok.isPunct(";") && !p.tok.isPunct("}") && p.tok.kind != tkEOF && !p.tok.newline {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, expr)
	}
	return n, p.consumeSemicolon()
}

func (p *parser) parseThrow() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.newline {
		return nil, p.errorf("newline not allowed after throw")
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return newNode(NThrow, t.line, t.col, expr), p.consumeSemicolon()
}

func (p *parser) parseBreakContinue() (*Node, error) {
	t := p.tok
	kind := NBreak
	if t.lit == "continue" {
		kind = NContinue
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n := newNode(kind, t.line, t.col)
	if p.tok.kind == tkIdent && !p.tok.newline {
		n.Lit = p.tok.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return n, p.consumeSemicolon()
}

func (p *parser) parseLabeledOrExpr() (*Node, error) {
	t := p.tok
	if t.kind == tkIdent {
		s := p.save()
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.isPunct(":") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			stmt, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			n := newNode(NLabeled, t.line, t.col, stmt)
			n.Lit = t.lit
			return n, nil
		}
		p.restore(s)
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return newNode(NExprStmt, t.line, t.col, expr), p.consumeSemicolon()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpression parses a full expression including the comma operator.
func (p *parser) parseExpression() (*Node, error) { return p.parseSequence(true) }

// parseExpressionNoIn is the for-init variant that leaves 'in' to the loop.
func (p *parser) parseExpressionNoIn() (*Node, error) { return p.parseSequence(false) }

func (p *parser) parseSequence(allowIn bool) (*Node, error) {
	left, err := p.parseAssignIn(allowIn)
	if err != nil {
		return nil, err
	}
	for p.tok.isPunct(",") {
		t := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAssignIn(allowIn)
		if err != nil {
			return nil, err
		}
		left = newNode(NSeq, t.line, t.col, left, right)
	}
	return left, nil
}

func (p *parser) parseAssign() (*Node, error)     { return p.parseAssignIn(true) }
func (p *parser) parseAssignNoIn() (*Node, error) { return p.parseAssignIn(false) }

var compoundAssign = map[string]bool{
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true, ">>>=": true,
}

func (p *parser) parseAssignIn(allowIn bool) (*Node, error) {
	if arrow, err := p.tryParseArrow(); arrow != nil || err != nil {
		return arrow, err
	}
	if p.tok.isKeyword("yield") {
		return p.parseYield()
	}

	left, err := p.parseConditional(allowIn)
	if err != nil {
		return nil, err
	}

	t := p.tok
	switch {
	case t.isPunct("="):
		if err := p.advance(); err != nil {
			return nil, err
		}
		target, err := p.toPattern(left)
		if err != nil {
			return nil, err
		}
		right, err := p.parseAssignIn(allowIn)
		if err != nil {
			return nil, err
		}
		n := newNode(NAssign, t.line, t.col, target, right)
		n.Lit = "="
		return n, nil
	case t.kind == tkPunct && compoundAssign[t.lit]:
		if !isSimpleTarget(left) {
			return nil, p.errorf("invalid assignment target")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAssignIn(allowIn)
		if err != nil {
			return nil, err
		}
		n := newNode(NAssign, t.line, t.col, left, right)
		n.Lit = t.lit
		return n, nil
	}
	return left, nil
}

func isSimpleTarget(n *Node) bool {
	return n.Kind == NIdent || n.Kind == NMember || n.Kind == NIndex
}

// tryParseArrow speculatively parses an arrow function at the current
// position, returning nil with no error when the lookahead rules it out.
func (p *parser) tryParseArrow() (*Node, error) {
	t := p.tok
	if t.kind == tkIdent {
		s := p.save()
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.isPunct("=>") && !p.tok.newline {
			param := newNode(NIdent, t.line, t.col)
			param.Lit = t.lit
			return p.parseArrowRest(t, []*Node{param})
		}
		p.restore(s)
		return nil, nil
	}
	if !t.isPunct("(") {
		return nil, nil
	}
	s := p.save()
	params, ok, err := p.tryParseArrowParams()
	if err != nil || !ok {
		p.restore(s)
		return nil, nil
	}
	if !p.tok.isPunct("=>") || p.tok.newline {
		p.restore(s)
		return nil, nil
	}
	return p.parseArrowRest(t, params)
}

// tryParseArrowParams parses "( params )"; ok=false means the token stream
// is not a parameter list and the caller should reparse as an expression.
func (p *parser) tryParseArrowParams() ([]*Node, bool, error) {
	if err := p.advance(); err != nil { // consume "("
		return nil, false, err
	}
	var params []*Node
	for !p.tok.isPunct(")") {
		param, err := p.parseParam()
		if err != nil {
			return nil, false, nil // not a parameter list
		}
		params = append(params, param)
		if param.Kind == NRest {
			break
		}
		more, err := p.eatPunct(",")
		if err != nil {
			return nil, false, err
		}
		if !more {
			break
		}
	}
	if !p.tok.isPunct(")") {
		return nil, false, nil
	}
	if err := p.advance(); err != nil {
		return nil, false, err
	}
	return params, true, nil
}

// parseArrowRest parses the body after "=>".
func (p *parser) parseArrowRest(t token, params []*Node) (*Node, error) {
	if err := p.advance(); err != nil { // consume "=>"
		return nil, err
	}
	fn := newNode(NFunc, t.line, t.col)
	fn.Flags |= FlagArrow
	fn.Kids = params

	if p.tok.isPunct("{") {
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		fn.Kids = append(fn.Kids, body)
		return fn, nil
	}
	// Expression body desugars to a single return statement.
	expr, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	ret := newNode(NReturn, expr.Line, expr.Col, expr)
	fn.Kids = append(fn.Kids, newNode(NBlock, expr.Line, expr.Col, ret))
	return fn, nil
}

func (p *parser) parseYield() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	n := newNode(NYield, t.line, t.col)
	if p.tok.isPunct("*") {
		n.Flags |= FlagDelegate
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if !p.tok.newline && !p.tok.isPunct(";") && !p.tok.isPunct(")") && !p.tok.isPunct("]") &&
		!p.tok.isPunct("}") && !p.tok.isPunct(",") && !p.tok.isPunct(":") && p.tok.kind != tkEOF {
		expr, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, expr)
	} else if n.Flags&FlagDelegate != 0 {
		return nil, p.errorf("yield* requires an iterable operand")
	}
	return n, nil
}

func (p *parser) parseConditional(allowIn bool) (*Node, error) {
	test, err := p.parseBinary(0, allowIn)
	if err != nil {
		return nil, err
	}
	if !p.tok.isPunct("?") {
		return test, nil
	}
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	cons, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	alt, err := p.parseAssignIn(allowIn)
	if err != nil {
		return nil, err
	}
	return newNode(NCond, t.line, t.col, test, cons, alt), nil
}

// binaryPrec maps binary operators to their precedence level.
var binaryPrec = map[string]int{
	"??": 1,
	"||": 2,
	"&&": 3,
	"|":  4,
	"^":  5,
	"&":  6,
	"==": 7, "!=": 7, "===": 7, "!==": 7,
	"<": 8, ">": 8, "<=": 8, ">=": 8, "instanceof": 8, "in": 8,
	"<<": 9, ">>": 9, ">>>": 9,
	"+": 10, "-": 10,
	"*": 11, "/": 11, "%": 11,
}

func (p *parser) parseBinary(minPrec int, allowIn bool) (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.tok.lit
		if p.tok.kind != tkPunct && !p.tok.isKeyword("instanceof") && !p.tok.isKeyword("in") {
			return left, nil
		}
		if op == "in" && !allowIn {
			return left, nil
		}
		prec, ok := binaryPrec[op]
		if !ok || prec < minPrec {
			return left, nil
		}
		t := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBinary(prec+1, allowIn)
		if err != nil {
			return nil, err
		}
		kind := NBinary
		if op == "&&" || op == "||" || op == "??" {
			kind = NLogical
		}
		n := newNode(kind, t.line, t.col, left, right)
		n.Lit = op
		left = n
	}
}

func (p *parser) parseUnary() (*Node, error) {
	t := p.tok
	switch {
	case t.isPunct("!") || t.isPunct("~") || t.isPunct("+") || t.isPunct("-") ||
		t.isKeyword("typeof") || t.isKeyword("delete"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n := newNode(NUnary, t.line, t.col, operand)
		n.Lit = t.lit
		return n, nil
	case t.isPunct("++") || t.isPunct("--"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if !isSimpleTarget(operand) {
			return nil, p.errorf("invalid %s operand", t.lit)
		}
		n := newNode(NUpdate, t.line, t.col, operand)
		n.Lit = t.lit
		n.Flags |= FlagPrefix
		return n, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (*Node, error) {
	expr, err := p.parseCallChain()
	if err != nil {
		return nil, err
	}
	if (p.tok.isPunct("++") || p.tok.isPunct("--")) && !p.tok.newline {
		if !isSimpleTarget(expr) {
			return nil, p.errorf("invalid %s operand", p.tok.lit)
		}
		n := newNode(NUpdate, p.tok.line, p.tok.col, expr)
		n.Lit = p.tok.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	}
	return expr, nil
}

// parseCallChain parses member access, indexing and calls.
func (p *parser) parseCallChain() (*Node, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parseChainFrom(expr, true)
}

func (p *parser) parseChainFrom(expr *Node, allowCall bool) (*Node, error) {
	for {
		t := p.tok
		switch {
		case t.isPunct("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tkIdent && p.tok.kind != tkKeyword {
				return nil, p.errorf("expected property name, found %s", describeToken(p.tok))
			}
			n := newNode(NMember, t.line, t.col, expr)
			n.Lit = p.tok.lit
			if err := p.advance(); err != nil {
				return nil, err
			}
			expr = n
		case t.isPunct("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			expr = newNode(NIndex, t.line, t.col, expr, key)
		case t.isPunct("(") && allowCall:
			args, err := p.parseArguments()
			if err != nil {
				return nil, err
			}
			n := newNode(NCall, t.line, t.col, expr)
			n.Kids = append(n.Kids, args...)
			expr = n
		default:
			return expr, nil
		}
	}
}

func (p *parser) parseArguments() ([]*Node, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []*Node
	for !p.tok.isPunct(")") {
		var a *Node
		if p.tok.isPunct("...") {
			t := p.tok
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseAssign()
			if err != nil {
				return nil, err
			}
			a = newNode(NRest, t.line, t.col, inner)
		} else {
			var err error
			a, err = p.parseAssign()
			if err != nil {
				return nil, err
			}
		}
		args = append(args, a)
		more, err := p.eatPunct(",")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return args, p.expectPunct(")")
}

func (p *parser) parseNew() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	callee, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	callee, err = p.parseChainFrom(callee, false)
	if err != nil {
		return nil, err
	}
	n := newNode(NNew, t.line, t.col, callee)
	if p.tok.isPunct("(") {
		args, err := p.parseArguments()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, args...)
	}
	return p.parseChainFrom(n, true)
}

func (p *parser) parsePrimary() (*Node, error) {
	t := p.tok
	switch {
	case t.kind == tkNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n := newNode(NNumber, t.line, t.col)
		n.Num = t.num
		return n, nil
	case t.kind == tkString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n := newNode(NString, t.line, t.col)
		n.Lit = t.lit
		return n, nil
	case t.kind == tkIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n := newNode(NIdent, t.line, t.col)
		n.Lit = t.lit
		return n, nil
	case t.isKeyword("true"), t.isKeyword("false"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		n := newNode(NBool, t.line, t.col)
		if t.lit == "true" {
			n.Num = 1
		}
		return n, nil
	case t.isKeyword("null"):
		return newNode(NNull, t.line, t.col), p.advance()
	case t.isKeyword("undefined"):
		return newNode(NUndefined, t.line, t.col), p.advance()
	case t.isKeyword("this"):
		return newNode(NThis, t.line, t.col), p.advance()
	case t.isKeyword("new"):
		return p.parseNew()
	case t.isKeyword("function"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		generator, err := p.eatPunct("*")
		if err != nil {
			return nil, err
		}
		name := ""
		if p.tok.kind == tkIdent {
			name = p.tok.lit
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		return p.parseFunctionRest(t, name, generator)
	case t.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return expr, p.expectPunct(")")
	case t.isPunct("["):
		return p.parseArrayLiteral()
	case t.isPunct("{"):
		return p.parseObjectLiteral()
	default:
		return nil, p.errorf("unexpected %s", describeToken(t))
	}
}

func (p *parser) parseArrayLiteral() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	n := newNode(NArray, t.line, t.col)
	for !p.tok.isPunct("]") {
		switch {
		case p.tok.isPunct(","):
			n.Kids = append(n.Kids, newNode(NEmpty, p.tok.line, p.tok.col))
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		case p.tok.isPunct("..."):
			rt := p.tok
			if err := p.advance(); err != nil {
				return nil, err
			}
			target, err := p.parseAssign()
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, newNode(NRest, rt.line, rt.col, target))
		default:
			elem, err := p.parseAssign()
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, elem)
		}
		more, err := p.eatPunct(",")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return n, p.expectPunct("]")
}

func (p *parser) parseObjectLiteral() (*Node, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	n := newNode(NObject, t.line, t.col)
	for !p.tok.isPunct("}") {
		prop, err := p.parseProperty()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, prop)
		more, err := p.eatPunct(",")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return n, p.expectPunct("}")
}

func (p *parser) parseProperty() (*Node, error) {
	t := p.tok
	prop := newNode(NProp, t.line, t.col)

	switch {
	case t.isPunct("["):
		if err := p.advance(); err != nil {
			return nil, err
		}
		key, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
		prop.Flags |= FlagComputed
		prop.Kids = append(prop.Kids, key)
	case t.kind == tkIdent || t.kind == tkKeyword:
		prop.Lit = t.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		// Shorthand { name } and shorthand-with-default { name = expr }
		// (the latter only meaningful inside a destructuring pattern).
		if t.kind == tkIdent && !p.tok.isPunct(":") {
			value := newNode(NIdent, t.line, t.col)
			value.Lit = t.lit
			if p.tok.isPunct("=") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				def, err := p.parseAssign()
				if err != nil {
					return nil, err
				}
				assign := newNode(NAssign, t.line, t.col, value, def)
				assign.Lit = "="
				prop.Kids = append(prop.Kids, assign)
				return prop, nil
			}
			prop.Kids = append(prop.Kids, value)
			return prop, nil
		}
	case t.kind == tkString:
		prop.Lit = t.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
	case t.kind == tkNumber:
		prop.Lit = numericKey(t)
		if err := p.advance(); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf("expected property key, found %s", describeToken(t))
	}

	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	value, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	prop.Kids = append(prop.Kids, value)
	return prop, nil
}

// ---------------------------------------------------------------------------
// Cover grammar conversion
// ---------------------------------------------------------------------------

// toPattern reinterprets an expression as an assignment or binding pattern.
func (p *parser) toPattern(n *Node) (*Node, error) {
	fail := func(msg string) error {
		return &SyntaxError{File: p.lx.file, Line: n.Line, Col: n.Col, Msg: msg}
	}
	switch n.Kind {
	case NIdent, NMember, NIndex, NEmpty, NArrayPat, NObjectPat:
		return n, nil
	case NAssign:
		if n.Lit != "=" {
			return nil, fail("invalid destructuring default")
		}
		target, err := p.toPattern(n.Kids[0])
		if err != nil {
			return nil, err
		}
		return newNode(NDefault, n.Line, n.Col, target, n.Kids[1]), nil
	case NRest:
		target, err := p.toPattern(n.Kids[0])
		if err != nil {
			return nil, err
		}
		return newNode(NRest, n.Line, n.Col, target), nil
	case NArray:
		pat := newNode(NArrayPat, n.Line, n.Col)
		for i, kid := range n.Kids {
			elem, err := p.toPattern(kid)
			if err != nil {
				return nil, err
			}
			if elem.Kind == NRest && i != len(n.Kids)-1 {
				return nil, fail("rest element must be last")
			}
			pat.Kids = append(pat.Kids, elem)
		}
		return pat, nil
	case NObject:
		pat := newNode(NObjectPat, n.Line, n.Col)
		for _, kid := range n.Kids {
			if kid.Flags&FlagComputed != 0 {
				return nil, fail("computed keys are not allowed in destructuring patterns")
			}
			target, err := p.toPattern(kid.Kids[0])
			if err != nil {
				return nil, err
			}
			pp := newNode(NPropPat, kid.Line, kid.Col, target)
			pp.Lit = kid.Lit
			pat.Kids = append(pat.Kids, pp)
		}
		return pat, nil
	default:
		return nil, fail("invalid assignment target")
	}
}

func numericKey(t token) string {
	return formatNumericKey(t.num)
}
