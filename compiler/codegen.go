package compiler

import (
	"fmt"
	"math"

	"github.com/kestreljs/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Code generation
// ---------------------------------------------------------------------------

// Compile parses and compiles source text into a verified script.
func Compile(file, src string) (*vm.Script, error) {
	prog, err := Parse(file, src)
	if err != nil {
		return nil, err
	}
	return CompileNode(file, prog)
}

// CompileNode compiles a syntax tree, which may come from the bundled parser
// or from an external producer following the Node contract.
func CompileNode(file string, prog *Node) (*vm.Script, error) {
	if prog.Kind != NProgram {
		return nil, &SyntaxError{File: file, Line: prog.Line, Col: prog.Col, Msg: "root node is not a program"}
	}
	g := &codegen{file: file, script: &vm.Script{FileName: file}}
	if err := g.compileProgram(prog); err != nil {
		return nil, err
	}
	if err := g.script.Verify(); err != nil {
		return nil, err
	}
	return g.script, nil
}

type codegen struct {
	file   string
	script *vm.Script
}

// binding is one resolved variable.
type binding struct {
	slot    int
	scope   *cscope
	isConst bool
}

// cscope mirrors one runtime scope at compile time. chainLen is the length
// of the full runtime scope chain up to and including this scope, so the
// hops operand of a local access is the difference of two chain lengths.
type cscope struct {
	parent   *cscope
	names    map[string]*binding
	chainLen int
	nextSlot int
}

func (s *cscope) declare(name string, isConst bool) *binding {
	b := &binding{slot: s.nextSlot, scope: s, isConst: isConst}
	s.nextSlot++
	s.names[name] = b
	return b
}

// loopCtx is one active break/continue target.
type loopCtx struct {
	label      string
	isLoop     bool // false for switch and labeled blocks: no continue
	spExtra    int  // operand stack slots the construct holds while its body runs
	tryDepth   int
	ownedDepth int // owned-scope depth the jump target executes at

	breakPatches []int
	contPatches  []int
}

// fnCompiler compiles one function unit.
type fnCompiler struct {
	g         *codegen
	enclosing *fnCompiler
	proto     *vm.FunctionProto
	b         *vm.BytecodeBuilder

	scope      *cscope
	baseChain  int // scope chain length outside this function
	ownedDepth int // runtime scopes owned by the current activation

	loops        []*loopCtx
	tryDepth     int
	pendingLabel string

	isProgram bool

	litNum map[uint64]int
	litStr map[string]int

	lastLine int
	lastCol  int
}

func (g *codegen) newFn(enclosing *fnCompiler, proto *vm.FunctionProto) *fnCompiler {
	f := &fnCompiler{
		g:      g,
		proto:  proto,
		b:      vm.NewBytecodeBuilder(),
		litNum: make(map[uint64]int),
		litStr: make(map[string]int),
	}
	if enclosing != nil {
		f.enclosing = enclosing
		f.scope = enclosing.scope
		f.baseChain = enclosing.scope.chainLen
	}
	return f
}

func (f *fnCompiler) errorf(n *Node, format string, args ...interface{}) error {
	return &SyntaxError{File: f.g.file, Line: n.Line, Col: n.Col, Msg: fmt.Sprintf(format, args...)}
}

// mark records the source position for code emitted from here on.
func (f *fnCompiler) mark(n *Node) {
	if n.Line == 0 || (n.Line == f.lastLine && n.Col == f.lastCol) {
		return
	}
	off := f.b.Len()
	lines := f.proto.Lines
	if len(lines) > 0 && lines[len(lines)-1].Offset == off {
		lines[len(lines)-1].Line = n.Line
		lines[len(lines)-1].Col = n.Col
	} else {
		f.proto.Lines = append(lines, vm.SourceLoc{Offset: off, Line: n.Line, Col: n.Col})
	}
	f.lastLine, f.lastCol = n.Line, n.Col
}

// num interns a number literal, returning its constant pool index.
func (f *fnCompiler) num(v float64) (int, error) {
	key := math.Float64bits(v)
	if i, ok := f.litNum[key]; ok {
		return i, nil
	}
	i := len(f.proto.Literals)
	if i > 0xFFFF {
		return 0, fmt.Errorf("compiler: constant pool overflow in %s", f.g.file)
	}
	f.proto.Literals = append(f.proto.Literals, vm.NumberLiteral(v))
	f.litNum[key] = i
	return i, nil
}

// str interns a string literal or name, returning its constant pool index.
func (f *fnCompiler) str(s string) (int, error) {
	if i, ok := f.litStr[s]; ok {
		return i, nil
	}
	i := len(f.proto.Literals)
	if i > 0xFFFF {
		return 0, fmt.Errorf("compiler: constant pool overflow in %s", f.g.file)
	}
	f.proto.Literals = append(f.proto.Literals, vm.StringLiteral(s))
	f.litStr[s] = i
	return i, nil
}

func (f *fnCompiler) emitName(op vm.Opcode, name string) error {
	idx, err := f.str(name)
	if err != nil {
		return err
	}
	f.b.EmitU16(op, idx)
	return nil
}

// enterScope opens a compile-time scope backed by a runtime scope.
func (f *fnCompiler) enterScope(nvar, nlex int) *cscope {
	chain := 1
	if f.scope != nil {
		chain = f.scope.chainLen + 1
	}
	s := &cscope{parent: f.scope, names: make(map[string]*binding), chainLen: chain}
	f.scope = s
	f.ownedDepth++
	return s
}

func (f *fnCompiler) leaveScope() {
	f.scope = f.scope.parent
	f.ownedDepth--
}

// resolve finds a binding and its hop distance along the runtime chain.
func (f *fnCompiler) resolve(name string) (*binding, int, bool) {
	for s := f.scope; s != nil; s = s.parent {
		if b, ok := s.names[name]; ok {
			return b, f.scope.chainLen - s.chainLen, true
		}
	}
	return nil, 0, false
}

// ---------------------------------------------------------------------------
// Hoisting
// ---------------------------------------------------------------------------

// patternIdents collects the identifiers bound by a pattern, in order.
func patternIdents(n *Node, into []string) []string {
	switch n.Kind {
	case NIdent:
		return append(into, n.Lit)
	case NDefault, NRest:
		return patternIdents(n.Kids[0], into)
	case NArrayPat:
		for _, kid := range n.Kids {
			if kid.Kind != NEmpty {
				into = patternIdents(kid, into)
			}
		}
		return into
	case NObjectPat:
		for _, kid := range n.Kids {
			into = patternIdents(kid.Kids[0], into)
		}
		return into
	default:
		return into
	}
}

// collectVars gathers function-scoped var names from a statement subtree,
// stopping at nested function boundaries.
func collectVars(n *Node, into []string) []string {
	switch n.Kind {
	case NFunc:
		return into
	case NVarDecl:
		if n.Lit == "var" {
			for _, d := range n.Kids {
				into = patternIdents(d.Kids[0], into)
			}
		}
		return into
	default:
		for _, kid := range n.Kids {
			if kid != nil {
				into = collectVars(kid, into)
			}
		}
		return into
	}
}

// lexNames gathers the block-scoped names declared directly in a statement
// list: let, const and function declarations.
func lexNames(stmts []*Node) (names []string, consts map[string]bool) {
	consts = make(map[string]bool)
	for _, s := range stmts {
		switch {
		case s.Kind == NVarDecl && s.Lit != "var":
			for _, d := range s.Kids {
				ids := patternIdents(d.Kids[0], nil)
				names = append(names, ids...)
				if s.Lit == "const" {
					for _, id := range ids {
						consts[id] = true
					}
				}
			}
		case s.Kind == NFunc && s.Flags&FlagDeclaration != 0:
			names = append(names, s.Lit)
		}
	}
	return names, consts
}

func hasUseStrict(stmts []*Node) bool {
	if len(stmts) == 0 {
		return false
	}
	s := stmts[0]
	return s.Kind == NExprStmt && s.Kids[0].Kind == NString && s.Kids[0].Lit == "use strict"
}

func dedup(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Program and function units
// ---------------------------------------------------------------------------

func (g *codegen) compileProgram(prog *Node) error {
	proto := &vm.FunctionProto{Name: "<program>"}
	g.script.Funcs = append(g.script.Funcs, proto)

	f := g.newFn(nil, proto)
	f.isProgram = true
	if hasUseStrict(prog.Kids) {
		proto.Flags |= vm.FuncStrict
	}

	// Top-level let and const live in the program frame's own scope; vars
	// and function declarations become global bindings so they survive the
	// script and remain visible to later scripts on the same instance.
	var lex []string
	consts := make(map[string]bool)
	for _, s := range prog.Kids {
		if s.Kind == NVarDecl && s.Lit != "var" {
			for _, d := range s.Kids {
				ids := patternIdents(d.Kids[0], nil)
				lex = append(lex, ids...)
				if s.Lit == "const" {
					for _, id := range ids {
						consts[id] = true
					}
				}
			}
		}
	}
	for i, name := range lex {
		for _, prev := range lex[:i] {
			if prev == name {
				return &SyntaxError{File: g.file, Line: prog.Line, Col: prog.Col,
					Msg: fmt.Sprintf("identifier %q has already been declared", name)}
			}
		}
	}
	if len(lex) > 255 {
		return &SyntaxError{File: g.file, Line: prog.Line, Col: prog.Col, Msg: "too many top-level lexical bindings"}
	}
	proto.NumLex = len(lex)
	scope := f.enterScope(0, len(lex))
	for _, name := range lex {
		scope.declare(name, consts[name])
	}

	for _, name := range dedup(collectVars(prog, nil)) {
		if _, ok := scope.names[name]; ok {
			return &SyntaxError{File: g.file, Line: prog.Line, Col: prog.Col,
				Msg: fmt.Sprintf("identifier %q has already been declared", name)}
		}
		if err := f.emitName(vm.OpDeclareGlobal, name); err != nil {
			return err
		}
	}
	for _, s := range prog.Kids {
		if s.Kind == NFunc && s.Flags&FlagDeclaration != 0 {
			if _, ok := scope.names[s.Lit]; ok {
				return &SyntaxError{File: g.file, Line: s.Line, Col: s.Col,
					Msg: fmt.Sprintf("identifier %q has already been declared", s.Lit)}
			}
			if err := f.emitName(vm.OpDeclareGlobal, s.Lit); err != nil {
				return err
			}
			idx, err := f.compileFunction(s)
			if err != nil {
				return err
			}
			f.b.EmitU16(vm.OpClosure, idx)
			if err := f.emitName(vm.OpStoreGlobal, s.Lit); err != nil {
				return err
			}
			f.b.Emit(vm.OpPop)
		}
	}

	for _, s := range prog.Kids {
		if err := f.stmt(s, true); err != nil {
			return err
		}
	}
	f.b.Emit(vm.OpLoadAccum)
	f.b.Emit(vm.OpReturn)
	proto.Code = f.b.Bytes()
	return nil
}

// compileFunction compiles a function node into a new function table entry
// and returns its index.
func (f *fnCompiler) compileFunction(n *Node) (int, error) {
	proto := &vm.FunctionProto{Name: n.Lit}
	idx := len(f.g.script.Funcs)
	if idx > 0xFFFF {
		return 0, f.errorf(n, "too many functions")
	}
	f.g.script.Funcs = append(f.g.script.Funcs, proto)

	params := n.Kids[:len(n.Kids)-1]
	body := n.Kids[len(n.Kids)-1]

	if n.Flags&FlagGenerator != 0 {
		proto.Flags |= vm.FuncGenerator
	}
	if n.Flags&FlagArrow != 0 {
		proto.Flags |= vm.FuncArrow
	}
	if f.proto.IsStrict() || hasUseStrict(body.Kids) {
		proto.Flags |= vm.FuncStrict
	}
	if len(params) > 0 && params[len(params)-1].Kind == NRest {
		proto.Flags |= vm.FuncRest
	}
	if len(params) > 255 {
		return 0, f.errorf(n, "too many parameters")
	}
	proto.Arity = len(params)

	nf := f.g.newFn(f, proto)
	nf.mark(n)
	scope := nf.enterScope(0, 0)

	// Parameter slots. Pattern parameters get an anonymous slot and bind
	// their identifiers as ordinary vars in the prologue.
	type patternParam struct {
		slot  int
		param *Node
	}
	var patterns []patternParam
	var defaults []patternParam
	for _, p := range params {
		target := p
		if p.Kind == NRest || p.Kind == NDefault {
			target = p.Kids[0]
		}
		if target.Kind == NIdent {
			b := scope.declare(target.Lit, false)
			if p.Kind == NDefault {
				defaults = append(defaults, patternParam{b.slot, p})
			}
			continue
		}
		slot := scope.nextSlot
		scope.nextSlot++
		if p.Kind == NDefault {
			defaults = append(defaults, patternParam{slot, p})
		}
		patterns = append(patterns, patternParam{slot, target})
	}

	// Hoisted vars and top-level function declarations.
	varNames := collectVars(body, nil)
	var funcDecls []*Node
	for _, s := range body.Kids {
		if s.Kind == NFunc && s.Flags&FlagDeclaration != 0 {
			funcDecls = append(funcDecls, s)
			varNames = append(varNames, s.Lit)
		}
	}
	for _, p := range patterns {
		varNames = patternIdents(p.param, varNames)
	}
	for _, name := range dedup(varNames) {
		if _, ok := scope.names[name]; !ok {
			scope.declare(name, false)
		}
	}
	proto.NumVars = scope.nextSlot

	// Function declarations are function-scoped here, already hoisted into
	// varNames above; only let and const stay lexical.
	var lex []string
	consts := make(map[string]bool)
	for _, s := range body.Kids {
		if s.Kind == NVarDecl && s.Lit != "var" {
			for _, d := range s.Kids {
				ids := patternIdents(d.Kids[0], nil)
				lex = append(lex, ids...)
				if s.Lit == "const" {
					for _, id := range ids {
						consts[id] = true
					}
				}
			}
		}
	}
	for _, name := range lex {
		if _, ok := scope.names[name]; ok {
			return 0, nf.errorf(body, "identifier %q has already been declared", name)
		}
		scope.declare(name, consts[name])
	}
	proto.NumLex = scope.nextSlot - proto.NumVars
	if scope.nextSlot > 255 {
		return 0, nf.errorf(n, "too many local bindings")
	}

	// Prologue: parameter defaults, pattern parameters, hoisted functions.
	for _, d := range defaults {
		nf.b.EmitU8U8(vm.OpLoadLocal, 0, d.slot)
		if err := nf.emitDefault(d.param.Kids[1]); err != nil {
			return 0, err
		}
		nf.b.EmitU8U8(vm.OpStoreLocal, 0, d.slot)
		nf.b.Emit(vm.OpPop)
	}
	for _, p := range patterns {
		nf.b.EmitU8U8(vm.OpLoadLocal, 0, p.slot)
		if err := nf.bindPattern(p.param, declVar); err != nil {
			return 0, err
		}
	}
	for _, fd := range funcDecls {
		fnIdx, err := nf.compileFunction(fd)
		if err != nil {
			return 0, err
		}
		b := scope.names[fd.Lit]
		nf.b.EmitU16(vm.OpClosure, fnIdx)
		nf.b.EmitU8U8(vm.OpStoreLocal, 0, b.slot)
		nf.b.Emit(vm.OpPop)
	}

	for _, s := range body.Kids {
		if err := nf.stmt(s, false); err != nil {
			return 0, err
		}
	}
	nf.b.Emit(vm.OpReturnUndefined)
	proto.Code = nf.b.Bytes()
	return idx, nil
}

// emitDefault wraps the value on the stack: when it is undefined, it is
// replaced by the default expression.
func (f *fnCompiler) emitDefault(def *Node) error {
	f.b.Emit(vm.OpDup)
	f.b.Emit(vm.OpUndefined)
	f.b.Emit(vm.OpStrictEq)
	skip := f.b.EmitJump(vm.OpJumpIfFalse)
	f.b.Emit(vm.OpPop)
	if err := f.expr(def); err != nil {
		return err
	}
	f.b.PatchJump(skip, f.b.Len())
	return nil
}
