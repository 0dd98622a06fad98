package compiler

import (
	"github.com/kestreljs/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Statement compilation
// ---------------------------------------------------------------------------

// stmt compiles one statement. completion is set inside the program unit,
// where expression statements feed the completion value accumulator.
func (f *fnCompiler) stmt(n *Node, completion bool) error {
	f.mark(n)
	switch n.Kind {
	case NEmpty:
		return nil

	case NExprStmt:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		if completion && f.isProgram {
			f.b.Emit(vm.OpStoreAccum)
		} else {
			f.b.Emit(vm.OpPop)
		}
		return nil

	case NVarDecl:
		return f.varDecl(n)

	case NFunc:
		// Function declarations are hoisted and compiled at scope entry.
		return nil

	case NBlock:
		return f.block(n.Kids, completion)

	case NIf:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		elseJ := f.b.EmitJump(vm.OpJumpIfFalse)
		if err := f.stmt(n.Kids[1], completion); err != nil {
			return err
		}
		if len(n.Kids) > 2 {
			endJ := f.b.EmitJump(vm.OpJump)
			f.b.PatchJump(elseJ, f.b.Len())
			if err := f.stmt(n.Kids[2], completion); err != nil {
				return err
			}
			f.b.PatchJump(endJ, f.b.Len())
		} else {
			f.b.PatchJump(elseJ, f.b.Len())
		}
		return nil

	case NWhile:
		ctx := f.pushLoop(0)
		start := f.b.Len()
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		exitJ := f.b.EmitJump(vm.OpJumpIfFalse)
		if err := f.stmt(n.Kids[1], completion); err != nil {
			return err
		}
		f.emitJumpTo(vm.OpJump, start)
		end := f.b.Len()
		f.b.PatchJump(exitJ, end)
		f.popLoop(ctx, end, start)
		return nil

	case NDoWhile:
		ctx := f.pushLoop(0)
		start := f.b.Len()
		if err := f.stmt(n.Kids[0], completion); err != nil {
			return err
		}
		cont := f.b.Len()
		if err := f.expr(n.Kids[1]); err != nil {
			return err
		}
		f.emitJumpTo(vm.OpJumpIfTrue, start)
		f.popLoop(ctx, f.b.Len(), cont)
		return nil

	case NFor:
		return f.forStmt(n, completion)

	case NForIn, NForOf:
		return f.forInOf(n, completion)

	case NSwitch:
		return f.switchStmt(n, completion)

	case NLabeled:
		return f.labeled(n, completion)

	case NBreak:
		ctx, err := f.findTarget(n, n.Lit, false)
		if err != nil {
			return err
		}
		f.emitLeave(ctx, n, true)
		return nil

	case NContinue:
		ctx, err := f.findTarget(n, n.Lit, true)
		if err != nil {
			return err
		}
		f.emitLeave(ctx, n, false)
		return nil

	case NReturn:
		if f.isProgram {
			return f.errorf(n, "return outside function")
		}
		if len(n.Kids) > 0 {
			if err := f.expr(n.Kids[0]); err != nil {
				return err
			}
			f.b.Emit(vm.OpReturn)
		} else {
			f.b.Emit(vm.OpReturnUndefined)
		}
		return nil

	case NThrow:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpThrow)
		return nil

	case NTry:
		return f.tryStmt(n, completion)

	default:
		return f.errorf(n, "unexpected statement node %d", n.Kind)
	}
}

// block compiles a statement list, opening a runtime scope only when the
// block declares lexical bindings.
func (f *fnCompiler) block(stmts []*Node, completion bool) error {
	lex, consts := lexNames(stmts)
	lex = dedup(lex)
	if len(lex) == 0 {
		for _, s := range stmts {
			if err := f.stmt(s, completion); err != nil {
				return err
			}
		}
		return nil
	}
	if len(lex) > 255 {
		return f.errorf(stmts[0], "too many lexical bindings in block")
	}
	f.b.EmitU8U8(vm.OpEnterScope, 0, len(lex))
	scope := f.enterScope(0, len(lex))
	for _, name := range lex {
		scope.declare(name, consts[name])
	}
	// Block-level function declarations initialize on entry.
	for _, s := range stmts {
		if s.Kind == NFunc && s.Flags&FlagDeclaration != 0 {
			idx, err := f.compileFunction(s)
			if err != nil {
				return err
			}
			f.b.EmitU16(vm.OpClosure, idx)
			f.b.EmitU8(vm.OpInitLocal, scope.names[s.Lit].slot)
		}
	}
	for _, s := range stmts {
		if err := f.stmt(s, completion); err != nil {
			return err
		}
	}
	f.leaveScope()
	f.b.Emit(vm.OpLeaveScope)
	return nil
}

// varDecl compiles a declaration list. var targets were hoisted; let and
// const slots were declared by the enclosing block or function.
func (f *fnCompiler) varDecl(n *Node) error {
	kind := declVar
	if n.Lit != "var" {
		kind = declLet
	}
	for _, d := range n.Kids {
		target := d.Kids[0]
		if len(d.Kids) < 2 {
			if kind == declLet {
				// let with no initializer leaves TDZ here.
				f.b.Emit(vm.OpUndefined)
				if err := f.bindPattern(target, declLet); err != nil {
					return err
				}
			}
			continue
		}
		if err := f.expr(d.Kids[1]); err != nil {
			return err
		}
		if err := f.bindPattern(target, kind); err != nil {
			return err
		}
	}
	return nil
}

func (f *fnCompiler) forStmt(n *Node, completion bool) error {
	init, test, update, body := n.Kids[0], n.Kids[1], n.Kids[2], n.Kids[3]

	scoped := init.Kind == NVarDecl && init.Lit != "var"
	if scoped {
		names := patternIdents(init.Kids[0].Kids[0], nil)
		for _, d := range init.Kids[1:] {
			names = patternIdents(d.Kids[0], names)
		}
		names = dedup(names)
		f.b.EmitU8U8(vm.OpEnterScope, 0, len(names))
		scope := f.enterScope(0, len(names))
		for _, name := range names {
			scope.declare(name, init.Lit == "const")
		}
	}
	switch init.Kind {
	case NVarDecl:
		if err := f.varDecl(init); err != nil {
			return err
		}
	case NExprStmt:
		if err := f.expr(init.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpPop)
	}

	ctx := f.pushLoop(0)
	start := f.b.Len()
	exitJ := -1
	if test.Kind != NEmpty {
		if err := f.expr(test); err != nil {
			return err
		}
		exitJ = f.b.EmitJump(vm.OpJumpIfFalse)
	}
	if err := f.stmt(body, completion); err != nil {
		return err
	}
	cont := f.b.Len()
	if update.Kind != NEmpty {
		if err := f.expr(update); err != nil {
			return err
		}
		f.b.Emit(vm.OpPop)
	}
	f.emitJumpTo(vm.OpJump, start)
	end := f.b.Len()
	if exitJ >= 0 {
		f.b.PatchJump(exitJ, end)
	}
	f.popLoop(ctx, end, cont)

	if scoped {
		f.leaveScope()
		f.b.Emit(vm.OpLeaveScope)
	}
	return nil
}

// forInOf compiles both for-in and for-of: the source becomes an iterator
// held on the operand stack for the duration of the loop.
func (f *fnCompiler) forInOf(n *Node, completion bool) error {
	target, source, body := n.Kids[0], n.Kids[1], n.Kids[2]

	if err := f.expr(source); err != nil {
		return err
	}
	if n.Kind == NForIn {
		f.b.Emit(vm.OpGetKeys)
	} else {
		f.b.Emit(vm.OpGetIter)
	}

	ctx := f.pushLoop(1)
	start := f.b.Len()
	exhJ := f.b.EmitJump(vm.OpIterNext)

	// Bind the current value, opening a per-loop scope for let/const.
	switch {
	case target.Kind == NVarDecl && target.Lit == "var":
		if err := f.bindPattern(target.Kids[0].Kids[0], declVar); err != nil {
			return err
		}
	case target.Kind == NVarDecl:
		pat := target.Kids[0].Kids[0]
		names := dedup(patternIdents(pat, nil))
		f.b.EmitU8U8(vm.OpEnterScope, 0, len(names))
		scope := f.enterScope(0, len(names))
		for _, name := range names {
			scope.declare(name, target.Lit == "const")
		}
		if err := f.bindPattern(pat, declLet); err != nil {
			return err
		}
		if err := f.stmt(body, completion); err != nil {
			return err
		}
		f.leaveScope()
		f.b.Emit(vm.OpLeaveScope)
		f.emitJumpTo(vm.OpJump, start)
		return f.finishIterLoop(ctx, exhJ, start)
	default:
		if err := f.bindPattern(target, declNone); err != nil {
			return err
		}
	}

	if err := f.stmt(body, completion); err != nil {
		return err
	}
	f.emitJumpTo(vm.OpJump, start)
	return f.finishIterLoop(ctx, exhJ, start)
}

// finishIterLoop lays out the two exits of an iterator loop: exhaustion has
// already popped the iterator; break still holds it.
func (f *fnCompiler) finishIterLoop(ctx *loopCtx, exhJ, cont int) error {
	exh := f.b.Len()
	f.b.PatchJump(exhJ, exh)
	doneJ := f.b.EmitJump(vm.OpJump)
	brk := f.b.Len()
	f.b.Emit(vm.OpPop)
	f.b.PatchJump(doneJ, f.b.Len())
	f.popLoop(ctx, brk, cont)
	return nil
}

func (f *fnCompiler) switchStmt(n *Node, completion bool) error {
	if err := f.expr(n.Kids[0]); err != nil {
		return err
	}
	cases := n.Kids[1:]

	var body []*Node
	for _, c := range cases {
		body = append(body, c.Kids[1:]...)
	}
	lex, consts := lexNames(body)
	lex = dedup(lex)
	scoped := len(lex) > 0
	var scope *cscope
	if scoped {
		f.b.EmitU8U8(vm.OpEnterScope, 0, len(lex))
		scope = f.enterScope(0, len(lex))
		for _, name := range lex {
			scope.declare(name, consts[name])
		}
		for _, s := range body {
			if s.Kind == NFunc && s.Flags&FlagDeclaration != 0 {
				idx, err := f.compileFunction(s)
				if err != nil {
					return err
				}
				f.b.EmitU16(vm.OpClosure, idx)
				f.b.EmitU8(vm.OpInitLocal, scope.names[s.Lit].slot)
			}
		}
	}

	ctx := f.pushLoop(1)
	ctx.isLoop = false

	// Dispatch: compare the discriminant against each case test in order.
	jumps := make([]int, len(cases))
	defaultIdx := -1
	for i, c := range cases {
		if c.Kids[0].Kind == NEmpty {
			defaultIdx = i
			continue
		}
		f.b.Emit(vm.OpDup)
		if err := f.expr(c.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpStrictEq)
		jumps[i] = f.b.EmitJump(vm.OpJumpIfTrue)
	}
	missJ := f.b.EmitJump(vm.OpJump)

	bodyStarts := make([]int, len(cases))
	for i, c := range cases {
		bodyStarts[i] = f.b.Len()
		for _, s := range c.Kids[1:] {
			if err := f.stmt(s, completion); err != nil {
				return err
			}
		}
	}
	end := f.b.Len()

	for i, c := range cases {
		if c.Kids[0].Kind != NEmpty {
			f.b.PatchJump(jumps[i], bodyStarts[i])
		}
	}
	if defaultIdx >= 0 {
		f.b.PatchJump(missJ, bodyStarts[defaultIdx])
	} else {
		f.b.PatchJump(missJ, end)
	}
	f.b.Emit(vm.OpPop)
	f.popLoop(ctx, end, -1)

	if scoped {
		f.leaveScope()
		f.b.Emit(vm.OpLeaveScope)
	}
	return nil
}

func (f *fnCompiler) labeled(n *Node, completion bool) error {
	switch n.Kids[0].Kind {
	case NWhile, NDoWhile, NFor, NForIn, NForOf:
		f.pendingLabel = n.Lit
		return f.stmt(n.Kids[0], completion)
	}
	ctx := f.pushLoop(0)
	ctx.label = n.Lit
	ctx.isLoop = false
	if err := f.stmt(n.Kids[0], completion); err != nil {
		return err
	}
	f.popLoop(ctx, f.b.Len(), -1)
	return nil
}

func (f *fnCompiler) tryStmt(n *Node, completion bool) error {
	block, catchParam, catchBlock, finallyBlock := n.Kids[0], n.Kids[1], n.Kids[2], n.Kids[3]
	hasCatch := catchBlock.Kind != NEmpty
	hasFinally := finallyBlock.Kind != NEmpty

	var finPos int
	if hasFinally {
		finPos = f.b.EmitEnterTry(vm.TryFinally)
		f.tryDepth++
	}
	var catchPos int
	if hasCatch {
		catchPos = f.b.EmitEnterTry(vm.TryCatch)
		f.tryDepth++
	}

	if err := f.stmt(block, completion); err != nil {
		return err
	}

	if hasCatch {
		f.tryDepth--
		f.b.Emit(vm.OpLeaveTry)
		skipJ := f.b.EmitJump(vm.OpJump)
		f.b.PatchJump(catchPos, f.b.Len())
		if err := f.catchClause(catchParam, catchBlock, completion); err != nil {
			return err
		}
		f.b.PatchJump(skipJ, f.b.Len())
	}

	if hasFinally {
		f.tryDepth--
		f.b.Emit(vm.OpLeaveTry)
		endJ := f.b.EmitJump(vm.OpJump)
		f.b.PatchJump(finPos, f.b.Len())
		if err := f.stmt(finallyBlock, false); err != nil {
			return err
		}
		f.b.Emit(vm.OpEndFinally)
		f.b.PatchJump(endJ, f.b.Len())
	}
	return nil
}

// catchClause compiles a catch handler; the thrown value is on the stack.
func (f *fnCompiler) catchClause(param, body *Node, completion bool) error {
	if param.Kind == NEmpty {
		f.b.Emit(vm.OpPop)
		return f.stmt(body, completion)
	}
	names := dedup(patternIdents(param, nil))
	f.b.EmitU8U8(vm.OpEnterScope, 0, len(names))
	scope := f.enterScope(0, len(names))
	for _, name := range names {
		scope.declare(name, false)
	}
	if err := f.bindPattern(param, declLet); err != nil {
		return err
	}
	if err := f.stmt(body, completion); err != nil {
		return err
	}
	f.leaveScope()
	f.b.Emit(vm.OpLeaveScope)
	return nil
}

// ---------------------------------------------------------------------------
// Break and continue plumbing
// ---------------------------------------------------------------------------

func (f *fnCompiler) pushLoop(spExtra int) *loopCtx {
	ctx := &loopCtx{
		label:      f.pendingLabel,
		isLoop:     true,
		spExtra:    spExtra,
		tryDepth:   f.tryDepth,
		ownedDepth: f.ownedDepth,
	}
	f.pendingLabel = ""
	f.loops = append(f.loops, ctx)
	return ctx
}

// popLoop patches the context's break and continue sites. contTarget < 0
// means the construct does not accept continue.
func (f *fnCompiler) popLoop(ctx *loopCtx, breakTarget, contTarget int) {
	for _, pos := range ctx.breakPatches {
		f.b.PatchJump(pos, breakTarget)
	}
	for _, pos := range ctx.contPatches {
		f.b.PatchJump(pos, contTarget)
	}
	f.loops = f.loops[:len(f.loops)-1]
}

func (f *fnCompiler) findTarget(n *Node, label string, forContinue bool) (*loopCtx, error) {
	for i := len(f.loops) - 1; i >= 0; i-- {
		ctx := f.loops[i]
		if forContinue && !ctx.isLoop {
			continue
		}
		if label == "" || ctx.label == label {
			return ctx, nil
		}
	}
	if forContinue {
		if label != "" {
			return nil, f.errorf(n, "continue label %q not found", label)
		}
		return nil, f.errorf(n, "continue outside loop")
	}
	if label != "" {
		return nil, f.errorf(n, "break label %q not found", label)
	}
	return nil, f.errorf(n, "break outside loop or switch")
}

// emitLeave emits a break or continue to ctx: inner loop temporaries are
// popped, then either a plain jump (unwinding owned scopes explicitly) or a
// pending jump that drains the try regions in between.
func (f *fnCompiler) emitLeave(ctx *loopCtx, n *Node, isBreak bool) {
	pops := 0
	for i := len(f.loops) - 1; f.loops[i] != ctx; i-- {
		pops += f.loops[i].spExtra
	}
	for ; pops > 0; pops-- {
		f.b.Emit(vm.OpPop)
	}

	var pos int
	if crossed := f.tryDepth - ctx.tryDepth; crossed > 0 {
		pos = f.b.EmitPendingJump(crossed, ctx.ownedDepth)
	} else {
		for d := f.ownedDepth; d > ctx.ownedDepth; d-- {
			f.b.Emit(vm.OpLeaveScope)
		}
		pos = f.b.EmitJump(vm.OpJump)
	}
	if isBreak {
		ctx.breakPatches = append(ctx.breakPatches, pos)
	} else {
		ctx.contPatches = append(ctx.contPatches, pos)
	}
}

// emitJumpTo emits a jump whose target is already known.
func (f *fnCompiler) emitJumpTo(op vm.Opcode, target int) {
	pos := f.b.EmitJump(op)
	f.b.PatchJump(pos, target)
}
