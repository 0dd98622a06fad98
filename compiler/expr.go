package compiler

import (
	"math"
	"strconv"

	"github.com/kestreljs/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

var binaryOps = map[string]vm.Opcode{
	"+": vm.OpAdd, "-": vm.OpSub, "*": vm.OpMul, "/": vm.OpDiv, "%": vm.OpMod,
	"==": vm.OpEq, "!=": vm.OpNe, "===": vm.OpStrictEq, "!==": vm.OpStrictNe,
	"<": vm.OpLt, "<=": vm.OpLe, ">": vm.OpGt, ">=": vm.OpGe,
	"&": vm.OpBitAnd, "|": vm.OpBitOr, "^": vm.OpBitXor,
	"<<": vm.OpShl, ">>": vm.OpShr, ">>>": vm.OpUShr,
	"instanceof": vm.OpInstanceOf, "in": vm.OpIn,
}

var compoundOps = map[string]vm.Opcode{
	"+=": vm.OpAdd, "-=": vm.OpSub, "*=": vm.OpMul, "/=": vm.OpDiv, "%=": vm.OpMod,
	"&=": vm.OpBitAnd, "|=": vm.OpBitOr, "^=": vm.OpBitXor,
	"<<=": vm.OpShl, ">>=": vm.OpShr, ">>>=": vm.OpUShr,
}

// expr compiles an expression, leaving exactly one value on the stack.
func (f *fnCompiler) expr(n *Node) error {
	f.mark(n)
	switch n.Kind {
	case NNumber:
		idx, err := f.num(n.Num)
		if err != nil {
			return err
		}
		f.b.EmitU16(vm.OpConst, idx)
		return nil

	case NString:
		idx, err := f.str(n.Lit)
		if err != nil {
			return err
		}
		f.b.EmitU16(vm.OpConst, idx)
		return nil

	case NBool:
		if n.Num != 0 {
			f.b.Emit(vm.OpTrue)
		} else {
			f.b.Emit(vm.OpFalse)
		}
		return nil

	case NNull:
		f.b.Emit(vm.OpNull)
		return nil

	case NUndefined:
		f.b.Emit(vm.OpUndefined)
		return nil

	case NThis:
		f.b.Emit(vm.OpThis)
		return nil

	case NIdent:
		if b, hops, ok := f.resolve(n.Lit); ok {
			if hops > 255 {
				return f.errorf(n, "scope nesting too deep")
			}
			f.b.EmitU8U8(vm.OpLoadLocal, hops, b.slot)
			return nil
		}
		return f.emitName(vm.OpLoadGlobal, n.Lit)

	case NArray:
		return f.arrayLiteral(n)

	case NObject:
		return f.objectLiteral(n)

	case NFunc:
		idx, err := f.compileFunction(n)
		if err != nil {
			return err
		}
		f.b.EmitU16(vm.OpClosure, idx)
		return nil

	case NCall:
		return f.call(n)

	case NNew:
		for _, a := range n.Kids {
			if a.Kind == NRest {
				return f.errorf(a, "spread is not supported in new expressions")
			}
		}
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		argc := len(n.Kids) - 1
		if argc > 255 {
			return f.errorf(n, "too many arguments")
		}
		for _, a := range n.Kids[1:] {
			if err := f.expr(a); err != nil {
				return err
			}
		}
		f.b.EmitU8(vm.OpNew, argc)
		return nil

	case NMember:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		return f.emitName(vm.OpGetProp, n.Lit)

	case NIndex:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(n.Kids[1]); err != nil {
			return err
		}
		f.b.Emit(vm.OpGetIndex)
		return nil

	case NUnary:
		return f.unary(n)

	case NUpdate:
		return f.update(n)

	case NBinary:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(n.Kids[1]); err != nil {
			return err
		}
		op, ok := binaryOps[n.Lit]
		if !ok {
			return f.errorf(n, "unknown binary operator %q", n.Lit)
		}
		f.b.Emit(op)
		return nil

	case NLogical:
		return f.logical(n)

	case NAssign:
		return f.assign(n)

	case NCond:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		elseJ := f.b.EmitJump(vm.OpJumpIfFalse)
		if err := f.expr(n.Kids[1]); err != nil {
			return err
		}
		endJ := f.b.EmitJump(vm.OpJump)
		f.b.PatchJump(elseJ, f.b.Len())
		if err := f.expr(n.Kids[2]); err != nil {
			return err
		}
		f.b.PatchJump(endJ, f.b.Len())
		return nil

	case NSeq:
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpPop)
		return f.expr(n.Kids[1])

	case NYield:
		return f.yield(n)

	default:
		return f.errorf(n, "unexpected expression node %d", n.Kind)
	}
}

func (f *fnCompiler) arrayLiteral(n *Node) error {
	// Leading elements up to the first spread form the base array; spreads
	// and later runs are appended with concat.
	i := 0
	for i < len(n.Kids) && n.Kids[i].Kind != NRest {
		i++
	}
	if i > 0xFFFF {
		return f.errorf(n, "array literal too large")
	}
	for _, e := range n.Kids[:i] {
		if e.Kind == NEmpty {
			f.b.Emit(vm.OpUndefined)
		} else if err := f.expr(e); err != nil {
			return err
		}
	}
	f.b.EmitU16(vm.OpNewArray, i)

	concat := func() error {
		idx, err := f.str("concat")
		if err != nil {
			return err
		}
		f.b.EmitU16U8(vm.OpCallMethod, idx, 1)
		return nil
	}
	for i < len(n.Kids) {
		e := n.Kids[i]
		if e.Kind == NRest {
			if err := f.expr(e.Kids[0]); err != nil {
				return err
			}
			f.b.Emit(vm.OpGetIter)
			f.b.Emit(vm.OpIterRest)
			if err := concat(); err != nil {
				return err
			}
			i++
			continue
		}
		j := i
		for j < len(n.Kids) && n.Kids[j].Kind != NRest {
			j++
		}
		for _, run := range n.Kids[i:j] {
			if run.Kind == NEmpty {
				f.b.Emit(vm.OpUndefined)
			} else if err := f.expr(run); err != nil {
				return err
			}
		}
		f.b.EmitU16(vm.OpNewArray, j-i)
		if err := concat(); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (f *fnCompiler) objectLiteral(n *Node) error {
	f.b.Emit(vm.OpNewObject)
	for _, prop := range n.Kids {
		if prop.Flags&FlagComputed != 0 {
			f.b.Emit(vm.OpDup)
			if err := f.expr(prop.Kids[0]); err != nil {
				return err
			}
			if err := f.expr(prop.Kids[1]); err != nil {
				return err
			}
			f.b.Emit(vm.OpSetIndex)
			f.b.Emit(vm.OpPop)
			continue
		}
		value := prop.Kids[0]
		if value.Kind == NAssign && value.Lit == "=" {
			return f.errorf(value, "shorthand property defaults are only valid in destructuring patterns")
		}
		if err := f.expr(value); err != nil {
			return err
		}
		if err := f.emitName(vm.OpObjectSet, prop.Lit); err != nil {
			return err
		}
	}
	return nil
}

func (f *fnCompiler) call(n *Node) error {
	callee := n.Kids[0]
	args := n.Kids[1:]
	if len(args) > 255 {
		return f.errorf(n, "too many arguments")
	}
	spread := false
	for _, a := range args {
		if a.Kind == NRest {
			spread = true
		}
	}
	if spread {
		return f.spreadCall(n, callee, args)
	}

	switch callee.Kind {
	case NMember:
		if err := f.expr(callee.Kids[0]); err != nil {
			return err
		}
		for _, a := range args {
			if err := f.expr(a); err != nil {
				return err
			}
		}
		idx, err := f.str(callee.Lit)
		if err != nil {
			return err
		}
		f.b.EmitU16U8(vm.OpCallMethod, idx, len(args))
		return nil
	case NIndex:
		if err := f.expr(callee.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(callee.Kids[1]); err != nil {
			return err
		}
		for _, a := range args {
			if err := f.expr(a); err != nil {
				return err
			}
		}
		f.b.EmitU8(vm.OpCallIndex, len(args))
		return nil
	default:
		if err := f.expr(callee); err != nil {
			return err
		}
		for _, a := range args {
			if err := f.expr(a); err != nil {
				return err
			}
		}
		f.b.EmitU8(vm.OpCall, len(args))
		return nil
	}
}

// spreadCall lowers f(...xs) onto Function.prototype.apply, preserving the
// receiver of member and index callees.
func (f *fnCompiler) spreadCall(n *Node, callee *Node, args []*Node) error {
	switch callee.Kind {
	case NMember:
		if err := f.expr(callee.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDup)
		if err := f.emitName(vm.OpGetProp, callee.Lit); err != nil {
			return err
		}
		f.b.Emit(vm.OpSwap)
	case NIndex:
		if err := f.expr(callee.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDup)
		if err := f.expr(callee.Kids[1]); err != nil {
			return err
		}
		f.b.Emit(vm.OpGetIndex)
		f.b.Emit(vm.OpSwap)
	default:
		if err := f.expr(callee); err != nil {
			return err
		}
		f.b.Emit(vm.OpUndefined)
	}

	// Build the argument array as an array literal with spreads.
	arr := &Node{Kind: NArray, Line: n.Line, Col: n.Col, Kids: args}
	if err := f.arrayLiteral(arr); err != nil {
		return err
	}
	idx, err := f.str("apply")
	if err != nil {
		return err
	}
	f.b.EmitU16U8(vm.OpCallMethod, idx, 2)
	return nil
}

func (f *fnCompiler) unary(n *Node) error {
	switch n.Lit {
	case "typeof":
		if id := n.Kids[0]; id.Kind == NIdent {
			if b, hops, ok := f.resolve(id.Lit); ok {
				f.b.EmitU8U8(vm.OpLoadLocal, hops, b.slot)
				f.b.Emit(vm.OpTypeof)
				return nil
			}
			return f.emitName(vm.OpTypeofGlobal, id.Lit)
		}
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpTypeof)
		return nil

	case "delete":
		return f.deleteExpr(n.Kids[0])

	case "void":
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpPop)
		f.b.Emit(vm.OpUndefined)
		return nil
	}

	if err := f.expr(n.Kids[0]); err != nil {
		return err
	}
	switch n.Lit {
	case "!":
		f.b.Emit(vm.OpNot)
	case "~":
		f.b.Emit(vm.OpBitNot)
	case "-":
		f.b.Emit(vm.OpNeg)
	case "+":
		f.b.Emit(vm.OpPlus)
	default:
		return f.errorf(n, "unknown unary operator %q", n.Lit)
	}
	return nil
}

func (f *fnCompiler) deleteExpr(target *Node) error {
	switch target.Kind {
	case NMember:
		if err := f.expr(target.Kids[0]); err != nil {
			return err
		}
		return f.emitName(vm.OpDeleteProp, target.Lit)
	case NIndex:
		if err := f.expr(target.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(target.Kids[1]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDeleteIndex)
		return nil
	case NIdent:
		if f.proto.IsStrict() {
			return f.errorf(target, "delete of an unqualified identifier in strict mode")
		}
		if _, _, ok := f.resolve(target.Lit); ok {
			f.b.Emit(vm.OpFalse)
			return nil
		}
		f.b.Emit(vm.OpGlobalObject)
		idx, err := f.str(target.Lit)
		if err != nil {
			return err
		}
		f.b.EmitU16(vm.OpConst, idx)
		f.b.Emit(vm.OpDeleteIndex)
		return nil
	default:
		if err := f.expr(target); err != nil {
			return err
		}
		f.b.Emit(vm.OpPop)
		f.b.Emit(vm.OpTrue)
		return nil
	}
}

// update compiles ++ and -- in all four target-by-position combinations.
func (f *fnCompiler) update(n *Node) error {
	target := n.Kids[0]
	step := vm.OpAdd
	if n.Lit == "--" {
		step = vm.OpSub
	}
	prefix := n.Flags&FlagPrefix != 0
	one, err := f.num(1)
	if err != nil {
		return err
	}

	switch target.Kind {
	case NIdent:
		b, hops, ok := f.resolve(target.Lit)
		if ok && b.isConst {
			return f.errorf(n, "assignment to constant %q", target.Lit)
		}
		if ok {
			f.b.EmitU8U8(vm.OpLoadLocal, hops, b.slot)
		} else if err := f.emitName(vm.OpLoadGlobal, target.Lit); err != nil {
			return err
		}
		if prefix {
			f.b.EmitU16(vm.OpConst, one)
			f.b.Emit(step)
		} else {
			f.b.Emit(vm.OpPlus)
			f.b.Emit(vm.OpDup)
			f.b.EmitU16(vm.OpConst, one)
			f.b.Emit(step)
		}
		if ok {
			f.b.EmitU8U8(vm.OpStoreLocal, hops, b.slot)
		} else if err := f.emitName(vm.OpStoreGlobal, target.Lit); err != nil {
			return err
		}
		if !prefix {
			f.b.Emit(vm.OpPop)
		}
		return nil

	case NMember:
		if err := f.expr(target.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDup)
		if err := f.emitName(vm.OpGetProp, target.Lit); err != nil {
			return err
		}
		if !prefix {
			f.b.Emit(vm.OpPlus)
			f.b.Emit(vm.OpDup)
			f.b.Emit(vm.OpInsert3)
		}
		f.b.EmitU16(vm.OpConst, one)
		f.b.Emit(step)
		if err := f.emitName(vm.OpSetProp, target.Lit); err != nil {
			return err
		}
		if !prefix {
			f.b.Emit(vm.OpPop)
		}
		return nil

	case NIndex:
		if err := f.expr(target.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(target.Kids[1]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDup2)
		f.b.Emit(vm.OpGetIndex)
		if !prefix {
			f.b.Emit(vm.OpPlus)
			f.b.Emit(vm.OpDup)
			f.b.Emit(vm.OpInsert4)
		}
		f.b.EmitU16(vm.OpConst, one)
		f.b.Emit(step)
		f.b.Emit(vm.OpSetIndex)
		if !prefix {
			f.b.Emit(vm.OpPop)
		}
		return nil

	default:
		return f.errorf(n, "invalid update target")
	}
}

func (f *fnCompiler) logical(n *Node) error {
	if err := f.expr(n.Kids[0]); err != nil {
		return err
	}
	var endJ int
	switch n.Lit {
	case "&&":
		f.b.Emit(vm.OpDup)
		endJ = f.b.EmitJump(vm.OpJumpIfFalse)
	case "||":
		f.b.Emit(vm.OpDup)
		endJ = f.b.EmitJump(vm.OpJumpIfTrue)
	case "??":
		f.b.Emit(vm.OpDup)
		f.b.Emit(vm.OpNull)
		f.b.Emit(vm.OpEq)
		endJ = f.b.EmitJump(vm.OpJumpIfFalse)
	default:
		return f.errorf(n, "unknown logical operator %q", n.Lit)
	}
	f.b.Emit(vm.OpPop)
	if err := f.expr(n.Kids[1]); err != nil {
		return err
	}
	f.b.PatchJump(endJ, f.b.Len())
	return nil
}

func (f *fnCompiler) assign(n *Node) error {
	target, rhs := n.Kids[0], n.Kids[1]

	if n.Lit == "=" {
		switch target.Kind {
		case NIdent:
			if err := f.expr(rhs); err != nil {
				return err
			}
			return f.storeKeep(n, target.Lit)
		case NMember:
			if err := f.expr(target.Kids[0]); err != nil {
				return err
			}
			if err := f.expr(rhs); err != nil {
				return err
			}
			return f.emitName(vm.OpSetProp, target.Lit)
		case NIndex:
			if err := f.expr(target.Kids[0]); err != nil {
				return err
			}
			if err := f.expr(target.Kids[1]); err != nil {
				return err
			}
			if err := f.expr(rhs); err != nil {
				return err
			}
			f.b.Emit(vm.OpSetIndex)
			return nil
		case NArrayPat, NObjectPat:
			if err := f.expr(rhs); err != nil {
				return err
			}
			f.b.Emit(vm.OpDup)
			return f.bindPattern(target, declNone)
		default:
			return f.errorf(n, "invalid assignment target")
		}
	}

	op, ok := compoundOps[n.Lit]
	if !ok {
		return f.errorf(n, "unknown assignment operator %q", n.Lit)
	}
	switch target.Kind {
	case NIdent:
		if err := f.expr(target); err != nil {
			return err
		}
		if err := f.expr(rhs); err != nil {
			return err
		}
		f.b.Emit(op)
		return f.storeKeep(n, target.Lit)
	case NMember:
		if err := f.expr(target.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDup)
		if err := f.emitName(vm.OpGetProp, target.Lit); err != nil {
			return err
		}
		if err := f.expr(rhs); err != nil {
			return err
		}
		f.b.Emit(op)
		return f.emitName(vm.OpSetProp, target.Lit)
	case NIndex:
		if err := f.expr(target.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(target.Kids[1]); err != nil {
			return err
		}
		f.b.Emit(vm.OpDup2)
		f.b.Emit(vm.OpGetIndex)
		if err := f.expr(rhs); err != nil {
			return err
		}
		f.b.Emit(op)
		f.b.Emit(vm.OpSetIndex)
		return nil
	default:
		return f.errorf(n, "invalid assignment target")
	}
}

// storeKeep stores the top of stack into a named binding, keeping the value.
func (f *fnCompiler) storeKeep(n *Node, name string) error {
	if b, hops, ok := f.resolve(name); ok {
		if b.isConst {
			return f.errorf(n, "assignment to constant %q", name)
		}
		f.b.EmitU8U8(vm.OpStoreLocal, hops, b.slot)
		return nil
	}
	return f.emitName(vm.OpStoreGlobal, name)
}

func (f *fnCompiler) yield(n *Node) error {
	if !f.proto.IsGenerator() {
		return f.errorf(n, "yield outside generator")
	}
	if n.Flags&FlagDelegate != 0 {
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpGetIter)
		start := f.b.Len()
		exhJ := f.b.EmitJump(vm.OpIterNext)
		f.b.Emit(vm.OpYield)
		f.b.Emit(vm.OpPop)
		f.emitJumpTo(vm.OpJump, start)
		f.b.PatchJump(exhJ, f.b.Len())
		f.b.Emit(vm.OpUndefined)
		return nil
	}
	if len(n.Kids) > 0 {
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
	} else {
		f.b.Emit(vm.OpUndefined)
	}
	f.b.Emit(vm.OpYield)
	return nil
}

// ---------------------------------------------------------------------------
// Destructuring
// ---------------------------------------------------------------------------

// Binding contexts for bindPattern.
const (
	declNone = iota // assignment to existing bindings or property targets
	declVar         // hoisted var slots or global bindings
	declLet         // lexical slots in the innermost scope
)

// bindPattern consumes the value on top of the stack, binding it to the
// pattern's targets.
func (f *fnCompiler) bindPattern(n *Node, kind int) error {
	switch n.Kind {
	case NIdent:
		return f.bindIdent(n, kind)

	case NDefault:
		if err := f.emitDefault(n.Kids[1]); err != nil {
			return err
		}
		return f.bindPattern(n.Kids[0], kind)

	case NArrayPat:
		f.b.Emit(vm.OpGetIter)
		for _, elem := range n.Kids {
			if elem.Kind == NRest {
				f.b.Emit(vm.OpIterRest)
				return f.bindPattern(elem.Kids[0], kind)
			}
			f.b.Emit(vm.OpIterUnpack)
			if elem.Kind == NEmpty {
				f.b.Emit(vm.OpPop)
				continue
			}
			if err := f.bindPattern(elem, kind); err != nil {
				return err
			}
		}
		f.b.Emit(vm.OpPop)
		return nil

	case NObjectPat:
		for _, prop := range n.Kids {
			f.b.Emit(vm.OpDup)
			if err := f.emitName(vm.OpGetProp, prop.Lit); err != nil {
				return err
			}
			if err := f.bindPattern(prop.Kids[0], kind); err != nil {
				return err
			}
		}
		f.b.Emit(vm.OpPop)
		return nil

	case NMember:
		if kind != declNone {
			return f.errorf(n, "invalid binding target")
		}
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		f.b.Emit(vm.OpSwap)
		if err := f.emitName(vm.OpSetProp, n.Lit); err != nil {
			return err
		}
		f.b.Emit(vm.OpPop)
		return nil

	case NIndex:
		if kind != declNone {
			return f.errorf(n, "invalid binding target")
		}
		if err := f.expr(n.Kids[0]); err != nil {
			return err
		}
		if err := f.expr(n.Kids[1]); err != nil {
			return err
		}
		f.b.Emit(vm.OpInsert3)
		f.b.Emit(vm.OpInsert3)
		f.b.Emit(vm.OpSetIndex)
		f.b.Emit(vm.OpPop)
		return nil

	default:
		return f.errorf(n, "invalid pattern node %d", n.Kind)
	}
}

func (f *fnCompiler) bindIdent(n *Node, kind int) error {
	b, hops, ok := f.resolve(n.Lit)
	switch kind {
	case declLet:
		if !ok || hops != 0 {
			return f.errorf(n, "lexical binding %q not declared in this scope", n.Lit)
		}
		f.b.EmitU8(vm.OpInitLocal, b.slot)
		return nil
	case declNone:
		if ok && b.isConst {
			return f.errorf(n, "assignment to constant %q", n.Lit)
		}
	}
	if ok {
		f.b.EmitU8U8(vm.OpStoreLocal, hops, b.slot)
		f.b.Emit(vm.OpPop)
		return nil
	}
	if err := f.emitName(vm.OpStoreGlobal, n.Lit); err != nil {
		return err
	}
	f.b.Emit(vm.OpPop)
	return nil
}

// formatNumericKey renders a numeric property key the way the runtime
/// renders numbers, so {1.5: x} and o[1.5] address the same property.
func formatNumericKey(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
