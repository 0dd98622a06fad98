package vm

import (
	"strings"
	"testing"
)

// buildScript wraps hand-assembled bytecode in a single-function script.
func buildScript(b *BytecodeBuilder, lits ...Literal) *Script {
	return &Script{
		FileName: "test",
		Funcs: []*FunctionProto{{
			Name:     "<program>",
			Code:     b.Bytes(),
			Literals: lits,
		}},
	}
}

func TestBuilderEncoding(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpNop)
	b.EmitU8(OpCall, 2)
	b.EmitU8U8(OpLoadLocal, 1, 3)
	b.EmitU16(OpConst, 0x1234)
	b.EmitU16U8(OpCallMethod, 0x0102, 4)

	want := []byte{
		byte(OpNop),
		byte(OpCall), 2,
		byte(OpLoadLocal), 1, 3,
		byte(OpConst), 0x34, 0x12,
		byte(OpCallMethod), 0x02, 0x01, 4,
	}
	got := b.Bytes()
	if len(got) != len(want) {
		t.Fatalf("encoded %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, got[i], want[i])
		}
	}
	if b.Len() != len(want) {
		t.Errorf("Len = %d, want %d", b.Len(), len(want))
	}
}

func TestBuilderJumpPatching(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpTrue)
	pos := b.EmitJump(OpJumpIfFalse)
	b.Emit(OpNop)
	target := b.Len()
	b.PatchJump(pos, target)

	code := b.Bytes()
	if got := readU16(code, pos); got != target {
		t.Errorf("patched target = %d, want %d", got, target)
	}
}

func TestVerifyAcceptsBalancedCode(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitU16(OpConst, 0)
	b.EmitU16(OpConst, 1)
	b.Emit(OpAdd)
	b.Emit(OpReturn)
	s := buildScript(b, NumberLiteral(1), NumberLiteral(2))
	if err := s.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestVerifyRejectsUnknownOpcode(t *testing.T) {
	s := buildScript(&BytecodeBuilder{code: []byte{0xEE}})
	if err := s.Verify(); err == nil {
		t.Error("unknown opcode passed verification")
	}
}

func TestVerifyRejectsTruncatedOperand(t *testing.T) {
	s := buildScript(&BytecodeBuilder{code: []byte{byte(OpConst), 0}})
	if err := s.Verify(); err == nil {
		t.Error("truncated operand passed verification")
	}
}

func TestVerifyRejectsEmptyCode(t *testing.T) {
	s := buildScript(NewBytecodeBuilder())
	if err := s.Verify(); err == nil {
		t.Error("empty bytecode passed verification")
	}
}

func TestVerifyRejectsStackUnderflow(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpPop)
	b.Emit(OpReturnUndefined)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("stack underflow passed verification")
	}
}

func TestVerifyRejectsLiteralOutOfRange(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitU16(OpConst, 5)
	b.Emit(OpReturn)
	if err := buildScript(b, NumberLiteral(1)).Verify(); err == nil {
		t.Error("out-of-range literal index passed verification")
	}
}

func TestVerifyRejectsNonNameOperand(t *testing.T) {
	// Name-carrying opcodes must reference a string literal.
	b := NewBytecodeBuilder()
	b.EmitU16(OpLoadGlobal, 0)
	b.Emit(OpReturn)
	if err := buildScript(b, NumberLiteral(3)).Verify(); err == nil {
		t.Error("LOAD_GLOBAL with a numeric literal passed verification")
	}
}

func TestVerifyRejectsJumpIntoOperands(t *testing.T) {
	b := NewBytecodeBuilder()
	pos := b.EmitJump(OpJump)
	b.EmitU16(OpConst, 0) // jump lands inside this instruction
	b.Emit(OpReturn)
	b.PatchJump(pos, 4)
	if err := buildScript(b, NumberLiteral(1)).Verify(); err == nil {
		t.Error("jump into operand bytes passed verification")
	}
}

func TestVerifyRejectsJumpPastEnd(t *testing.T) {
	b := NewBytecodeBuilder()
	pos := b.EmitJump(OpJump)
	b.Emit(OpReturnUndefined)
	b.PatchJump(pos, 500)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("out-of-range jump passed verification")
	}
}

func TestVerifyRejectsInconsistentDepth(t *testing.T) {
	// One path reaches the merge point with an extra value.
	b := NewBytecodeBuilder()
	b.Emit(OpTrue)
	pos := b.EmitJump(OpJumpIfFalse)
	b.Emit(OpNull) // taken path depth 0, fall-through depth 1
	b.PatchJump(pos, b.Len())
	b.Emit(OpReturnUndefined)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("inconsistent merge depth passed verification")
	}
}

func TestVerifyRejectsFallingOffEnd(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpTrue)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("code without a terminator passed verification")
	}
	// A balanced stack does not excuse the missing terminator.
	b = NewBytecodeBuilder()
	b.Emit(OpNop)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("depth-zero code without a terminator passed verification")
	}
}

func TestDispatchRejectsBadLocalReference(t *testing.T) {
	// Slot counts of captured scopes are unknown to the static verifier, so
	// a wild hops operand must fail at dispatch instead of indexing out of
	// the scope chain.
	b := NewBytecodeBuilder()
	b.EmitU8U8(OpLoadLocal, 200, 0)
	b.Emit(OpReturn)
	s := buildScript(b)
	if err := s.Verify(); err != nil {
		t.Fatalf("Verify rejected statically unknowable locals: %v", err)
	}
	m := New()
	if _, err := m.RunScript(s, 0); err == nil {
		t.Error("out-of-chain local reference executed without error")
	}

	b = NewBytecodeBuilder()
	b.EmitU16(OpConst, 0)
	b.EmitU8(OpInitLocal, 250)
	b.Emit(OpReturnUndefined)
	m = New()
	if _, err := m.RunScript(buildScript(b, NumberLiteral(1)), 0); err == nil {
		t.Error("out-of-range slot initialization executed without error")
	}
}

func TestDispatchRejectsUnbalancedRegions(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpLeaveScope)
	b.Emit(OpReturnUndefined)
	m := New()
	if _, err := m.RunScript(buildScript(b), 0); err == nil {
		t.Error("scope underflow executed without error")
	}

	b = NewBytecodeBuilder()
	b.Emit(OpLeaveTry)
	b.Emit(OpReturnUndefined)
	m = New()
	if _, err := m.RunScript(buildScript(b), 0); err == nil {
		t.Error("try region underflow executed without error")
	}
}

func TestVerifyRejectsBadClosureIndex(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitU16(OpClosure, 9)
	b.Emit(OpReturn)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("closure over a missing function index passed verification")
	}
}

func TestVerifyRejectsBadTryKind(t *testing.T) {
	b := NewBytecodeBuilder()
	pos := b.EmitEnterTry(7)
	b.Emit(OpLeaveTry)
	b.Emit(OpReturnUndefined)
	b.PatchJump(pos, b.Len()-1)
	if err := buildScript(b).Verify(); err == nil {
		t.Error("bad try region kind passed verification")
	}
}

func TestVerifyCatchHandlerDepth(t *testing.T) {
	// A catch handler is entered with the thrown value pushed; the handler
	// must consume it.
	b := NewBytecodeBuilder()
	pos := b.EmitEnterTry(TryCatch)
	b.Emit(OpLeaveTry)
	done := b.EmitJump(OpJump)
	handler := b.Len()
	b.Emit(OpPop) // thrown value
	b.PatchJump(pos, handler)
	b.PatchJump(done, b.Len())
	b.Emit(OpReturnUndefined)
	if err := buildScript(b).Verify(); err != nil {
		t.Errorf("well-formed try/catch rejected: %v", err)
	}
}

func TestVerifyIterNextBothPaths(t *testing.T) {
	// Fall-through pushes the value, the exhaustion target sees the iterator
	// popped. Layout mirrors a for-of loop.
	b := NewBytecodeBuilder()
	b.EmitU16(OpNewArray, 0)
	b.Emit(OpGetIter)
	start := b.Len()
	exh := b.EmitJump(OpIterNext)
	b.Emit(OpPop) // loop body: discard the value
	jp := b.EmitJump(OpJump)
	b.PatchJump(jp, start)
	b.PatchJump(exh, b.Len())
	b.Emit(OpReturnUndefined)
	if err := buildScript(b).Verify(); err != nil {
		t.Errorf("well-formed iteration loop rejected: %v", err)
	}
}

func TestOpcodeTableComplete(t *testing.T) {
	// Every opcode must resolve a name and metadata.
	ops := []Opcode{
		OpNop, OpPop, OpDup, OpSwap, OpDup2, OpInsert3, OpInsert4,
		OpUndefined, OpNull, OpTrue, OpFalse, OpConst, OpThis, OpGlobalObject,
		OpLoadLocal, OpStoreLocal, OpInitLocal, OpLoadGlobal, OpStoreGlobal,
		OpDeclareGlobal, OpTypeofGlobal, OpEnterScope, OpLeaveScope,
		OpGetProp, OpSetProp, OpGetIndex, OpSetIndex, OpDeleteProp,
		OpDeleteIndex, OpNewObject, OpObjectSet, OpNewArray,
		OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg, OpPlus, OpNot, OpBitNot,
		OpTypeof, OpEq, OpNe, OpStrictEq, OpStrictNe, OpLt, OpLe, OpGt, OpGe,
		OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr, OpInstanceOf, OpIn,
		OpJump, OpJumpIfFalse, OpJumpIfTrue, OpPendingJump,
		OpCall, OpCallMethod, OpNew, OpReturn, OpReturnUndefined, OpCallIndex,
		OpClosure, OpEnterTry, OpLeaveTry, OpThrow, OpEndFinally,
		OpGetIter, OpIterNext, OpIterUnpack, OpIterRest, OpGetKeys,
		OpYield, OpStoreAccum, OpLoadAccum,
	}
	for _, op := range ops {
		info, ok := op.Info()
		if !ok {
			t.Errorf("opcode 0x%02X has no metadata", byte(op))
			continue
		}
		if info.Name == "" {
			t.Errorf("opcode 0x%02X has an empty name", byte(op))
		}
		if strings.HasPrefix(op.String(), "UNKNOWN") {
			t.Errorf("opcode 0x%02X renders as unknown", byte(op))
		}
	}
	if _, ok := Opcode(0xEE).Info(); ok {
		t.Error("bogus opcode has metadata")
	}
}
