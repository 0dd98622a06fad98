package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders every function unit of a script as annotated bytecode.
func Disassemble(s *Script) string {
	var b strings.Builder
	for i, fn := range s.Funcs {
		name := fn.Name
		if name == "" {
			if i == 0 {
				name = "<program>"
			} else {
				name = "<anonymous>"
			}
		}
		fmt.Fprintf(&b, "func %d %s (arity=%d vars=%d lex=%d", i, name, fn.Arity, fn.NumVars, fn.NumLex)
		if fn.IsGenerator() {
			b.WriteString(" generator")
		}
		if fn.IsArrow() {
			b.WriteString(" arrow")
		}
		if fn.IsStrict() {
			b.WriteString(" strict")
		}
		b.WriteString(")\n")
		disasmCode(&b, fn)
	}
	return b.String()
}

func disasmCode(b *strings.Builder, fn *FunctionProto) {
	code := fn.Code
	for ip := 0; ip < len(code); {
		op := Opcode(code[ip])
		info, ok := op.Info()
		if !ok {
			fmt.Fprintf(b, "  %04d  UNKNOWN(0x%02X)\n", ip, code[ip])
			return
		}
		fmt.Fprintf(b, "  %04d  %-16s", ip, info.Name)

		switch op {
		case OpConst, OpLoadGlobal, OpStoreGlobal, OpDeclareGlobal, OpTypeofGlobal,
			OpGetProp, OpSetProp, OpDeleteProp, OpObjectSet:
			idx := readU16(code, ip+1)
			fmt.Fprintf(b, " %d (%s)", idx, literalString(fn, idx))
		case OpCallMethod:
			idx := readU16(code, ip+1)
			fmt.Fprintf(b, " %d (%s) argc=%d", idx, literalString(fn, idx), code[ip+3])
		case OpClosure:
			fmt.Fprintf(b, " func %d", readU16(code, ip+1))
		case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpIterNext:
			fmt.Fprintf(b, " -> %04d", readU16(code, ip+1))
		case OpPendingJump:
			fmt.Fprintf(b, " ntry=%d depth=%d -> %04d", code[ip+1], code[ip+2], readU16(code, ip+3))
		case OpEnterTry:
			kind := "catch"
			if int(code[ip+3]) == TryFinally {
				kind = "finally"
			}
			fmt.Fprintf(b, " %s -> %04d", kind, readU16(code, ip+1))
		case OpLoadLocal, OpStoreLocal, OpEnterScope:
			fmt.Fprintf(b, " %d %d", code[ip+1], code[ip+2])
		case OpInitLocal, OpCall, OpNew, OpCallIndex:
			fmt.Fprintf(b, " %d", code[ip+1])
		case OpNewArray:
			fmt.Fprintf(b, " n=%d", readU16(code, ip+1))
		}
		b.WriteByte('\n')
		ip += 1 + info.OperandBytes
	}
}

func literalString(fn *FunctionProto, idx int) string {
	if idx >= len(fn.Literals) {
		return "?"
	}
	lit := fn.Literals[idx]
	if lit.Kind == LitString {
		return fmt.Sprintf("%q", lit.Str)
	}
	return numberToString(lit.Num)
}
