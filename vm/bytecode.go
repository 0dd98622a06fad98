package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
//
// Operands are encoded little-endian immediately after the opcode byte.
// Jump operands are absolute offsets into the owning function's bytecode.
type Opcode byte

// Stack Operations
const (
	OpNop     Opcode = 0x00 // no operation
	OpPop     Opcode = 0x01 // discard top of stack
	OpDup     Opcode = 0x02 // duplicate top of stack
	OpSwap    Opcode = 0x03 // swap top two stack values
	OpDup2    Opcode = 0x04 // duplicate top two stack values: a b -> a b a b
	OpInsert3 Opcode = 0x05 // move top under the next two: a b c -> c a b
	OpInsert4 Opcode = 0x06 // move top under the next three: a b c d -> d a b c
)

// Push Constants
const (
	OpUndefined    Opcode = 0x10 // push undefined
	OpNull         Opcode = 0x11 // push null
	OpTrue         Opcode = 0x12 // push true
	OpFalse        Opcode = 0x13 // push false
	OpConst        Opcode = 0x14 // push literal from constant pool (16-bit index)
	OpThis         Opcode = 0x15 // push this binding
	OpGlobalObject Opcode = 0x16 // push the realm's global object
)

// Variable Operations
const (
	OpLoadLocal     Opcode = 0x20 // push scope slot (8-bit hops, 8-bit slot)
	OpStoreLocal    Opcode = 0x21 // store into scope slot, value stays (8-bit hops, 8-bit slot)
	OpInitLocal     Opcode = 0x22 // pop into innermost-scope slot, no TDZ check (8-bit slot)
	OpLoadGlobal    Opcode = 0x23 // push global binding (16-bit name index)
	OpStoreGlobal   Opcode = 0x24 // store global binding, value stays (16-bit name index)
	OpDeclareGlobal Opcode = 0x25 // ensure global binding exists (16-bit name index)
	OpTypeofGlobal  Opcode = 0x26 // push typeof of a possibly-missing global (16-bit name index)
	OpEnterScope    Opcode = 0x27 // push lexical scope (8-bit var slots, 8-bit lexical slots)
	OpLeaveScope    Opcode = 0x28 // pop lexical scope
)

// Property Operations
const (
	OpGetProp     Opcode = 0x30 // obj -> value (16-bit name index)
	OpSetProp     Opcode = 0x31 // obj, value -> value (16-bit name index)
	OpGetIndex    Opcode = 0x32 // obj, key -> value
	OpSetIndex    Opcode = 0x33 // obj, key, value -> value
	OpDeleteProp  Opcode = 0x34 // obj -> bool (16-bit name index)
	OpDeleteIndex Opcode = 0x35 // obj, key -> bool
	OpNewObject   Opcode = 0x36 // push empty object
	OpObjectSet   Opcode = 0x37 // obj, value -> obj (16-bit name index)
	OpNewArray    Opcode = 0x38 // pop N values, push array (16-bit count)
)

// Operators
const (
	OpAdd    Opcode = 0x40 // a, b -> a + b (string concat or numeric add)
	OpSub    Opcode = 0x41
	OpMul    Opcode = 0x42
	OpDiv    Opcode = 0x43
	OpMod    Opcode = 0x44
	OpNeg    Opcode = 0x45 // unary minus
	OpPlus   Opcode = 0x46 // unary plus (ToNumber)
	OpNot    Opcode = 0x47 // logical not
	OpBitNot Opcode = 0x48
	OpTypeof Opcode = 0x49

	OpEq       Opcode = 0x4A // abstract equality
	OpNe       Opcode = 0x4B
	OpStrictEq Opcode = 0x4C
	OpStrictNe Opcode = 0x4D
	OpLt       Opcode = 0x4E
	OpLe       Opcode = 0x4F
	OpGt       Opcode = 0x50
	OpGe       Opcode = 0x51

	OpBitAnd Opcode = 0x52
	OpBitOr  Opcode = 0x53
	OpBitXor Opcode = 0x54
	OpShl    Opcode = 0x55
	OpShr    Opcode = 0x56
	OpUShr   Opcode = 0x57

	OpInstanceOf Opcode = 0x58
	OpIn         Opcode = 0x59
)

// Control Flow
const (
	OpJump        Opcode = 0x60 // unconditional jump (16-bit target)
	OpJumpIfFalse Opcode = 0x61 // pop, jump if falsy (16-bit target)
	OpJumpIfTrue  Opcode = 0x62 // pop, jump if truthy (16-bit target)
	OpPendingJump Opcode = 0x63 // jump leaving N try regions, draining finallys (8-bit count, 8-bit target scope depth, 16-bit target)
)

// Calls and Returns
const (
	OpCall            Opcode = 0x70 // callee, args... -> result (8-bit argc)
	OpCallMethod      Opcode = 0x71 // obj, args... -> result (16-bit name index, 8-bit argc)
	OpNew             Opcode = 0x72 // callee, args... -> instance (8-bit argc)
	OpReturn          Opcode = 0x73 // return top of stack
	OpReturnUndefined Opcode = 0x74 // return undefined
	OpCallIndex       Opcode = 0x75 // obj, key, args... -> result with obj as this (8-bit argc)
)

// Closures
const (
	OpClosure Opcode = 0x80 // push closure over function table entry (16-bit index)
)

// Exception Handling
const (
	OpEnterTry   Opcode = 0x90 // push try region (16-bit handler target, 8-bit kind)
	OpLeaveTry   Opcode = 0x91 // pop try region; finally regions run their block
	OpThrow      Opcode = 0x92 // pop and throw
	OpEndFinally Opcode = 0x93 // resume the action suspended by a finally block
)

// Try region kinds (8-bit operand of OpEnterTry).
const (
	TryCatch   = 0
	TryFinally = 1
)

// Iteration
const (
	OpGetIter   Opcode = 0xA0 // value -> iterator (TypeError if not iterable)
	OpIterNext  Opcode = 0xA1 // iter -> iter, value; on exhaustion pops iter and jumps (16-bit target)
	OpIterUnpack Opcode = 0xA2 // iter -> iter, value-or-undefined (for destructuring)
	OpIterRest  Opcode = 0xA3 // iter -> array of remaining values
	OpGetKeys   Opcode = 0xA4 // obj -> iterator over enumerable property names
)

// Generators
const (
	OpYield Opcode = 0xB0 // pop yielded value, suspend; resumption pushes the injected value
)

// Completion Value
const (
	OpStoreAccum Opcode = 0xC0 // pop into the frame's completion accumulator
	OpLoadAccum  Opcode = 0xC1 // push the completion accumulator
)

// noTarget marks an absent jump operand.
const noTarget = 0xFFFF

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// VarEffect marks opcodes whose stack effect depends on an operand or on the
// taken branch; the verifier computes it case by case.
const VarEffect = -128

// OpcodeInfo holds metadata about an opcode. Every opcode has a fixed,
// documented stack effect so bytecode can be statically checked for balance.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes following the opcode
	StackEffect  int    // net effect on stack depth, or VarEffect
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:     {"NOP", 0, 0},
	OpPop:     {"POP", 0, -1},
	OpDup:     {"DUP", 0, 1},
	OpSwap:    {"SWAP", 0, 0},
	OpDup2:    {"DUP2", 0, 2},
	OpInsert3: {"INSERT3", 0, 0},
	OpInsert4: {"INSERT4", 0, 0},

	OpUndefined:    {"PUSH_UNDEFINED", 0, 1},
	OpNull:         {"PUSH_NULL", 0, 1},
	OpTrue:         {"PUSH_TRUE", 0, 1},
	OpFalse:        {"PUSH_FALSE", 0, 1},
	OpConst:        {"PUSH_CONST", 2, 1},
	OpThis:         {"PUSH_THIS", 0, 1},
	OpGlobalObject: {"PUSH_GLOBAL_OBJECT", 0, 1},

	OpLoadLocal:     {"LOAD_LOCAL", 2, 1},
	OpStoreLocal:    {"STORE_LOCAL", 2, 0},
	OpInitLocal:     {"INIT_LOCAL", 1, -1},
	OpLoadGlobal:    {"LOAD_GLOBAL", 2, 1},
	OpStoreGlobal:   {"STORE_GLOBAL", 2, 0},
	OpDeclareGlobal: {"DECLARE_GLOBAL", 2, 0},
	OpTypeofGlobal:  {"TYPEOF_GLOBAL", 2, 1},
	OpEnterScope:    {"ENTER_SCOPE", 2, 0},
	OpLeaveScope:    {"LEAVE_SCOPE", 0, 0},

	OpGetProp:     {"GET_PROP", 2, 0},
	OpSetProp:     {"SET_PROP", 2, -1},
	OpGetIndex:    {"GET_INDEX", 0, -1},
	OpSetIndex:    {"SET_INDEX", 0, -2},
	OpDeleteProp:  {"DELETE_PROP", 2, 0},
	OpDeleteIndex: {"DELETE_INDEX", 0, -1},
	OpNewObject:   {"NEW_OBJECT", 0, 1},
	OpObjectSet:   {"OBJECT_SET", 2, -1},
	OpNewArray:    {"NEW_ARRAY", 2, VarEffect},

	OpAdd:    {"ADD", 0, -1},
	OpSub:    {"SUB", 0, -1},
	OpMul:    {"MUL", 0, -1},
	OpDiv:    {"DIV", 0, -1},
	OpMod:    {"MOD", 0, -1},
	OpNeg:    {"NEG", 0, 0},
	OpPlus:   {"PLUS", 0, 0},
	OpNot:    {"NOT", 0, 0},
	OpBitNot: {"BIT_NOT", 0, 0},
	OpTypeof: {"TYPEOF", 0, 0},

	OpEq:       {"EQ", 0, -1},
	OpNe:       {"NE", 0, -1},
	OpStrictEq: {"STRICT_EQ", 0, -1},
	OpStrictNe: {"STRICT_NE", 0, -1},
	OpLt:       {"LT", 0, -1},
	OpLe:       {"LE", 0, -1},
	OpGt:       {"GT", 0, -1},
	OpGe:       {"GE", 0, -1},

	OpBitAnd: {"BIT_AND", 0, -1},
	OpBitOr:  {"BIT_OR", 0, -1},
	OpBitXor: {"BIT_XOR", 0, -1},
	OpShl:    {"SHL", 0, -1},
	OpShr:    {"SHR", 0, -1},
	OpUShr:   {"USHR", 0, -1},

	OpInstanceOf: {"INSTANCEOF", 0, -1},
	OpIn:         {"IN", 0, -1},

	OpJump:        {"JUMP", 2, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, -1},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 2, -1},
	OpPendingJump: {"PENDING_JUMP", 4, 0},

	OpCall:            {"CALL", 1, VarEffect},
	OpCallMethod:      {"CALL_METHOD", 3, VarEffect},
	OpNew:             {"NEW", 1, VarEffect},
	OpCallIndex:       {"CALL_INDEX", 1, VarEffect},
	OpReturn:          {"RETURN", 0, -1},
	OpReturnUndefined: {"RETURN_UNDEFINED", 0, 0},

	OpClosure: {"CLOSURE", 2, 1},

	OpEnterTry:   {"ENTER_TRY", 3, 0},
	OpLeaveTry:   {"LEAVE_TRY", 0, 0},
	OpThrow:      {"THROW", 0, -1},
	OpEndFinally: {"END_FINALLY", 0, 0},

	OpGetIter:    {"GET_ITER", 0, 0},
	OpIterNext:   {"ITER_NEXT", 2, VarEffect},
	OpIterUnpack: {"ITER_UNPACK", 0, 1},
	OpIterRest:   {"ITER_REST", 0, 0},
	OpGetKeys:    {"GET_KEYS", 0, 0},

	OpYield: {"YIELD", 0, 0},

	OpStoreAccum: {"STORE_ACCUM", 0, -1},
	OpLoadAccum:  {"LOAD_ACCUM", 0, 1},
}

// Info returns the metadata for op, or ok=false for an unknown opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// String returns the mnemonic for op.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: append-and-patch bytecode assembly
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles a bytecode sequence. Jump targets may be emitted
// as placeholders and patched once known.
type BytecodeBuilder struct {
	code []byte
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{}
}

// Len returns the current bytecode length, which is also the offset of the
// next emitted instruction.
func (b *BytecodeBuilder) Len() int { return len(b.code) }

// Bytes returns the assembled bytecode.
func (b *BytecodeBuilder) Bytes() []byte { return b.code }

// Emit appends a bare opcode.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.code = append(b.code, byte(op))
}

// EmitU8 appends an opcode with one 8-bit operand.
func (b *BytecodeBuilder) EmitU8(op Opcode, operand int) {
	b.code = append(b.code, byte(op), byte(operand))
}

// EmitU8U8 appends an opcode with two 8-bit operands.
func (b *BytecodeBuilder) EmitU8U8(op Opcode, a, c int) {
	b.code = append(b.code, byte(op), byte(a), byte(c))
}

// EmitU16 appends an opcode with one 16-bit operand.
func (b *BytecodeBuilder) EmitU16(op Opcode, operand int) {
	b.code = append(b.code, byte(op), 0, 0)
	binary.LittleEndian.PutUint16(b.code[len(b.code)-2:], uint16(operand))
}

// EmitU16U8 appends an opcode with a 16-bit then an 8-bit operand.
func (b *BytecodeBuilder) EmitU16U8(op Opcode, a, c int) {
	b.code = append(b.code, byte(op), 0, 0, byte(c))
	binary.LittleEndian.PutUint16(b.code[len(b.code)-3:], uint16(a))
}

// EmitJump appends a jump-family opcode with a placeholder target and
// returns the offset of the target operand for later patching.
func (b *BytecodeBuilder) EmitJump(op Opcode) int {
	b.code = append(b.code, byte(op), 0xFF, 0xFF)
	return len(b.code) - 2
}

// EmitPendingJump appends OpPendingJump with a placeholder target, returning
// the target operand offset.
func (b *BytecodeBuilder) EmitPendingJump(ntry, depth int) int {
	b.code = append(b.code, byte(OpPendingJump), byte(ntry), byte(depth), 0xFF, 0xFF)
	return len(b.code) - 2
}

// EmitEnterTry appends OpEnterTry with a placeholder handler target,
// returning the target operand offset.
func (b *BytecodeBuilder) EmitEnterTry(kind int) int {
	b.code = append(b.code, byte(OpEnterTry), 0xFF, 0xFF, byte(kind))
	return len(b.code) - 3
}

// PatchJump back-patches the 16-bit operand at pos with the given target.
func (b *BytecodeBuilder) PatchJump(pos, target int) {
	binary.LittleEndian.PutUint16(b.code[pos:], uint16(target))
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func readU16(code []byte, ip int) int {
	return int(binary.LittleEndian.Uint16(code[ip:]))
}

// ---------------------------------------------------------------------------
// Static verification
// ---------------------------------------------------------------------------

// verifyFunc statically checks one function table entry: every opcode is
// known, operands are in range, jumps land on instruction boundaries, and
// stack depth is consistent and non-negative along all paths.
func verifyFunc(fn *FunctionProto, funcCount int) error {
	code := fn.Code
	if len(code) == 0 {
		return fmt.Errorf("empty bytecode")
	}

	// First pass: decode linearly, record instruction boundaries and
	// validate operand ranges.
	boundary := make(map[int]bool, len(code)/2)
	jumpOperands := make(map[int]int) // operand offset -> target
	for ip := 0; ip < len(code); {
		op := Opcode(code[ip])
		info, ok := opcodeTable[op]
		if !ok {
			return fmt.Errorf("unknown opcode 0x%02X at offset %d", byte(op), ip)
		}
		if ip+1+info.OperandBytes > len(code) {
			return fmt.Errorf("truncated operands for %s at offset %d", op, ip)
		}
		boundary[ip] = true

		switch op {
		case OpConst:
			if idx := readU16(code, ip+1); idx >= len(fn.Literals) {
				return fmt.Errorf("%s at offset %d: literal index %d out of range", op, ip, idx)
			}
		case OpLoadGlobal, OpStoreGlobal, OpDeclareGlobal, OpTypeofGlobal,
			OpGetProp, OpSetProp, OpDeleteProp, OpObjectSet, OpCallMethod:
			idx := readU16(code, ip+1)
			if idx >= len(fn.Literals) {
				return fmt.Errorf("%s at offset %d: literal index %d out of range", op, ip, idx)
			}
			if fn.Literals[idx].Kind != LitString {
				return fmt.Errorf("%s at offset %d: literal %d is not a name", op, ip, idx)
			}
		case OpClosure:
			if idx := readU16(code, ip+1); idx >= funcCount {
				return fmt.Errorf("%s at offset %d: function index %d out of range", op, ip, idx)
			}
		case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpIterNext:
			jumpOperands[ip+1] = readU16(code, ip+1)
		case OpPendingJump:
			jumpOperands[ip+3] = readU16(code, ip+3)
		case OpEnterTry:
			jumpOperands[ip+1] = readU16(code, ip+1)
			if kind := int(code[ip+3]); kind != TryCatch && kind != TryFinally {
				return fmt.Errorf("%s at offset %d: bad region kind %d", op, ip, kind)
			}
		}
		ip += 1 + info.OperandBytes
	}

	for pos, target := range jumpOperands {
		if target >= len(code) || !boundary[target] {
			return fmt.Errorf("jump operand at offset %d targets %d, not an instruction boundary", pos, target)
		}
	}

	// Second pass: stack depth simulation over all reachable paths.
	depths := make(map[int]int)
	work := []int{0}
	depths[0] = 0
	record := func(ip, d int) error {
		if d < 0 {
			return fmt.Errorf("stack underflow reaching offset %d", ip)
		}
		if prev, seen := depths[ip]; seen {
			if prev != d {
				return fmt.Errorf("inconsistent stack depth at offset %d: %d vs %d", ip, prev, d)
			}
			return nil
		}
		depths[ip] = d
		work = append(work, ip)
		return nil
	}
	work = work[:0]
	delete(depths, 0)
	if err := record(0, 0); err != nil {
		return err
	}
	for len(work) > 0 {
		ip := work[len(work)-1]
		work = work[:len(work)-1]
		d := depths[ip]
		op := Opcode(code[ip])
		info := opcodeTable[op]
		next := ip + 1 + info.OperandBytes

		effect := info.StackEffect
		switch op {
		case OpNewArray:
			effect = 1 - readU16(code, ip+1)
		case OpCall, OpNew:
			effect = -int(code[ip+1])
		case OpCallIndex:
			effect = -int(code[ip+1]) - 1
		case OpCallMethod:
			effect = -int(code[ip+3])
		case OpIterNext:
			// Fall-through pushes the value; the exhaustion path pops the
			// iterator instead.
			if err := record(readU16(code, ip+1), d-1); err != nil {
				return err
			}
			effect = 1
		}

		switch op {
		case OpReturn, OpReturnUndefined, OpThrow, OpEndFinally:
			if d+min0(effect) < 0 {
				return fmt.Errorf("stack underflow at offset %d", ip)
			}
			continue // no fall-through
		case OpJump:
			if err := record(readU16(code, ip+1), d); err != nil {
				return err
			}
			continue
		case OpPendingJump:
			if err := record(readU16(code, ip+3), d); err != nil {
				return err
			}
			continue
		case OpJumpIfFalse, OpJumpIfTrue:
			if err := record(readU16(code, ip+1), d-1); err != nil {
				return err
			}
		case OpEnterTry:
			// The unwinder resets the operand stack to its depth at region
			// entry; a catch handler additionally receives the thrown value.
			target := readU16(code, ip+1)
			entry := d
			if int(code[ip+3]) == TryCatch {
				entry = d + 1
			}
			if err := record(target, entry); err != nil {
				return err
			}
		}

		// Every non-terminating opcode falls through; past the last byte
		// there is nothing to execute.
		if next >= len(code) {
			return fmt.Errorf("bytecode falls off the end at offset %d", ip)
		}
		if err := record(next, d+effect); err != nil {
			return err
		}
	}
	return nil
}

func min0(n int) int {
	if n < 0 {
		return n
	}
	return 0
}
