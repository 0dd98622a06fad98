package vm

import "fmt"

// ---------------------------------------------------------------------------
// Scopes and Frames
// ---------------------------------------------------------------------------

// Scope is one lexical scope: a slot vector shared by reference between the
// defining frame and any closures that captured it.
type Scope struct {
	slots []Value
}

// pendingKind discriminates the action suspended while finally blocks run.
type pendingKind uint8

const (
	pendingNone   pendingKind = iota
	pendingNext               // normal fall-through past OpLeaveTry
	pendingJump               // break/continue crossing try regions
	pendingReturn             // return crossing try regions
	pendingThrow              // exception unwinding through a finally
)

// pendingAction records what to do once the current finally block reaches
// OpEndFinally.
type pendingAction struct {
	kind   pendingKind
	val    Value // return value or thrown value
	target int   // jump target for pendingJump
	ntry   int   // try regions still to pop for pendingJump
	resume int   // resumption offset (pendingNext) or target scope depth (pendingJump)
}

// tryRegion is one entry of a frame's active try-region stack. Each region
// is either a catch region or a finally region; try/catch/finally nests a
// catch region inside a finally region.
type tryRegion struct {
	kind       int // TryCatch or TryFinally
	handler    int // bytecode offset of the handler
	sp         int // operand stack depth at region entry
	scopeDepth int // scope chain length at region entry
}

// Frame is one activation record: the function unit being executed, its
// instruction pointer, a private operand stack and the scope chain. A frame
// owns its operand stack outright, so suspending a fiber is a plain data
// operation with no native stack involvement.
type Frame struct {
	closure *Closure
	script  *Script
	proto   *FunctionProto

	ip    int
	stack []Value
	sp    int

	// scopes is the full chain: captured scopes first, then scopes owned by
	// this activation. ownBase is the index of the first owned scope.
	scopes  []*Scope
	ownBase int

	this   Value
	isCtor bool

	accum Value // completion value accumulator (program frames)

	tries   []tryRegion
	pending pendingAction
}

// newCallFrame builds the activation for calling c with the given receiver
// and arguments. The entry scope lays out parameters, then hoisted vars
// (initialized to undefined), then lexical slots (uninitialized).
func newCallFrame(c *Closure, this Value, args []Value, isCtor bool, vmRef *VM) *Frame {
	p := c.Proto
	scope := &Scope{slots: make([]Value, p.NumVars+p.NumLex)}

	named := p.Arity
	if p.HasRest() {
		named--
	}
	for i := 0; i < named; i++ {
		if i < len(args) {
			scope.slots[i] = args[i]
		} else {
			scope.slots[i] = Undefined
		}
	}
	if p.HasRest() {
		var rest []Value
		if len(args) > named {
			rest = append(rest, args[named:]...)
		}
		scope.slots[named] = vmRef.NewArray(rest)
	}
	for i := p.Arity; i < p.NumVars; i++ {
		scope.slots[i] = Undefined
	}
	for i := p.NumVars; i < len(scope.slots); i++ {
		scope.slots[i] = tdzSentinel
	}

	frame := &Frame{
		closure: c,
		script:  c.Script,
		proto:   p,
		stack:   make([]Value, 0, 8),
		scopes:  append(append([]*Scope{}, c.Captured...), scope),
		ownBase: len(c.Captured),
		this:    this,
		isCtor:  isCtor,
		accum:   Undefined,
	}
	if p.IsArrow() && c.HasThis {
		frame.this = c.This
	}
	return frame
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (f *Frame) push(v Value) {
	if f.sp < len(f.stack) {
		f.stack[f.sp] = v
	} else {
		f.stack = append(f.stack, v)
	}
	f.sp++
}

func (f *Frame) pop() Value {
	f.sp--
	return f.stack[f.sp]
}

func (f *Frame) peek(depth int) Value {
	return f.stack[f.sp-1-depth]
}

// popN removes n values, returning them in push order.
func (f *Frame) popN(n int) []Value {
	f.sp -= n
	vals := make([]Value, n)
	copy(vals, f.stack[f.sp:f.sp+n])
	return vals
}

// resetStack truncates the operand stack to depth sp during unwinding.
func (f *Frame) resetStack(sp int) {
	if sp < f.sp {
		f.sp = sp
	}
}

// scopeSlot resolves a hops/slot reference, rejecting references outside the
// chain. Slot counts of captured scopes are not statically known to the
// per-function verifier, so the bounds check lives here.
func (f *Frame) scopeSlot(hops, slot int) (*Scope, error) {
	i := len(f.scopes) - 1 - hops
	if i < 0 || slot >= len(f.scopes[i].slots) {
		return nil, fmt.Errorf("vm: local reference %d/%d outside the scope chain", hops, slot)
	}
	return f.scopes[i], nil
}

// enterScope pushes a fresh owned scope with nvar undefined-initialized and
// nlex uninitialized slots.
func (f *Frame) enterScope(nvar, nlex int) {
	s := &Scope{slots: make([]Value, nvar+nlex)}
	for i := 0; i < nvar; i++ {
		s.slots[i] = Undefined
	}
	for i := nvar; i < len(s.slots); i++ {
		s.slots[i] = tdzSentinel
	}
	f.scopes = append(f.scopes, s)
}

// leaveScope pops the innermost owned scope.
func (f *Frame) leaveScope() {
	f.scopes = f.scopes[:len(f.scopes)-1]
}

// resetScopes truncates the scope chain to depth during unwinding.
func (f *Frame) resetScopes(depth int) {
	if depth < len(f.scopes) {
		f.scopes = f.scopes[:depth]
	}
}

// position returns the source position of the instruction at or before ip.
func (f *Frame) position() (line, col int) {
	return f.proto.Position(f.ip)
}

// stackEntry renders this frame for a stack trace.
func (f *Frame) stackEntry() StackEntry {
	name := f.proto.Name
	if name == "" {
		name = "<anonymous>"
	}
	line, col := f.position()
	return StackEntry{Function: name, File: f.script.FileName, Line: line, Col: col}
}
