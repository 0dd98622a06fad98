package vm

import "fmt"

// ---------------------------------------------------------------------------
// Fiber: resumable execution context
// ---------------------------------------------------------------------------

// FiberState is the lifecycle state of a Fiber.
type FiberState int

const (
	FiberCreated FiberState = iota
	FiberRunning
	FiberPaused
	FiberDone
	FiberErrored
)

func (s FiberState) String() string {
	switch s {
	case FiberCreated:
		return "created"
	case FiberRunning:
		return "running"
	case FiberPaused:
		return "paused"
	case FiberDone:
		return "done"
	default:
		return "errored"
	}
}

// suspendKind records how a paused fiber was suspended, which decides what
// happens at the suspension point on resume.
type suspendKind uint8

const (
	suspendNone    suspendKind = iota
	suspendPause               // host called Pause inside a native function
	suspendYield               // generator yield instruction
	suspendTimeout             // instruction budget exhausted
)

// resumeMode is the action injected into a suspended generator fiber.
type resumeMode uint8

const (
	resumeValue  resumeMode = iota // push the injected value
	resumeThrow                    // throw the injected value at the yield point
	resumeReturn                   // return the injected value, draining finallys
)

// Fiber is a resumable execution context: an exclusively-owned stack of
// frames plus suspension state. A fiber makes progress only while a caller
// drives it via Run or Resume; between calls it is inert data.
type Fiber struct {
	vm     *VM
	frames []*Frame
	state  FiberState

	icount   int64 // instructions executed over the fiber's lifetime
	deadline int64 // icount bound for the current drive; 0 means unbounded
	limit    int64 // budget of the current drive (for error reporting)

	suspended suspendKind
	mode      resumeMode
	injected  Value // pending return value (pause) or next/throw/return payload

	pauseRequested bool

	yieldValue Value // value passed to the yield that suspended the fiber

	result Value
	err    error
}

// newFiber builds a fiber over a script's program unit.
func newFiber(vm *VM, script *Script) *Fiber {
	c := &Closure{Script: script, Proto: script.Program()}
	f := &Fiber{vm: vm, state: FiberCreated, injected: Undefined, result: Undefined}
	f.frames = []*Frame{newCallFrame(c, vm.realm.Global(), nil, false, vm)}
	return f
}

// newGeneratorFiber builds the dedicated fiber for one generator invocation.
func newGeneratorFiber(vm *VM, c *Closure, this Value, args []Value) *Fiber {
	f := &Fiber{vm: vm, state: FiberCreated, injected: Undefined, result: Undefined}
	f.frames = []*Frame{newCallFrame(c, this, args, false, vm)}
	return f
}

// State returns the fiber's lifecycle state.
func (f *Fiber) State() FiberState { return f.state }

// InstructionCount returns the number of instructions executed so far. The
// counter persists across suspensions; resuming continues counting from
// where it stopped.
func (f *Fiber) InstructionCount() int64 { return f.icount }

// Run starts a Created fiber, executing at most limit instructions when
// limit is positive. It fails with *TimeoutError when the budget is
// exhausted (the fiber stays Paused and resumable) and with *RuntimeError
// when an uncaught throw reaches the outermost frame. If a native function
// paused the fiber, Run returns (Undefined, nil) with State() == FiberPaused.
func (f *Fiber) Run(limit int64) (Value, error) {
	if f.state != FiberCreated {
		return Undefined, fmt.Errorf("vm: fiber is %s, not created", f.state)
	}
	f.setBudget(limit)
	return f.vm.runFiber(f)
}

// Pause requests cooperative suspension. It is only meaningful while the
// fiber is Running, typically from inside a native function invoked by
// script code; the fiber suspends when that native function returns, and
// the in-progress call produces the value later injected by SetReturnValue.
func (f *Fiber) Pause() {
	if f.state == FiberRunning {
		f.pauseRequested = true
	}
}

// SetReturnValue sets the value the suspended call produces on resume.
func (f *Fiber) SetReturnValue(v Value) {
	f.injected = v
}

// Resume continues a Paused fiber, optionally with a fresh instruction
// budget. Execution continues from exactly where the fiber stopped.
func (f *Fiber) Resume(limit int64) (Value, error) {
	if f.state != FiberPaused {
		return Undefined, fmt.Errorf("vm: fiber is %s, not paused", f.state)
	}
	f.setBudget(limit)
	return f.vm.runFiber(f)
}

// Result returns the fiber's terminal value once it is Done.
func (f *Fiber) Result() Value { return f.result }

func (f *Fiber) setBudget(limit int64) {
	f.limit = limit
	if limit > 0 {
		f.deadline = f.icount + limit
	} else {
		f.deadline = 0
	}
}

// suspend parks the fiber without touching its frames; resumption picks up
// from the saved instruction pointers.
func (f *Fiber) suspend(kind suspendKind) {
	f.suspended = kind
	f.state = FiberPaused
}

// top returns the innermost frame.
func (f *Fiber) top() *Frame { return f.frames[len(f.frames)-1] }

// captureStack renders the current frame chain, innermost first.
func (f *Fiber) captureStack() []StackEntry {
	entries := make([]StackEntry, 0, len(f.frames))
	for i := len(f.frames) - 1; i >= 0; i-- {
		entries = append(entries, f.frames[i].stackEntry())
	}
	return entries
}
