package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Host-visible error types
// ---------------------------------------------------------------------------
//
// Runtime errors raised by script execution (ReferenceError, TypeError and
// anything thrown by the program itself) travel through the interpreter as
// ordinary VM values and surface to the host wrapped in *RuntimeError.
// Structural failures of the embedding API (malformed portable input,
// exhausted instruction budgets) are plain Go errors defined here.

// DeserializationError reports malformed portable Script input. Field names
// the offending location in the portable structure.
type DeserializationError struct {
	Field string // e.g. "funcs[2].code"
	Msg   string
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("portable: %s: %s", e.Field, e.Msg)
}

// TimeoutError reports an exhausted instruction budget. The carried Fiber is
// still Paused and may be resumed with a fresh budget; the instruction
// counter continues from where it stopped.
type TimeoutError struct {
	Fiber *Fiber
	Limit int64 // budget that was exhausted
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("vm: instruction budget of %d exhausted after %d instructions", e.Limit, e.Fiber.InstructionCount())
}

// StackEntry is one line of a script-level stack trace.
type StackEntry struct {
	Function string // function name, or "<program>"
	File     string
	Line     int
	Col      int
}

func (s StackEntry) String() string {
	return fmt.Sprintf("at %s (%s:%d:%d)", s.Function, s.File, s.Line, s.Col)
}

// RuntimeError wraps a value thrown by script code that reached the
// outermost frame uncaught. Value is the thrown VM value; Message is its
// rendered form; Stack records the frame chain at the time of the throw,
// innermost first.
type RuntimeError struct {
	Value   Value
	Message string
	Stack   []StackEntry
}

func (e *RuntimeError) Error() string {
	if len(e.Stack) == 0 {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	for _, s := range e.Stack {
		b.WriteString("\n\t")
		b.WriteString(s.String())
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Script-level error kinds
// ---------------------------------------------------------------------------

// ErrorKind selects a constructor from the realm's error hierarchy.
type ErrorKind int

const (
	GenericError ErrorKind = iota
	TypeErrorKind
	RangeErrorKind
	ReferenceErrorKind
	SyntaxErrorKind
)

var errorKindNames = [...]string{
	GenericError:       "Error",
	TypeErrorKind:      "TypeError",
	RangeErrorKind:     "RangeError",
	ReferenceErrorKind: "ReferenceError",
	SyntaxErrorKind:    "SyntaxError",
}

// Name returns the script-visible constructor name for the kind.
func (k ErrorKind) Name() string { return errorKindNames[k] }

// IsErrorKind reports whether err is a *RuntimeError whose thrown value is an
// error object of the given kind (by name, walking the prototype chain of
// the originating realm). Used by embedders and tests to classify failures.
func (vm *VM) IsErrorKind(err error, kind ErrorKind) bool {
	re, ok := err.(*RuntimeError)
	if !ok {
		return false
	}
	if !re.Value.IsObject() {
		return false
	}
	name, getErr := vm.GetProperty(re.Value, "name")
	if getErr != nil || !name.IsString() {
		return false
	}
	return vm.GoString(name) == kind.Name()
}

// thrown is the interpreter-internal carrier for an in-flight script throw.
// It implements error so native functions can raise script-visible errors
// by returning it.
type thrown struct {
	value Value
}

func (t *thrown) Error() string { return "vm: uncaught script value" }

// Throw wraps a VM value so a native function can raise it into the calling
// script as an ordinary throw.
func Throw(v Value) error { return &thrown{value: v} }
