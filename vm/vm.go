package vm

import (
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// VM: one isolated execution instance
// ---------------------------------------------------------------------------

// VM is an isolated script execution instance: an object arena, a string
// intern table and a realm of globals and builtin prototypes. Nothing in a
// VM is shared with any other VM, so mutating globals or builtin prototypes
// in one instance is never visible from another.
//
// A VM and its fibers must be driven from one goroutine at a time.
type VM struct {
	objects []*Object

	strings   []string
	stringIDs map[string]uint32

	realm *Realm

	// Stdout receives the output of the print builtin.
	Stdout io.Writer
}

// New creates a VM with a freshly populated realm.
func New() *VM {
	vm := &VM{
		strings:   make([]string, 0, 64),
		stringIDs: make(map[string]uint32, 64),
		Stdout:    os.Stdout,
	}
	vm.realm = newRealm(vm)
	return vm
}

// Realm returns the VM's realm.
func (vm *VM) Realm() *Realm { return vm.realm }

// GlobalObject returns the realm's global object.
func (vm *VM) GlobalObject() Value { return vm.realm.Global() }

// CreateFiber builds a fiber that will execute the script's program unit.
// The script is verified first; fibers are never built over malformed code.
func (vm *VM) CreateFiber(script *Script) (*Fiber, error) {
	if err := script.Verify(); err != nil {
		return nil, err
	}
	return newFiber(vm, script), nil
}

// RunScript executes a script's program unit to completion on a fresh fiber,
// with an optional instruction budget, and returns its completion value.
func (vm *VM) RunScript(script *Script, limit int64) (Value, error) {
	f, err := vm.CreateFiber(script)
	if err != nil {
		return Undefined, err
	}
	return f.Run(limit)
}
