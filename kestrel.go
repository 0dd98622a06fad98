// Package kestrel embeds an ECMAScript virtual machine: source text is
// compiled to a portable bytecode Script and executed on isolated VM
// instances with explicit suspend/resume, generators and instruction
// budgets.
//
// The subpackages carry the machinery (compiler, vm); this package is the
// embedding surface most hosts need.
package kestrel

import (
	"github.com/kestreljs/kestrel/compiler"
	"github.com/kestreljs/kestrel/vm"
)

// Re-exported core types, so embedders rarely need the subpackages.
type (
	Script       = vm.Script
	Portable     = vm.Portable
	Value        = vm.Value
	Fiber        = vm.Fiber
	Func         = vm.Func
	NativeFunc   = vm.NativeFunc
	RuntimeError = vm.RuntimeError
	TimeoutError = vm.TimeoutError
	SyntaxError  = compiler.SyntaxError
)

// Compile turns source text into a verified Script. The Script is immutable
// and may be shared between any number of VM instances and fibers.
func Compile(file, src string) (*Script, error) {
	return compiler.Compile(file, src)
}

// FromPortable reconstructs a Script from its JSON-representable form.
func FromPortable(p *Portable) (*Script, error) {
	return vm.FromPortable(p)
}

// Vm is one isolated execution instance. Scripts run against its realm;
// globals and builtin prototypes are never shared between instances.
type Vm struct {
	*vm.VM
}

// New creates an isolated VM instance with a freshly populated realm.
func New() *Vm {
	return &Vm{VM: vm.New()}
}

// Eval compiles and runs source text, returning the program's completion
// value. limit > 0 bounds execution to that many instructions; exceeding it
// returns a *TimeoutError carrying the still-paused fiber.
func (m *Vm) Eval(src, file string, limit int64) (Value, error) {
	script, err := compiler.Compile(file, src)
	if err != nil {
		return vm.Undefined, err
	}
	return m.RunScript(script, limit)
}

// Run executes a compiled script with an optional instruction budget.
func (m *Vm) Run(script *Script, limit int64) (Value, error) {
	return m.RunScript(script, limit)
}

// Get reads a global binding, exporting it as a Go value.
func (m *Vm) Get(name string) interface{} {
	v, ok := m.GetGlobal(name)
	if !ok {
		return nil
	}
	return m.Export(v)
}

// Set writes a global binding from a Go value.
func (m *Vm) Set(name string, v interface{}) error {
	val, err := m.ToValue(v)
	if err != nil {
		return err
	}
	m.SetGlobal(name, val)
	return nil
}
