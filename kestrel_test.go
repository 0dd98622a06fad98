package kestrel

import (
	"errors"
	"testing"

	"github.com/kestreljs/kestrel/vm"
)

func TestEval(t *testing.T) {
	m := New()
	v, err := m.Eval("6 * 7;", "eval.js", 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 42 {
		t.Errorf("got %v, want 42", v.Num())
	}
}

func TestEvalSyntaxError(t *testing.T) {
	m := New()
	_, err := m.Eval("var = ;", "bad.js", 0)
	if err == nil {
		t.Fatal("expected syntax error")
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("error is %T, want *SyntaxError", err)
	}
	if se.File != "bad.js" {
		t.Errorf("file = %q", se.File)
	}
}

func TestCompileOnceRunMany(t *testing.T) {
	script, err := Compile("shared.js", "var n = 2; n * 10;")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		m := New()
		v, err := m.Run(script, 0)
		if err != nil {
			t.Fatal(err)
		}
		if v.Num() != 20 {
			t.Errorf("run %d: got %v", i, v.Num())
		}
	}
}

func TestTimeoutAndResume(t *testing.T) {
	m := New()
	_, err := m.Eval("i = 0; while (true) i++;", "spin.js", 500)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}

	before, ok := m.Get("i").(float64)
	if !ok || before <= 0 {
		t.Fatalf("i = %v after timeout, want positive number", m.Get("i"))
	}

	// The paused fiber picks up where it stopped.
	_, err = timeout.Fiber.Resume(500)
	if !errors.As(err, &timeout) {
		t.Fatalf("expected second timeout, got %v", err)
	}
	after := m.Get("i").(float64)
	if after <= before {
		t.Errorf("counter did not continue: %v -> %v", before, after)
	}
}

func TestPortableRoundTripThroughFacade(t *testing.T) {
	script, err := Compile("p.js", "'round' + 'trip';")
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromPortable(script.ToPortable())
	if err != nil {
		t.Fatal(err)
	}
	m := New()
	v, err := m.Run(back, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.GoString(v) != "roundtrip" {
		t.Errorf("got %q", m.GoString(v))
	}
}

func TestVmIsolation(t *testing.T) {
	a, b := New(), New()
	if _, err := a.Eval("String.prototype.shout = function() { return this + '!'; };", "a.js", 0); err != nil {
		t.Fatal(err)
	}
	v, err := a.Eval("'hi'.shout();", "a.js", 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.GoString(v) != "hi!" {
		t.Errorf("vm a: got %q", a.GoString(v))
	}
	v, err = b.Eval("typeof ''.shout;", "b.js", 0)
	if err != nil {
		t.Fatal(err)
	}
	if b.GoString(v) != "undefined" {
		t.Errorf("vm b sees the patch: %q", b.GoString(v))
	}
}

func TestHostBindings(t *testing.T) {
	m := New()
	if err := m.Set("base", 40); err != nil {
		t.Fatal(err)
	}
	v, err := m.Eval("answer = base + 2;", "host.js", 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 42 {
		t.Errorf("got %v", v.Num())
	}
	if got := m.Get("answer"); got != 42.0 {
		t.Errorf("Get(answer) = %v", got)
	}
	if got := m.Get("nonexistent"); got != nil {
		t.Errorf("Get of a missing global = %v, want nil", got)
	}
}

func TestHostFunctionSymmetry(t *testing.T) {
	m := New()
	if _, err := m.Eval("function twice(f) { return f() + f(); }", "sym.js", 0); err != nil {
		t.Fatal(err)
	}
	calls := 0
	err := m.Set("tick", NativeFunc(func(_ *vm.VM, this Value, args []Value) (Value, error) {
		calls++
		return vm.NumberValue(float64(calls)), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	v, err := m.Eval("twice(tick);", "sym.js", 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 3 { // 1 + 2
		t.Errorf("got %v", v.Num())
	}
	if calls != 2 {
		t.Errorf("native function called %d times", calls)
	}
}
