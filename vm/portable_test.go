package vm_test

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/kestreljs/kestrel/vm"
)

func TestPortableRoundTrip(t *testing.T) {
	script := compileSrc(t, `
		function greet(name) { return "hi " + name; }
		function* count(n) { for (var i = 0; i < n; i++) yield i; }
		var half = 0.5;
		greet("x");
	`)

	p := script.ToPortable()
	if p.Format != vm.PortableFormat {
		t.Errorf("format = %q", p.Format)
	}
	if p.Version != vm.PortableVersion {
		t.Errorf("version = %d", p.Version)
	}
	if p.File != "test.js" {
		t.Errorf("file = %q", p.File)
	}

	back, err := vm.FromPortable(p)
	if err != nil {
		t.Fatalf("FromPortable failed: %v", err)
	}

	// Round-trip idempotence: serializing the reconstruction yields an
	// identical portable form.
	again := back.ToPortable()
	if !reflect.DeepEqual(p, again) {
		t.Error("portable form changed across a round trip")
	}

	// The reconstruction behaves identically.
	m := vm.New()
	v, err := m.RunScript(back, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.GoString(v) != "hi x" {
		t.Errorf("got %q, want %q", m.GoString(v), "hi x")
	}
}

func TestPortableThroughJSON(t *testing.T) {
	script := compileSrc(t, `
		var config = {retries: 3, name: "svc"};
		config.retries * 2;
	`)
	data, err := json.Marshal(script.ToPortable())
	if err != nil {
		t.Fatalf("json marshal failed: %v", err)
	}

	var p vm.Portable
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("json unmarshal failed: %v", err)
	}
	back, err := vm.FromPortable(&p)
	if err != nil {
		t.Fatalf("FromPortable failed: %v", err)
	}

	m := vm.New()
	v, err := m.RunScript(back, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 6 {
		t.Errorf("got %v, want 6", v.Num())
	}
}

func TestPortableNonFiniteLiterals(t *testing.T) {
	// NaN and the infinities cannot ride in a JSON number.
	script := compileSrc(t, "1e400;") // folds to Infinity in the literal pool
	p := script.ToPortable()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("non-finite literal broke JSON marshaling: %v", err)
	}
	var round vm.Portable
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatal(err)
	}
	back, err := vm.FromPortable(&round)
	if err != nil {
		t.Fatal(err)
	}
	m := vm.New()
	v, err := m.RunScript(back, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(v.Num(), 1) {
		t.Errorf("got %v, want +Inf", v.Num())
	}
}

func TestFromPortableRejectsMalformed(t *testing.T) {
	valid := func() *vm.Portable {
		return compileSrc(t, "1 + 2;").ToPortable()
	}

	cases := []struct {
		name   string
		mutate func(p *vm.Portable)
	}{
		{"bad format", func(p *vm.Portable) { p.Format = "other/thing" }},
		{"bad version", func(p *vm.Portable) { p.Version = 99 }},
		{"no funcs", func(p *vm.Portable) { p.Funcs = nil }},
		{"empty code", func(p *vm.Portable) { p.Funcs[0].Code = nil }},
		{"negative arity", func(p *vm.Portable) { p.Funcs[0].Arity = -1 }},
		{"vars below arity", func(p *vm.Portable) {
			p.Funcs[0].Arity = 3
			p.Funcs[0].Vars = 1
		}},
		{"unknown flags", func(p *vm.Portable) { p.Funcs[0].Flags = 0x80 }},
		{"unknown literal kind", func(p *vm.Portable) {
			p.Funcs[0].Literals = []vm.PortableLiteral{{Kind: "blob"}}
		}},
		{"non-finite number literal", func(p *vm.Portable) {
			p.Funcs[0].Literals[0] = vm.PortableLiteral{Kind: "number", Num: math.Inf(1)}
		}},
		{"truncated bytecode", func(p *vm.Portable) {
			p.Funcs[0].Code = p.Funcs[0].Code[:1]
		}},
		{"line offsets not increasing", func(p *vm.Portable) {
			p.Funcs[0].Lines = []vm.PortableLine{
				{Offset: 3, Line: 1, Col: 1},
				{Offset: 3, Line: 2, Col: 1},
			}
		}},
	}
	for _, c := range cases {
		p := valid()
		c.mutate(p)
		_, err := vm.FromPortable(p)
		if err == nil {
			t.Errorf("%s: accepted malformed input", c.name)
			continue
		}
		var de *vm.DeserializationError
		if !errors.As(err, &de) {
			t.Errorf("%s: error is %T, want *DeserializationError", c.name, err)
		}
	}

	if _, err := vm.FromPortable(nil); err == nil {
		t.Error("nil portable accepted")
	}
}

func TestFromPortableNeverPartial(t *testing.T) {
	// Corrupt bytecode must fail verification, not produce a runnable script.
	p := compileSrc(t, "1 + 2;").ToPortable()
	p.Funcs[0].Code = []byte{0xEE, 0x01, 0x02}
	s, err := vm.FromPortable(p)
	if err == nil {
		t.Fatal("corrupt bytecode accepted")
	}
	if s != nil {
		t.Error("partial script returned alongside an error")
	}
}
