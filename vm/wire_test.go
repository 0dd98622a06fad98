package vm_test

import (
	"bytes"
	"testing"

	"github.com/kestreljs/kestrel/vm"
)

func TestWireRoundTrip(t *testing.T) {
	script := compileSrc(t, `
		function sq(x) { return x * x; }
		sq(9);
	`)
	data, err := vm.MarshalScript(script)
	if err != nil {
		t.Fatal(err)
	}
	back, err := vm.UnmarshalScript(data)
	if err != nil {
		t.Fatal(err)
	}
	m := vm.New()
	v, err := m.RunScript(back, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 81 {
		t.Errorf("got %v, want 81", v.Num())
	}
}

func TestWireDeterministic(t *testing.T) {
	script := compileSrc(t, "var a = {x: 1, y: 'two'}; a.x;")
	first, err := vm.MarshalScript(script)
	if err != nil {
		t.Fatal(err)
	}
	second, err := vm.MarshalScript(script)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("canonical encoding is not deterministic")
	}

	// A round trip through the wire form encodes identically.
	back, err := vm.UnmarshalScript(first)
	if err != nil {
		t.Fatal(err)
	}
	again, err := vm.MarshalScript(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, again) {
		t.Error("wire form changed across a round trip")
	}
}

func TestContentHash(t *testing.T) {
	a := compileSrc(t, "1 + 2;")
	b := compileSrc(t, "1 + 2;")
	c := compileSrc(t, "1 + 3;")

	ha, err := vm.ContentHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := vm.ContentHash(b)
	if err != nil {
		t.Fatal(err)
	}
	hc, err := vm.ContentHash(c)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Error("identical sources hash differently")
	}
	if ha == hc {
		t.Error("different sources collide")
	}
}

func TestWireRejectsGarbage(t *testing.T) {
	if _, err := vm.UnmarshalScript([]byte{0xDE, 0xAD, 0xBE, 0xEF}); err == nil {
		t.Error("garbage bytes accepted")
	}
	if _, err := vm.UnmarshalScript(nil); err == nil {
		t.Error("empty input accepted")
	}
}
