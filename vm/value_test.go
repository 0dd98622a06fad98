package vm

import (
	"math"
	"testing"
)

func TestNumberRoundTrip(t *testing.T) {
	cases := []float64{
		0, 1, -1, 0.5, -0.5, 42, 1e300, -1e300, 1e-300,
		math.MaxFloat64, math.SmallestNonzeroFloat64,
		math.Inf(1), math.Inf(-1),
	}
	for _, f := range cases {
		v := NumberValue(f)
		if !v.IsNumber() {
			t.Errorf("NumberValue(%v) is not a number", f)
		}
		if v.Num() != f {
			t.Errorf("NumberValue(%v).Num() = %v", f, v.Num())
		}
	}
}

func TestNaNCanonicalized(t *testing.T) {
	v := NumberValue(math.NaN())
	if !v.IsNumber() {
		t.Fatal("NaN is not boxed as a number")
	}
	if !math.IsNaN(v.Num()) {
		t.Errorf("got %v, want NaN", v.Num())
	}
	// NaNs with arbitrary payloads must never decode as tagged values.
	weird := math.Float64frombits(0x7FF8000000000001)
	v = NumberValue(weird)
	if v.IsObject() || v.IsString() || v.IsBool() {
		t.Error("payload-carrying NaN decoded as a tagged value")
	}
}

func TestNegativeZero(t *testing.T) {
	v := NumberValue(math.Copysign(0, -1))
	if !v.IsNumber() {
		t.Fatal("-0 is not a number")
	}
	if !math.Signbit(v.Num()) {
		t.Error("-0 lost its sign")
	}
}

func TestZeroValueIsZeroNumber(t *testing.T) {
	// The zero Value must be the number 0.0, never a sentinel: freshly
	// zeroed slots behave as numbers.
	var v Value
	if !v.IsNumber() {
		t.Fatal("zero Value is not a number")
	}
	if v.Num() != 0 {
		t.Errorf("zero Value = %v, want 0", v.Num())
	}
	if v.IsUndefined() || v.IsNull() || v.IsBool() || v.isTDZ() {
		t.Error("zero Value collides with a special")
	}
}

func TestSpecialsDistinct(t *testing.T) {
	specials := []Value{Undefined, Null, True, False, tdzSentinel}
	for i, a := range specials {
		if a.IsNumber() {
			t.Errorf("special %d reports IsNumber", i)
		}
		for j, b := range specials {
			if i != j && a == b {
				t.Errorf("specials %d and %d collide", i, j)
			}
		}
	}
	if !True.Bool() {
		t.Error("True.Bool() is false")
	}
	if False.Bool() {
		t.Error("False.Bool() is true")
	}
	if !Undefined.IsNullish() || !Null.IsNullish() {
		t.Error("undefined and null must be nullish")
	}
	if True.IsNullish() || NumberValue(0).IsNullish() {
		t.Error("non-nullish value reports nullish")
	}
}

func TestTaggedHandles(t *testing.T) {
	for _, h := range []uint32{0, 1, 7, 0xFFFFFFFF} {
		ov := objectValue(h)
		if !ov.IsObject() || ov.Handle() != h {
			t.Errorf("objectValue(%d) round trip failed", h)
		}
		if ov.IsString() || ov.IsNumber() || ov.IsBool() {
			t.Errorf("objectValue(%d) matches another type", h)
		}
		sv := stringValue(h)
		if !sv.IsString() || sv.StringID() != h {
			t.Errorf("stringValue(%d) round trip failed", h)
		}
		if sv.IsObject() || sv.IsNumber() {
			t.Errorf("stringValue(%d) matches another type", h)
		}
	}
}

func TestTypeTag(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NumberValue(1), "number"},
		{NumberValue(math.NaN()), "number"},
		{Undefined, "undefined"},
		{Null, "null"},
		{True, "boolean"},
		{False, "boolean"},
		{objectValue(0), "object"},
		{stringValue(0), "string"},
	}
	for _, c := range cases {
		if got := c.v.TypeTag(); got != c.want {
			t.Errorf("TypeTag = %q, want %q", got, c.want)
		}
	}
}

func TestStringInterning(t *testing.T) {
	m := New()
	a := m.StringValue("hello")
	b := m.StringValue("hello")
	if a != b {
		t.Error("equal strings interned to different handles")
	}
	c := m.StringValue("world")
	if a == c {
		t.Error("different strings share a handle")
	}
	if m.GoString(a) != "hello" {
		t.Errorf("GoString = %q", m.GoString(a))
	}
}
