package vm

import (
	"math"
)

// Value represents a kestrel value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-number values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Number: native IEEE 754 double (if not a tagged NaN, it's a number)
//   - Object: quiet NaN + tagObject + 32-bit arena handle
//   - String: quiet NaN + tagString + 32-bit string-table handle
//   - Special: quiet NaN + tagSpecial + special ID (undefined/null/true/false)
//
// Handles are indices into per-VM arenas, so a Value is only meaningful
// relative to the VM that produced it. Prototype links and property values
// are stored as Values, which keeps the object graph free of Go pointer
// cycles.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	// 0x7FF8_0000_0000_0000
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits of handle/ID space
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagObject  uint64 = 0x0001000000000000 // arena object handle
	tagString  uint64 = 0x0002000000000000 // string-table handle
	tagSpecial uint64 = 0x0003000000000000 // undefined, null, true, false
)

// Special value payloads
const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3

	// specialTDZ marks an uninitialized lexical binding slot. It is never
	// observable from script code; loading it raises a ReferenceError.
	specialTDZ uint64 = 4
)

// Pre-defined special values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)

	tdzSentinel Value = Value(nanBits | tagSpecial | specialTDZ)
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NumberValue boxes a float64. Real NaNs are canonicalized so they cannot
// collide with tagged values.
func NumberValue(f float64) Value {
	if f != f {
		return Value(nanBits)
	}
	return Value(math.Float64bits(f))
}

// BoolValue returns True or False.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// objectValue boxes an arena handle.
func objectValue(h uint32) Value {
	return Value(nanBits | tagObject | uint64(h))
}

// stringValue boxes a string-table handle.
func stringValue(h uint32) Value {
	return Value(nanBits | tagString | uint64(h))
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber returns true if v represents a float64.
func (v Value) IsNumber() bool {
	bits := uint64(v)
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}
	// Exponent all 1s: Infinity (mantissa 0) and the canonical NaN are
	// numbers; anything carrying one of our tags is not.
	return (bits & tagMask) == 0
}

// IsObject returns true if v is an arena object handle.
func (v Value) IsObject() bool {
	bits := uint64(v)
	return (bits&0x7FF8000000000000) == nanBits && (bits&tagMask) == tagObject
}

// IsString returns true if v is a string handle.
func (v Value) IsString() bool {
	bits := uint64(v)
	return (bits&0x7FF8000000000000) == nanBits && (bits&tagMask) == tagString
}

// IsUndefined returns true if v is undefined.
func (v Value) IsUndefined() bool { return v == Undefined }

// IsNull returns true if v is null.
func (v Value) IsNull() bool { return v == Null }

// IsNullish returns true if v is undefined or null.
func (v Value) IsNullish() bool { return v == Undefined || v == Null }

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool { return v == True || v == False }

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

// Num returns the float64 payload. Only valid when IsNumber reports true.
func (v Value) Num() float64 {
	return math.Float64frombits(uint64(v))
}

// Handle returns the arena handle. Only valid when IsObject reports true.
func (v Value) Handle() uint32 {
	return uint32(uint64(v) & payloadMask)
}

// StringID returns the string-table handle. Only valid when IsString
// reports true.
func (v Value) StringID() uint32 {
	return uint32(uint64(v) & payloadMask)
}

// Bool returns the boolean payload. Only valid when IsBool reports true.
func (v Value) Bool() bool { return v == True }

// isTDZ reports whether v is the uninitialized-binding sentinel.
func (v Value) isTDZ() bool { return v == tdzSentinel }

// ---------------------------------------------------------------------------
// Type names
// ---------------------------------------------------------------------------

// TypeTag returns a coarse tag for diagnostics: "number", "string",
// "boolean", "undefined", "null" or "object". The full typeof operator is
// implemented by the VM because callability lives in the arena.
func (v Value) TypeTag() string {
	switch {
	case v.IsNumber():
		return "number"
	case v.IsString():
		return "string"
	case v.IsBool():
		return "boolean"
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "null"
	default:
		return "object"
	}
}
