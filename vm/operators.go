package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// truthy implements ToBoolean.
func (vm *VM) truthy(v Value) bool {
	switch {
	case v.IsBool():
		return v.Bool()
	case v.IsNumber():
		f := v.Num()
		return f == f && f != 0
	case v.IsString():
		return vm.GoString(v) != ""
	case v.IsNullish():
		return false
	default:
		return true
	}
}

// toNumber implements ToNumber.
func toNumber(vm *VM, v Value) float64 {
	switch {
	case v.IsNumber():
		return v.Num()
	case v.IsBool():
		if v.Bool() {
			return 1
		}
		return 0
	case v.IsNull():
		return 0
	case v.IsUndefined():
		return math.NaN()
	case v.IsString():
		return stringToNumber(vm.GoString(v))
	default:
		prim, err := vm.toPrimitive(v, "number")
		if err != nil || prim.IsObject() {
			return math.NaN()
		}
		return toNumber(vm, prim)
	}
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	if s == "Infinity" || s == "+Infinity" {
		return math.Inf(1)
	}
	if s == "-Infinity" {
		return math.Inf(-1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// numberToString renders a float64 the way script code expects.
func numberToString(f float64) string {
	switch {
	case f != f:
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// ToString implements the script-level string conversion.
func (vm *VM) ToString(v Value) (string, error) {
	switch {
	case v.IsString():
		return vm.GoString(v), nil
	case v.IsNumber():
		return numberToString(v.Num()), nil
	case v.IsBool():
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case v.IsUndefined():
		return "undefined", nil
	case v.IsNull():
		return "null", nil
	default:
		prim, err := vm.toPrimitive(v, "string")
		if err != nil {
			return "", err
		}
		if prim.IsObject() {
			return "", vm.throwError(TypeErrorKind, "cannot convert object to primitive value")
		}
		return vm.ToString(prim)
	}
}

// toPrimitive applies OrdinaryToPrimitive: valueOf/toString in hint order.
func (vm *VM) toPrimitive(v Value, hint string) (Value, error) {
	if !v.IsObject() {
		return v, nil
	}
	methods := []string{"valueOf", "toString"}
	if hint == "string" {
		methods = []string{"toString", "valueOf"}
	}
	for _, name := range methods {
		m, err := vm.GetProperty(v, name)
		if err != nil {
			return Undefined, err
		}
		if m.IsObject() && vm.obj(m).IsCallable() {
			res, err := vm.Call(m, v, nil)
			if err != nil {
				return Undefined, err
			}
			if !res.IsObject() {
				return res, nil
			}
		}
	}
	return Undefined, vm.throwError(TypeErrorKind, "cannot convert object to primitive value")
}

// toPropertyKey converts an index expression value to a property name.
func (vm *VM) toPropertyKey(v Value) (string, error) {
	return vm.ToString(v)
}

func toInt32(f float64) int32 {
	if f != f || math.IsInf(f, 0) {
		return 0
	}
	return int32(uint32(int64(math.Trunc(f))))
}

func toUint32(f float64) uint32 {
	if f != f || math.IsInf(f, 0) {
		return 0
	}
	return uint32(int64(math.Trunc(f)))
}

// ---------------------------------------------------------------------------
// typeof
// ---------------------------------------------------------------------------

// TypeOf implements the typeof operator.
func (vm *VM) TypeOf(v Value) string {
	if v.IsObject() && vm.obj(v).IsCallable() {
		return "function"
	}
	if v.IsNull() {
		return "object"
	}
	return v.TypeTag()
}

// ---------------------------------------------------------------------------
// Equality and ordering
// ---------------------------------------------------------------------------

// StrictEquals implements ===. Strings are interned, so content equality is
// handle equality.
func (vm *VM) StrictEquals(a, b Value) bool {
	if a.IsNumber() || b.IsNumber() {
		if !a.IsNumber() || !b.IsNumber() {
			return false
		}
		return a.Num() == b.Num()
	}
	return a == b
}

// looseEquals implements == with the abstract equality coercions.
func (vm *VM) looseEquals(a, b Value) (bool, error) {
	switch {
	case a.IsNumber() && b.IsNumber():
		return a.Num() == b.Num(), nil
	case a.IsString() && b.IsString():
		return a == b, nil
	case a.IsNullish() && b.IsNullish():
		return true, nil
	case a.IsNullish() || b.IsNullish():
		return false, nil
	case a.IsBool():
		return vm.looseEquals(NumberValue(toNumber(vm, a)), b)
	case b.IsBool():
		return vm.looseEquals(a, NumberValue(toNumber(vm, b)))
	case a.IsNumber() && b.IsString():
		return a.Num() == stringToNumber(vm.GoString(b)), nil
	case a.IsString() && b.IsNumber():
		return stringToNumber(vm.GoString(a)) == b.Num(), nil
	case a.IsObject() && !b.IsObject():
		prim, err := vm.toPrimitive(a, "default")
		if err != nil {
			return false, err
		}
		return vm.looseEquals(prim, b)
	case !a.IsObject() && b.IsObject():
		prim, err := vm.toPrimitive(b, "default")
		if err != nil {
			return false, err
		}
		return vm.looseEquals(a, prim)
	default:
		return a == b, nil
	}
}

// compare implements the abstract relational comparison; op is one of
// OpLt, OpLe, OpGt, OpGe.
func (vm *VM) compare(op Opcode, a, b Value) (Value, error) {
	pa, err := vm.toPrimitive(a, "number")
	if err != nil {
		return Undefined, err
	}
	pb, err := vm.toPrimitive(b, "number")
	if err != nil {
		return Undefined, err
	}
	if pa.IsString() && pb.IsString() {
		sa, sb := vm.GoString(pa), vm.GoString(pb)
		switch op {
		case OpLt:
			return BoolValue(sa < sb), nil
		case OpLe:
			return BoolValue(sa <= sb), nil
		case OpGt:
			return BoolValue(sa > sb), nil
		default:
			return BoolValue(sa >= sb), nil
		}
	}
	fa, fb := toNumber(vm, pa), toNumber(vm, pb)
	if fa != fa || fb != fb {
		return False, nil
	}
	switch op {
	case OpLt:
		return BoolValue(fa < fb), nil
	case OpLe:
		return BoolValue(fa <= fb), nil
	case OpGt:
		return BoolValue(fa > fb), nil
	default:
		return BoolValue(fa >= fb), nil
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// addValues implements + : string concatenation when either primitive
// operand is a string, numeric addition otherwise.
func (vm *VM) addValues(a, b Value) (Value, error) {
	pa, err := vm.toPrimitive(a, "default")
	if err != nil {
		return Undefined, err
	}
	pb, err := vm.toPrimitive(b, "default")
	if err != nil {
		return Undefined, err
	}
	if pa.IsString() || pb.IsString() {
		sa, err := vm.ToString(pa)
		if err != nil {
			return Undefined, err
		}
		sb, err := vm.ToString(pb)
		if err != nil {
			return Undefined, err
		}
		return vm.StringValue(sa + sb), nil
	}
	return NumberValue(toNumber(vm, pa) + toNumber(vm, pb)), nil
}

// numericOp applies a numeric binary operator.
func (vm *VM) numericOp(op Opcode, a, b Value) Value {
	fa, fb := toNumber(vm, a), toNumber(vm, b)
	switch op {
	case OpSub:
		return NumberValue(fa - fb)
	case OpMul:
		return NumberValue(fa * fb)
	case OpDiv:
		return NumberValue(fa / fb)
	default: // OpMod
		return NumberValue(math.Mod(fa, fb))
	}
}

// bitOp applies a 32-bit integer operator.
func (vm *VM) bitOp(op Opcode, a, b Value) Value {
	switch op {
	case OpBitAnd:
		return NumberValue(float64(toInt32(toNumber(vm, a)) & toInt32(toNumber(vm, b))))
	case OpBitOr:
		return NumberValue(float64(toInt32(toNumber(vm, a)) | toInt32(toNumber(vm, b))))
	case OpBitXor:
		return NumberValue(float64(toInt32(toNumber(vm, a)) ^ toInt32(toNumber(vm, b))))
	case OpShl:
		return NumberValue(float64(toInt32(toNumber(vm, a)) << (toUint32(toNumber(vm, b)) & 31)))
	case OpShr:
		return NumberValue(float64(toInt32(toNumber(vm, a)) >> (toUint32(toNumber(vm, b)) & 31)))
	default: // OpUShr
		return NumberValue(float64(toUint32(toNumber(vm, a)) >> (toUint32(toNumber(vm, b)) & 31)))
	}
}

// instanceOf implements the instanceof operator via the constructor's
// prototype property.
func (vm *VM) instanceOf(a, ctor Value) (Value, error) {
	if !ctor.IsObject() || !vm.obj(ctor).IsCallable() {
		return Undefined, vm.throwError(TypeErrorKind, "right-hand side of instanceof is not callable")
	}
	protoVal, err := vm.GetProperty(ctor, "prototype")
	if err != nil {
		return Undefined, err
	}
	if !protoVal.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "constructor prototype is not an object")
	}
	if !a.IsObject() {
		return False, nil
	}
	cur := vm.obj(a).Proto
	for cur.IsObject() {
		if cur == protoVal {
			return True, nil
		}
		cur = vm.obj(cur).Proto
	}
	return False, nil
}

// inOperator implements the in operator.
func (vm *VM) inOperator(key, target Value) (Value, error) {
	if !target.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "cannot use 'in' operator on %s", target.TypeTag())
	}
	name, err := vm.toPropertyKey(key)
	if err != nil {
		return Undefined, err
	}
	cur := target
	for cur.IsObject() {
		o := vm.obj(cur)
		if _, ok := vm.getOwnProperty(o, name); ok {
			return True, nil
		}
		cur = o.Proto
	}
	return False, nil
}
