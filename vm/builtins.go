package vm

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtin prototype templates
// ---------------------------------------------------------------------------
//
// The templates are built once at process start and shared by every realm.
// They hold no realm state: method entries carry the Go function and arity,
// and each realm realizes its own function objects lazily on first read.

var builtinTemplates [numProtos]*protoTemplate

func init() {
	object := &protoTemplate{Name: "Object.prototype", Parent: noParent}
	object.method("hasOwnProperty", 1, objectHasOwnProperty)
	object.method("isPrototypeOf", 1, objectIsPrototypeOf)
	object.method("toString", 0, objectToString)
	object.method("valueOf", 0, objectValueOf)

	function := &protoTemplate{Name: "Function.prototype", Parent: ProtoObject}
	function.method("call", 1, functionCall)
	function.method("apply", 2, functionApply)
	function.method("bind", 1, functionBind)
	function.method("toString", 0, functionToString)

	array := &protoTemplate{Name: "Array.prototype", Parent: ProtoObject}
	array.method("push", 1, arrayPush)
	array.method("pop", 0, arrayPop)
	array.method("shift", 0, arrayShift)
	array.method("unshift", 1, arrayUnshift)
	array.method("slice", 2, arraySlice)
	array.method("concat", 1, arrayConcat)
	array.method("join", 1, arrayJoin)
	array.method("indexOf", 1, arrayIndexOf)
	array.method("includes", 1, arrayIncludes)
	array.method("reverse", 0, arrayReverse)
	array.method("map", 1, arrayMap)
	array.method("filter", 1, arrayFilter)
	array.method("forEach", 1, arrayForEach)
	array.method("reduce", 1, arrayReduce)
	array.method("keys", 0, arrayKeys)
	array.method("values", 0, arrayValues)
	array.method("toString", 0, arrayToString)

	str := &protoTemplate{Name: "String.prototype", Parent: ProtoObject}
	str.method("charAt", 1, stringCharAt)
	str.method("charCodeAt", 1, stringCharCodeAt)
	str.method("indexOf", 1, stringIndexOf)
	str.method("includes", 1, stringIncludes)
	str.method("startsWith", 1, stringStartsWith)
	str.method("endsWith", 1, stringEndsWith)
	str.method("slice", 2, stringSlice)
	str.method("substring", 2, stringSubstring)
	str.method("split", 1, stringSplit)
	str.method("toUpperCase", 0, stringToUpperCase)
	str.method("toLowerCase", 0, stringToLowerCase)
	str.method("trim", 0, stringTrim)
	str.method("repeat", 1, stringRepeat)
	str.method("replace", 2, stringReplace)
	str.method("toString", 0, stringSelf)
	str.method("valueOf", 0, stringSelf)

	number := &protoTemplate{Name: "Number.prototype", Parent: ProtoObject}
	number.method("toString", 1, numberToStringMethod)
	number.method("toFixed", 1, numberToFixed)
	number.method("valueOf", 0, numberValueOf)

	boolean := &protoTemplate{Name: "Boolean.prototype", Parent: ProtoObject}
	boolean.method("toString", 0, booleanToString)
	boolean.method("valueOf", 0, booleanValueOf)

	iterator := &protoTemplate{Name: "Iterator.prototype", Parent: ProtoObject}
	iterator.method("next", 1, iteratorNextMethod)

	generator := &protoTemplate{Name: "Generator.prototype", Parent: ProtoIterator}
	generator.method("next", 1, generatorNextMethod)
	generator.method("return", 1, generatorReturnMethod)
	generator.method("throw", 1, generatorThrowMethod)

	errProto := &protoTemplate{Name: "Error.prototype", Parent: ProtoObject}
	errProto.strProp("name", "Error")
	errProto.strProp("message", "")
	errProto.method("toString", 0, errorToString)

	typeErr := &protoTemplate{Name: "TypeError.prototype", Parent: ProtoError}
	typeErr.strProp("name", "TypeError")
	rangeErr := &protoTemplate{Name: "RangeError.prototype", Parent: ProtoError}
	rangeErr.strProp("name", "RangeError")
	refErr := &protoTemplate{Name: "ReferenceError.prototype", Parent: ProtoError}
	refErr.strProp("name", "ReferenceError")
	synErr := &protoTemplate{Name: "SyntaxError.prototype", Parent: ProtoError}
	synErr.strProp("name", "SyntaxError")

	builtinTemplates = [numProtos]*protoTemplate{
		ProtoObject:         object,
		ProtoFunction:       function,
		ProtoArray:          array,
		ProtoString:         str,
		ProtoNumber:         number,
		ProtoBoolean:        boolean,
		ProtoIterator:       iterator,
		ProtoGenerator:      generator,
		ProtoError:          errProto,
		ProtoTypeError:      typeErr,
		ProtoRangeError:     rangeErr,
		ProtoReferenceError: refErr,
		ProtoSyntaxError:    synErr,
	}
}

// arg returns args[i] or undefined.
func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// toInteger truncates toward zero with NaN mapping to 0.
func toInteger(f float64) int {
	if f != f {
		return 0
	}
	return int(math.Trunc(f))
}

// ---------------------------------------------------------------------------
// Object.prototype
// ---------------------------------------------------------------------------

func objectHasOwnProperty(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsObject() {
		return False, nil
	}
	name, err := vm.toPropertyKey(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	_, ok := vm.getOwnProperty(vm.obj(this), name)
	return BoolValue(ok), nil
}

func objectIsPrototypeOf(vm *VM, this Value, args []Value) (Value, error) {
	v := arg(args, 0)
	if !this.IsObject() || !v.IsObject() {
		return False, nil
	}
	cur := vm.obj(v).Proto
	for cur.IsObject() {
		if cur == this {
			return True, nil
		}
		cur = vm.obj(cur).Proto
	}
	return False, nil
}

func objectToString(vm *VM, this Value, args []Value) (Value, error) {
	tag := "Object"
	switch {
	case this.IsUndefined():
		tag = "Undefined"
	case this.IsNull():
		tag = "Null"
	case this.IsObject():
		switch vm.obj(this).Kind {
		case KindArray:
			tag = "Array"
		case KindFunction, KindNative:
			tag = "Function"
		}
	}
	return vm.StringValue("[object " + tag + "]"), nil
}

func objectValueOf(vm *VM, this Value, args []Value) (Value, error) {
	return this, nil
}

// ---------------------------------------------------------------------------
// Function.prototype
// ---------------------------------------------------------------------------

func functionCall(vm *VM, this Value, args []Value) (Value, error) {
	return vm.Call(this, arg(args, 0), args[min0len(args, 1):])
}

func functionApply(vm *VM, this Value, args []Value) (Value, error) {
	var callArgs []Value
	if list := arg(args, 1); list.IsObject() && vm.obj(list).Kind == KindArray {
		callArgs = append(callArgs, vm.obj(list).Elems...)
	} else if !list.IsNullish() {
		return Undefined, vm.throwError(TypeErrorKind, "apply expects an array argument list")
	}
	return vm.Call(this, arg(args, 0), callArgs)
}

func functionBind(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsObject() || !vm.obj(this).IsCallable() {
		return Undefined, vm.throwError(TypeErrorKind, "bind target is not a function")
	}
	target := this
	boundThis := arg(args, 0)
	bound := append([]Value{}, args[min0len(args, 1):]...)
	name := "bound " + vm.obj(target).funcName()
	return vm.NewNativeFunction(name, 0, func(vm *VM, _ Value, callArgs []Value) (Value, error) {
		return vm.Call(target, boundThis, append(append([]Value{}, bound...), callArgs...))
	}), nil
}

func functionToString(vm *VM, this Value, args []Value) (Value, error) {
	if this.IsObject() && vm.obj(this).IsCallable() {
		return vm.StringValue("function " + vm.obj(this).funcName() + "() { [native code] }"), nil
	}
	return Undefined, vm.throwError(TypeErrorKind, "Function.prototype.toString requires a function receiver")
}

func (o *Object) funcName() string {
	switch o.Kind {
	case KindFunction:
		return o.Closure.Proto.Name
	case KindNative:
		return o.Native.Name
	default:
		return ""
	}
}

func min0len(args []Value, n int) int {
	if len(args) < n {
		return len(args)
	}
	return n
}

// ---------------------------------------------------------------------------
// Array.prototype
// ---------------------------------------------------------------------------

func (vm *VM) arrayThis(this Value, method string) (*Object, error) {
	if this.IsObject() && vm.obj(this).Kind == KindArray {
		return vm.obj(this), nil
	}
	return nil, vm.throwError(TypeErrorKind, "Array.prototype.%s requires an array receiver", method)
}

func arrayPush(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "push")
	if err != nil {
		return Undefined, err
	}
	o.Elems = append(o.Elems, args...)
	return NumberValue(float64(len(o.Elems))), nil
}

func arrayPop(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "pop")
	if err != nil {
		return Undefined, err
	}
	if len(o.Elems) == 0 {
		return Undefined, nil
	}
	v := o.Elems[len(o.Elems)-1]
	o.Elems = o.Elems[:len(o.Elems)-1]
	return v, nil
}

func arrayShift(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "shift")
	if err != nil {
		return Undefined, err
	}
	if len(o.Elems) == 0 {
		return Undefined, nil
	}
	v := o.Elems[0]
	o.Elems = append(o.Elems[:0], o.Elems[1:]...)
	return v, nil
}

func arrayUnshift(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "unshift")
	if err != nil {
		return Undefined, err
	}
	o.Elems = append(append([]Value{}, args...), o.Elems...)
	return NumberValue(float64(len(o.Elems))), nil
}

// sliceRange resolves start/end arguments with negative-offset semantics.
func sliceRange(vm *VM, args []Value, length int) (int, int) {
	start, end := 0, length
	if v := arg(args, 0); !v.IsUndefined() {
		start = toInteger(toNumber(vm, v))
		if start < 0 {
			start += length
		}
	}
	if v := arg(args, 1); !v.IsUndefined() {
		end = toInteger(toNumber(vm, v))
		if end < 0 {
			end += length
		}
	}
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	if start > end {
		start, end = 0, 0
	}
	return start, end
}

func arraySlice(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "slice")
	if err != nil {
		return Undefined, err
	}
	start, end := sliceRange(vm, args, len(o.Elems))
	return vm.NewArray(append([]Value{}, o.Elems[start:end]...)), nil
}

func arrayConcat(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "concat")
	if err != nil {
		return Undefined, err
	}
	out := append([]Value{}, o.Elems...)
	for _, a := range args {
		if a.IsObject() && vm.obj(a).Kind == KindArray {
			out = append(out, vm.obj(a).Elems...)
		} else {
			out = append(out, a)
		}
	}
	return vm.NewArray(out), nil
}

func arrayJoin(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "join")
	if err != nil {
		return Undefined, err
	}
	sep := ","
	if v := arg(args, 0); !v.IsUndefined() {
		sep, err = vm.ToString(v)
		if err != nil {
			return Undefined, err
		}
	}
	parts := make([]string, len(o.Elems))
	for i, e := range o.Elems {
		if e.IsNullish() {
			continue
		}
		parts[i], err = vm.ToString(e)
		if err != nil {
			return Undefined, err
		}
	}
	return vm.StringValue(strings.Join(parts, sep)), nil
}

func arrayIndexOf(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "indexOf")
	if err != nil {
		return Undefined, err
	}
	needle := arg(args, 0)
	for i, e := range o.Elems {
		if vm.StrictEquals(e, needle) {
			return NumberValue(float64(i)), nil
		}
	}
	return NumberValue(-1), nil
}

func arrayIncludes(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "includes")
	if err != nil {
		return Undefined, err
	}
	needle := arg(args, 0)
	for _, e := range o.Elems {
		if vm.StrictEquals(e, needle) {
			return True, nil
		}
		// includes treats NaN as equal to itself.
		if e.IsNumber() && needle.IsNumber() && e.Num() != e.Num() && needle.Num() != needle.Num() {
			return True, nil
		}
	}
	return False, nil
}

func arrayReverse(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "reverse")
	if err != nil {
		return Undefined, err
	}
	for i, j := 0, len(o.Elems)-1; i < j; i, j = i+1, j-1 {
		o.Elems[i], o.Elems[j] = o.Elems[j], o.Elems[i]
	}
	return this, nil
}

func arrayMap(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "map")
	if err != nil {
		return Undefined, err
	}
	fn := arg(args, 0)
	out := make([]Value, len(o.Elems))
	for i, e := range o.Elems {
		out[i], err = vm.Call(fn, Undefined, []Value{e, NumberValue(float64(i)), this})
		if err != nil {
			return Undefined, err
		}
	}
	return vm.NewArray(out), nil
}

func arrayFilter(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "filter")
	if err != nil {
		return Undefined, err
	}
	fn := arg(args, 0)
	var out []Value
	for i, e := range o.Elems {
		keep, err := vm.Call(fn, Undefined, []Value{e, NumberValue(float64(i)), this})
		if err != nil {
			return Undefined, err
		}
		if vm.truthy(keep) {
			out = append(out, e)
		}
	}
	return vm.NewArray(out), nil
}

func arrayForEach(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "forEach")
	if err != nil {
		return Undefined, err
	}
	fn := arg(args, 0)
	for i, e := range o.Elems {
		if _, err := vm.Call(fn, Undefined, []Value{e, NumberValue(float64(i)), this}); err != nil {
			return Undefined, err
		}
	}
	return Undefined, nil
}

func arrayReduce(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "reduce")
	if err != nil {
		return Undefined, err
	}
	fn := arg(args, 0)
	acc := arg(args, 1)
	start := 0
	if len(args) < 2 {
		if len(o.Elems) == 0 {
			return Undefined, vm.throwError(TypeErrorKind, "reduce of empty array with no initial value")
		}
		acc = o.Elems[0]
		start = 1
	}
	for i := start; i < len(o.Elems); i++ {
		acc, err = vm.Call(fn, Undefined, []Value{acc, o.Elems[i], NumberValue(float64(i)), this})
		if err != nil {
			return Undefined, err
		}
	}
	return acc, nil
}

func arrayKeys(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "keys")
	if err != nil {
		return Undefined, err
	}
	idx := make([]Value, len(o.Elems))
	for i := range o.Elems {
		idx[i] = NumberValue(float64(i))
	}
	return vm.newIterator(&iterState{kind: iterArray, elems: idx}), nil
}

func arrayValues(vm *VM, this Value, args []Value) (Value, error) {
	o, err := vm.arrayThis(this, "values")
	if err != nil {
		return Undefined, err
	}
	return vm.newIterator(&iterState{kind: iterArray, elems: append([]Value{}, o.Elems...)}), nil
}

func arrayToString(vm *VM, this Value, args []Value) (Value, error) {
	return arrayJoin(vm, this, nil)
}

// ---------------------------------------------------------------------------
// String.prototype
// ---------------------------------------------------------------------------

func (vm *VM) stringThis(this Value, method string) (string, error) {
	if this.IsString() {
		return vm.GoString(this), nil
	}
	return "", vm.throwError(TypeErrorKind, "String.prototype.%s requires a string receiver", method)
}

func stringCharAt(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "charAt")
	if err != nil {
		return Undefined, err
	}
	runes := []rune(s)
	i := toInteger(toNumber(vm, arg(args, 0)))
	if i < 0 || i >= len(runes) {
		return vm.StringValue(""), nil
	}
	return vm.StringValue(string(runes[i])), nil
}

func stringCharCodeAt(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "charCodeAt")
	if err != nil {
		return Undefined, err
	}
	runes := []rune(s)
	i := toInteger(toNumber(vm, arg(args, 0)))
	if i < 0 || i >= len(runes) {
		return NumberValue(math.NaN()), nil
	}
	return NumberValue(float64(runes[i])), nil
}

func stringIndexOf(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "indexOf")
	if err != nil {
		return Undefined, err
	}
	sub, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return NumberValue(float64(strings.Index(s, sub))), nil
}

func stringIncludes(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "includes")
	if err != nil {
		return Undefined, err
	}
	sub, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return BoolValue(strings.Contains(s, sub)), nil
}

func stringStartsWith(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "startsWith")
	if err != nil {
		return Undefined, err
	}
	sub, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return BoolValue(strings.HasPrefix(s, sub)), nil
}

func stringEndsWith(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "endsWith")
	if err != nil {
		return Undefined, err
	}
	sub, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return BoolValue(strings.HasSuffix(s, sub)), nil
}

func stringSlice(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "slice")
	if err != nil {
		return Undefined, err
	}
	runes := []rune(s)
	start, end := sliceRange(vm, args, len(runes))
	return vm.StringValue(string(runes[start:end])), nil
}

func stringSubstring(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "substring")
	if err != nil {
		return Undefined, err
	}
	runes := []rune(s)
	start, end := 0, len(runes)
	if v := arg(args, 0); !v.IsUndefined() {
		start = toInteger(toNumber(vm, v))
	}
	if v := arg(args, 1); !v.IsUndefined() {
		end = toInteger(toNumber(vm, v))
	}
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i > len(runes) {
			return len(runes)
		}
		return i
	}
	start, end = clamp(start), clamp(end)
	if start > end {
		start, end = end, start
	}
	return vm.StringValue(string(runes[start:end])), nil
}

func stringSplit(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "split")
	if err != nil {
		return Undefined, err
	}
	sepVal := arg(args, 0)
	if sepVal.IsUndefined() {
		return vm.NewArray([]Value{vm.StringValue(s)}), nil
	}
	sep, err := vm.ToString(sepVal)
	if err != nil {
		return Undefined, err
	}
	var parts []string
	if sep == "" {
		for _, r := range s {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(s, sep)
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = vm.StringValue(p)
	}
	return vm.NewArray(out), nil
}

func stringToUpperCase(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "toUpperCase")
	if err != nil {
		return Undefined, err
	}
	return vm.StringValue(strings.ToUpper(s)), nil
}

func stringToLowerCase(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "toLowerCase")
	if err != nil {
		return Undefined, err
	}
	return vm.StringValue(strings.ToLower(s)), nil
}

func stringTrim(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "trim")
	if err != nil {
		return Undefined, err
	}
	return vm.StringValue(strings.TrimSpace(s)), nil
}

func stringRepeat(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "repeat")
	if err != nil {
		return Undefined, err
	}
	n := toInteger(toNumber(vm, arg(args, 0)))
	if n < 0 {
		return Undefined, vm.throwError(RangeErrorKind, "repeat count must be non-negative")
	}
	return vm.StringValue(strings.Repeat(s, n)), nil
}

// stringReplace replaces the first occurrence of a literal substring.
func stringReplace(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "replace")
	if err != nil {
		return Undefined, err
	}
	pat, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	rep, err := vm.ToString(arg(args, 1))
	if err != nil {
		return Undefined, err
	}
	return vm.StringValue(strings.Replace(s, pat, rep, 1)), nil
}

func stringSelf(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.stringThis(this, "toString")
	if err != nil {
		return Undefined, err
	}
	return vm.StringValue(s), nil
}

// ---------------------------------------------------------------------------
// Number.prototype and Boolean.prototype
// ---------------------------------------------------------------------------

func numberToStringMethod(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsNumber() {
		return Undefined, vm.throwError(TypeErrorKind, "Number.prototype.toString requires a number receiver")
	}
	radix := 10
	if v := arg(args, 0); !v.IsUndefined() {
		radix = toInteger(toNumber(vm, v))
	}
	if radix < 2 || radix > 36 {
		return Undefined, vm.throwError(RangeErrorKind, "toString radix must be between 2 and 36")
	}
	f := this.Num()
	if radix == 10 || f != math.Trunc(f) || math.IsInf(f, 0) || f != f {
		return vm.StringValue(numberToString(f)), nil
	}
	return vm.StringValue(strconv.FormatInt(int64(f), radix)), nil
}

func numberToFixed(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsNumber() {
		return Undefined, vm.throwError(TypeErrorKind, "Number.prototype.toFixed requires a number receiver")
	}
	digits := toInteger(toNumber(vm, arg(args, 0)))
	if digits < 0 || digits > 100 {
		return Undefined, vm.throwError(RangeErrorKind, "toFixed digits must be between 0 and 100")
	}
	return vm.StringValue(strconv.FormatFloat(this.Num(), 'f', digits, 64)), nil
}

func numberValueOf(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsNumber() {
		return Undefined, vm.throwError(TypeErrorKind, "Number.prototype.valueOf requires a number receiver")
	}
	return this, nil
}

func booleanToString(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsBool() {
		return Undefined, vm.throwError(TypeErrorKind, "Boolean.prototype.toString requires a boolean receiver")
	}
	if this.Bool() {
		return vm.StringValue("true"), nil
	}
	return vm.StringValue("false"), nil
}

func booleanValueOf(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsBool() {
		return Undefined, vm.throwError(TypeErrorKind, "Boolean.prototype.valueOf requires a boolean receiver")
	}
	return this, nil
}

// ---------------------------------------------------------------------------
// Iterator.prototype and Generator.prototype
// ---------------------------------------------------------------------------

func iteratorNextMethod(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsObject() || vm.obj(this).Kind != KindIterator {
		return Undefined, vm.throwError(TypeErrorKind, "next requires an iterator receiver")
	}
	v, done, err := vm.iterNext(this)
	if err != nil {
		return Undefined, err
	}
	return vm.iterResult(v, done), nil
}

func (vm *VM) generatorThis(this Value) (*Generator, error) {
	if this.IsObject() && vm.obj(this).Kind == KindGenerator {
		return vm.obj(this).Gen, nil
	}
	return nil, vm.throwError(TypeErrorKind, "receiver is not a generator")
}

func generatorNextMethod(vm *VM, this Value, args []Value) (Value, error) {
	g, err := vm.generatorThis(this)
	if err != nil {
		return Undefined, err
	}
	v, done, err := vm.generatorNext(g, resumeValue, arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return vm.iterResult(v, done), nil
}

func generatorReturnMethod(vm *VM, this Value, args []Value) (Value, error) {
	g, err := vm.generatorThis(this)
	if err != nil {
		return Undefined, err
	}
	v, done, err := vm.generatorNext(g, resumeReturn, arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return vm.iterResult(v, done), nil
}

func generatorThrowMethod(vm *VM, this Value, args []Value) (Value, error) {
	g, err := vm.generatorThis(this)
	if err != nil {
		return Undefined, err
	}
	v, done, err := vm.generatorNext(g, resumeThrow, arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	return vm.iterResult(v, done), nil
}

// ---------------------------------------------------------------------------
// Error.prototype
// ---------------------------------------------------------------------------

func errorToString(vm *VM, this Value, args []Value) (Value, error) {
	if !this.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "Error.prototype.toString requires an object receiver")
	}
	name, err := vm.GetProperty(this, "name")
	if err != nil {
		return Undefined, err
	}
	msg, err := vm.GetProperty(this, "message")
	if err != nil {
		return Undefined, err
	}
	n, err := vm.ToString(name)
	if err != nil {
		return Undefined, err
	}
	m, err := vm.ToString(msg)
	if err != nil {
		return Undefined, err
	}
	if m == "" {
		return vm.StringValue(n), nil
	}
	return vm.StringValue(n + ": " + m), nil
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// populateGlobals installs the global bindings of a fresh realm: value
// constants, constructors wired to their prototype views, the Math object
// and the free functions.
func populateGlobals(vm *VM, r *Realm) {
	g := vm.obj(r.global)
	def := func(name string, v Value) {
		g.setOwn(Property{Name: name, Attrs: builtinAttrs, Value: v})
	}

	def("globalThis", r.global)
	g.setOwn(Property{Name: "undefined", Attrs: 0, Value: Undefined})
	g.setOwn(Property{Name: "NaN", Attrs: 0, Value: NumberValue(math.NaN())})
	g.setOwn(Property{Name: "Infinity", Attrs: 0, Value: NumberValue(math.Inf(1))})

	objCtor := defineCtor(vm, r, "Object", ProtoObject, 1, objectCtor, objectCtor)
	setStatic(vm, objCtor, "keys", 1, objectKeys)
	setStatic(vm, objCtor, "getPrototypeOf", 1, objectGetPrototypeOf)
	setStatic(vm, objCtor, "create", 2, objectCreate)
	setStatic(vm, objCtor, "defineProperty", 3, objectDefineProperty)
	def("Object", objCtor)

	arrCtor := defineCtor(vm, r, "Array", ProtoArray, 1, arrayCtor, arrayCtor)
	setStatic(vm, arrCtor, "isArray", 1, arrayIsArray)
	def("Array", arrCtor)

	strCtor := defineCtor(vm, r, "String", ProtoString, 1, stringCtor, nil)
	setStatic(vm, strCtor, "fromCharCode", 1, stringFromCharCode)
	def("String", strCtor)

	numCtor := defineCtor(vm, r, "Number", ProtoNumber, 1, numberCtor, nil)
	setStatic(vm, numCtor, "isInteger", 1, numberIsInteger)
	vm.obj(numCtor).setOwn(Property{Name: "MAX_SAFE_INTEGER", Attrs: 0, Value: NumberValue(9007199254740991)})
	vm.obj(numCtor).setOwn(Property{Name: "MIN_SAFE_INTEGER", Attrs: 0, Value: NumberValue(-9007199254740991)})
	def("Number", numCtor)

	def("Boolean", defineCtor(vm, r, "Boolean", ProtoBoolean, 1, booleanCtor, nil))

	def("Error", defineCtor(vm, r, "Error", ProtoError, 1, errorCtorFn(GenericError), errorCtorInit))
	def("TypeError", defineCtor(vm, r, "TypeError", ProtoTypeError, 1, errorCtorFn(TypeErrorKind), errorCtorInit))
	def("RangeError", defineCtor(vm, r, "RangeError", ProtoRangeError, 1, errorCtorFn(RangeErrorKind), errorCtorInit))
	def("ReferenceError", defineCtor(vm, r, "ReferenceError", ProtoReferenceError, 1, errorCtorFn(ReferenceErrorKind), errorCtorInit))
	def("SyntaxError", defineCtor(vm, r, "SyntaxError", ProtoSyntaxError, 1, errorCtorFn(SyntaxErrorKind), errorCtorInit))

	def("Math", newMathObject(vm))

	def("parseInt", vm.NewNativeFunction("parseInt", 2, globalParseInt))
	def("parseFloat", vm.NewNativeFunction("parseFloat", 1, globalParseFloat))
	def("isNaN", vm.NewNativeFunction("isNaN", 1, globalIsNaN))
	def("isFinite", vm.NewNativeFunction("isFinite", 1, globalIsFinite))
	def("print", vm.NewNativeFunction("print", 1, globalPrint))
}

// defineCtor builds a constructor function object and links it with the
// realm's prototype view both ways.
func defineCtor(vm *VM, r *Realm, name string, id ProtoID, arity int, fn, ctor NativeFunc) Value {
	v := vm.alloc(&Object{
		Kind:   KindNative,
		Proto:  r.proto(ProtoFunction),
		Native: &Native{Name: name, Arity: arity, Fn: fn, Ctor: ctor},
	})
	vm.obj(v).setOwn(Property{Name: "prototype", Attrs: 0, Value: r.proto(id)})
	vm.obj(r.proto(id)).setOwn(Property{Name: "constructor", Attrs: builtinAttrs, Value: v})
	return v
}

func setStatic(vm *VM, ctor Value, name string, arity int, fn NativeFunc) {
	vm.obj(ctor).setOwn(Property{Name: name, Attrs: builtinAttrs, Value: vm.NewNativeFunction(name, arity, fn)})
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func objectCtor(vm *VM, this Value, args []Value) (Value, error) {
	if v := arg(args, 0); v.IsObject() {
		return v, nil
	}
	return vm.NewPlainObject(), nil
}

func objectKeys(vm *VM, this Value, args []Value) (Value, error) {
	v := arg(args, 0)
	if !v.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "Object.keys requires an object argument")
	}
	keys := vm.OwnKeys(v)
	out := make([]Value, len(keys))
	for i, name := range keys {
		out[i] = vm.StringValue(name)
	}
	return vm.NewArray(out), nil
}

func objectGetPrototypeOf(vm *VM, this Value, args []Value) (Value, error) {
	v := arg(args, 0)
	if !v.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "Object.getPrototypeOf requires an object argument")
	}
	return vm.obj(v).Proto, nil
}

func objectCreate(vm *VM, this Value, args []Value) (Value, error) {
	proto := arg(args, 0)
	if !proto.IsObject() && !proto.IsNull() {
		return Undefined, vm.throwError(TypeErrorKind, "Object.create prototype must be an object or null")
	}
	return vm.NewObject(proto), nil
}

// objectDefineProperty reads a descriptor object with value/get/set and the
// writable/enumerable/configurable flags.
func objectDefineProperty(vm *VM, this Value, args []Value) (Value, error) {
	target := arg(args, 0)
	if !target.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "Object.defineProperty requires an object target")
	}
	name, err := vm.toPropertyKey(arg(args, 1))
	if err != nil {
		return Undefined, err
	}
	desc := arg(args, 2)
	if !desc.IsObject() {
		return Undefined, vm.throwError(TypeErrorKind, "property descriptor must be an object")
	}
	p := Property{Name: name, Getter: Undefined, Setter: Undefined}
	read := func(field string) (Value, bool, error) {
		if _, ok := vm.getOwnProperty(vm.obj(desc), field); !ok {
			return Undefined, false, nil
		}
		v, err := vm.GetProperty(desc, field)
		return v, true, err
	}
	if v, ok, err := read("get"); err != nil {
		return Undefined, err
	} else if ok {
		p.Accessor, p.Getter = true, v
	}
	if v, ok, err := read("set"); err != nil {
		return Undefined, err
	} else if ok {
		p.Accessor, p.Setter = true, v
	}
	if !p.Accessor {
		v, _, err := read("value")
		if err != nil {
			return Undefined, err
		}
		p.Value = v
	}
	if v, ok, err := read("writable"); err != nil {
		return Undefined, err
	} else if ok && vm.truthy(v) {
		p.Attrs |= Writable
	}
	if v, ok, err := read("enumerable"); err != nil {
		return Undefined, err
	} else if ok && vm.truthy(v) {
		p.Attrs |= Enumerable
	}
	if v, ok, err := read("configurable"); err != nil {
		return Undefined, err
	} else if ok && vm.truthy(v) {
		p.Attrs |= Configurable
	}
	vm.DefineProperty(target, p)
	return target, nil
}

func arrayCtor(vm *VM, this Value, args []Value) (Value, error) {
	if len(args) == 1 && args[0].IsNumber() {
		f := args[0].Num()
		n := int(f)
		if f != float64(n) || n < 0 {
			return Undefined, vm.throwError(RangeErrorKind, "invalid array length")
		}
		elems := make([]Value, n)
		for i := range elems {
			elems[i] = Undefined
		}
		return vm.NewArray(elems), nil
	}
	return vm.NewArray(append([]Value{}, args...)), nil
}

func arrayIsArray(vm *VM, this Value, args []Value) (Value, error) {
	v := arg(args, 0)
	return BoolValue(v.IsObject() && vm.obj(v).Kind == KindArray), nil
}

func stringCtor(vm *VM, this Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return vm.StringValue(""), nil
	}
	s, err := vm.ToString(args[0])
	if err != nil {
		return Undefined, err
	}
	return vm.StringValue(s), nil
}

func stringFromCharCode(vm *VM, this Value, args []Value) (Value, error) {
	runes := make([]rune, len(args))
	for i, a := range args {
		runes[i] = rune(toUint32(toNumber(vm, a)) & 0xFFFF)
	}
	return vm.StringValue(string(runes)), nil
}

func numberCtor(vm *VM, this Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return NumberValue(0), nil
	}
	return NumberValue(toNumber(vm, args[0])), nil
}

func numberIsInteger(vm *VM, this Value, args []Value) (Value, error) {
	v := arg(args, 0)
	return BoolValue(v.IsNumber() && v.Num() == math.Trunc(v.Num()) && !math.IsInf(v.Num(), 0)), nil
}

func booleanCtor(vm *VM, this Value, args []Value) (Value, error) {
	return BoolValue(vm.truthy(arg(args, 0))), nil
}

// errorCtorFn handles plain calls: Error(msg) builds a fresh error object.
func errorCtorFn(kind ErrorKind) NativeFunc {
	return func(vm *VM, this Value, args []Value) (Value, error) {
		msg := ""
		if v := arg(args, 0); !v.IsUndefined() {
			s, err := vm.ToString(v)
			if err != nil {
				return Undefined, err
			}
			msg = s
		}
		return vm.NewError(kind, "%s", msg), nil
	}
}

// errorCtorInit handles construct calls: the prototype-linked instance is
// already allocated, so only the message needs installing.
func errorCtorInit(vm *VM, this Value, args []Value) (Value, error) {
	if v := arg(args, 0); !v.IsUndefined() {
		s, err := vm.ToString(v)
		if err != nil {
			return Undefined, err
		}
		vm.obj(this).setOwn(Property{Name: "message", Attrs: Writable | Configurable, Value: vm.StringValue(s)})
	}
	return Undefined, nil
}

// ---------------------------------------------------------------------------
// Math
// ---------------------------------------------------------------------------

func newMathObject(vm *VM) Value {
	m := vm.NewPlainObject()
	o := vm.obj(m)
	num := func(name string, f float64) {
		o.setOwn(Property{Name: name, Attrs: 0, Value: NumberValue(f)})
	}
	fn1 := func(name string, f func(float64) float64) {
		o.setOwn(Property{Name: name, Attrs: builtinAttrs, Value: vm.NewNativeFunction(name, 1,
			func(vm *VM, _ Value, args []Value) (Value, error) {
				return NumberValue(f(toNumber(vm, arg(args, 0)))), nil
			})})
	}

	num("PI", math.Pi)
	num("E", math.E)

	fn1("abs", math.Abs)
	fn1("floor", math.Floor)
	fn1("ceil", math.Ceil)
	fn1("trunc", math.Trunc)
	fn1("sqrt", math.Sqrt)
	fn1("log", math.Log)
	fn1("exp", math.Exp)
	fn1("sin", math.Sin)
	fn1("cos", math.Cos)
	fn1("round", func(f float64) float64 { return math.Floor(f + 0.5) })
	fn1("sign", func(f float64) float64 {
		switch {
		case f > 0:
			return 1
		case f < 0:
			return -1
		default:
			return f
		}
	})

	o.setOwn(Property{Name: "pow", Attrs: builtinAttrs, Value: vm.NewNativeFunction("pow", 2,
		func(vm *VM, _ Value, args []Value) (Value, error) {
			return NumberValue(math.Pow(toNumber(vm, arg(args, 0)), toNumber(vm, arg(args, 1)))), nil
		})})
	o.setOwn(Property{Name: "min", Attrs: builtinAttrs, Value: vm.NewNativeFunction("min", 2, mathMin)})
	o.setOwn(Property{Name: "max", Attrs: builtinAttrs, Value: vm.NewNativeFunction("max", 2, mathMax)})
	o.setOwn(Property{Name: "random", Attrs: builtinAttrs, Value: vm.NewNativeFunction("random", 0,
		func(vm *VM, _ Value, args []Value) (Value, error) {
			return NumberValue(rand.Float64()), nil
		})})
	return m
}

func mathMin(vm *VM, this Value, args []Value) (Value, error) {
	out := math.Inf(1)
	for _, a := range args {
		f := toNumber(vm, a)
		if f != f {
			return NumberValue(math.NaN()), nil
		}
		if f < out {
			out = f
		}
	}
	return NumberValue(out), nil
}

func mathMax(vm *VM, this Value, args []Value) (Value, error) {
	out := math.Inf(-1)
	for _, a := range args {
		f := toNumber(vm, a)
		if f != f {
			return NumberValue(math.NaN()), nil
		}
		if f > out {
			out = f
		}
	}
	return NumberValue(out), nil
}

// ---------------------------------------------------------------------------
// Free functions
// ---------------------------------------------------------------------------

func globalParseInt(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	s = strings.TrimSpace(s)
	radix := toInteger(toNumber(vm, arg(args, 1)))

	sign := 1.0
	if strings.HasPrefix(s, "-") {
		sign, s = -1, s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if radix == 0 {
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			radix, s = 16, s[2:]
		} else {
			radix = 10
		}
	} else if radix == 16 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		s = s[2:]
	}
	if radix < 2 || radix > 36 {
		return NumberValue(math.NaN()), nil
	}

	end := 0
	for end < len(s) {
		d := digitValue(s[end])
		if d < 0 || d >= radix {
			break
		}
		end++
	}
	if end == 0 {
		return NumberValue(math.NaN()), nil
	}
	var out float64
	for i := 0; i < end; i++ {
		out = out*float64(radix) + float64(digitValue(s[i]))
	}
	return NumberValue(sign * out), nil
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return -1
	}
}

func globalParseFloat(vm *VM, this Value, args []Value) (Value, error) {
	s, err := vm.ToString(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	s = strings.TrimSpace(s)
	// Parse the longest valid numeric prefix.
	end := len(s)
	for end > 0 {
		if _, err := strconv.ParseFloat(s[:end], 64); err == nil {
			break
		}
		end--
	}
	if end == 0 {
		return NumberValue(math.NaN()), nil
	}
	f, _ := strconv.ParseFloat(s[:end], 64)
	return NumberValue(f), nil
}

func globalIsNaN(vm *VM, this Value, args []Value) (Value, error) {
	f := toNumber(vm, arg(args, 0))
	return BoolValue(f != f), nil
}

func globalIsFinite(vm *VM, this Value, args []Value) (Value, error) {
	f := toNumber(vm, arg(args, 0))
	return BoolValue(f == f && !math.IsInf(f, 0)), nil
}

func globalPrint(vm *VM, this Value, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := vm.ToString(a)
		if err != nil {
			return Undefined, err
		}
		parts[i] = s
	}
	fmt.Fprintln(vm.Stdout, strings.Join(parts, " "))
	return Undefined, nil
}
