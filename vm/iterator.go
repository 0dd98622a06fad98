package vm

// ---------------------------------------------------------------------------
// Iteration protocol
// ---------------------------------------------------------------------------
//
// Destructuring, spread, for-of and yield* all drain iterators through the
// same two operations: getIterator obtains an iterator for a value, iterNext
// advances it. Arrays, strings and generators get intrinsic fast paths; any
// other object with a callable next method participates via the protocol.

// iterKind discriminates intrinsic iterator state.
type iterKind uint8

const (
	iterArray  iterKind = iota // snapshot of array elements
	iterString                 // code points of a string
	iterKeys                   // enumerable property names (for-in)
	iterCustom                 // object driven through its next method
)

// iterState is the internal state of a KindIterator object.
type iterState struct {
	kind   iterKind
	elems  []Value // iterArray, iterKeys
	runes  []rune  // iterString
	pos    int
	source Value // iterCustom: the object whose next method drives iteration
}

func (vm *VM) newIterator(st *iterState) Value {
	return vm.alloc(&Object{
		Kind:  KindIterator,
		Proto: vm.realm.proto(ProtoIterator),
		Iter:  st,
	})
}

// getIterator obtains an iterator for v. Arrays iterate a snapshot of their
// elements taken here, so mutation during iteration cannot skip or repeat.
func (vm *VM) getIterator(v Value) (Value, error) {
	if v.IsString() {
		return vm.newIterator(&iterState{kind: iterString, runes: []rune(vm.GoString(v))}), nil
	}
	if v.IsObject() {
		o := vm.obj(v)
		switch o.Kind {
		case KindArray:
			elems := make([]Value, len(o.Elems))
			copy(elems, o.Elems)
			return vm.newIterator(&iterState{kind: iterArray, elems: elems}), nil
		case KindGenerator, KindIterator:
			return v, nil
		}
		next, err := vm.GetProperty(v, "next")
		if err != nil {
			return Undefined, err
		}
		if next.IsObject() && vm.obj(next).IsCallable() {
			return vm.newIterator(&iterState{kind: iterCustom, source: v}), nil
		}
	}
	return Undefined, vm.throwError(TypeErrorKind, "%s is not iterable", vm.describe(v))
}

/// newKeysIterator builds the for-in iterator: the enumerable property names
// of v and its prototype chain, collected up front in insertion order.
func (vm *VM) newKeysIterator(v Value) Value {
	var names []Value
	if v.IsObject() {
		for _, name := range vm.enumKeys(v) {
			names = append(names, vm.StringValue(name))
		}
	}
	return vm.newIterator(&iterState{kind: iterKeys, elems: names})
}

// iterNext advances an iterator, returning its next value and whether the
// iterator is exhausted.
func (vm *VM) iterNext(it Value) (Value, bool, error) {
	o := vm.obj(it)
	switch o.Kind {
	case KindIterator:
		st := o.Iter
		switch st.kind {
		case iterArray, iterKeys:
			if st.pos >= len(st.elems) {
				return Undefined, true, nil
			}
			v := st.elems[st.pos]
			st.pos++
			return v, false, nil
		case iterString:
			if st.pos >= len(st.runes) {
				return Undefined, true, nil
			}
			v := vm.StringValue(string(st.runes[st.pos]))
			st.pos++
			return v, false, nil
		default: // iterCustom
			return vm.protocolNext(st.source, Undefined)
		}
	case KindGenerator:
		return vm.generatorNext(o.Gen, resumeValue, Undefined)
	default:
		return vm.protocolNext(it, Undefined)
	}
}

// protocolNext drives an arbitrary iterator object through its next method
// and unpacks the {value, done} result.
func (vm *VM) protocolNext(it Value, arg Value) (Value, bool, error) {
	next, err := vm.GetProperty(it, "next")
	if err != nil {
		return Undefined, false, err
	}
	if !next.IsObject() || !vm.obj(next).IsCallable() {
		return Undefined, false, vm.throwError(TypeErrorKind, "iterator has no next method")
	}
	var args []Value
	if !arg.IsUndefined() {
		args = []Value{arg}
	}
	res, err := vm.Call(next, it, args)
	if err != nil {
		return Undefined, false, err
	}
	if !res.IsObject() {
		return Undefined, false, vm.throwError(TypeErrorKind, "iterator result is not an object")
	}
	value, err := vm.GetProperty(res, "value")
	if err != nil {
		return Undefined, false, err
	}
	done, err := vm.GetProperty(res, "done")
	if err != nil {
		return Undefined, false, err
	}
	return value, vm.truthy(done), nil
}

// iterResult packs a {value, done} pair the way iterator consumers expect.
func (vm *VM) iterResult(value Value, done bool) Value {
	res := vm.NewPlainObject()
	o := vm.obj(res)
	o.setOwn(Property{Name: "value", Attrs: DefaultAttrs, Value: value})
	o.setOwn(Property{Name: "done", Attrs: DefaultAttrs, Value: BoolValue(done)})
	return res
}
