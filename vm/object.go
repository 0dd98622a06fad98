package vm

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Objects: prototype chains and property descriptors
// ---------------------------------------------------------------------------

// ObjectKind discriminates arena objects that carry internal state beyond
// their property map.
type ObjectKind uint8

const (
	KindPlain ObjectKind = iota
	KindArray
	KindFunction // bytecode closure
	KindNative   // host-implemented function
	KindGenerator
	KindIterator
)

// PropAttrs holds the writable/enumerable/configurable descriptor flags.
type PropAttrs uint8

const (
	Writable PropAttrs = 1 << iota
	Enumerable
	Configurable
)

// DefaultAttrs are the attributes of properties created by plain assignment.
const DefaultAttrs = Writable | Enumerable | Configurable

// builtinAttrs are the attributes of builtin prototype methods.
const builtinAttrs = Writable | Configurable

// Property is one own property: either a data property or an accessor pair,
// resolved by an explicit tagged variant rather than dispatch.
type Property struct {
	Name     string
	Attrs    PropAttrs
	Value    Value // data property payload
	Getter   Value // accessor pair; Undefined when absent
	Setter   Value
	Accessor bool
}

// Object is one arena entry. Proto is a lookup relation, not an ownership
// edge: it is an ordinary Value handle and never freed by following it.
type Object struct {
	Kind  ObjectKind
	Proto Value // object handle or Null

	props []Property
	index map[string]int

	// template is non-nil while this object shares a builtin prototype
	// template copy-on-write; the first mutation materializes the template
	// properties as own properties and clears it.
	template *protoTemplate

	// Kind-specific state
	Elems   []Value   // KindArray
	Closure *Closure  // KindFunction
	Native  *Native   // KindNative
	Gen     *Generator // KindGenerator
	Iter    *iterState // KindIterator
}

// Closure pairs a function prototype with its captured scope chain. The
// chain is shared by reference with the defining frame, so closures observe
// later mutations of captured bindings.
type Closure struct {
	Script   *Script
	Proto    *FunctionProto
	Captured []*Scope // outermost first
	This     Value    // lexical this for arrow functions
	HasThis  bool
}

// NativeFunc is the calling convention for host-implemented functions.
// Returning an error produced by Throw raises the wrapped value into the
// calling script; any other error is wrapped into a generic Error object.
type NativeFunc func(vm *VM, this Value, args []Value) (Value, error)

// Native describes a host-implemented function object.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFunc
	// Ctor, when set, handles `new` for this function (builtin
	// constructors); this receives the freshly created instance.
	Ctor NativeFunc
}

// IsCallable reports whether o can be invoked.
func (o *Object) IsCallable() bool {
	return o.Kind == KindFunction || o.Kind == KindNative
}

// ---------------------------------------------------------------------------
// Own property storage
// ---------------------------------------------------------------------------

func (o *Object) ownProp(name string) (int, bool) {
	if o.index == nil {
		return 0, false
	}
	i, ok := o.index[name]
	return i, ok
}

func (o *Object) setOwn(p Property) {
	if i, ok := o.ownProp(p.Name); ok {
		o.props[i] = p
		return
	}
	if o.index == nil {
		o.index = make(map[string]int)
	}
	o.index[p.Name] = len(o.props)
	o.props = append(o.props, p)
}

func (o *Object) deleteOwn(name string) {
	i, ok := o.ownProp(name)
	if !ok {
		return
	}
	copy(o.props[i:], o.props[i+1:])
	o.props = o.props[:len(o.props)-1]
	delete(o.index, name)
	for j := i; j < len(o.props); j++ {
		o.index[o.props[j].Name] = j
	}
}

// ---------------------------------------------------------------------------
// Arena access
// ---------------------------------------------------------------------------

// obj resolves an object handle. Handles are only ever minted by this VM, so
// resolution cannot fail.
func (vm *VM) obj(v Value) *Object {
	return vm.objects[v.Handle()]
}

// alloc places an object in the arena and returns its handle value.
func (vm *VM) alloc(o *Object) Value {
	vm.objects = append(vm.objects, o)
	return objectValue(uint32(len(vm.objects) - 1))
}

// NewObject allocates a plain object with the given prototype.
func (vm *VM) NewObject(proto Value) Value {
	return vm.alloc(&Object{Kind: KindPlain, Proto: proto})
}

// NewPlainObject allocates a plain object inheriting from Object.prototype.
func (vm *VM) NewPlainObject() Value {
	return vm.NewObject(vm.realm.proto(ProtoObject))
}

// NewArray allocates an array with the given elements.
func (vm *VM) NewArray(elems []Value) Value {
	return vm.alloc(&Object{
		Kind:  KindArray,
		Proto: vm.realm.proto(ProtoArray),
		Elems: elems,
	})
}

// ---------------------------------------------------------------------------
// String table
// ---------------------------------------------------------------------------

// StringValue interns a Go string and returns its handle value. Interning
// makes strict string equality a handle comparison.
func (vm *VM) StringValue(s string) Value {
	if id, ok := vm.stringIDs[s]; ok {
		return stringValue(id)
	}
	id := uint32(len(vm.strings))
	vm.strings = append(vm.strings, s)
	vm.stringIDs[s] = id
	return stringValue(id)
}

// GoString returns the Go string behind a string handle.
func (vm *VM) GoString(v Value) string {
	return vm.strings[v.StringID()]
}

// ---------------------------------------------------------------------------
// Property lookup
// ---------------------------------------------------------------------------

// arrayIndex parses a canonical array index ("0".."4294967294" with no
// leading zeros), returning ok=false otherwise.
func arrayIndex(name string) (int, bool) {
	if name == "" || (len(name) > 1 && name[0] == '0') {
		return 0, false
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// getOwnProperty resolves an own property of o, consulting array element
// storage, the array length invariant and any shared builtin template.
func (vm *VM) getOwnProperty(o *Object, name string) (Property, bool) {
	if o.Kind == KindArray {
		if name == "length" {
			return Property{Name: name, Attrs: Writable, Value: NumberValue(float64(len(o.Elems)))}, true
		}
		if i, ok := arrayIndex(name); ok {
			if i < len(o.Elems) {
				return Property{Name: name, Attrs: DefaultAttrs, Value: o.Elems[i]}, true
			}
			return Property{}, false
		}
	}
	if i, ok := o.ownProp(name); ok {
		return o.props[i], true
	}
	if o.template != nil {
		if tp, ok := o.template.lookup(name); ok {
			return Property{Name: name, Attrs: tp.Attrs, Value: vm.realm.templateValue(tp)}, true
		}
	}
	return Property{}, false
}

// GetProperty reads a property of target, walking the prototype chain.
// Reading from undefined or null raises a TypeError. Read access never
// triggers copy-on-write materialization.
func (vm *VM) GetProperty(target Value, name string) (Value, error) {
	switch {
	case target.IsObject():
		return vm.getObjectProperty(target, target, name)
	case target.IsString():
		return vm.getStringProperty(target, name)
	case target.IsNumber():
		return vm.getObjectProperty(vm.realm.proto(ProtoNumber), target, name)
	case target.IsBool():
		return vm.getObjectProperty(vm.realm.proto(ProtoBoolean), target, name)
	default:
		return Undefined, vm.throwError(TypeErrorKind,
			"cannot read property %q of %s", name, target.TypeTag())
	}
}

// getObjectProperty walks the chain starting at start; receiver is the
// original target used as the accessor this binding.
func (vm *VM) getObjectProperty(start, receiver Value, name string) (Value, error) {
	cur := start
	for cur.IsObject() {
		o := vm.obj(cur)
		if p, ok := vm.getOwnProperty(o, name); ok {
			if p.Accessor {
				if p.Getter.IsUndefined() {
					return Undefined, nil
				}
				return vm.Call(p.Getter, receiver, nil)
			}
			return p.Value, nil
		}
		cur = o.Proto
	}
	return Undefined, nil
}

func (vm *VM) getStringProperty(target Value, name string) (Value, error) {
	s := vm.GoString(target)
	if name == "length" {
		return NumberValue(float64(len([]rune(s)))), nil
	}
	if i, ok := arrayIndex(name); ok {
		runes := []rune(s)
		if i < len(runes) {
			return vm.StringValue(string(runes[i])), nil
		}
		return Undefined, nil
	}
	return vm.getObjectProperty(vm.realm.proto(ProtoString), target, name)
}

// ---------------------------------------------------------------------------
// Property writes
// ---------------------------------------------------------------------------

// SetProperty writes a property of target. An own or inherited non-writable
// data property or a setter-less accessor intercepts the write: it fails
// silently in sloppy mode and with a TypeError in strict mode.
func (vm *VM) SetProperty(target Value, name string, val Value, strict bool) error {
	if !target.IsObject() {
		if target.IsNullish() {
			return vm.throwError(TypeErrorKind,
				"cannot set property %q of %s", name, target.TypeTag())
		}
		// Writes to primitive wrappers are lost.
		if strict {
			return vm.throwError(TypeErrorKind,
				"cannot create property %q on %s", name, target.TypeTag())
		}
		return nil
	}

	o := vm.obj(target)

	// Array length invariant.
	if o.Kind == KindArray {
		if name == "length" {
			return vm.setArrayLength(o, val, strict)
		}
		if i, ok := arrayIndex(name); ok {
			for len(o.Elems) <= i {
				o.Elems = append(o.Elems, Undefined)
			}
			o.Elems[i] = val
			return nil
		}
	}

	// Own or inherited intercepting descriptor.
	cur := target
	for cur.IsObject() {
		co := vm.obj(cur)
		if p, ok := vm.getOwnProperty(co, name); ok {
			if p.Accessor {
				if p.Setter.IsUndefined() {
					return vm.writeRejected(name, strict)
				}
				_, err := vm.Call(p.Setter, target, []Value{val})
				return err
			}
			if p.Attrs&Writable == 0 {
				return vm.writeRejected(name, strict)
			}
			if cur == target {
				vm.materialize(o)
				p.Value = val
				o.setOwn(p)
				return nil
			}
			break // writable inherited data property: shadow with an own one
		}
		cur = co.Proto
	}

	vm.materialize(o)
	o.setOwn(Property{Name: name, Attrs: DefaultAttrs, Value: val})
	return nil
}

func (vm *VM) writeRejected(name string, strict bool) error {
	if strict {
		return vm.throwError(TypeErrorKind, "cannot assign to read-only property %q", name)
	}
	return nil
}

func (vm *VM) setArrayLength(o *Object, val Value, strict bool) error {
	n := toNumber(vm, val)
	nInt := int(n)
	if n != n || n < 0 || float64(nInt) != n {
		return vm.throwError(RangeErrorKind, "invalid array length")
	}
	if nInt < len(o.Elems) {
		o.Elems = o.Elems[:nInt]
	} else {
		for len(o.Elems) < nInt {
			o.Elems = append(o.Elems, Undefined)
		}
	}
	return nil
}

// DeleteProperty removes an own property, returning false when a
// non-configurable property blocks the deletion.
func (vm *VM) DeleteProperty(target Value, name string) (bool, error) {
	if !target.IsObject() {
		if target.IsNullish() {
			return false, vm.throwError(TypeErrorKind,
				"cannot delete property %q of %s", name, target.TypeTag())
		}
		return true, nil
	}
	o := vm.obj(target)
	if o.Kind == KindArray {
		if i, ok := arrayIndex(name); ok {
			if i < len(o.Elems) {
				o.Elems[i] = Undefined
			}
			return true, nil
		}
	}
	if p, ok := vm.getOwnProperty(o, name); ok {
		if p.Attrs&Configurable == 0 {
			return false, nil
		}
		vm.materialize(o)
		o.deleteOwn(name)
	}
	return true, nil
}

// DefineProperty installs an own property descriptor directly, bypassing
// writability checks. Used by builtins and Object.defineProperty.
func (vm *VM) DefineProperty(target Value, p Property) {
	o := vm.obj(target)
	vm.materialize(o)
	o.setOwn(p)
}

// ---------------------------------------------------------------------------
// Enumeration
// ---------------------------------------------------------------------------

// OwnKeys returns the enumerable own property names of target in insertion
// order, array indices first.
func (vm *VM) OwnKeys(target Value) []string {
	if target.IsString() {
		runes := []rune(vm.GoString(target))
		keys := make([]string, len(runes))
		for i := range runes {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	if !target.IsObject() {
		return nil
	}
	o := vm.obj(target)
	var keys []string
	if o.Kind == KindArray {
		for i := range o.Elems {
			keys = append(keys, strconv.Itoa(i))
		}
	}
	if o.template != nil {
		for i := range o.template.props {
			tp := &o.template.props[i]
			if tp.Attrs&Enumerable != 0 {
				keys = append(keys, tp.Name)
			}
		}
	}
	for i := range o.props {
		if o.props[i].Attrs&Enumerable != 0 {
			keys = append(keys, o.props[i].Name)
		}
	}
	return keys
}

// enumKeys returns the for-in key sequence: enumerable own keys, then
// enumerable keys up the prototype chain, deduplicated.
func (vm *VM) enumKeys(target Value) []string {
	var keys []string
	seen := make(map[string]bool)
	cur := target
	for {
		for _, k := range vm.OwnKeys(cur) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		if !cur.IsObject() {
			break
		}
		cur = vm.obj(cur).Proto
		if !cur.IsObject() {
			break
		}
	}
	return keys
}
