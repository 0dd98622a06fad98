package vm

import "fmt"

// ---------------------------------------------------------------------------
// Realm: per-VM global environment with copy-on-write builtins
// ---------------------------------------------------------------------------
//
// Builtin prototypes are described once, process-wide, by immutable
// templates. Each realm allocates a thin view object per prototype that
// defers lookups to the template; the first mutation through any realm
// materializes the template's properties as own properties of that realm's
// view. Mutating a builtin prototype in one realm is therefore never
// observable from another.

// ProtoID names a builtin prototype slot in a realm.
type ProtoID int

const (
	ProtoObject ProtoID = iota
	ProtoFunction
	ProtoArray
	ProtoString
	ProtoNumber
	ProtoBoolean
	ProtoIterator
	ProtoGenerator
	ProtoError
	ProtoTypeError
	ProtoRangeError
	ProtoReferenceError
	ProtoSyntaxError

	numProtos
)

// noParent marks a template with a null prototype.
const noParent ProtoID = -1

// templateProp is one shared builtin property description. Values are
// realized lazily per realm so method identity is stable within a realm and
// never shared across realms.
type templateProp struct {
	Name  string
	Attrs PropAttrs

	fn    NativeFunc // non-nil for method properties
	arity int
	num   float64
	str   string
	kind  uint8 // tplNative, tplNumber, tplString
}

const (
	tplNative = iota
	tplNumber
	tplString
)

// protoTemplate is the immutable description of one builtin prototype.
type protoTemplate struct {
	Name   string
	Parent ProtoID
	props  []templateProp
	index  map[string]int
}

func (t *protoTemplate) lookup(name string) (*templateProp, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return &t.props[i], true
}

func (t *protoTemplate) method(name string, arity int, fn NativeFunc) {
	t.add(templateProp{Name: name, Attrs: builtinAttrs, kind: tplNative, fn: fn, arity: arity})
}

func (t *protoTemplate) strProp(name, s string) {
	t.add(templateProp{Name: name, Attrs: builtinAttrs, kind: tplString, str: s})
}

func (t *protoTemplate) add(p templateProp) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[p.Name] = len(t.props)
	t.props = append(t.props, p)
}

// Realm is a VM instance's isolated global environment: the global object
// plus the builtin prototype registry.
type Realm struct {
	vm     *VM
	global Value

	protos    [numProtos]Value
	tplValues map[*templateProp]Value // realized template values, per realm
}

// newRealm builds a fresh realm over the VM's arena: prototype views first
// (parents before children), then the populated global object.
func newRealm(vm *VM) *Realm {
	r := &Realm{vm: vm, tplValues: make(map[*templateProp]Value)}
	// Builtin construction below allocates through the VM, which resolves
	// prototypes via vm.realm; attach the realm before populating it.
	vm.realm = r

	for id := ProtoID(0); id < numProtos; id++ {
		tpl := builtinTemplates[id]
		proto := Null
		if tpl.Parent != noParent {
			proto = r.protos[tpl.Parent]
		}
		r.protos[id] = vm.alloc(&Object{Kind: KindPlain, Proto: proto, template: tpl})
	}

	r.global = vm.alloc(&Object{Kind: KindPlain, Proto: r.protos[ProtoObject]})
	populateGlobals(vm, r)
	return r
}

// proto returns the realm's view of a builtin prototype.
func (r *Realm) proto(id ProtoID) Value { return r.protos[id] }

// Global returns the realm's global object.
func (r *Realm) Global() Value { return r.global }

// templateValue realizes a template property value for this realm, caching
// it so repeated reads observe the same identity.
func (r *Realm) templateValue(tp *templateProp) Value {
	if v, ok := r.tplValues[tp]; ok {
		return v
	}
	var v Value
	switch tp.kind {
	case tplNative:
		v = r.vm.NewNativeFunction(tp.Name, tp.arity, tp.fn)
	case tplNumber:
		v = NumberValue(tp.num)
	default:
		v = r.vm.StringValue(tp.str)
	}
	r.tplValues[tp] = v
	return v
}

// materialize detaches o from its shared template by copying the template
// properties into own storage. Called on the first mutation; reads never
// materialize.
func (vm *VM) materialize(o *Object) {
	if o.template == nil {
		return
	}
	tpl := o.template
	o.template = nil
	for i := range tpl.props {
		tp := &tpl.props[i]
		if _, ok := o.ownProp(tp.Name); !ok {
			o.setOwn(Property{Name: tp.Name, Attrs: tp.Attrs, Value: vm.realm.templateValue(tp)})
		}
	}
}

// ---------------------------------------------------------------------------
// Global bindings
// ---------------------------------------------------------------------------

// GetGlobal reads a binding from the realm's global object, walking its
// prototype chain like any property read.
func (vm *VM) GetGlobal(name string) (Value, bool) {
	cur := vm.realm.global
	for cur.IsObject() {
		o := vm.obj(cur)
		if p, ok := vm.getOwnProperty(o, name); ok {
			if p.Accessor {
				v, err := vm.getObjectProperty(vm.realm.global, vm.realm.global, name)
				if err != nil {
					return Undefined, false
				}
				return v, true
			}
			return p.Value, true
		}
		cur = o.Proto
	}
	return Undefined, false
}

// SetGlobal writes a binding on the realm's global object.
func (vm *VM) SetGlobal(name string, v Value) {
	_ = vm.SetProperty(vm.realm.global, name, v, false)
}

// DeclareGlobal ensures a global binding exists, initializing it to
// undefined. Used for hoisted top-level var declarations.
func (vm *VM) DeclareGlobal(name string) {
	o := vm.obj(vm.realm.global)
	if _, ok := vm.getOwnProperty(o, name); !ok {
		o.setOwn(Property{Name: name, Attrs: Writable | Enumerable, Value: Undefined})
	}
}

// ---------------------------------------------------------------------------
// Function and error object construction
// ---------------------------------------------------------------------------

// NewNativeFunction allocates a function object backed by a Go function.
func (vm *VM) NewNativeFunction(name string, arity int, fn NativeFunc) Value {
	return vm.alloc(&Object{
		Kind:   KindNative,
		Proto:  vm.realm.proto(ProtoFunction),
		Native: &Native{Name: name, Arity: arity, Fn: fn},
	})
}

// NewError allocates an error object of the given kind.
func (vm *VM) NewError(kind ErrorKind, format string, args ...interface{}) Value {
	var proto Value
	switch kind {
	case TypeErrorKind:
		proto = vm.realm.proto(ProtoTypeError)
	case RangeErrorKind:
		proto = vm.realm.proto(ProtoRangeError)
	case ReferenceErrorKind:
		proto = vm.realm.proto(ProtoReferenceError)
	case SyntaxErrorKind:
		proto = vm.realm.proto(ProtoSyntaxError)
	default:
		proto = vm.realm.proto(ProtoError)
	}
	errObj := vm.alloc(&Object{Kind: KindPlain, Proto: proto})
	o := vm.obj(errObj)
	o.setOwn(Property{
		Name:  "message",
		Attrs: Writable | Configurable,
		Value: vm.StringValue(fmt.Sprintf(format, args...)),
	})
	return errObj
}

// throwError raises a fresh error object of the given kind into the running
// script.
func (vm *VM) throwError(kind ErrorKind, format string, args ...interface{}) error {
	return Throw(vm.NewError(kind, format, args...))
}
