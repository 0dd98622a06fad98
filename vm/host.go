package vm

import "fmt"

// ---------------------------------------------------------------------------
// Host interop
// ---------------------------------------------------------------------------
//
// ToValue and Export bridge between Go values and script values. The bridge
// is symmetric: exporting a value and converting it back yields a value the
// script cannot distinguish from the original, and functions keep their
// identity across the round trip.

// Func is an exported script function bound to its VM. Converting a Func
// back with ToValue restores the original function value.
type Func struct {
	vm *VM
	fn Value
}

// Call invokes the exported function with converted arguments.
func (f *Func) Call(args ...interface{}) (interface{}, error) {
	vals := make([]Value, len(args))
	for i, a := range args {
		v, err := f.vm.ToValue(a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	res, err := f.vm.Call(f.fn, Undefined, vals)
	if err != nil {
		return nil, err
	}
	return f.vm.Export(res), nil
}

// Value returns the underlying script function value.
func (f *Func) Value() Value { return f.fn }

// ToValue converts a Go value into a script value owned by this VM.
func (vm *VM) ToValue(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case Value:
		return x, nil
	case *Func:
		if x.vm != vm {
			return Undefined, fmt.Errorf("vm: function belongs to a different VM")
		}
		return x.fn, nil
	case bool:
		return BoolValue(x), nil
	case int:
		return NumberValue(float64(x)), nil
	case int32:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case uint32:
		return NumberValue(float64(x)), nil
	case float32:
		return NumberValue(float64(x)), nil
	case float64:
		return NumberValue(x), nil
	case string:
		return vm.StringValue(x), nil
	case []interface{}:
		elems := make([]Value, len(x))
		for i, e := range x {
			ev, err := vm.ToValue(e)
			if err != nil {
				return Undefined, err
			}
			elems[i] = ev
		}
		return vm.NewArray(elems), nil
	case map[string]interface{}:
		obj := vm.NewPlainObject()
		o := vm.obj(obj)
		for k, e := range x {
			ev, err := vm.ToValue(e)
			if err != nil {
				return Undefined, err
			}
			o.setOwn(Property{Name: k, Attrs: DefaultAttrs, Value: ev})
		}
		return obj, nil
	case NativeFunc:
		return vm.NewNativeFunction("", 0, x), nil
	case func(vm *VM, this Value, args []Value) (Value, error):
		return vm.NewNativeFunction("", 0, x), nil
	default:
		return Undefined, fmt.Errorf("vm: cannot convert %T to a script value", v)
	}
}

// Export converts a script value into a plain Go value. Objects become maps,
// arrays become slices, functions become *Func handles that call back into
// the VM. Cyclic object graphs export with their cycles intact.
func (vm *VM) Export(v Value) interface{} {
	return vm.export(v, make(map[uint32]interface{}))
}

func (vm *VM) export(v Value, seen map[uint32]interface{}) interface{} {
	switch {
	case v.IsUndefined(), v.IsNull():
		return nil
	case v.IsBool():
		return v.Bool()
	case v.IsNumber():
		return v.Num()
	case v.IsString():
		return vm.GoString(v)
	}

	h := v.Handle()
	if out, ok := seen[h]; ok {
		return out
	}
	o := vm.obj(v)
	switch o.Kind {
	case KindArray:
		out := make([]interface{}, len(o.Elems))
		seen[h] = out
		for i, e := range o.Elems {
			out[i] = vm.export(e, seen)
		}
		return out
	case KindFunction, KindNative:
		fn := &Func{vm: vm, fn: v}
		seen[h] = fn
		return fn
	default:
		out := make(map[string]interface{})
		seen[h] = out
		for _, name := range vm.OwnKeys(v) {
			pv, err := vm.GetProperty(v, name)
			if err != nil {
				continue
			}
			out[name] = vm.export(pv, seen)
		}
		return out
	}
}
