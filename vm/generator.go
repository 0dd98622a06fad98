package vm

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------
//
// Calling a generator function allocates nothing on the calling fiber:
// the call produces a generator object wrapping a dedicated fiber whose
// frames hold the paused activation. next, throw and return all reduce to
// driving that fiber with a resume mode.

// Generator is the internal state of a KindGenerator object.
type Generator struct {
	fiber *Fiber
	done  bool
}

// newGeneratorObject builds the generator object for one invocation of a
// generator function.
func (vm *VM) newGeneratorObject(callee, this Value, args []Value) Value {
	c := vm.obj(callee).Closure
	return vm.alloc(&Object{
		Kind:  KindGenerator,
		Proto: vm.realm.proto(ProtoGenerator),
		Gen:   &Generator{fiber: newGeneratorFiber(vm, c, this, args)},
	})
}

// generatorNext drives a generator one step. mode selects how the value
// arrives at the suspended yield: as its result, as a throw, or as an early
// return that drains finally blocks on the way out.
func (vm *VM) generatorNext(g *Generator, mode resumeMode, arg Value) (Value, bool, error) {
	if g.done {
		switch mode {
		case resumeThrow:
			return Undefined, true, Throw(arg)
		case resumeReturn:
			return arg, true, nil
		default:
			return Undefined, true, nil
		}
	}

	f := g.fiber
	var err error
	switch f.state {
	case FiberCreated:
		switch mode {
		case resumeThrow:
			g.done = true
			return Undefined, true, Throw(arg)
		case resumeReturn:
			g.done = true
			return arg, true, nil
		}
		_, err = f.Run(0)
	case FiberPaused:
		f.mode = mode
		f.injected = arg
		_, err = f.Resume(0)
	default:
		return Undefined, false, vm.throwError(TypeErrorKind, "generator is already running")
	}

	if err != nil {
		g.done = true
		return Undefined, true, err
	}
	if f.state == FiberPaused {
		v := f.yieldValue
		f.yieldValue = Undefined
		return v, false, nil
	}
	g.done = true
	return f.result, true, nil
}
