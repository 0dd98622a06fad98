package vm

import "fmt"

// ---------------------------------------------------------------------------
// Interpreter: the dispatch loop
// ---------------------------------------------------------------------------
//
// The loop fetches the instruction at the current frame's instruction
// pointer, applies its stack and scope effects, advances or redirects the
// pointer and increments the fiber's instruction counter. Script-to-script
// calls push frames rather than recursing in Go, so the whole execution
// state of a fiber is plain data and every suspension mechanism (pause,
// yield, timeout) reduces to saving the frame stack and returning.

// runFiber drives a fiber until it terminates or suspends.
func (vm *VM) runFiber(f *Fiber) (Value, error) {
	entered := f.state
	f.state = FiberRunning

	if entered == FiberPaused {
		kind := f.suspended
		f.suspended = suspendNone
		switch kind {
		case suspendPause:
			// The in-progress native call produces the injected value.
			f.top().push(f.injected)
			f.injected = Undefined
		case suspendYield:
			switch f.mode {
			case resumeValue:
				f.top().push(f.injected)
			case resumeThrow:
				vm.throwInFiber(f, f.injected)
			case resumeReturn:
				vm.doReturn(f, f.injected)
			}
			f.mode = resumeValue
			f.injected = Undefined
		case suspendTimeout:
			// Continue at the saved instruction boundary.
		}
	}
	return vm.dispatch(f)
}

// dispatch is the interpreter main loop.
func (vm *VM) dispatch(f *Fiber) (Value, error) {
	for {
		switch {
		case f.state == FiberErrored:
			return Undefined, f.err
		case f.state == FiberPaused:
			return Undefined, nil // suspended by yield
		case len(f.frames) == 0:
			f.state = FiberDone
			return f.result, nil
		}

		frame := f.top()

		// Timeouts fire only at instruction boundaries, never
		// mid-instruction.
		if f.deadline > 0 && f.icount >= f.deadline {
			f.suspend(suspendTimeout)
			return Undefined, &TimeoutError{Fiber: f, Limit: f.limit}
		}

		code := frame.proto.Code
		op := Opcode(code[frame.ip])
		frame.ip++
		f.icount++

		switch op {
		case OpNop:

		case OpPop:
			frame.pop()

		case OpDup:
			frame.push(frame.peek(0))

		case OpSwap:
			a := frame.pop()
			b := frame.pop()
			frame.push(a)
			frame.push(b)

		case OpDup2:
			b := frame.peek(0)
			a := frame.peek(1)
			frame.push(a)
			frame.push(b)

		case OpInsert3:
			c := frame.pop()
			b := frame.pop()
			a := frame.pop()
			frame.push(c)
			frame.push(a)
			frame.push(b)

		case OpInsert4:
			d := frame.pop()
			c := frame.pop()
			b := frame.pop()
			a := frame.pop()
			frame.push(d)
			frame.push(a)
			frame.push(b)
			frame.push(c)

		case OpUndefined:
			frame.push(Undefined)
		case OpNull:
			frame.push(Null)
		case OpTrue:
			frame.push(True)
		case OpFalse:
			frame.push(False)

		case OpConst:
			idx := readU16(code, frame.ip)
			frame.ip += 2
			frame.push(vm.literalValue(frame.proto.Literals[idx]))

		case OpThis:
			frame.push(frame.this)

		case OpGlobalObject:
			frame.push(vm.realm.Global())

		case OpLoadLocal:
			hops := int(code[frame.ip])
			slot := int(code[frame.ip+1])
			frame.ip += 2
			sc, err := frame.scopeSlot(hops, slot)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			v := sc.slots[slot]
			if v.isTDZ() {
				vm.raise(f, vm.throwError(ReferenceErrorKind, "cannot access lexical binding before initialization"))
				continue
			}
			frame.push(v)

		case OpStoreLocal:
			hops := int(code[frame.ip])
			slot := int(code[frame.ip+1])
			frame.ip += 2
			sc, err := frame.scopeSlot(hops, slot)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			if sc.slots[slot].isTDZ() {
				vm.raise(f, vm.throwError(ReferenceErrorKind, "cannot access lexical binding before initialization"))
				continue
			}
			sc.slots[slot] = frame.peek(0)

		case OpInitLocal:
			slot := int(code[frame.ip])
			frame.ip++
			sc, err := frame.scopeSlot(0, slot)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			sc.slots[slot] = frame.pop()

		case OpLoadGlobal:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			v, ok := vm.GetGlobal(name)
			if !ok {
				vm.raise(f, vm.throwError(ReferenceErrorKind, "%s is not defined", name))
				continue
			}
			frame.push(v)

		case OpStoreGlobal:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			if frame.proto.IsStrict() {
				if _, ok := vm.GetGlobal(name); !ok {
					vm.raise(f, vm.throwError(ReferenceErrorKind, "%s is not defined", name))
					continue
				}
			}
			if err := vm.SetProperty(vm.realm.Global(), name, frame.peek(0), frame.proto.IsStrict()); err != nil {
				vm.raise(f, err)
			}

		case OpDeclareGlobal:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			vm.DeclareGlobal(name)

		case OpTypeofGlobal:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			if v, ok := vm.GetGlobal(name); ok {
				frame.push(vm.StringValue(vm.TypeOf(v)))
			} else {
				frame.push(vm.StringValue("undefined"))
			}

		case OpEnterScope:
			nvar := int(code[frame.ip])
			nlex := int(code[frame.ip+1])
			frame.ip += 2
			frame.enterScope(nvar, nlex)

		case OpLeaveScope:
			if len(frame.scopes) <= frame.ownBase+1 {
				vm.raise(f, fmt.Errorf("vm: scope underflow at offset %d", frame.ip-1))
				continue
			}
			frame.leaveScope()

		case OpGetProp:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			v, err := vm.GetProperty(frame.pop(), name)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(v)

		case OpSetProp:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			val := frame.pop()
			obj := frame.pop()
			if err := vm.SetProperty(obj, name, val, frame.proto.IsStrict()); err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(val)

		case OpGetIndex:
			key := frame.pop()
			obj := frame.pop()
			name, err := vm.toPropertyKey(key)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			v, err := vm.GetProperty(obj, name)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(v)

		case OpSetIndex:
			val := frame.pop()
			key := frame.pop()
			obj := frame.pop()
			name, err := vm.toPropertyKey(key)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			if err := vm.SetProperty(obj, name, val, frame.proto.IsStrict()); err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(val)

		case OpDeleteProp:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			ok, err := vm.DeleteProperty(frame.pop(), name)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(BoolValue(ok))

		case OpDeleteIndex:
			key := frame.pop()
			obj := frame.pop()
			name, err := vm.toPropertyKey(key)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			ok, err := vm.DeleteProperty(obj, name)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(BoolValue(ok))

		case OpNewObject:
			frame.push(vm.NewPlainObject())

		case OpObjectSet:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			frame.ip += 2
			val := frame.pop()
			obj := frame.peek(0)
			vm.obj(obj).setOwn(Property{Name: name, Attrs: DefaultAttrs, Value: val})

		case OpNewArray:
			n := readU16(code, frame.ip)
			frame.ip += 2
			frame.push(vm.NewArray(frame.popN(n)))

		case OpAdd:
			b := frame.pop()
			a := frame.pop()
			v, err := vm.addValues(a, b)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(v)

		case OpSub, OpMul, OpDiv, OpMod:
			b := frame.pop()
			a := frame.pop()
			frame.push(vm.numericOp(op, a, b))

		case OpNeg:
			frame.push(NumberValue(-toNumber(vm, frame.pop())))
		case OpPlus:
			frame.push(NumberValue(toNumber(vm, frame.pop())))
		case OpNot:
			frame.push(BoolValue(!vm.truthy(frame.pop())))
		case OpBitNot:
			frame.push(NumberValue(float64(^toInt32(toNumber(vm, frame.pop())))))
		case OpTypeof:
			frame.push(vm.StringValue(vm.TypeOf(frame.pop())))

		case OpEq, OpNe:
			b := frame.pop()
			a := frame.pop()
			eq, err := vm.looseEquals(a, b)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(BoolValue(eq == (op == OpEq)))

		case OpStrictEq:
			b := frame.pop()
			a := frame.pop()
			frame.push(BoolValue(vm.StrictEquals(a, b)))
		case OpStrictNe:
			b := frame.pop()
			a := frame.pop()
			frame.push(BoolValue(!vm.StrictEquals(a, b)))

		case OpLt, OpLe, OpGt, OpGe:
			b := frame.pop()
			a := frame.pop()
			v, err := vm.compare(op, a, b)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(v)

		case OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr:
			b := frame.pop()
			a := frame.pop()
			frame.push(vm.bitOp(op, a, b))

		case OpInstanceOf:
			b := frame.pop()
			a := frame.pop()
			v, err := vm.instanceOf(a, b)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(v)

		case OpIn:
			b := frame.pop()
			a := frame.pop()
			v, err := vm.inOperator(a, b)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(v)

		case OpJump:
			frame.ip = readU16(code, frame.ip)

		case OpJumpIfFalse:
			target := readU16(code, frame.ip)
			frame.ip += 2
			if !vm.truthy(frame.pop()) {
				frame.ip = target
			}

		case OpJumpIfTrue:
			target := readU16(code, frame.ip)
			frame.ip += 2
			if vm.truthy(frame.pop()) {
				frame.ip = target
			}

		case OpPendingJump:
			ntry := int(code[frame.ip])
			depth := int(code[frame.ip+1])
			target := readU16(code, frame.ip+2)
			frame.ip += 4
			vm.drainJump(f, pendingAction{kind: pendingJump, target: target, ntry: ntry, resume: depth})

		case OpCall:
			argc := int(code[frame.ip])
			frame.ip++
			args := frame.popN(argc)
			callee := frame.pop()
			if err := vm.invoke(f, callee, Undefined, args, false); err != nil {
				vm.raise(f, err)
			}

		case OpCallMethod:
			name := frame.proto.Literals[readU16(code, frame.ip)].Str
			argc := int(code[frame.ip+2])
			frame.ip += 3
			args := frame.popN(argc)
			recv := frame.pop()
			method, err := vm.GetProperty(recv, name)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			if err := vm.invoke(f, method, recv, args, false); err != nil {
				vm.raise(f, err)
			}

		case OpCallIndex:
			argc := int(code[frame.ip])
			frame.ip++
			args := frame.popN(argc)
			key := frame.pop()
			recv := frame.pop()
			name, err := vm.toPropertyKey(key)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			method, err := vm.GetProperty(recv, name)
			if err != nil {
				vm.raise(f, err)
				continue
			}
			if err := vm.invoke(f, method, recv, args, false); err != nil {
				vm.raise(f, err)
			}

		case OpNew:
			argc := int(code[frame.ip])
			frame.ip++
			args := frame.popN(argc)
			callee := frame.pop()
			if err := vm.construct(f, callee, args); err != nil {
				vm.raise(f, err)
			}

		case OpReturn:
			vm.doReturn(f, f.top().pop())

		case OpReturnUndefined:
			vm.doReturn(f, Undefined)

		case OpClosure:
			idx := readU16(code, frame.ip)
			frame.ip += 2
			frame.push(vm.newClosure(f, frame, frame.script.Funcs[idx]))

		case OpEnterTry:
			handler := readU16(code, frame.ip)
			kind := int(code[frame.ip+2])
			frame.ip += 3
			frame.tries = append(frame.tries, tryRegion{
				kind:       kind,
				handler:    handler,
				sp:         frame.sp,
				scopeDepth: len(frame.scopes),
			})

		case OpLeaveTry:
			if len(frame.tries) == 0 {
				vm.raise(f, fmt.Errorf("vm: try region underflow at offset %d", frame.ip-1))
				continue
			}
			r := frame.tries[len(frame.tries)-1]
			frame.tries = frame.tries[:len(frame.tries)-1]
			if r.kind == TryFinally {
				frame.pending = pendingAction{kind: pendingNext, resume: frame.ip}
				frame.ip = r.handler
			}

		case OpThrow:
			vm.throwInFiber(f, f.top().pop())

		case OpEndFinally:
			p := frame.pending
			frame.pending = pendingAction{}
			switch p.kind {
			case pendingNext:
				frame.ip = p.resume
			case pendingJump:
				vm.drainJump(f, p)
			case pendingReturn:
				vm.doReturn(f, p.val)
			case pendingThrow:
				vm.throwInFiber(f, p.val)
			}

		case OpGetIter:
			it, err := vm.getIterator(frame.pop())
			if err != nil {
				vm.raise(f, err)
				continue
			}
			frame.push(it)

		case OpIterNext:
			target := readU16(code, frame.ip)
			frame.ip += 2
			v, done, err := vm.iterNext(frame.peek(0))
			if err != nil {
				vm.raise(f, err)
				continue
			}
			if done {
				frame.pop()
				frame.ip = target
			} else {
				frame.push(v)
			}

		case OpIterUnpack:
			v, done, err := vm.iterNext(frame.peek(0))
			if err != nil {
				vm.raise(f, err)
				continue
			}
			if done {
				frame.push(Undefined)
			} else {
				frame.push(v)
			}

		case OpIterRest:
			it := frame.pop()
			var elems []Value
			for {
				v, done, err := vm.iterNext(it)
				if err != nil {
					vm.raise(f, err)
					break
				}
				if done {
					frame.push(vm.NewArray(elems))
					break
				}
				elems = append(elems, v)
			}

		case OpGetKeys:
			frame.push(vm.newKeysIterator(frame.pop()))

		case OpYield:
			f.yieldValue = f.top().pop()
			f.suspend(suspendYield)

		case OpStoreAccum:
			frame.accum = frame.pop()

		case OpLoadAccum:
			frame.push(frame.accum)

		default:
			vm.raise(f, fmt.Errorf("vm: unknown opcode 0x%02X", byte(op)))
		}
	}
}

// literalValue realizes a constant pool entry.
func (vm *VM) literalValue(lit Literal) Value {
	if lit.Kind == LitString {
		return vm.StringValue(lit.Str)
	}
	return NumberValue(lit.Num)
}

// newClosure captures the defining frame's scope chain (shared, not copied)
// and builds the function object, including its prototype property.
func (vm *VM) newClosure(f *Fiber, frame *Frame, proto *FunctionProto) Value {
	c := &Closure{
		Script:   frame.script,
		Proto:    proto,
		Captured: append([]*Scope{}, frame.scopes...),
	}
	if proto.IsArrow() {
		c.This = frame.this
		c.HasThis = true
	}
	fnVal := vm.alloc(&Object{
		Kind:    KindFunction,
		Proto:   vm.realm.proto(ProtoFunction),
		Closure: c,
	})
	fnObj := vm.obj(fnVal)
	fnObj.setOwn(Property{Name: "name", Attrs: Configurable, Value: vm.StringValue(proto.Name)})
	fnObj.setOwn(Property{Name: "length", Attrs: Configurable, Value: NumberValue(float64(proto.Arity))})
	if !proto.IsArrow() && !proto.IsGenerator() {
		protoObj := vm.NewPlainObject()
		vm.obj(protoObj).setOwn(Property{Name: "constructor", Attrs: Writable | Configurable, Value: fnVal})
		fnObj.setOwn(Property{Name: "prototype", Attrs: Writable, Value: protoObj})
	}
	return fnVal
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// invoke calls callee from inside the dispatch loop. Script functions push a
// frame on the same fiber; native functions run as ordinary Go calls, with
// cooperative pause honored when they return.
func (vm *VM) invoke(f *Fiber, callee, this Value, args []Value, isCtor bool) error {
	if !callee.IsObject() || !vm.obj(callee).IsCallable() {
		return vm.throwError(TypeErrorKind, "%s is not a function", vm.describe(callee))
	}
	o := vm.obj(callee)

	if o.Kind == KindNative {
		res, err := o.Native.Fn(vm, this, args)
		if err != nil {
			return err
		}
		if f.pauseRequested {
			// The injected return value replaces the call's result.
			f.pauseRequested = false
			f.suspend(suspendPause)
			return nil
		}
		f.top().push(res)
		return nil
	}

	c := o.Closure
	if c.Proto.IsGenerator() {
		f.top().push(vm.newGeneratorObject(callee, this, args))
		return nil
	}
	f.frames = append(f.frames, newCallFrame(c, this, args, isCtor, vm))
	return nil
}

// construct implements the new operator.
func (vm *VM) construct(f *Fiber, callee Value, args []Value) error {
	if !callee.IsObject() || !vm.obj(callee).IsCallable() {
		return vm.throwError(TypeErrorKind, "%s is not a constructor", vm.describe(callee))
	}
	o := vm.obj(callee)
	if o.Kind == KindFunction && o.Closure.Proto.IsGenerator() {
		return vm.throwError(TypeErrorKind, "generator functions are not constructors")
	}

	inst, err := vm.newInstanceFor(callee)
	if err != nil {
		return err
	}

	if o.Kind == KindNative {
		fn := o.Native.Ctor
		if fn == nil {
			fn = o.Native.Fn
		}
		res, err := fn(vm, inst, args)
		if err != nil {
			return err
		}
		if res.IsObject() {
			f.top().push(res)
		} else {
			f.top().push(inst)
		}
		return nil
	}
	return vm.invoke(f, callee, inst, args, true)
}

// newInstanceFor allocates the this object for a construct call, using the
// callee's prototype property when it is an object.
func (vm *VM) newInstanceFor(callee Value) (Value, error) {
	protoVal, err := vm.GetProperty(callee, "prototype")
	if err != nil {
		return Undefined, err
	}
	if !protoVal.IsObject() {
		protoVal = vm.realm.proto(ProtoObject)
	}
	return vm.NewObject(protoVal), nil
}

// describe renders a value for error messages.
func (vm *VM) describe(v Value) string {
	switch {
	case v.IsString():
		return fmt.Sprintf("%q", vm.GoString(v))
	case v.IsNumber():
		return numberToString(v.Num())
	case v.IsObject():
		o := vm.obj(v)
		if o.Kind == KindFunction && o.Closure.Proto.Name != "" {
			return o.Closure.Proto.Name
		}
		if o.Kind == KindNative {
			return o.Native.Name
		}
		return "object"
	default:
		return v.TypeTag()
	}
}

// Call invokes a callable value from host context, running script functions
// on a private fiber. Generators return their generator object.
func (vm *VM) Call(callee, this Value, args []Value) (Value, error) {
	if !callee.IsObject() || !vm.obj(callee).IsCallable() {
		return Undefined, vm.throwError(TypeErrorKind, "%s is not a function", vm.describe(callee))
	}
	o := vm.obj(callee)
	if o.Kind == KindNative {
		return o.Native.Fn(vm, this, args)
	}
	c := o.Closure
	if c.Proto.IsGenerator() {
		return vm.newGeneratorObject(callee, this, args), nil
	}
	fib := &Fiber{vm: vm, state: FiberCreated, injected: Undefined, result: Undefined}
	fib.frames = []*Frame{newCallFrame(c, this, args, false, vm)}
	v, err := vm.runFiber(fib)
	if err != nil {
		return Undefined, err
	}
	if fib.state == FiberPaused {
		return Undefined, fmt.Errorf("vm: fiber paused inside a host-driven call")
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Unwinding
// ---------------------------------------------------------------------------

// raise converts an error produced during instruction execution into a
// script-level throw. Errors from Throw and nested runs carry their script
// value; any other Go error becomes a generic Error object.
func (vm *VM) raise(f *Fiber, err error) {
	switch e := err.(type) {
	case *thrown:
		vm.throwInFiber(f, e.value)
	case *RuntimeError:
		vm.throwInFiber(f, e.Value)
	default:
		vm.throwInFiber(f, vm.NewError(GenericError, "%s", err.Error()))
	}
}

// throwInFiber unwinds frame by frame until a catch or finally region
// handles the value; with none left the fiber becomes Errored and the
// driving call fails with the thrown value and a stack trace.
func (vm *VM) throwInFiber(f *Fiber, v Value) {
	trace := f.captureStack()
	for len(f.frames) > 0 {
		frame := f.top()
		for len(frame.tries) > 0 {
			r := frame.tries[len(frame.tries)-1]
			frame.tries = frame.tries[:len(frame.tries)-1]
			frame.resetScopes(r.scopeDepth)
			frame.resetStack(r.sp)
			frame.ip = r.handler
			if r.kind == TryCatch {
				frame.pending = pendingAction{}
				frame.push(v)
			} else {
				frame.pending = pendingAction{kind: pendingThrow, val: v}
			}
			return
		}
		f.frames = f.frames[:len(f.frames)-1]
	}
	msg := vm.renderThrown(v)
	f.err = &RuntimeError{Value: v, Message: msg, Stack: trace}
	f.state = FiberErrored
}

// doReturn returns from the innermost frame, draining its finally regions
// on the way out.
func (vm *VM) doReturn(f *Fiber, val Value) {
	frame := f.top()
	for len(frame.tries) > 0 {
		r := frame.tries[len(frame.tries)-1]
		frame.tries = frame.tries[:len(frame.tries)-1]
		frame.resetScopes(r.scopeDepth)
		frame.resetStack(r.sp)
		if r.kind == TryFinally {
			frame.pending = pendingAction{kind: pendingReturn, val: val}
			frame.ip = r.handler
			return
		}
	}
	vm.popFrame(f, val)
}

// popFrame removes the innermost frame, delivering val to the caller or, on
// the last frame, recording it as the fiber result.
func (vm *VM) popFrame(f *Fiber, val Value) {
	frame := f.top()
	f.frames = f.frames[:len(f.frames)-1]
	if frame.isCtor && !val.IsObject() {
		val = frame.this
	}
	if len(f.frames) == 0 {
		f.result = val
		return
	}
	f.top().push(val)
}

// drainJump pops p.ntry try regions, running finally blocks in order, then
// lands on the jump target with the scope chain cut to the target depth.
func (vm *VM) drainJump(f *Fiber, p pendingAction) {
	frame := f.top()
	for p.ntry > 0 && len(frame.tries) > 0 {
		r := frame.tries[len(frame.tries)-1]
		frame.tries = frame.tries[:len(frame.tries)-1]
		p.ntry--
		frame.resetScopes(r.scopeDepth)
		frame.resetStack(r.sp)
		if r.kind == TryFinally {
			frame.pending = p
			frame.ip = r.handler
			return
		}
	}
	frame.resetScopes(frame.ownBase + p.resume)
	frame.ip = p.target
}

// renderThrown renders a thrown value for the host-facing error message.
func (vm *VM) renderThrown(v Value) string {
	if v.IsObject() {
		name, err1 := vm.GetProperty(v, "name")
		msg, err2 := vm.GetProperty(v, "message")
		if err1 == nil && err2 == nil && name.IsString() {
			m, _ := vm.ToString(msg)
			if m == "" {
				return vm.GoString(name)
			}
			return vm.GoString(name) + ": " + m
		}
	}
	s, err := vm.ToString(v)
	if err != nil {
		return "uncaught value"
	}
	return s
}
