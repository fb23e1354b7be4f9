package vm

import (
	"fmt"

	"github.com/kristofer/udog/pkg/bytecode"
)

// interpret is the dispatch loop spec.md §4.5 describes: a switch over
// the opcode stream. It runs `start` until either the whole fiber
// chain it is part of empties (program result is returned) or an
// unhandled raise propagates out as an error. A CALL/SUPER that
// transfers fibers, or a primitive returning RUN_FIBER, just
// reassigns the fiber this loop is operating on and continues — no Go
// call stack growth per script call, matching spec.md §5's "only
// suspension points are RUN_FIBER transfer or loop exit".
func (v *VM) interpret(start *Fiber) (Value, error) {
	v.fiber = start
	for {
		f := v.fiber
		if len(f.frames) == 0 {
			f.state = fiberDone
			if f.stackTop > 0 {
				return f.stack[f.stackTop-1], nil
			}
			return Null, nil
		}

		frame := f.currentFrame()
		proto := frame.Closure.Proto.Proto
		code := proto.Code
		op := bytecode.Opcode(code[frame.PC])
		frame.PC++

		switch {
		case op == bytecode.OpNull:
			f.push(Null)
		case op == bytecode.OpTrue:
			f.push(True)
		case op == bytecode.OpFalse:
			f.push(False)
		case op == bytecode.OpPop:
			f.pop()
		case op == bytecode.OpDup:
			f.push(f.peek(0))
		case op == bytecode.OpConstant:
			idx := f.readU16(frame)
			f.push(proto.Constants[idx].(Value))

		case op >= bytecode.OpLoadLocal0 && op <= bytecode.OpLoadLocal8:
			slot := int(op - bytecode.OpLoadLocal0)
			f.push(f.stack[frame.Base+slot])
		case op == bytecode.OpLoadLocal:
			slot := f.readU16(frame)
			f.push(f.stack[frame.Base+slot])
		case op == bytecode.OpStoreLocal:
			slot := f.readU16(frame)
			f.stack[frame.Base+slot] = f.peek(0)

		case op == bytecode.OpLoadModuleVar:
			idx := f.readU16(frame)
			f.push(frame.Closure.Proto.Mod.Variables[idx])
		case op == bytecode.OpStoreModuleVar:
			idx := f.readU16(frame)
			frame.Closure.Proto.Mod.Variables[idx] = f.peek(0)

		case op == bytecode.OpLoadFieldThis:
			idx := f.readU16(frame)
			this := f.stack[frame.Base].AsObj().(*Instance)
			f.push(this.Fields[idx])
		case op == bytecode.OpStoreFieldThis:
			idx := f.readU16(frame)
			this := f.stack[frame.Base].AsObj().(*Instance)
			this.Fields[idx] = f.peek(0)
		case op == bytecode.OpLoadField:
			idx := f.readU16(frame)
			recv := f.pop().AsObj().(*Instance)
			f.push(recv.Fields[idx])
		case op == bytecode.OpStoreField:
			idx := f.readU16(frame)
			val := f.pop()
			recv := f.pop().AsObj().(*Instance)
			recv.Fields[idx] = val
			f.push(val)

		case op == bytecode.OpJump:
			off := f.readU16(frame)
			frame.PC += off
		case op == bytecode.OpLoop:
			off := f.readU16(frame)
			frame.PC -= off
		case op == bytecode.OpJumpIf:
			off := f.readU16(frame)
			if f.pop().IsFalsey() {
				frame.PC += off
			}
		case op == bytecode.OpAnd:
			off := f.readU16(frame)
			if f.peek(0).IsFalsey() {
				frame.PC += off
			} else {
				f.pop()
			}
		case op == bytecode.OpOr:
			off := f.readU16(frame)
			if f.peek(0).IsFalsey() {
				f.pop()
			} else {
				frame.PC += off
			}

		case op == bytecode.OpReturn:
			val := f.pop()
			base := frame.Base
			f.closeUpvaluesFrom(base)
			f.popFrame()
			if len(f.frames) == 0 {
				if f.caller != nil {
					caller := f.caller
					f.caller = nil
					f.state = fiberDone
					caller.push(val)
					v.fiber = caller
				} else {
					f.stackTop = base
					f.push(val)
					f.state = fiberDone
					return val, nil
				}
			} else {
				f.stackTop = base
				f.push(val)
			}

		case op == bytecode.OpEnd:
			// no-op marker; RETURN always precedes it.

		case op == bytecode.OpBreak:
			if v.debugMode && v.config.DebugHook != nil {
				v.config.DebugHook(v, f)
			}

		case op == bytecode.OpClosure:
			protoIdx := f.readU16(frame)
			nested := proto.Constants[protoIdx].(*bytecode.Fn)
			ups := make([]*Upvalue, nested.NumUpvalues)
			for i := 0; i < nested.NumUpvalues; i++ {
				isLocal := code[frame.PC]
				index := int(code[frame.PC+1])
				frame.PC += 2
				if isLocal != 0 {
					ups[i] = f.captureUpvalue(v, frame.Base+index)
				} else {
					ups[i] = frame.Closure.Upvalues[index]
				}
			}
			fn := newFn(v, nested, frame.Closure.Proto.Mod)
			f.push(ObjValue(newClosure(v, fn, ups)))
		case op == bytecode.OpLoadUpvalue:
			idx := f.readU16(frame)
			f.push(frame.Closure.Upvalues[idx].Get())
		case op == bytecode.OpStoreUpvalue:
			idx := f.readU16(frame)
			frame.Closure.Upvalues[idx].Set(f.peek(0))
		case op == bytecode.OpCloseUpvalue:
			f.closeUpvaluesFrom(f.stackTop - 1)
			f.pop()

		case op == bytecode.OpIs:
			classVal := f.pop()
			recv := f.pop()
			cls, ok := classVal.AsObj().(*Class)
			if !classVal.IsObj() || !ok {
				if err := v.raiseMessage(f, "Right operand of 'is' must be a class."); err != nil {
					return Null, err
				}
				continue
			}
			f.push(BoolValue(v.ClassOf(recv).IsSubclassOf(cls)))

		case op == bytecode.OpClass:
			numFields := f.readU16(frame)
			numSupers := f.readU16(frame)
			supers := make([]*Class, numSupers)
			for i := numSupers - 1; i >= 0; i-- {
				val := f.pop()
				if val.IsNull() {
					supers[i] = v.objectClass
					continue
				}
				c, ok := val.AsObj().(*Class)
				if !val.IsObj() || !ok {
					if err := v.raiseMessage(f, "Superclass must be a class."); err != nil {
						return Null, err
					}
					continue
				}
				supers[i] = c
			}
			nameVal := f.pop()
			name := nameVal.AsObj().(*String).s
			cls, err := v.NewClass(name, numFields, supers)
			if err != nil {
				if rerr := v.raiseMessage(f, err.Error()); rerr != nil {
					return Null, rerr
				}
				continue
			}
			f.push(ObjValue(cls))
		case op == bytecode.OpMethodInstance, op == bytecode.OpMethodStatic:
			symbol := f.readU16(frame)
			methodVal := f.pop()
			classVal := f.pop()
			cls := classVal.AsObj().(*Class)
			m := Method{Variant: MethodBlock, Static: op == bytecode.OpMethodStatic}
			switch mo := methodVal.AsObj().(type) {
			case *Fn:
				m.Fn = mo
			case *Closure:
				m.Fn = mo.Proto
			}
			cls.BindMethod(symbol, m)
			f.push(classVal)

		case op == bytecode.OpLoadModule:
			idx := f.readU16(frame)
			name := proto.Constants[idx].(Value).AsObj().(*String).s
			mod, err := v.Import(name)
			if err != nil {
				if rerr := v.raiseMessage(f, err.Error()); rerr != nil {
					return Null, rerr
				}
				continue
			}
			f.push(ObjValue(mod))
		case op == bytecode.OpImportVariable:
			modIdx := f.readU16(frame)
			nameIdx := f.readU16(frame)
			modName := proto.Constants[modIdx].(Value).AsObj().(*String).s
			varName := proto.Constants[nameIdx].(Value).AsObj().(*String).s
			mod, ok := v.modules[modName]
			if !ok {
				if rerr := v.raiseMessage(f, fmt.Sprintf("Module %q is not loaded.", modName)); rerr != nil {
					return Null, rerr
				}
				continue
			}
			i := mod.indexOf(varName)
			if i < 0 {
				if rerr := v.raiseMessage(f, fmt.Sprintf("Module %q has no variable %q.", modName, varName)); rerr != nil {
					return Null, rerr
				}
				continue
			}
			f.push(mod.Variables[i])
		case op == bytecode.OpModule:
			f.readU16(frame) // codegen-only marker; no runtime effect

		default:
			if argCount, ok := bytecode.IsCall(op); ok {
				symbol := f.readU16(frame)
				if err := v.dispatch(f, symbol, argCount+1, nil); err != nil {
					return Null, err
				}
				continue
			}
			if argCount, ok := bytecode.IsSuper(op); ok {
				symbol := f.readU16(frame)
				listIdx := f.readU16(frame)
				list, _ := proto.Constants[listIdx].([]int)
				if err := v.dispatch(f, symbol, argCount+1, list); err != nil {
					return Null, err
				}
				continue
			}
			v.fatal("unknown opcode %d at pc %d", op, frame.PC-1)
		}
	}
}

func (f *Fiber) readU16(frame *CallFrame) int {
	n := bytecode.ReadUint16(frame.Closure.Proto.Proto.Code, frame.PC)
	frame.PC += bytecode.OperandWidth
	return n
}

// resolveSuperIndexList walks list, starting from receiverClass,
// stepping into Superclasses[idx] at each entry (spec.md §4.2's
// super-index list, sequentially resolved).
func resolveSuperIndexList(receiverClass *Class, list []int) *Class {
	cur := receiverClass
	for _, idx := range list {
		if idx < 0 || idx >= len(cur.Superclasses) {
			return cur
		}
		cur = cur.Superclasses[idx]
	}
	return cur
}

// dispatch performs a CALL (superList == nil) or SUPER (superList !=
// nil) with windowSize values already on the stack (receiver first),
// per spec.md §4.2/§4.6.
func (v *VM) dispatch(f *Fiber, symbol, windowSize int, superList []int) error {
	base := f.stackTop - windowSize
	receiver := f.stack[base]

	var class *Class
	if superList != nil {
		class = resolveSuperIndexList(v.ClassOf(receiver), superList)
	} else {
		class = v.ClassOf(receiver)
	}

	m, ok := lookupUp(class, symbol)
	if !ok {
		return v.raiseMessage(f, fmt.Sprintf("%s does not implement '%s'.", class.Name, v.SymbolName(symbol)))
	}

	switch m.Variant {
	case MethodPrimitive:
		args := f.stack[base:f.stackTop]
		result, val := m.Prim(v, args)
		switch result {
		case PrimitiveValue:
			f.stackTop = base
			f.push(val)
		case PrimitiveNone:
			// stack already holds the right value(s); nothing to do
		case PrimitiveCall:
			f.stack[base] = val
			return v.callValue(f, val, windowSize)
		case PrimitiveRunFiber:
			f.stackTop = base
			if val.IsNull() {
				return nil
			}
			// target fiber transfer is handled by the primitive itself
			// (it mutates caller/callerIsTrying before returning this
			// action); we only need to switch which fiber the loop runs.
			v.fiber = val.AsObj().(*Fiber)
		case PrimitiveError:
			f.stackTop = base
			return v.raiseValue(f, val)
		}
	case MethodForeign:
		fc := &ForeignCall{vm: v, fiber: f, base: base, count: windowSize}
		m.Foreign(fc)
		if fc.err != nil {
			f.stackTop = base
			return fc.err
		}
		if !fc.returned {
			f.stack[base] = Null
		}
		f.stackTop = base + 1
	case MethodBlock:
		return v.callValue(f, ObjValue(wrapClosure(v, m.Fn)), windowSize)
	}
	return nil
}

// lookupUp searches class and then, for safety with multi-level
// manual super chains, its primary superclass — binding already copied
// every inherited selector down during NewClass, so in practice this
// resolves in one step.
func lookupUp(class *Class, symbol int) (Method, bool) {
	for c := class; c != nil; c = c.primarySuperclass() {
		if m, ok := c.LookupMethod(symbol); ok {
			return m, true
		}
	}
	return Method{}, false
}

// wrapClosure returns a reusable zero-upvalue Closure for a class
// method's prototype Fn. Methods with free variables are impossible —
// a method body's own CLOSURE instructions create their own closures
// at the point they're needed — so every Method.Fn here has
// NumUpvalues == 0 and the wrapper can be cached on the Fn itself.
func wrapClosure(v *VM, fn *Fn) *Closure {
	if fn.cachedClosure == nil {
		fn.cachedClosure = newClosure(v, fn, nil)
	}
	return fn.cachedClosure
}

// callValue invokes val (a Closure, or a Fn with no free variables)
// against the windowSize-wide argument window starting at the
// caller's current stack top - windowSize.
func (v *VM) callValue(f *Fiber, val Value, windowSize int) error {
	base := f.stackTop - windowSize
	var closure *Closure
	switch o := val.AsObj().(type) {
	case *Closure:
		closure = o
	case *Fn:
		closure = wrapClosure(v, o)
	default:
		return v.raiseMessage(f, "Can only call functions or closures.")
	}
	if err := f.pushFrame(closure, base); err != nil {
		v.fatal("%s", err.Error())
	}
	return nil
}

func (v *VM) raiseMessage(f *Fiber, msg string) error {
	return v.raiseValue(f, ObjValue(newString(v, msg)))
}

// raiseValue implements spec.md §4.7: build (or refresh) an Exception
// instance carrying message + a freshly captured stack trace, store it
// in the fiber's error slot, and either hand it to a trying caller or
// surface it as an unhandled RuntimeError.
func (v *VM) raiseValue(f *Fiber, val Value) error {
	trace := captureStackTrace(f)
	exc := v.asException(val, trace)
	f.errorValue = ObjValue(exc)

	if f.callerIsTrying && f.caller != nil {
		caller := f.caller
		f.caller = nil
		f.callerIsTrying = false
		caller.push(ObjValue(exc))
		v.fiber = caller
		return nil
	}

	rerr := newRuntimeError(exc.Fields[0].String(), trace)
	fmt.Fprintln(v.config.Print, rerr.Error())
	return rerr
}
