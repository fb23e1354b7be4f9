package vm

import (
	"fmt"
	"math"
)

// registerCorePrimitives binds every PRIMITIVE method on the sealed
// built-in classes (spec.md §4.2/§4.6) and declares each built-in
// class, plus System, as a variable of the core module so every later
// module sees them via readyModule's shallow copy (spec.md §4.8).
func (v *VM) registerCorePrimitives() {
	bind := func(c *Class, sig string, static bool, fn Primitive) {
		c.BindMethod(v.Symbol(sig), Method{Variant: MethodPrimitive, Static: static, Prim: fn})
	}

	v.registerObjectPrimitives(bind)
	v.registerNumberPrimitives(bind)
	v.registerBoolPrimitives(bind)
	v.registerNullPrimitives(bind)
	v.registerStringPrimitives(bind)
	v.registerListPrimitives(bind)
	v.registerMapPrimitives(bind)
	v.registerRangePrimitives(bind)
	v.registerFnPrimitives(bind)
	v.registerFiberPrimitives(bind)
	v.registerClassPrimitives(bind)
	v.registerSystemPrimitives(bind)
	v.registerExceptionPrimitives(bind)

	core := v.modules[""]
	for _, c := range []*Class{
		v.objectClass, v.numberClass, v.boolClass, v.nullClass, v.stringClass,
		v.listClass, v.mapClass, v.rangeClass, v.fnClass, v.fiberClass,
		v.classClass, v.systemClass, v.exceptionClass,
	} {
		core.Declare(c.Name, ObjValue(c))
	}
}

type binder func(c *Class, sig string, static bool, fn Primitive)

// -------------------------------------------------------------------
// Object: every value's implicit root (spec.md §3's Class entity,
// "empty means Object is the implicit parent").

func (v *VM) registerObjectPrimitives(bind binder) {
	c := v.objectClass
	bind(c, "==(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(Equal(a[0], a[1]))
	})
	bind(c, "!=(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(!Equal(a[0], a[1]))
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
	bind(c, "type", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(v.ClassOf(a[0]))
	})
	bind(c, "!", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(a[0].IsFalsey())
	})
}

// -------------------------------------------------------------------
// Num

func numArg(v *VM, a []Value, i int) (float64, error) {
	if !a[i].IsNumber() {
		return 0, fmt.Errorf("argument must be a number")
	}
	return a[i].AsNumber(), nil
}

func (v *VM) registerNumberPrimitives(bind binder) {
	c := v.numberClass

	arith := func(sig string, op func(a, b float64) float64) {
		bind(c, sig, false, func(v *VM, a []Value) (PrimitiveResult, Value) {
			rhs, err := numArg(v, a, 1)
			if err != nil {
				return PrimitiveError, ObjValue(newString(v, err.Error()))
			}
			return PrimitiveValue, NumberValue(op(a[0].AsNumber(), rhs))
		})
	}
	cmp := func(sig string, op func(a, b float64) bool) {
		bind(c, sig, false, func(v *VM, a []Value) (PrimitiveResult, Value) {
			rhs, err := numArg(v, a, 1)
			if err != nil {
				return PrimitiveError, ObjValue(newString(v, err.Error()))
			}
			return PrimitiveValue, BoolValue(op(a[0].AsNumber(), rhs))
		})
	}

	arith("+(_)", func(a, b float64) float64 { return a + b })
	arith("-(_)", func(a, b float64) float64 { return a - b })
	arith("*(_)", func(a, b float64) float64 { return a * b })
	arith("/(_)", func(a, b float64) float64 { return a / b })
	arith("%(_)", math.Mod)
	cmp("<(_)", func(a, b float64) bool { return a < b })
	cmp(">(_)", func(a, b float64) bool { return a > b })
	cmp("<=(_)", func(a, b float64) bool { return a <= b })
	cmp(">=(_)", func(a, b float64) bool { return a >= b })
	bind(c, "==(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(a[1].IsNumber() && a[0].AsNumber() == a[1].AsNumber())
	})

	bind(c, "-", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(-a[0].AsNumber())
	})
	bind(c, "abs", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(math.Abs(a[0].AsNumber()))
	})
	bind(c, "sqrt", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(math.Sqrt(a[0].AsNumber()))
	})
	bind(c, "floor", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(math.Floor(a[0].AsNumber()))
	})
	bind(c, "ceil", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(math.Ceil(a[0].AsNumber()))
	})
	bind(c, "isNan", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(math.IsNaN(a[0].AsNumber()))
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
	bind(c, "..(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		rhs, err := numArg(v, a, 1)
		if err != nil {
			return PrimitiveError, ObjValue(newString(v, err.Error()))
		}
		return PrimitiveValue, ObjValue(newRange(v, a[0].AsNumber(), rhs, true))
	})
	bind(c, "...(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		rhs, err := numArg(v, a, 1)
		if err != nil {
			return PrimitiveError, ObjValue(newString(v, err.Error()))
		}
		return PrimitiveValue, ObjValue(newRange(v, a[0].AsNumber(), rhs, false))
	})

	bind(c, "pi", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(math.Pi)
	})
	bind(c, "infinity", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(math.Inf(1))
	})
}

// -------------------------------------------------------------------
// Bool, Null

func (v *VM) registerBoolPrimitives(bind binder) {
	c := v.boolClass
	bind(c, "!", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(!a[0].AsBool())
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
	bind(c, "==(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(a[1].IsBool() && a[0].AsBool() == a[1].AsBool())
	})
}

func (v *VM) registerNullPrimitives(bind binder) {
	c := v.nullClass
	bind(c, "!", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, True
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, "null"))
	})
}

// -------------------------------------------------------------------
// String

func (v *VM) registerStringPrimitives(bind binder) {
	c := v.stringClass
	bind(c, "+(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		rhs, ok := a[1].AsObj().(*String)
		if !a[1].IsObj() || !ok {
			return PrimitiveError, ObjValue(newString(v, "Right operand must be a string."))
		}
		return PrimitiveValue, ObjValue(newString(v, a[0].AsObj().(*String).s+rhs.s))
	})
	bind(c, "==(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(Equal(a[0], a[1]))
	})
	bind(c, "length", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(float64(a[0].AsObj().(*String).Len()))
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, a[0]
	})
	bind(c, "[_]", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		s := []rune(a[0].AsObj().(*String).s)
		idx, err := numArg(v, a, 1)
		if err != nil {
			return PrimitiveError, ObjValue(newString(v, err.Error()))
		}
		i := int(idx)
		if i < 0 {
			i += len(s)
		}
		if i < 0 || i >= len(s) {
			return PrimitiveError, ObjValue(newString(v, "String index out of bounds."))
		}
		return PrimitiveValue, ObjValue(newString(v, string(s[i])))
	})
	bind(c, "contains(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		rhs, ok := a[1].AsObj().(*String)
		if !a[1].IsObj() || !ok {
			return PrimitiveError, ObjValue(newString(v, "Argument must be a string."))
		}
		self := a[0].AsObj().(*String).s
		found := false
		if len(rhs.s) == 0 {
			found = true
		} else {
			for i := 0; i+len(rhs.s) <= len(self); i++ {
				if self[i:i+len(rhs.s)] == rhs.s {
					found = true
					break
				}
			}
		}
		return PrimitiveValue, BoolValue(found)
	})
}

// -------------------------------------------------------------------
// List

func (v *VM) registerListPrimitives(bind binder) {
	c := v.listClass
	bind(c, "new()", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newList(v, nil))
	})
	bind(c, "add(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		a[0].AsObj().(*List).Add(a[1])
		return PrimitiveValue, a[1]
	})
	bind(c, "count", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(float64(len(a[0].AsObj().(*List).Items)))
	})
	bind(c, "[_]", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		l := a[0].AsObj().(*List)
		idx, err := numArg(v, a, 1)
		if err != nil {
			return PrimitiveError, ObjValue(newString(v, err.Error()))
		}
		i := int(idx)
		if i < 0 {
			i += len(l.Items)
		}
		if i < 0 || i >= len(l.Items) {
			return PrimitiveError, ObjValue(newString(v, "List index out of bounds."))
		}
		return PrimitiveValue, l.Items[i]
	})
	bind(c, "[_]=(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		l := a[0].AsObj().(*List)
		idx, err := numArg(v, a, 1)
		if err != nil {
			return PrimitiveError, ObjValue(newString(v, err.Error()))
		}
		i := int(idx)
		if i < 0 {
			i += len(l.Items)
		}
		if i < 0 || i >= len(l.Items) {
			return PrimitiveError, ObjValue(newString(v, "List index out of bounds."))
		}
		l.Items[i] = a[2]
		return PrimitiveValue, a[2]
	})
	bind(c, "removeAt(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		l := a[0].AsObj().(*List)
		idx, err := numArg(v, a, 1)
		if err != nil {
			return PrimitiveError, ObjValue(newString(v, err.Error()))
		}
		i := int(idx)
		if i < 0 || i >= len(l.Items) {
			return PrimitiveError, ObjValue(newString(v, "List index out of bounds."))
		}
		removed := l.Items[i]
		l.Items = append(l.Items[:i], l.Items[i+1:]...)
		return PrimitiveValue, removed
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
}

// -------------------------------------------------------------------
// Map

func (v *VM) registerMapPrimitives(bind binder) {
	c := v.mapClass
	bind(c, "new()", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newMap(v))
	})
	bind(c, "[_]", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		m := a[0].AsObj().(*Map)
		if !Hashable(a[1]) {
			return PrimitiveError, ObjValue(newString(v, "Key must be hashable."))
		}
		val, ok := m.Get(a[1])
		if !ok {
			return PrimitiveValue, Null
		}
		return PrimitiveValue, val
	})
	bind(c, "[_]=(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		m := a[0].AsObj().(*Map)
		if !Hashable(a[1]) {
			return PrimitiveError, ObjValue(newString(v, "Key must be hashable."))
		}
		m.Set(a[1], a[2])
		return PrimitiveValue, a[2]
	})
	bind(c, "containsKey(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		m := a[0].AsObj().(*Map)
		_, ok := m.Get(a[1])
		return PrimitiveValue, BoolValue(ok)
	})
	bind(c, "remove(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		m := a[0].AsObj().(*Map)
		val, ok := m.Remove(a[1])
		if !ok {
			return PrimitiveValue, Null
		}
		return PrimitiveValue, val
	})
	bind(c, "count", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(float64(a[0].AsObj().(*Map).Count()))
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
}

// -------------------------------------------------------------------
// Range

func (v *VM) registerRangePrimitives(bind binder) {
	c := v.rangeClass
	bind(c, "from", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(a[0].AsObj().(*Range).From)
	})
	bind(c, "to", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, NumberValue(a[0].AsObj().(*Range).To)
	})
	bind(c, "isInclusive", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(a[0].AsObj().(*Range).Inclusive)
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
}

// -------------------------------------------------------------------
// Fn: calling a function/closure value forwards straight back through
// dispatch's PrimitiveCall action (interpreter.go), so one primitive
// per declared arity is all that's needed.

func (v *VM) registerFnPrimitives(bind binder) {
	c := v.fnClass
	forward := func(v *VM, a []Value) (PrimitiveResult, Value) { return PrimitiveCall, a[0] }
	bind(c, "call()", false, forward)
	for n := 1; n <= 16; n++ {
		sig := "call("
		for i := 0; i < n; i++ {
			if i > 0 {
				sig += ","
			}
			sig += "_"
		}
		sig += ")"
		bind(c, sig, false, forward)
	}
}

// -------------------------------------------------------------------
// Fiber

func asClosure(v *VM, val Value) (*Closure, bool) {
	if !val.IsObj() {
		return nil, false
	}
	switch o := val.AsObj().(type) {
	case *Closure:
		return o, true
	case *Fn:
		return wrapClosure(v, o), true
	}
	return nil, false
}

func (v *VM) registerFiberPrimitives(bind binder) {
	c := v.fiberClass
	bind(c, "new(_)", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		closure, ok := asClosure(v, a[1])
		if !ok {
			return PrimitiveError, ObjValue(newString(v, "Fiber.new(_) argument must be a function."))
		}
		return PrimitiveValue, ObjValue(newFiber(v, closure))
	})
	bind(c, "current", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(v.fiber)
	})
	bind(c, "yield()", true, fiberYield)
	bind(c, "yield(_)", true, fiberYield)

	bind(c, "call()", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return fiberTransfer(v, a, false)
	})
	bind(c, "call(_)", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return fiberTransfer(v, a, false)
	})
	bind(c, "try()", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return fiberTransfer(v, a, true)
	})
	bind(c, "isDone", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, BoolValue(a[0].AsObj().(*Fiber).IsDone())
	})
	bind(c, "error", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, a[0].AsObj().(*Fiber).errorValue
	})
}

// fiberTransfer implements call()/call(_)/try(), per spec.md §4.7's
// "callerIsTrying" protocol: the target fiber's caller becomes the
// currently-running one, it receives the resume value pushed onto its
// own stack (continuing right after whatever suspended it, whether
// that was its first call or a prior yield), and control transfers via
// PrimitiveRunFiber.
func fiberTransfer(v *VM, a []Value, trying bool) (PrimitiveResult, Value) {
	target := a[0].AsObj().(*Fiber)
	if target.state == fiberDone || len(target.frames) == 0 {
		return PrimitiveError, ObjValue(newString(v, "Cannot call a finished fiber."))
	}
	if target.caller != nil {
		return PrimitiveError, ObjValue(newString(v, "Fiber has already been called."))
	}
	val := Null
	if len(a) > 1 {
		val = a[1]
	}
	target.caller = v.fiber
	target.callerIsTrying = trying
	target.push(val)
	return PrimitiveRunFiber, ObjValue(target)
}

func fiberYield(v *VM, a []Value) (PrimitiveResult, Value) {
	self := v.fiber
	caller := self.caller
	if caller == nil {
		return PrimitiveRunFiber, Null
	}
	val := Null
	if len(a) > 1 {
		val = a[1]
	}
	self.caller = nil
	self.callerIsTrying = false
	caller.push(val)
	return PrimitiveRunFiber, ObjValue(caller)
}

// -------------------------------------------------------------------
// Class introspection

func (v *VM) registerClassPrimitives(bind binder) {
	c := v.classClass
	bind(c, "name", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].AsObj().(*Class).Name))
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, ObjValue(newString(v, a[0].String()))
	})
}

// -------------------------------------------------------------------
// System: static-only host interaction, spec.md §4.10's print sink.

func (v *VM) registerSystemPrimitives(bind binder) {
	c := v.systemClass
	bind(c, "print(_)", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		fmt.Fprintln(v.config.Print, a[1].String())
		return PrimitiveValue, a[1]
	})
	bind(c, "write(_)", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		fmt.Fprint(v.config.Print, a[1].String())
		return PrimitiveValue, a[1]
	})
}

// -------------------------------------------------------------------
// Exception: fields[0] is the message, fields[1] the frozen stack
// trace (spec.md §4.7).

func (v *VM) registerExceptionPrimitives(bind binder) {
	c := v.exceptionClass
	bind(c, "new(_)", true, func(v *VM, a []Value) (PrimitiveResult, Value) {
		inst := newInstance(v, v.exceptionClass)
		inst.Fields[0] = ObjValue(newString(v, a[1].String()))
		inst.Fields[1] = ObjValue(newList(v, nil))
		return PrimitiveValue, ObjValue(inst)
	})
	bind(c, "message", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, a[0].AsObj().(*Instance).Fields[0]
	})
	bind(c, "stackTrace", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, a[0].AsObj().(*Instance).Fields[1]
	})
	bind(c, "toString", false, func(v *VM, a []Value) (PrimitiveResult, Value) {
		return PrimitiveValue, a[0].AsObj().(*Instance).Fields[0]
	})
}
