package vm

import (
	"fmt"

	"github.com/kristofer/udog/pkg/bytecode"
)

// ForeignCall is the window a FOREIGN method reads its receiver and
// arguments from and writes its result into, per spec.md §4.10: base
// is the receiver's stack slot, count is the window width (receiver
// included), and a foreign function must call one of the Return*
// methods exactly once or the VM fills the slot with null itself.
type ForeignCall struct {
	vm    *VM
	fiber *Fiber
	base  int
	count int

	returned bool
	err      error
}

// Count is the number of values in the window, including the receiver.
func (fc *ForeignCall) Count() int { return fc.count }

// Argument returns the raw Value at window index i (0 is the receiver).
func (fc *ForeignCall) Argument(i int) Value {
	if i < 0 || i >= fc.count {
		return Null
	}
	return fc.fiber.stack[fc.base+i]
}

// ArgumentNumber type-coerces argument i, per spec.md §6's "type-coerced
// variants for bool/number/string".
func (fc *ForeignCall) ArgumentNumber(i int) (float64, bool) {
	v := fc.Argument(i)
	if !v.IsNumber() {
		return 0, false
	}
	return v.AsNumber(), true
}

func (fc *ForeignCall) ArgumentBool(i int) (bool, bool) {
	v := fc.Argument(i)
	if !v.IsBool() {
		return false, false
	}
	return v.AsBool(), true
}

func (fc *ForeignCall) ArgumentString(i int) (string, bool) {
	v := fc.Argument(i)
	if !v.IsObj() {
		return "", false
	}
	s, ok := v.AsObj().(*String)
	if !ok {
		return "", false
	}
	return s.s, true
}

// ArgumentInstance returns argument i's Instance, for foreign methods
// defined on a host-registered class.
func (fc *ForeignCall) ArgumentInstance(i int) (*Instance, bool) {
	v := fc.Argument(i)
	if !v.IsObj() {
		return nil, false
	}
	inst, ok := v.AsObj().(*Instance)
	return inst, ok
}

func (fc *ForeignCall) markReturned() {
	if fc.returned {
		fc.vm.fatal("foreign method %v returned more than once", fc.fiber)
	}
	fc.returned = true
}

// Return writes val into the receiver slot. Every other Return* helper
// is sugar over this (spec.md §6: "return exactly once per call").
func (fc *ForeignCall) Return(val Value) {
	fc.markReturned()
	fc.fiber.stack[fc.base] = val
}

func (fc *ForeignCall) ReturnNumber(n float64) { fc.Return(NumberValue(n)) }
func (fc *ForeignCall) ReturnBool(b bool)      { fc.Return(BoolValue(b)) }
func (fc *ForeignCall) ReturnNull()            { fc.Return(Null) }

// ReturnString copies s into the VM heap, per spec.md §6's "returning a
// string copies into the VM heap".
func (fc *ForeignCall) ReturnString(s string) { fc.Return(ObjValue(newString(fc.vm, s))) }

// RaiseError raises msg as the foreign method's result instead of
// returning normally; dispatch (interpreter.go) propagates it as the
// CALL's error once this foreign method returns.
func (fc *ForeignCall) RaiseError(msg string) {
	fc.markReturned()
	fc.err = fc.vm.raiseMessage(fc.fiber, msg)
}

// -------------------------------------------------------------------
// Host handles (spec.md §4.10/§6): an opaque integer key into the
// VM's host-object Table, recycled via a freelist so a long-lived
// embedder never grows the table unboundedly from create/release
// churn.

// newHandle stores val under a fresh or recycled key.
func (v *VM) newHandle(val Value) int {
	var key int
	if n := len(v.hostFreeList); n > 0 {
		key = v.hostFreeList[n-1]
		v.hostFreeList = v.hostFreeList[:n-1]
	} else {
		key = v.hostNext
		v.hostNext++
	}
	v.hostTable.Set(key, val)
	return key
}

// NewNumberHandle, NewBoolHandle, NewNullHandle, NewStringHandle,
// NewListHandle and NewMapHandle create the host-visible value kinds
// spec.md §6 lists under "Handles: create".
func (v *VM) NewNumberHandle(n float64) int  { return v.newHandle(NumberValue(n)) }
func (v *VM) NewBoolHandle(b bool) int       { return v.newHandle(BoolValue(b)) }
func (v *VM) NewNullHandle() int             { return v.newHandle(Null) }
func (v *VM) NewStringHandle(s string) int   { return v.newHandle(ObjValue(newString(v, s))) }
func (v *VM) NewListHandle() int             { return v.newHandle(ObjValue(newList(v, nil))) }
func (v *VM) NewMapHandle() int              { return v.newHandle(ObjValue(newMap(v))) }

// ReleaseHandle drops key from the host table and returns it to the
// freelist for reuse.
func (v *VM) ReleaseHandle(key int) {
	v.hostTable.Delete(key)
	v.hostFreeList = append(v.hostFreeList, key)
}

func (v *VM) handleValue(key int) (Value, error) {
	val, ok := v.hostTable.Get(key)
	if !ok {
		return Null, fmt.Errorf("udog: unknown host handle %d", key)
	}
	return val, nil
}

// ListHandleAdd appends itemHandle's value to listHandle's List.
func (v *VM) ListHandleAdd(listHandle, itemHandle int) error {
	lv, err := v.handleValue(listHandle)
	if err != nil {
		return err
	}
	l, ok := lv.AsObj().(*List)
	if !ok {
		return fmt.Errorf("udog: handle %d is not a list", listHandle)
	}
	item, err := v.handleValue(itemHandle)
	if err != nil {
		return err
	}
	l.Add(item)
	return nil
}

// MapHandleSet sets keyHandle -> valHandle in mapHandle's Map.
func (v *VM) MapHandleSet(mapHandle, keyHandle, valHandle int) error {
	mv, err := v.handleValue(mapHandle)
	if err != nil {
		return err
	}
	m, ok := mv.AsObj().(*Map)
	if !ok {
		return fmt.Errorf("udog: handle %d is not a map", mapHandle)
	}
	key, err := v.handleValue(keyHandle)
	if err != nil {
		return err
	}
	if !Hashable(key) {
		return fmt.Errorf("udog: handle %d is not hashable", keyHandle)
	}
	val, err := v.handleValue(valHandle)
	if err != nil {
		return err
	}
	m.Set(key, val)
	return nil
}

// HandleAsNumber, HandleAsBool and HandleAsString read a handle's
// payload back out to the host, the "read number/bool/string ...
// payload" operations of spec.md §6.
func (v *VM) HandleAsNumber(h int) (float64, bool) {
	val, err := v.handleValue(h)
	if err != nil || !val.IsNumber() {
		return 0, false
	}
	return val.AsNumber(), true
}

func (v *VM) HandleAsBool(h int) (bool, bool) {
	val, err := v.handleValue(h)
	if err != nil || !val.IsBool() {
		return false, false
	}
	return val.AsBool(), true
}

func (v *VM) HandleAsString(h int) (string, bool) {
	val, err := v.handleValue(h)
	if err != nil || !val.IsObj() {
		return "", false
	}
	s, ok := val.AsObj().(*String)
	if !ok {
		return "", false
	}
	return s.s, true
}

// HandleInstancePayload reads instance field idx of handle h, itself
// returned as a freshly allocated handle.
func (v *VM) HandleInstancePayload(h int, idx int) (int, bool) {
	val, err := v.handleValue(h)
	if err != nil || !val.IsObj() {
		return 0, false
	}
	inst, ok := val.AsObj().(*Instance)
	if !ok || idx < 0 || idx >= len(inst.Fields) {
		return 0, false
	}
	return v.newHandle(inst.Fields[idx]), true
}

// -------------------------------------------------------------------
// Class/method registration (spec.md §6's "Class/method registration"
// bullet). fieldCount plays the role of the original's
// instance-size-in-bytes: this is a Go port, so instances are
// Value-slotted rather than raw byte buffers, and a field count is the
// idiomatic equivalent (see DESIGN.md).

// DefineClass registers a new class in mod, inheriting from parent (or
// Object if parent is nil), with fieldCount instance fields, and binds
// it to a module variable of the same name.
func (v *VM) DefineClass(mod *Module, name string, fieldCount int, parent *Class) (*Class, error) {
	var supers []*Class
	if parent != nil {
		supers = []*Class{parent}
	}
	c, err := v.NewClass(name, fieldCount, supers)
	if err != nil {
		return nil, err
	}
	mod.Declare(name, ObjValue(c))
	return c, nil
}

// DefineInstanceMethod and DefineStaticMethod register a FOREIGN
// method under signature on c (or c's metaclass, for static).
func (v *VM) DefineInstanceMethod(c *Class, signature string, fn Foreign) {
	c.BindMethod(v.Symbol(signature), Method{Variant: MethodForeign, Foreign: fn})
}

func (v *VM) DefineStaticMethod(c *Class, signature string, fn Foreign) {
	c.BindMethod(v.Symbol(signature), Method{Variant: MethodForeign, Static: true, Foreign: fn})
}

// DefineDestructor registers fn to run on instances of c at sweep time
// (spec.md §3's "destructor sees the raw field region").
func (v *VM) DefineDestructor(c *Class, fn func(*Instance)) { c.Destruct = fn }

// RemoveMethod un-registers a previously bound selector, matching
// spec.md §6's "remove variable/method" operation.
func (v *VM) RemoveMethod(c *Class, signature string) {
	sym := v.Symbol(signature)
	target := c
	if sym < len(c.Methods) && c.Methods[sym].Static {
		target = c.Meta
	}
	if sym >= 0 && sym < len(target.Methods) {
		target.Methods[sym] = Method{Variant: MethodNone}
	}
}

// RemoveVariable deletes name from mod, so later IMPORT_VARIABLE/
// LOAD_MODULE_VAR lookups fail the way an unresolved symbol would.
func (v *VM) RemoveVariable(mod *Module, name string) {
	i := mod.indexOf(name)
	if i < 0 {
		return
	}
	mod.Names = append(mod.Names[:i], mod.Names[i+1:]...)
	mod.Variables = append(mod.Variables[:i], mod.Variables[i+1:]...)
}

// -------------------------------------------------------------------
// Method invocation from the host (spec.md §4.10/§6): a MethodHandle
// wraps a one-instruction-long stub Fn (CALL_n, RETURN, END) and a
// Fiber whose stack bottom holds the receiver, built once per
// signature/arity and reset to its pristine state after every call so
// it can be reused indefinitely.

type MethodHandle struct {
	vm      *VM
	argc    int
	symbol  int
	closure *Closure
	fiber   *Fiber
}

// MakeMethodHandle builds a reusable call stub for signature, which
// must describe argc arguments (not counting the receiver).
func (v *VM) MakeMethodHandle(signature string, argc int) (*MethodHandle, error) {
	if argc < 0 || argc > 16 {
		return nil, fmt.Errorf("udog: method handle argument count %d out of range", argc)
	}
	sym := v.Symbol(signature)
	code := []byte{byte(bytecode.OpCall0 + bytecode.Opcode(argc))}
	code = append(code, bytecode.PutUint16(sym)...)
	code = append(code, byte(bytecode.OpReturn), byte(bytecode.OpEnd))

	proto := &bytecode.Fn{
		Code:      code,
		Constants: nil,
		Arity:     0, NumUpvalues: 0, NumSlots: argc + 1,
		Module: "",
		Debug:  &bytecode.DebugInfo{Name: "<method handle " + signature + ">"},
	}
	fn := newFn(v, proto, nil)
	closure := newClosure(v, fn, nil)
	fiber := newFiber(v, closure)
	fiber.state = fiberRoot
	return &MethodHandle{vm: v, argc: argc, symbol: sym, closure: closure, fiber: fiber}, nil
}

// Call invokes the handle against receiver and argHandles (each a host
// handle), returning a freshly allocated handle for the result.
func (h *MethodHandle) Call(receiver int, argHandles ...int) (int, error) {
	if len(argHandles) != h.argc {
		return 0, fmt.Errorf("udog: method handle expects %d arguments, got %d", h.argc, len(argHandles))
	}
	recv, err := h.vm.handleValue(receiver)
	if err != nil {
		return 0, err
	}

	h.resetFiber()
	h.fiber.push(recv)
	for _, ah := range argHandles {
		av, err := h.vm.handleValue(ah)
		if err != nil {
			return 0, err
		}
		h.fiber.push(av)
	}

	result, err := h.vm.RunFiber(h.fiber)
	if err != nil {
		return 0, err
	}
	return h.vm.newHandle(result), nil
}

// resetFiber restores the stub fiber to its pristine, zero-argument-
// window state so Call can push a fresh window on top of frame 0 again
// (spec.md §4.10: "fiber is reset to its pristine state after each
// invocation").
func (h *MethodHandle) resetFiber() {
	f := h.fiber
	f.stackTop = 0
	f.frames = f.frames[:0]
	f.openUpvalues = nil
	f.errorValue = Null
	f.state = fiberRoot
	if err := f.pushFrame(h.closure, 0); err != nil {
		h.vm.fatal("%s", err.Error())
	}
}
