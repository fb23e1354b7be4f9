package vm

import (
	"testing"

	"github.com/kristofer/udog/pkg/bytecode"
)

func trivialClosure(v *VM, mod *Module) *Closure {
	proto := &bytecode.Fn{
		Code:     []byte{byte(bytecode.OpNull), byte(bytecode.OpReturn), byte(bytecode.OpEnd)},
		NumSlots: 1,
		Debug:    &bytecode.DebugInfo{Name: "<fiber body>"},
	}
	return newClosure(v, newFn(v, proto, mod), nil)
}

// TestFiberTransferAndYield exercises the caller/callerIsTrying
// hand-off spec.md §4.7 describes, without going through the
// interpreter loop: fiberTransfer and fiberYield are the two halves of
// that protocol and are exercised directly against two fibers.
func TestFiberTransferAndYield(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]

	main := newFiber(v, trivialClosure(v, mod))
	v.fiber = main

	child := newFiber(v, trivialClosure(v, mod))

	result, val := fiberTransfer(v, []Value{ObjValue(child), NumberValue(42)}, false)
	if result != PrimitiveRunFiber {
		t.Fatalf("fiberTransfer result = %v, want PrimitiveRunFiber", result)
	}
	if val.AsObj().(*Fiber) != child {
		t.Fatalf("fiberTransfer should hand control to the target fiber")
	}
	if child.caller != main {
		t.Error("target fiber's caller should be the transferring fiber")
	}
	if child.callerIsTrying {
		t.Error("call() should not set callerIsTrying")
	}
	if got := child.stack[child.stackTop-1]; got.AsNumber() != 42 {
		t.Errorf("resume value pushed onto target = %v, want 42", got)
	}

	// Simulate the interpreter having switched to running child, which
	// now yields a value back.
	v.fiber = child
	result, _ = fiberYield(v, []Value{Null, NumberValue(99)})
	if result != PrimitiveRunFiber {
		t.Fatalf("fiberYield result = %v, want PrimitiveRunFiber", result)
	}
	if child.caller != nil {
		t.Error("yield should clear the yielding fiber's caller")
	}
	if got := main.stack[main.stackTop-1]; got.AsNumber() != 99 {
		t.Errorf("yielded value pushed onto caller = %v, want 99", got)
	}
}

func TestFiberTransferRejectsAlreadyCalled(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]
	main := newFiber(v, trivialClosure(v, mod))
	v.fiber = main
	child := newFiber(v, trivialClosure(v, mod))

	if result, _ := fiberTransfer(v, []Value{ObjValue(child)}, false); result != PrimitiveRunFiber {
		t.Fatalf("first call should succeed, got %v", result)
	}

	other := newFiber(v, trivialClosure(v, mod))
	v.fiber = other
	result, val := fiberTransfer(v, []Value{ObjValue(child)}, false)
	if result != PrimitiveError {
		t.Fatalf("calling an already-called fiber should error, got %v", result)
	}
	if val.String() == "" {
		t.Error("expected an error message")
	}
}

func TestFiberTransferRejectsFinishedFiber(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]
	main := newFiber(v, trivialClosure(v, mod))
	v.fiber = main

	done := newFiber(v, trivialClosure(v, mod))
	done.state = fiberDone

	result, _ := fiberTransfer(v, []Value{ObjValue(done)}, false)
	if result != PrimitiveError {
		t.Fatalf("calling a finished fiber should error, got %v", result)
	}
}

func TestFiberYieldWithNoCallerSignalsFinished(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]
	root := newFiber(v, trivialClosure(v, mod))
	v.fiber = root

	result, val := fiberYield(v, []Value{Null})
	if result != PrimitiveRunFiber {
		t.Fatalf("yield with no caller result = %v, want PrimitiveRunFiber", result)
	}
	if !val.IsNull() {
		t.Errorf("yield with no caller should signal Null (\"program finished\"), got %v", val)
	}
}

func TestEnsureStackGrows(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]
	f := newFiber(v, trivialClosure(v, mod))
	before := len(f.stack)
	if err := f.ensureStack(before * 2); err != nil {
		t.Fatalf("ensureStack: %v", err)
	}
	if len(f.stack) <= before {
		t.Errorf("stack did not grow: before=%d after=%d", before, len(f.stack))
	}
}
