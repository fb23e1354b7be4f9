package vm

import (
	"testing"

	"github.com/kristofer/udog/pkg/bytecode"
)

// fnReturningField0 builds a zero-arity method body that loads field 0
// off `this` and returns it.
func fnReturningField0(v *VM, mod *Module) *Fn {
	proto := &bytecode.Fn{
		Code:     []byte{byte(bytecode.OpLoadFieldThis), 0, 0, byte(bytecode.OpReturn), byte(bytecode.OpEnd)},
		NumSlots: 1,
		Debug:    &bytecode.DebugInfo{Name: "value()"},
	}
	return newFn(v, proto, mod)
}

// fnReturningConstString builds a zero-arity method body that returns
// a fixed string constant, independent of any field layout.
func fnReturningConstString(v *VM, mod *Module, s string) *Fn {
	idx := 0
	proto := &bytecode.Fn{
		Code:      []byte{byte(bytecode.OpConstant), 0, byte(idx), byte(bytecode.OpReturn), byte(bytecode.OpEnd)},
		Constants: []interface{}{ObjValue(newString(v, s))},
		NumSlots:  1,
		Debug:     &bytecode.DebugInfo{Name: "tag()"},
	}
	return newFn(v, proto, mod)
}

// callNoArg dispatches sig on recv and runs it to completion. dispatch
// only sets up the call (pushing a frame for a BLOCK method, or
// resolving inline for a PRIMITIVE); RunFiber's interpret loop then
// either executes that frame or, if nothing was pushed, immediately
// observes the empty frame stack and returns what's on top.
func callNoArg(t *testing.T, v *VM, recv Value, sig string) Value {
	t.Helper()
	fiber := newFiber(v, nil)
	fiber.push(recv)
	if err := v.dispatch(fiber, v.Symbol(sig), 1, nil); err != nil {
		t.Fatalf("dispatch %s: %v", sig, err)
	}
	result, err := v.RunFiber(fiber)
	if err != nil {
		t.Fatalf("run %s: %v", sig, err)
	}
	return result
}

// TestNewClassFieldOffsetRewriting exercises spec.md §4.2's multi-
// superclass binding: Derived declares its own field ahead of Base's,
// so Base's method copy must have its LOAD_FIELD_THIS operand shifted
// by Derived's own field count.
func TestNewClassFieldOffsetRewriting(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]

	base, err := v.NewClass("Base", 1, nil)
	if err != nil {
		t.Fatalf("NewClass(Base): %v", err)
	}
	base.BindMethod(v.Symbol("value()"), Method{Variant: MethodBlock, Fn: fnReturningField0(v, mod)})

	mixin, err := v.NewClass("Mixin", 0, nil)
	if err != nil {
		t.Fatalf("NewClass(Mixin): %v", err)
	}
	mixin.BindMethod(v.Symbol("tag()"), Method{Variant: MethodBlock, Fn: fnReturningConstString(v, mod, "mixin")})

	derived, err := v.NewClass("Derived", 1, []*Class{base, mixin})
	if err != nil {
		t.Fatalf("NewClass(Derived): %v", err)
	}
	if derived.NumFields != 2 {
		t.Fatalf("Derived.NumFields = %d, want 2", derived.NumFields)
	}

	inst := newInstance(v, derived)
	inst.Fields[0] = NumberValue(99)  // Derived's own field
	inst.Fields[1] = NumberValue(7)   // Base's field, offset by 1

	got := callNoArg(t, v, ObjValue(inst), "value()")
	if got.AsNumber() != 7 {
		t.Errorf("value() = %v, want 7 (Base's offset field)", got)
	}

	tag := callNoArg(t, v, ObjValue(inst), "tag()")
	if tag.String() != "mixin" {
		t.Errorf("tag() = %v, want mixin", tag)
	}
}

func TestSealedClassRejectsSubclassing(t *testing.T) {
	v := New(Config{})
	if _, err := v.NewClass("MyString", 0, []*Class{v.stringClass}); err == nil {
		t.Fatal("expected an error subclassing a sealed class")
	}
}

func TestIsSubclassOf(t *testing.T) {
	v := New(Config{})
	base, _ := v.NewClass("Base", 0, nil)
	derived, _ := v.NewClass("Derived", 0, []*Class{base})

	if !derived.IsSubclassOf(base) {
		t.Error("Derived should be a subclass of Base")
	}
	if derived.IsSubclassOf(v.stringClass) {
		t.Error("Derived should not be a subclass of String")
	}
}

// TestIsSubclassOfTransitiveGrandparent checks a three-level chain, so
// the primary-superclass walk has to actually continue past the first
// hop rather than stopping after checking only the immediate parent.
func TestIsSubclassOfTransitiveGrandparent(t *testing.T) {
	v := New(Config{})
	grandparent, _ := v.NewClass("Grandparent", 0, nil)
	parent, _ := v.NewClass("Parent", 0, []*Class{grandparent})
	child, _ := v.NewClass("Child", 0, []*Class{parent})

	if !child.IsSubclassOf(grandparent) {
		t.Error("Child should transitively be a subclass of Grandparent")
	}
}

// TestOpClassDefaultsNullSuperclassToObject exercises the CLASS
// opcode's own rule (a null popped superclass becomes Object), as
// opposed to NewClass's lower-level API, which takes its superclass
// list as already resolved.
func TestOpClassDefaultsNullSuperclassToObject(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]
	closure := newClosure(v, newFn(v, &bytecode.Fn{
		Code: []byte{
			byte(bytecode.OpConstant), 0, 0, // name "Solo"
			byte(bytecode.OpNull), // one superclass slot: null -> Object
			byte(bytecode.OpClass), 0, 0, 0, 1,
			byte(bytecode.OpReturn), byte(bytecode.OpEnd),
		},
		Constants: []interface{}{ObjValue(newString(v, "Solo"))},
		NumSlots:  1,
		Debug:     &bytecode.DebugInfo{Name: "<test>"},
	}, mod), nil)
	fiber := newFiber(v, closure)
	fiber.state = fiberRoot
	result, err := v.RunFiber(fiber)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	cls, ok := result.AsObj().(*Class)
	if !ok {
		t.Fatalf("result = %v, want a Class", result)
	}
	if !cls.IsSubclassOf(v.objectClass) {
		t.Error("a class declared with a null superclass should default to Object")
	}
}

func TestSymbolInterningIsStable(t *testing.T) {
	v := New(Config{})
	a := v.Symbol("foo(_)")
	b := v.Symbol("foo(_)")
	if a != b {
		t.Errorf("Symbol should intern: got %d and %d for the same signature", a, b)
	}
	if v.SymbolName(a) != "foo(_)" {
		t.Errorf("SymbolName(%d) = %q, want foo(_)", a, v.SymbolName(a))
	}
	if v.SymbolName(9999) != "?" {
		t.Error("SymbolName should return \"?\" for an out-of-range symbol")
	}
}
