package vm

import "testing"

// TestHandleLifecycleRoundTrips creates one of each handle kind, reads
// its payload back, and releases it, covering spec.md §6's "create /
// read payload / release" embedder handle operations.
func TestHandleLifecycleRoundTrips(t *testing.T) {
	v := New(Config{})

	num := v.NewNumberHandle(3.5)
	if got, ok := v.HandleAsNumber(num); !ok || got != 3.5 {
		t.Errorf("HandleAsNumber = %v, %v; want 3.5, true", got, ok)
	}

	str := v.NewStringHandle("hi")
	if got, ok := v.HandleAsString(str); !ok || got != "hi" {
		t.Errorf("HandleAsString = %q, %v; want %q, true", got, ok, "hi")
	}

	b := v.NewBoolHandle(true)
	if got, ok := v.HandleAsBool(b); !ok || !got {
		t.Errorf("HandleAsBool = %v, %v; want true, true", got, ok)
	}

	n := v.NewNullHandle()
	if _, ok := v.HandleAsNumber(n); ok {
		t.Error("a null handle should not read back as a number")
	}

	v.ReleaseHandle(num)
	v.ReleaseHandle(str)
	v.ReleaseHandle(b)
	v.ReleaseHandle(n)

	if _, err := v.handleValue(num); err == nil {
		t.Error("a released handle should no longer resolve")
	}
}

// TestReleasedHandleKeyIsRecycled checks the freelist actually gets
// reused rather than growing the host table unboundedly, per
// embedder.go's newHandle doc comment.
func TestReleasedHandleKeyIsRecycled(t *testing.T) {
	v := New(Config{})

	h1 := v.NewNumberHandle(1)
	v.ReleaseHandle(h1)
	h2 := v.NewNumberHandle(2)

	if h2 != h1 {
		t.Errorf("released handle key should be recycled: got new key %d, want reused key %d", h2, h1)
	}
	if got, ok := v.HandleAsNumber(h2); !ok || got != 2 {
		t.Errorf("recycled handle should carry its new payload, got %v, %v", got, ok)
	}
}

// TestListHandleAddAndMapHandleSet exercise the composite handle
// mutators against a live host-visible List and Map.
func TestListHandleAddAndMapHandleSet(t *testing.T) {
	v := New(Config{})

	list := v.NewListHandle()
	item := v.NewNumberHandle(7)
	if err := v.ListHandleAdd(list, item); err != nil {
		t.Fatalf("ListHandleAdd: %v", err)
	}
	lv, err := v.handleValue(list)
	if err != nil {
		t.Fatalf("handleValue(list): %v", err)
	}
	l, ok := lv.AsObj().(*List)
	if !ok || len(l.Items) != 1 || l.Items[0].AsNumber() != 7 {
		t.Errorf("list after ListHandleAdd = %v, want a single-item list [7]", l)
	}

	m := v.NewMapHandle()
	k := v.NewStringHandle("key")
	val := v.NewNumberHandle(42)
	if err := v.MapHandleSet(m, k, val); err != nil {
		t.Fatalf("MapHandleSet: %v", err)
	}
	mv, err := v.handleValue(m)
	if err != nil {
		t.Fatalf("handleValue(m): %v", err)
	}
	mm, ok := mv.AsObj().(*Map)
	if !ok || mm.Count() != 1 {
		t.Fatalf("map after MapHandleSet = %v, want one entry", mm)
	}
	got, ok := mm.Get(ObjValue(newString(v, "key")))
	if !ok || got.AsNumber() != 42 {
		t.Errorf("map lookup after MapHandleSet = %v, %v; want 42, true", got, ok)
	}
}

// TestMethodHandleCallRoundTrip builds a call stub for a bound method
// and invokes it through the handle API rather than RunModule, per
// spec.md §4.10's "reusable method handle" mechanism.
func TestMethodHandleCallRoundTrip(t *testing.T) {
	v := New(Config{})
	mod := v.modules[""]
	sym := v.Symbol("greet()")

	cls, err := v.NewClass("Greeter", 0, nil)
	if err != nil {
		t.Fatalf("NewClass: %v", err)
	}
	cls.BindMethod(sym, Method{Variant: MethodBlock, Fn: fnReturningConstString(v, mod, "hello")})

	inst := newInstance(v, cls)
	recv := v.newHandle(ObjValue(inst))

	handle, err := v.MakeMethodHandle("greet()", 0)
	if err != nil {
		t.Fatalf("MakeMethodHandle: %v", err)
	}
	resultHandle, err := handle.Call(recv)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got, ok := v.HandleAsString(resultHandle)
	if !ok || got != "hello" {
		t.Errorf("method handle call result = %v, %v; want %q, true", got, ok, "hello")
	}

	// A reusable handle must work a second time after an internal reset.
	resultHandle2, err := handle.Call(recv)
	if err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if got2, ok := v.HandleAsString(resultHandle2); !ok || got2 != "hello" {
		t.Errorf("second call result = %v, %v; want %q, true", got2, ok, "hello")
	}
}
