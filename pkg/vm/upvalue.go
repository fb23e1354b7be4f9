package vm

// Upvalue is either open (aliased to a live cell on some fiber's value
// stack, identified by index rather than pointer so stack resizes are
// trivial — see SPEC_FULL.md's note on the cyclic fiber/upvalue/stack
// graph) or closed (owns its own Value once the frame that declared the
// variable has returned). spec.md §3/§4.3.
type Upvalue struct {
	ObjHeader
	fiber  *Fiber // owning fiber while open; nil once closed
	slot   int    // index into fiber.stack while open
	closed Value  // valid once fiber == nil
	next   *Upvalue
}

func newUpvalue(v *VM, fiber *Fiber, slot int) *Upvalue {
	u := &Upvalue{fiber: fiber, slot: slot}
	u.class = v.fiberClass // upvalues are not user-visible; class is irrelevant but must resolve
	v.register(u)
	return u
}

func (u *Upvalue) String() string { return "<upvalue>" }
func (u *Upvalue) Class() *Class  { return u.class }

func (u *Upvalue) Get() Value {
	if u.fiber == nil {
		return u.closed
	}
	return u.fiber.stack[u.slot]
}

func (u *Upvalue) Set(val Value) {
	if u.fiber == nil {
		u.closed = val
		return
	}
	u.fiber.stack[u.slot] = val
}

// Close severs the upvalue from the fiber stack, moving the current
// cell's value into its own storage (spec.md §4.3). After this, any
// closure reading the upvalue sees the moved value and is immune to
// the fiber's stack being resized or reused.
func (u *Upvalue) Close() {
	if u.fiber == nil {
		return
	}
	u.closed = u.fiber.stack[u.slot]
	u.fiber = nil
}

// Closure wraps a prototype Fn with its captured upvalues (spec.md
// §3/§4.3). numUpvalues matches Proto.NumUpvalues.
type Closure struct {
	ObjHeader
	Proto    *Fn
	Upvalues []*Upvalue
}

func newClosure(v *VM, proto *Fn, upvalues []*Upvalue) *Closure {
	c := &Closure{Proto: proto, Upvalues: upvalues}
	c.class = v.fnClass
	v.register(c)
	return c
}

func (c *Closure) String() string { return c.Proto.String() }
func (c *Closure) Class() *Class  { return c.class }
