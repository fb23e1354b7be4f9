package vm

import (
	"fmt"

	"github.com/kristofer/udog/pkg/bytecode"
)

// MethodVariant is the tag on a Method entry, matching the PRIMITIVE /
// FOREIGN / BLOCK variants spec.md §4.2 describes.
type MethodVariant byte

const (
	MethodNone MethodVariant = iota
	MethodPrimitive
	MethodForeign
	MethodBlock
)

// PrimitiveResult is the enum a PRIMITIVE method returns, spelled out
// in spec.md §4.6: VALUE replaces the argument window with a single
// result, CALL treats args[0] as a callable to invoke with the same
// window, RUN_FIBER transfers to the fiber in args[0] (nil fiber means
// "program finished"), ERROR raises args[0], NONE leaves the stack
// untouched.
type PrimitiveResult byte

const (
	PrimitiveValue PrimitiveResult = iota
	PrimitiveCall
	PrimitiveRunFiber
	PrimitiveError
	PrimitiveNone
)

// Primitive is a built-in method implementation. args[0] is the
// receiver; args[1:] are the call arguments. It must not call back
// into interpreted code other than by returning PrimitiveCall.
type Primitive func(v *VM, args []Value) (PrimitiveResult, Value)

// Foreign is an embedder-registered function, spec.md §4.10. It reads
// its arguments and receiver from f's call window (ForeignCall) and
// must call f.Return exactly once, or the VM treats a fall-through the
// same way the original does: the slot is overwritten with null.
type Foreign func(f *ForeignCall)

// Method is one slot in a Class's method array.
type Method struct {
	Variant MethodVariant
	Static  bool
	Prim    Primitive
	Foreign Foreign
	Fn      *Fn // BLOCK methods: the compiled body, wrapped in a Closure at call time if it captures upvalues
}

// Fn is the VM-side wrapper around bytecode.Fn that also carries the
// module object it closes over (module-level variable access needs a
// live *Module, not just a name).
type Fn struct {
	ObjHeader
	Proto *bytecode.Fn
	Mod   *Module

	cachedClosure *Closure // lazily-built zero-upvalue wrapper, see wrapClosure in interpreter.go
}

func newFn(v *VM, proto *bytecode.Fn, mod *Module) *Fn {
	f := &Fn{Proto: proto, Mod: mod}
	f.class = v.fnClass
	v.register(f)
	return f
}
func (f *Fn) String() string { return fmt.Sprintf("<fn %s>", f.Proto.Debug.Name) }
func (f *Fn) Class() *Class  { return f.class }

// Class is both the "class" and "metaclass" entity of spec.md §3: a
// class object whose Methods array (when IsMeta) holds the static
// methods, reached via Meta from the instance-side class.
type Class struct {
	ObjHeader
	Name string

	OwnFieldCount int // fields declared directly on this class
	NumFields     int // OwnFieldCount + every superclass's NumFields, in declaration order

	Superclasses []*Class // declaration order; NewClass puts Object here when given none
	Methods      []Method // dense, symbol-indexed; absent entries are MethodNone

	Meta      *Class // metaclass carrying static methods; nil on a metaclass itself
	IsMeta    bool
	Sealed    bool // built-in types reject being subclassed (spec.md §4.2)
	Destruct  func(*Instance)
}

func (c *Class) String() string { return "<class " + c.Name + ">" }
func (c *Class) Class() *Class  { return c.Meta } // a class's own class is its metaclass

// Symbol returns the interned method index, allocating one if this is
// the first time the VM has seen the signature. Method signatures are
// VM-wide (spec.md §4.2), shared across every class.
func (v *VM) Symbol(signature string) int {
	if i, ok := v.methodNames[signature]; ok {
		return i
	}
	i := len(v.methodNamesList)
	v.methodNames[signature] = i
	v.methodNamesList = append(v.methodNamesList, signature)
	return i
}

func (v *VM) SymbolName(i int) string {
	if i < 0 || i >= len(v.methodNamesList) {
		return "?"
	}
	return v.methodNamesList[i]
}

// ensureMethodSlot grows c.Methods so symbol i is addressable.
func (c *Class) ensureMethodSlot(i int) {
	for len(c.Methods) <= i {
		c.Methods = append(c.Methods, Method{Variant: MethodNone})
	}
}

func (c *Class) BindMethod(symbol int, m Method) {
	target := c
	if m.Static {
		target = c.Meta
	}
	target.ensureMethodSlot(symbol)
	target.Methods[symbol] = m
}

// LookupMethod walks a single class's own Methods array; multi-
// superclass search is handled by the caller via the resolved
// superclass list (binding already copied inherited methods down, per
// spec.md §4.2), so a plain index is enough here.
func (c *Class) LookupMethod(symbol int) (Method, bool) {
	if symbol < 0 || symbol >= len(c.Methods) || c.Methods[symbol].Variant == MethodNone {
		return Method{}, false
	}
	return c.Methods[symbol], true
}

// IsSubclassOf implements the IS opcode's transitive membership test.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.primarySuperclass() {
		if cur == other {
			return true
		}
		for _, s := range cur.Superclasses {
			if s.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

func (c *Class) primarySuperclass() *Class {
	if len(c.Superclasses) == 0 {
		return nil
	}
	return c.Superclasses[0]
}

var sealedClassNames = map[string]bool{
	"Class": true, "Fiber": true, "Fn": true, "List": true, "Map": true, "Range": true, "String": true,
}

// NewClass implements the CLASS opcode's construction and multi-
// superclass binding (spec.md §4.2). An empty supers list means Object.
// Every superclass, in declaration order, gets a rewritten per-subclass
// method copy whose field indices and super-call targets point at this
// new class's own layout; superclass fields follow the class's own.
func (v *VM) NewClass(name string, fieldCount int, supers []*Class) (*Class, error) {
	for _, s := range supers {
		if s.Sealed {
			return nil, fmt.Errorf("udog: class %q cannot inherit from sealed class %q", name, s.Name)
		}
	}
	if len(supers) == 0 && v.objectClass != nil {
		supers = []*Class{v.objectClass}
	}

	c := &Class{Name: name, OwnFieldCount: fieldCount, Superclasses: supers}
	c.class = v.classClass
	meta := &Class{Name: name + " metaclass", IsMeta: true}
	meta.class = v.classClass
	if v.classClass != nil {
		meta.class = v.classClass
	}
	c.Meta = meta
	v.register(c)
	v.register(meta)

	offset := fieldCount
	for _, s := range supers {
		v.bindSuperclass(c, s, offset)
		offset += s.NumFields
	}
	c.NumFields = offset
	return c, nil
}

// bindSuperclass copies s's instance methods into c, rewriting field
// offsets and super-index lists. It is spec.md §4.2's "per-class
// method copy" step: the copy is an independent Method/Fn, collected
// with c, never mutating s.
func (v *VM) bindSuperclass(c, s *Class, fieldOffset int) {
	superIndex := len(c.Superclasses) - 1
	for i := range c.Superclasses {
		if c.Superclasses[i] == s {
			superIndex = i
			break
		}
	}
	for sym, m := range s.Methods {
		if m.Variant == MethodNone {
			continue
		}
		c.ensureMethodSlot(sym)
		if c.Methods[sym].Variant != MethodNone {
			continue // subclass already overrides this selector
		}
		c.Methods[sym] = rewriteMethod(m, fieldOffset, superIndex)
	}
	for sym, m := range s.Meta.Methods {
		if m.Variant == MethodNone {
			continue
		}
		c.Meta.ensureMethodSlot(sym)
		if c.Meta.Methods[sym].Variant == MethodNone {
			c.Meta.Methods[sym] = m // static methods are not field-addressed, copy as-is
		}
	}
}

// rewriteMethod produces the per-subclass copy described in spec.md
// §4.2: LOAD_FIELD_THIS/STORE_FIELD_THIS operands shift by
// fieldOffset, and every SUPER instruction's super-index-list constant
// gets superIndex prepended so resolution continues to walk from s's
// own superclass list (see resolveSuperIndexList in interpreter.go).
func rewriteMethod(m Method, fieldOffset, superIndex int) Method {
	if m.Variant != MethodBlock || fieldOffset == 0 {
		if m.Variant == MethodBlock {
			return rewriteSuperTargets(m, superIndex)
		}
		return m
	}
	proto := m.Fn.Proto
	code := append([]byte(nil), proto.Code...)
	constants := append([]interface{}(nil), proto.Constants...)

	walkCode(code, constants, func(pc int, op bytecode.Opcode, operandAt int) {
		if op == bytecode.OpLoadFieldThis || op == bytecode.OpStoreFieldThis {
			cur := bytecode.ReadUint16(code, operandAt)
			copy(code[operandAt:operandAt+2], bytecode.PutUint16(cur+fieldOffset))
		}
	})

	rewritten := &bytecode.Fn{
		Code: code, Constants: constants,
		Arity: proto.Arity, NumUpvalues: proto.NumUpvalues, NumSlots: proto.NumSlots,
		Module: proto.Module, Debug: proto.Debug,
	}
	nm := Method{Variant: MethodBlock, Static: m.Static, Fn: &Fn{Proto: rewritten, Mod: m.Fn.Mod}}
	nm.Fn.class = m.Fn.class
	return rewriteSuperTargets(nm, superIndex)
}

// rewriteSuperTargets prepends superIndex to every SUPER instruction's
// index-list constant in m's (possibly already field-offset-rewritten)
// Fn, cloning the Fn/constants the first time this method touches them
// so earlier copies are unaffected.
func rewriteSuperTargets(m Method, superIndex int) Method {
	proto := m.Fn.Proto
	var constants []interface{}
	cloned := false
	ensureClone := func() {
		if !cloned {
			constants = append([]interface{}(nil), proto.Constants...)
			cloned = true
		}
	}

	walkSuper(proto.Code, proto.Constants, func(listConstIdx int) {
		ensureClone()
		orig, _ := proto.Constants[listConstIdx].([]int)
		grown := make([]int, 0, len(orig)+1)
		grown = append(grown, superIndex)
		grown = append(grown, orig...)
		constants[listConstIdx] = grown
	})

	if !cloned {
		return m
	}
	rewritten := &bytecode.Fn{
		Code: proto.Code, Constants: constants,
		Arity: proto.Arity, NumUpvalues: proto.NumUpvalues, NumSlots: proto.NumSlots,
		Module: proto.Module, Debug: proto.Debug,
	}
	nf := &Fn{Proto: rewritten, Mod: m.Fn.Mod}
	nf.class = m.Fn.class
	return Method{Variant: MethodBlock, Static: m.Static, Fn: nf}
}

// walkCode decodes code, invoking visit(pc, opcode, operandByteOffset)
// for every LOAD_FIELD_THIS/STORE_FIELD_THIS instruction. It also
// correctly steps over every other instruction's operands (including
// CLOSURE's variable-length upvalue descriptor table, read from the
// referenced prototype's NumUpvalues) so pc stays aligned.
func walkCode(code []byte, constants []interface{}, visit func(pc int, op bytecode.Opcode, operandAt int)) {
	pc := 0
	for pc < len(code) {
		op := bytecode.Opcode(code[pc])
		pc++
		n := operandCount(op)
		if n >= 1 && (op == bytecode.OpLoadFieldThis || op == bytecode.OpStoreFieldThis) {
			visit(pc, op, pc)
		}
		if op == bytecode.OpClosure {
			protoIdx := bytecode.ReadUint16(code, pc)
			pc += bytecode.OperandWidth
			if fnProto, ok := constants[protoIdx].(*bytecode.Fn); ok {
				pc += fnProto.NumUpvalues * 2
			}
			continue
		}
		pc += n * bytecode.OperandWidth
	}
}

// walkSuper decodes code, invoking visit(constantIndexOfSuperList) for
// every SUPER_n instruction.
func walkSuper(code []byte, constants []interface{}, visit func(listConstIdx int)) {
	pc := 0
	for pc < len(code) {
		op := bytecode.Opcode(code[pc])
		pc++
		if _, ok := bytecode.IsSuper(op); ok {
			pc += bytecode.OperandWidth // method symbol
			listIdx := bytecode.ReadUint16(code, pc)
			pc += bytecode.OperandWidth
			visit(listIdx)
			continue
		}
		if op == bytecode.OpClosure {
			protoIdx := bytecode.ReadUint16(code, pc)
			pc += bytecode.OperandWidth
			if fnProto, ok := constants[protoIdx].(*bytecode.Fn); ok {
				pc += fnProto.NumUpvalues * 2
			}
			continue
		}
		pc += operandCount(op) * bytecode.OperandWidth
	}
}

// operandCount is the number of fixed-width operands that follow op in
// the byte stream (CLOSURE and SUPER_n are handled specially by their
// callers above since their total width depends on constant data).
func operandCount(op bytecode.Opcode) int {
	switch op {
	case bytecode.OpNull, bytecode.OpTrue, bytecode.OpFalse, bytecode.OpPop, bytecode.OpDup,
		bytecode.OpLoadLocal0, bytecode.OpLoadLocal1, bytecode.OpLoadLocal2, bytecode.OpLoadLocal3,
		bytecode.OpLoadLocal4, bytecode.OpLoadLocal5, bytecode.OpLoadLocal6, bytecode.OpLoadLocal7,
		bytecode.OpLoadLocal8, bytecode.OpReturn, bytecode.OpEnd, bytecode.OpBreak,
		bytecode.OpCloseUpvalue, bytecode.OpIs:
		return 0
	case bytecode.OpClass:
		return 2
	default:
		if _, ok := bytecode.IsCall(op); ok {
			return 1
		}
		if _, ok := bytecode.IsSuper(op); ok {
			return 2
		}
		return 1
	}
}

// -------------------------------------------------------------------
// Instance

type Instance struct {
	ObjHeader
	Fields []Value
}

func newInstance(v *VM, class *Class) *Instance {
	inst := &Instance{Fields: make([]Value, class.NumFields)}
	inst.class = class
	for i := range inst.Fields {
		inst.Fields[i] = Null
	}
	v.register(inst)
	return inst
}

func (i *Instance) String() string { return "<instance of " + i.class.Name + ">" }
func (i *Instance) Class() *Class  { return i.class }
