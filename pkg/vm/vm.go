package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/kristofer/udog/pkg/bytecode"
)

// Compiler is the seam spec.md §1/§9 leaves for the out-of-scope
// source-text compiler: given a module and its source, produce the
// module's entry Fn. Package vm has no default: pkg/compiler's
// assembler must import this package's types (*VM, *Module) to intern
// method symbols, so this package can't import pkg/compiler back
// without a cycle. Embedders wire one in explicitly via Config.Compile
// (this repo's cmd/udog and its tests pass compiler.AssembleSource).
type Compiler func(v *VM, mod *Module, source string) (*bytecode.Fn, error)

// Config configures a VM at creation time. Every field is optional;
// zero values fall back to the documented defaults, matching spec.md
// §6's "each optional with documented defaults".
type Config struct {
	Print   io.Writer // System.print's sink; defaults to os.Stdout
	Loader  Loader    // module import loader; nil means import always fails
	Compile Compiler  // no default (see Compiler's doc comment); nil makes RunModule/Import error

	DebugHook func(v *VM, f *Fiber) // invoked on BREAK; nil means BREAK is a no-op
	GCLog     func(GCStats)         // invoked after every collection; nil means silent

	InitialHeapSize   int64 // first GC threshold; 0 -> the MinNextGC floor
	MinNextGC         int64 // floor for every later threshold; 0 -> defaultMinNextGC
	HeapGrowthPercent int   // 0 -> 150
	PinStackMax       int   // 0 -> defaultPinStackMax

	StackMax     int // 0 -> unbounded
	CallDepthMax int // 0 -> unbounded
}

// VM is the embedder's handle to one interpreter instance. Its fields
// mirror spec.md §3's per-VM state: the method-symbol table, the
// module registry, the host-object table and its key freelist, the
// built-in sealed classes, and the currently-running fiber.
type VM struct {
	ID string

	config Config
	gc     *gcState

	methodNames     map[string]int
	methodNamesList []string

	modules map[string]*Module

	hostTable    *Table
	hostFreeList []int
	hostNext     int

	fiber *Fiber

	objectClass, classClass, fiberClass, fnClass *Class
	listClass, mapClass, rangeClass, stringClass *Class
	numberClass, boolClass, nullClass            *Class
	exceptionClass, systemClass                  *Class

	debugMode bool
}

// New creates a VM with the given configuration, registers the
// built-in classes (Object and Exception, which may be subclassed, and
// the sealed Class, Fiber, Fn, List, Map, Range, String, Num, Bool,
// Null and System — spec.md §4.2), and readies the core module.
func New(cfg Config) *VM {
	if cfg.Print == nil {
		cfg.Print = os.Stdout
	}
	v := &VM{
		ID:          uuid.NewString(),
		config:      cfg,
		methodNames: make(map[string]int),
		modules:     make(map[string]*Module),
	}
	v.gc = newGC(v, cfg.HeapGrowthPercent, cfg.MinNextGC, cfg.PinStackMax)
	if cfg.InitialHeapSize > 0 {
		v.gc.nextGC = cfg.InitialHeapSize
	}
	v.hostTable = newTable(v)
	v.bootstrapBuiltins()
	v.modules[""] = &Module{Name: ""}
	v.register(v.modules[""])
	v.registerCorePrimitives()
	return v
}

func (v *VM) builtinClasses() []*Class {
	return []*Class{
		v.objectClass, v.classClass, v.fiberClass, v.fnClass,
		v.listClass, v.mapClass, v.rangeClass, v.stringClass,
		v.numberClass, v.boolClass, v.nullClass, v.exceptionClass, v.systemClass,
	}
}

func (v *VM) bootstrapBuiltins() {
	mk := func(name string, sealed bool) *Class {
		c := &Class{Name: name, Sealed: sealed}
		c.Meta = &Class{Name: name + " metaclass", IsMeta: true}
		v.register(c)
		v.register(c.Meta)
		return c
	}
	v.objectClass = mk("Object", false)
	v.classClass = mk("Class", true)
	v.fiberClass = mk("Fiber", true)
	v.fnClass = mk("Fn", true)
	v.listClass = mk("List", true)
	v.mapClass = mk("Map", true)
	v.rangeClass = mk("Range", true)
	v.stringClass = mk("String", true)
	v.numberClass = mk("Num", true)
	v.boolClass = mk("Bool", true)
	v.nullClass = mk("Null", true)

	sealedBuiltins := []*Class{
		v.objectClass, v.classClass, v.fiberClass, v.fnClass,
		v.listClass, v.mapClass, v.rangeClass, v.stringClass,
		v.numberClass, v.boolClass, v.nullClass,
	}
	for _, c := range sealedBuiltins {
		c.class = v.classClass
		c.Meta.class = v.classClass
		if c != v.objectClass {
			c.Superclasses = []*Class{v.objectClass}
		}
	}

	v.exceptionClass = mk("Exception", false)
	v.exceptionClass.class = v.classClass
	v.exceptionClass.Meta.class = v.classClass
	v.exceptionClass.Superclasses = []*Class{v.objectClass}
	v.exceptionClass.OwnFieldCount = 2
	v.exceptionClass.NumFields = 2

	v.systemClass = mk("System", true)
	v.systemClass.class = v.classClass
	v.systemClass.Meta.class = v.classClass
	v.systemClass.Superclasses = []*Class{v.objectClass}
}

// Module looks up a loaded module by name, for the embedder API's
// "read module variable" operation (spec.md §6).
func (v *VM) Module(name string) (*Module, bool) {
	m, ok := v.modules[name]
	return m, ok
}

// RunModule compiles source as module name's entry point and runs it
// to completion on a fresh fiber (spec.md §4.8/§6's "run a named
// module from source").
func (v *VM) RunModule(name, source string) (result Value, err error) {
	defer v.recoverFatal(&err)
	if v.config.Compile == nil {
		return Null, &CompileError{Message: "no compiler configured: set Config.Compile (e.g. compiler.AssembleSource)"}
	}
	mod := v.readyModule(name)
	mod.Source = source
	entry, cerr := v.config.Compile(v, mod, source)
	if cerr != nil {
		return Null, &CompileError{Message: cerr.Error()}
	}
	fn := newFn(v, entry, mod)
	mod.Entry = fn
	closure := newClosure(v, fn, nil)
	fiber := newFiber(v, closure)
	fiber.state = fiberRoot
	return v.RunFiber(fiber)
}

// RunFiber runs f (or resumes it) until it either finishes, raises an
// error that has nowhere to be caught, or transfers away via
// RUN_FIBER/yield and is returned control later. It is both the
// embedder's "run-fiber" entry point and what Fiber.call/Fiber.yield
// use internally.
func (v *VM) RunFiber(f *Fiber) (result Value, err error) {
	defer v.recoverFatal(&err)
	prev := v.fiber
	v.fiber = f
	defer func() { v.fiber = prev }()
	return v.interpret(f)
}

func (v *VM) recoverFatal(err *error) {
	if r := recover(); r != nil {
		if fe, ok := r.(*FatalError); ok {
			*err = fe
			return
		}
		panic(r)
	}
}

func (v *VM) fatal(format string, args ...interface{}) {
	panic(&FatalError{Message: fmt.Sprintf(format, args...)})
}

// SetDebugMode toggles whether BREAK invokes Config.DebugHook
// (spec.md §6's "set debug mode").
func (v *VM) SetDebugMode(on bool) { v.debugMode = on }
