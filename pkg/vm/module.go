package vm

import "fmt"

// Module is spec.md §3/§4.8's unit of top-level variable scope: a
// name-indexed variable table (Names[i] pairs with Variables[i]),
// the source it was compiled from, its entry Fn, and its own name
// ("" for the core/unnamed module).
type Module struct {
	ObjHeader
	Name      string
	Names     []string
	Variables []Value
	Source    string
	Entry     *Fn
}

func (m *Module) String() string { return "<module " + m.Name + ">" }
func (m *Module) Class() *Class  { return nil }

func (m *Module) indexOf(name string) int {
	for i, n := range m.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// IndexOf returns name's slot in m's variable table, or -1 if unbound.
// Embedders (and LOAD_MODULE_VAR/STORE_MODULE_VAR assembly, which
// addresses variables by index rather than name) use this to resolve
// a variable before emitting or executing bytecode against it.
func (m *Module) IndexOf(name string) int { return m.indexOf(name) }

// Declare adds a new module variable if name isn't already bound, or
// returns the existing index (module-level re-declaration is legal:
// the first IMPORT_VARIABLE or top-level var wins the slot).
func (m *Module) Declare(name string, initial Value) int {
	if i := m.indexOf(name); i >= 0 {
		return i
	}
	m.Names = append(m.Names, name)
	m.Variables = append(m.Variables, initial)
	return len(m.Names) - 1
}

// Loader is the embedder-provided module loader spec.md §4.8 requires:
// given a module name, return its source text, or ("", false) for
// "not found" (which the VM turns into a runtime error).
type Loader func(name string) (source string, ok bool)

// readyModule creates (or returns the existing) module for name,
// pre-populated by shallow-copying the core module's variable table so
// every module implicitly sees it (spec.md §4.8's udogReadyNewModule).
func (v *VM) readyModule(name string) *Module {
	if m, ok := v.modules[name]; ok {
		return m
	}
	m := &Module{Name: name}
	v.register(m)
	if core, ok := v.modules[""]; ok {
		m.Names = append([]string(nil), core.Names...)
		m.Variables = append([]Value(nil), core.Variables...)
	}
	v.modules[name] = m
	return m
}

// Import implements spec.md §4.8's protocol: no-op if name is already
// loaded; otherwise call the configured Loader, compile the returned
// source against a freshly readied module, and run its entry Fn on a
// new fiber while the importing fiber is paused. IMPORT_VARIABLE
// (handled in interpreter.go) pulls a single variable out afterward.
func (v *VM) Import(name string) (*Module, error) {
	if m, ok := v.modules[name]; ok {
		return m, nil
	}
	if v.config.Loader == nil {
		return nil, fmt.Errorf("udog: module %q not found (no loader configured)", name)
	}
	if v.config.Compile == nil {
		return nil, fmt.Errorf("udog: no compiler configured: set Config.Compile (e.g. compiler.AssembleSource)")
	}
	source, ok := v.config.Loader(name)
	if !ok {
		return nil, fmt.Errorf("udog: module %q not found", name)
	}
	mod := v.readyModule(name)
	mod.Source = source
	entry, err := v.config.Compile(v, mod, source)
	if err != nil {
		return nil, fmt.Errorf("udog: compiling module %q: %w", name, err)
	}
	fn := newFn(v, entry, mod)
	mod.Entry = fn

	closure := newClosure(v, fn, nil)
	sub := newFiber(v, closure)
	if _, err := v.RunFiber(sub); err != nil {
		return nil, err
	}
	return mod, nil
}
