package vm_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/udog/pkg/bytecode"
	"github.com/kristofer/udog/pkg/compiler"
	"github.com/kristofer/udog/pkg/vm"
)

// TestModuleImportSharesVariable exercises spec.md §8's module-import
// scenario end to end: a module loaded on demand via Config.Loader
// declares a variable, and an importing module reads it back through
// LOAD_MODULE/IMPORT_VARIABLE rather than any direct Go-level shortcut.
//
// The bundled assembler has no mnemonic for declaring a brand-new
// module variable by name (every store_module_var/load_module_var
// addresses an index that must already exist in the module's variable
// table), so this wires a custom Config.Compile that pre-declares the
// "shared" variable via the exported Module.Declare before handing
// the provider module's body to the real assembler — the same thing
// DefineClass does from the host side in embedder.go.
func TestModuleImportSharesVariable(t *testing.T) {
	loader := func(name string) (string, bool) {
		if name == "provider" {
			// Unused as text: compile (below) rewrites the provider
			// module's body once it knows "shared"'s declared index.
			return "return\nend\n", true
		}
		return "", false
	}

	compile := func(v *vm.VM, mod *vm.Module, source string) (*bytecode.Fn, error) {
		if mod.Name == "provider" {
			idx := mod.Declare("shared", vm.Null)
			body := fmt.Sprintf("const 99\nstore_module_var %d\npop\nreturn\nend\n", idx)
			return compiler.AssembleSource(v, mod, body)
		}
		return compiler.AssembleSource(v, mod, source)
	}

	var out bytes.Buffer
	v := vm.New(vm.Config{Loader: loader, Compile: compile, Print: &out})

	mainSrc := `load_module "provider"
pop
import_variable "provider" "shared"
return
end
`
	result, err := v.RunModule("main", mainSrc)
	require.NoError(t, err)
	assert.Equal(t, "99", result.String())

	provider, ok := v.Module("provider")
	require.True(t, ok, "provider module should be registered after import")
	idx := provider.IndexOf("shared")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "99", provider.Variables[idx].String())
}

// TestModuleImportMissingVariableErrors checks IMPORT_VARIABLE on an
// unbound name raises a clean runtime error instead of panicking or
// silently returning null.
func TestModuleImportMissingVariableErrors(t *testing.T) {
	loader := func(name string) (string, bool) {
		if name == "empty" {
			return "return\nend\n", true
		}
		return "", false
	}
	v := vm.New(vm.Config{Loader: loader, Compile: compiler.AssembleSource})

	mainSrc := `load_module "empty"
pop
import_variable "empty" "doesNotExist"
return
end
`
	_, err := v.RunModule("main", mainSrc)
	assert.Error(t, err, "importing an undeclared variable should error")
}
