// Package compiler assembles the bytecode assembly language (pkg/lexer,
// pkg/ast, pkg/parser) into a bytecode.Fn. It plays the teacher's
// lexer->parser->ast->compiler pipeline shape, re-pointed at a small
// textual instruction format instead of the excluded OOP surface
// language (SPEC_FULL.md §D): this repo's own tests and cmd/udog use
// it to produce Fn values without hand-writing Go struct literals for
// every script. It is wired in by the embedder via vm.Config.Compile —
// package vm itself never imports this package, to avoid a cycle.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/kristofer/udog/pkg/ast"
	"github.com/kristofer/udog/pkg/bytecode"
	"github.com/kristofer/udog/pkg/lexer"
	"github.com/kristofer/udog/pkg/parser"
	"github.com/kristofer/udog/pkg/vm"
)

// AssembleSource is the vm.Compiler this package exposes: assemble
// source's single `fn` body into a bytecode.Fn for mod. Interning
// CALL/SUPER/METHOD signatures needs a live *vm.VM (spec.md §4.2's
// VM-wide method-name table), which is why this lives in its own
// package rather than inside pkg/bytecode.
func AssembleSource(v *vm.VM, mod *vm.Module, source string) (*bytecode.Fn, error) {
	tokens, err := lexer.New(source).Tokenize()
	if err != nil {
		return nil, err
	}
	prog, err := parser.New(tokens).Parse()
	if err != nil {
		return nil, err
	}
	return newCompiler(v, mod).compile(prog)
}

type compiler struct {
	v   *vm.VM
	mod *vm.Module

	code      []byte
	constants []interface{}
	labels    map[string]int
	pending   []pendingJump // forward/backward refs resolved after layout is known
}

type pendingJump struct {
	mnemonic string
	label    string
	atOperand int // byte offset of the 2-byte operand to patch
	line      int
}

func newCompiler(v *vm.VM, mod *vm.Module) *compiler {
	return &compiler{v: v, mod: mod, labels: map[string]int{}}
}

// compile performs two passes: the first walks every statement in
// order, appending real instruction bytes and recording each label's
// byte offset as it's encountered (every instruction here has a fixed
// width, so a single forward walk is enough to know every label's
// final offset); the second patches every recorded jump's operand now
// that the full label table exists.
func (c *compiler) compile(prog *ast.Program) (*bytecode.Fn, error) {
	for _, stmt := range prog.Statements {
		switch s := stmt.(type) {
		case *ast.LabelDef:
			if _, dup := c.labels[s.Name]; dup {
				return nil, fmt.Errorf("udog assembler: line %d: label %q defined twice", s.Line, s.Name)
			}
			c.labels[s.Name] = len(c.code)
		case *ast.Instruction:
			if err := c.emit(s); err != nil {
				return nil, err
			}
		}
	}
	if !c.endsWellFormed() {
		c.code = append(c.code, byte(bytecode.OpReturn), byte(bytecode.OpEnd))
	}
	for _, pj := range c.pending {
		target, ok := c.labels[pj.label]
		if !ok {
			return nil, fmt.Errorf("udog assembler: line %d: undefined label %q", pj.line, pj.label)
		}
		var dist int
		if pj.mnemonic == "loop" {
			dist = (pj.atOperand + bytecode.OperandWidth) - target
		} else {
			dist = target - (pj.atOperand + bytecode.OperandWidth)
		}
		if dist < 0 {
			return nil, fmt.Errorf("udog assembler: line %d: %q to %q is the wrong direction", pj.line, pj.mnemonic, pj.label)
		}
		copy(c.code[pj.atOperand:pj.atOperand+bytecode.OperandWidth], bytecode.PutUint16(dist))
	}

	return &bytecode.Fn{
		Code:        c.code,
		Constants:   c.constants,
		Arity:       prog.Arity,
		NumUpvalues: prog.NumUpvalues,
		NumSlots:    prog.NumSlots,
		Module:      c.mod.Name,
		Debug:       &bytecode.DebugInfo{Name: "<assembled>"},
	}, nil
}

func (c *compiler) endsWellFormed() bool {
	n := len(c.code)
	return n >= 2 && bytecode.Opcode(c.code[n-2]) == bytecode.OpReturn && bytecode.Opcode(c.code[n-1]) == bytecode.OpEnd
}

func (c *compiler) emitByte(b byte)          { c.code = append(c.code, b) }
func (c *compiler) emitOp(op bytecode.Opcode) { c.emitByte(byte(op)) }

// emitU16 appends a placeholder/real uint16 operand and returns the
// byte offset it was written at, for jump-patch bookkeeping.
func (c *compiler) emitU16(n int) int {
	at := len(c.code)
	c.code = append(c.code, bytecode.PutUint16(n)...)
	return at
}

func (c *compiler) addConstant(val vm.Value) int {
	c.constants = append(c.constants, val)
	return len(c.constants) - 1
}

func operandInt(instr *ast.Instruction, i int) (int, error) {
	if i >= len(instr.Operands) || instr.Operands[i].Kind != ast.OperandInt {
		return 0, fmt.Errorf("udog assembler: line %d: %q expects an integer operand", instr.Line, instr.Mnemonic)
	}
	n, _ := strconv.Atoi(instr.Operands[i].Text)
	return n, nil
}

func operandString(instr *ast.Instruction, i int) (string, error) {
	if i >= len(instr.Operands) || instr.Operands[i].Kind != ast.OperandString {
		return "", fmt.Errorf("udog assembler: line %d: %q expects a quoted string operand", instr.Line, instr.Mnemonic)
	}
	return instr.Operands[i].Text, nil
}

func operandLabel(instr *ast.Instruction, i int) (string, error) {
	if i >= len(instr.Operands) || instr.Operands[i].Kind != ast.OperandLabel {
		return "", fmt.Errorf("udog assembler: line %d: %q expects a label operand", instr.Line, instr.Mnemonic)
	}
	return instr.Operands[i].Text, nil
}

func (c *compiler) jumpInstr(instr *ast.Instruction, op bytecode.Opcode) error {
	label, err := operandLabel(instr, 0)
	if err != nil {
		return err
	}
	c.emitOp(op)
	at := c.emitU16(0)
	c.pending = append(c.pending, pendingJump{mnemonic: instr.Mnemonic, label: label, atOperand: at, line: instr.Line})
	return nil
}

func (c *compiler) u16Instr(instr *ast.Instruction, op bytecode.Opcode) error {
	n, err := operandInt(instr, 0)
	if err != nil {
		return err
	}
	c.emitOp(op)
	c.emitU16(n)
	return nil
}

// emit translates one parsed instruction into real bytecode; the
// switch below is the table of accepted mnemonics.
func (c *compiler) emit(instr *ast.Instruction) error {
	switch instr.Mnemonic {
	case "null":
		c.emitOp(bytecode.OpNull)
	case "true":
		c.emitOp(bytecode.OpTrue)
	case "false":
		c.emitOp(bytecode.OpFalse)
	case "pop":
		c.emitOp(bytecode.OpPop)
	case "dup":
		c.emitOp(bytecode.OpDup)
	case "is":
		c.emitOp(bytecode.OpIs)
	case "return":
		c.emitOp(bytecode.OpReturn)
	case "end":
		c.emitOp(bytecode.OpEnd)
	case "close_upvalue":
		c.emitOp(bytecode.OpCloseUpvalue)

	case "const":
		return c.emitConst(instr)

	case "load_local":
		n, err := operandInt(instr, 0)
		if err != nil {
			return err
		}
		if n >= 0 && n <= 8 {
			c.emitOp(bytecode.OpLoadLocal0 + bytecode.Opcode(n))
			return nil
		}
		c.emitOp(bytecode.OpLoadLocal)
		c.emitU16(n)
	case "store_local":
		return c.u16Instr(instr, bytecode.OpStoreLocal)
	case "load_module_var":
		return c.u16Instr(instr, bytecode.OpLoadModuleVar)
	case "store_module_var":
		return c.u16Instr(instr, bytecode.OpStoreModuleVar)
	case "load_field_this":
		return c.u16Instr(instr, bytecode.OpLoadFieldThis)
	case "store_field_this":
		return c.u16Instr(instr, bytecode.OpStoreFieldThis)
	case "load_field":
		return c.u16Instr(instr, bytecode.OpLoadField)
	case "store_field":
		return c.u16Instr(instr, bytecode.OpStoreField)
	case "load_upvalue":
		return c.u16Instr(instr, bytecode.OpLoadUpvalue)
	case "store_upvalue":
		return c.u16Instr(instr, bytecode.OpStoreUpvalue)

	case "jump":
		return c.jumpInstr(instr, bytecode.OpJump)
	case "loop":
		return c.jumpInstr(instr, bytecode.OpLoop)
	case "jump_if":
		return c.jumpInstr(instr, bytecode.OpJumpIf)
	case "and":
		return c.jumpInstr(instr, bytecode.OpAnd)
	case "or":
		return c.jumpInstr(instr, bytecode.OpOr)

	case "call":
		return c.emitCall(instr)

	case "class":
		numFields, err := operandInt(instr, 0)
		if err != nil {
			return err
		}
		numSupers, err := operandInt(instr, 1)
		if err != nil {
			return err
		}
		c.emitOp(bytecode.OpClass)
		c.emitU16(numFields)
		c.emitU16(numSupers)
	case "method_instance":
		return c.emitMethodSymbol(instr, bytecode.OpMethodInstance)
	case "method_static":
		return c.emitMethodSymbol(instr, bytecode.OpMethodStatic)

	case "load_module":
		name, err := operandString(instr, 0)
		if err != nil {
			return err
		}
		c.emitOp(bytecode.OpLoadModule)
		c.emitU16(c.addConstant(vm.NewStringValue(c.v, name)))
	case "import_variable":
		modName, err := operandString(instr, 0)
		if err != nil {
			return err
		}
		varName, err := operandString(instr, 1)
		if err != nil {
			return err
		}
		c.emitOp(bytecode.OpImportVariable)
		c.emitU16(c.addConstant(vm.NewStringValue(c.v, modName)))
		c.emitU16(c.addConstant(vm.NewStringValue(c.v, varName)))

	default:
		return fmt.Errorf("udog assembler: line %d: unknown mnemonic %q", instr.Line, instr.Mnemonic)
	}
	return nil
}

func (c *compiler) emitConst(instr *ast.Instruction) error {
	if len(instr.Operands) != 1 {
		return fmt.Errorf("udog assembler: line %d: %q expects exactly one operand", instr.Line, instr.Mnemonic)
	}
	op := instr.Operands[0]
	switch op.Kind {
	case ast.OperandInt:
		n, _ := strconv.Atoi(op.Text)
		c.pushConstant(vm.NumberValue(float64(n)))
	case ast.OperandFloat:
		f, err := strconv.ParseFloat(op.Text, 64)
		if err != nil {
			return fmt.Errorf("udog assembler: line %d: bad float %q", instr.Line, op.Text)
		}
		c.pushConstant(vm.NumberValue(f))
	case ast.OperandString:
		c.pushConstant(vm.NewStringValue(c.v, op.Text))
	case ast.OperandLabel:
		switch op.Text {
		case "true":
			c.emitOp(bytecode.OpTrue)
			return nil
		case "false":
			c.emitOp(bytecode.OpFalse)
			return nil
		case "null":
			c.emitOp(bytecode.OpNull)
			return nil
		}
		return fmt.Errorf("udog assembler: line %d: %q is not a valid const literal", instr.Line, op.Text)
	}
	return nil
}

func (c *compiler) pushConstant(val vm.Value) {
	c.emitOp(bytecode.OpConstant)
	c.emitU16(c.addConstant(val))
}

func (c *compiler) emitCall(instr *ast.Instruction) error {
	argc, err := operandInt(instr, 0)
	if err != nil {
		return err
	}
	if argc < 0 || argc > 16 {
		return fmt.Errorf("udog assembler: line %d: call argument count %d out of range", instr.Line, argc)
	}
	sig, err := operandString(instr, 1)
	if err != nil {
		return err
	}
	c.emitOp(bytecode.OpCall0 + bytecode.Opcode(argc))
	c.emitU16(c.v.Symbol(sig))
	return nil
}

func (c *compiler) emitMethodSymbol(instr *ast.Instruction, op bytecode.Opcode) error {
	sig, err := operandString(instr, 0)
	if err != nil {
		return err
	}
	c.emitOp(op)
	c.emitU16(c.v.Symbol(sig))
	return nil
}
