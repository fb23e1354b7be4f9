package bytecode

import "encoding/binary"

// Fn is the compiler→VM contract described in spec.md §6: the compiled
// unit a (not implemented here) compiler hands to the VM, one per
// function/method/block body. It owns nothing but data — no behavior —
// so it can be produced equally by a real compiler or by the assembler
// in pkg/compiler that this repo uses for its own tests and CLI.
type Fn struct {
	Code      []byte        // bytecode stream; last two bytes are always RETURN, END
	Constants []interface{} // constant pool; element type is a VM Value, but Fn stays VM-agnostic so the package has no import cycle with pkg/vm

	Arity        int // number of declared parameters (0 for module-level code)
	NumUpvalues  int // number of upvalue slots a CLOSURE of this Fn must allocate
	NumSlots     int // max locals (including arguments) live at once; sizes the frame's stack window

	Module string // name of the owning module ("" for the core module)
	Debug  *DebugInfo
}

// DebugInfo is the per-line/per-symbol debug record spec.md §6 requires
// alongside every Fn: a PC→source-line map the same length as Code, plus
// a human name and source path for stack traces.
type DebugInfo struct {
	SourcePath string
	Name       string      // e.g. "Foo.bar(_,_)" or "<module main>"
	Lines      []int       // Lines[pc] = source line the byte at pc came from
}

// LineFor returns the source line recorded for the instruction whose
// opcode byte is at pc, or 0 if there is no debug record.
func (f *Fn) LineFor(pc int) int {
	if f.Debug == nil || pc < 0 || pc >= len(f.Debug.Lines) {
		return 0
	}
	return f.Debug.Lines[pc]
}

// ReadUint16 decodes the fixed-width operand at code[pc:pc+2].
func ReadUint16(code []byte, pc int) int {
	return int(binary.BigEndian.Uint16(code[pc : pc+2]))
}

// PutUint16 encodes v as the fixed-width operand representation used
// throughout this package.
func PutUint16(v int) []byte {
	b := make([]byte, OperandWidth)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

// WellFormed checks the structural invariants spec.md §6 requires of
// every Fn the compiler (or this repo's assembler) produces: the code
// ends with RETURN immediately followed by END.
func (f *Fn) WellFormed() bool {
	n := len(f.Code)
	if n < 2 {
		return false
	}
	return Opcode(f.Code[n-2]) == OpReturn && Opcode(f.Code[n-1]) == OpEnd
}

// SaveByteCode and LoadByteCode are the bytecode-serialization seam
// spec.md §9 documents as a stub in the original source: the on-disk
// format was never specified there, so rather than invent one this
// keeps the same "not yet a feature" stance.
func SaveByteCode(*Fn) ([]byte, error) {
	return nil, ErrSerializationNotSupported
}

func LoadByteCode([]byte) (*Fn, error) {
	return nil, ErrSerializationNotSupported
}
