package bytecode

import "errors"

// ErrSerializationNotSupported is returned by SaveByteCode/LoadByteCode.
//
// The original source this runtime is grounded on (see DESIGN.md) ships
// a bytecode writer that only ever emits a trailer and a loader that
// always returns null — the on-disk format was never finished there.
// spec.md §9 calls this out explicitly as an open question rather than
// something to reverse-engineer, so this package keeps the same stance:
// the seam exists (SaveByteCode/LoadByteCode in fn.go) but is
// unimplemented by design, not by oversight.
var ErrSerializationNotSupported = errors.New("bytecode: serialization format not specified (see SPEC_FULL.md §F)")
