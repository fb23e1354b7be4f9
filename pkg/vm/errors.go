// Package vm - error handling with stack traces.
package vm

import (
	"fmt"
	"strings"
)

// StackFrame is one entry in a frozen stack trace: where execution was
// when a raise walked fiber.frames (spec.md §4.7), decoded back to a
// source line via the Fn's debug record.
type StackFrame struct {
	Name       string
	SourceLine int
}

// RuntimeError is a script-level raise: catchable by a calling fiber's
// try (spec.md §4.7/§7). Its Exception carries the message and this
// frozen trace as its first two fields.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			frame := e.StackTrace[i]
			fmt.Fprintf(&b, "\n  at %s", frame.Name)
			if frame.SourceLine > 0 {
				fmt.Fprintf(&b, " line %d", frame.SourceLine)
			}
		}
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}

// CompileError reports that source was rejected before any fiber ran
// (spec.md §7's COMPILE error kind).
type CompileError struct {
	Message string
}

func (e *CompileError) Error() string { return "compile error: " + e.Message }

// FatalError is spec.md §7's FATAL kind: stack/call-depth overflow,
// allocator failure, or an internal invariant violation. It is never
// catchable by a script try and always stops the VM.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return "fatal error: " + e.Message }

// captureStackTrace walks f.frames from innermost to outermost,
// decoding each frame's PC back to a source line via its Fn's debug
// record (spec.md §4.7).
func captureStackTrace(f *Fiber) []StackFrame {
	trace := make([]StackFrame, 0, len(f.frames))
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		name := "?"
		line := 0
		if fr.Closure != nil && fr.Closure.Proto != nil {
			proto := fr.Closure.Proto.Proto
			if proto.Debug != nil {
				name = proto.Debug.Name
				line = proto.LineFor(fr.PC)
			}
		}
		trace = append(trace, StackFrame{Name: name, SourceLine: line})
	}
	return trace
}
