package vm

import "fmt"

// makeTraceList converts a captured stack trace into a script-visible
// List of strings ("name line N"), the form System.print(e.stackTrace)
// could render.
func (v *VM) makeTraceList(trace []StackFrame) Value {
	items := make([]Value, len(trace))
	for i, fr := range trace {
		s := fr.Name
		if fr.SourceLine > 0 {
			s = fmt.Sprintf("%s line %d", fr.Name, fr.SourceLine)
		}
		items[i] = ObjValue(newString(v, s))
	}
	return ObjValue(newList(v, items))
}

// asException returns val itself (refreshed with a new trace) if it is
// already an Exception instance, or wraps it (coerced to a message
// string) in a freshly allocated one — spec.md §4.7's "Exception
// instance whose first field is the message string and whose second
// field is the frozen stack trace".
func (v *VM) asException(val Value, trace []StackFrame) *Instance {
	if val.IsObj() {
		if inst, ok := val.AsObj().(*Instance); ok && inst.class.IsSubclassOf(v.exceptionClass) {
			inst.Fields[1] = v.makeTraceList(trace)
			return inst
		}
	}
	inst := newInstance(v, v.exceptionClass)
	inst.Fields[0] = ObjValue(newString(v, val.String()))
	inst.Fields[1] = v.makeTraceList(trace)
	return inst
}
