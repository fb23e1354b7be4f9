package bytecode

import "testing"

func TestPutReadUint16RoundTrip(t *testing.T) {
	cases := []int{0, 1, 255, 256, 65535}
	for _, n := range cases {
		code := PutUint16(n)
		if got := ReadUint16(code, 0); got != n {
			t.Errorf("PutUint16(%d) -> ReadUint16 = %d", n, got)
		}
	}
}

func TestFnWellFormed(t *testing.T) {
	ok := &Fn{Code: []byte{byte(OpConstant), 0, 0, byte(OpReturn), byte(OpEnd)}}
	if !ok.WellFormed() {
		t.Error("expected code ending RETURN, END to be well-formed")
	}

	bad := &Fn{Code: []byte{byte(OpReturn)}}
	if bad.WellFormed() {
		t.Error("expected single-byte code to be malformed")
	}

	empty := &Fn{}
	if empty.WellFormed() {
		t.Error("expected empty code to be malformed")
	}
}

func TestLineFor(t *testing.T) {
	f := &Fn{Debug: &DebugInfo{Lines: []int{1, 1, 2, 2, 3}}}
	if got := f.LineFor(2); got != 2 {
		t.Errorf("LineFor(2) = %d, want 2", got)
	}
	if got := f.LineFor(99); got != 0 {
		t.Errorf("LineFor(out of range) = %d, want 0", got)
	}

	var nilDebug Fn
	if got := nilDebug.LineFor(0); got != 0 {
		t.Errorf("LineFor with nil Debug = %d, want 0", got)
	}
}

func TestIsCallIsSuper(t *testing.T) {
	if n, ok := IsCall(OpCall3); !ok || n != 3 {
		t.Errorf("IsCall(OpCall3) = (%d, %v), want (3, true)", n, ok)
	}
	if _, ok := IsCall(OpSuper0); ok {
		t.Error("IsCall(OpSuper0) should be false")
	}
	if n, ok := IsSuper(OpSuper16); !ok || n != 16 {
		t.Errorf("IsSuper(OpSuper16) = (%d, %v), want (16, true)", n, ok)
	}
}

func TestOpcodeStringCallSuper(t *testing.T) {
	if got := OpCall5.String(); got != "CALL_5" {
		t.Errorf("OpCall5.String() = %q, want CALL_5", got)
	}
	if got := OpSuper2.String(); got != "SUPER_2" {
		t.Errorf("OpSuper2.String() = %q, want SUPER_2", got)
	}
	if got := OpReturn.String(); got != "RETURN" {
		t.Errorf("OpReturn.String() = %q, want RETURN", got)
	}
}

func TestSaveLoadByteCodeUnsupported(t *testing.T) {
	if _, err := SaveByteCode(&Fn{}); err == nil {
		t.Error("expected SaveByteCode to report unsupported")
	}
	if _, err := LoadByteCode(nil); err == nil {
		t.Error("expected LoadByteCode to report unsupported")
	}
}
