package handle

import "testing"

func TestHandlePacking(t *testing.T) {
	cases := []struct {
		index, gen uint32
	}{
		{0, 1},
		{1, 1},
		{42, 7},
		{1<<32 - 1, 1<<32 - 1},
	}
	for _, tc := range cases {
		h := Make(tc.index, tc.gen)
		if h.Index() != tc.index || h.Generation() != tc.gen {
			t.Errorf("Make(%d,%d) unpacked to (%d,%d)", tc.index, tc.gen, h.Index(), h.Generation())
		}
		if h.IsNil() {
			t.Errorf("Make(%d,%d) must not be nil", tc.index, tc.gen)
		}
	}
}

func TestHandleNil(t *testing.T) {
	if !Nil.IsNil() {
		t.Fatal("Nil.IsNil() = false")
	}
	if Nil.String() != "nil" {
		t.Errorf("Nil.String() = %q", Nil.String())
	}
	if got := Make(3, 2).String(); got != "#3.2" {
		t.Errorf("String() = %q, want #3.2", got)
	}
}
