package weights

import (
	"testing"

	"github.com/x448/float16"
)

func TestFp16FromFloat32_Policy(t *testing.T) {
	cases := []struct {
		name string
		in   float32
		want uint16
	}{
		{"zero", 0, 0},
		{"one", 1.0, 0x3C00},
		{"neg_two", -2.0, 0xC000},
		{"underflow", 1e-8, 0},
		{"neg_underflow", -1e-8, 0},
		{"overflow", 1e10, 0x7C00},
		{"neg_overflow", -1e10, 0xFC00},
		{"half", 0.5, 0x3800},
	}

	for _, tc := range cases {
		if got := Fp16FromFloat32(tc.in); got != tc.want {
			t.Errorf("%s: Fp16FromFloat32(%g) = 0x%04X, expected 0x%04X", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestFp16FromFloat32_Truncates(t *testing.T) {
	// 1 + 3*2^-12 rounds up under IEEE but must truncate to exactly 1.0 here
	in := float32(1.0) + 3.0/4096.0
	if got := Fp16FromFloat32(in); got != 0x3C00 {
		t.Errorf("Fp16FromFloat32(1+3*2^-12) = 0x%04X, expected truncation to 0x3C00", got)
	}
}

// TestFp16_AgainstIEEE cross-checks the fast path against an IEEE
// implementation on values a half represents exactly, where truncation
// and round-to-nearest must agree.
func TestFp16_AgainstIEEE(t *testing.T) {
	exact := []float32{0, 1, -1, 0.5, -0.25, 1.5, 2, 1024, -2048, 0.125, 3.75, -96}

	for _, v := range exact {
		got := Fp16FromFloat32(v)
		want := float16.Fromfloat32(v).Bits()
		if got != want {
			t.Errorf("Fp16FromFloat32(%g) = 0x%04X, IEEE gives 0x%04X", v, got, want)
		}
	}
}

func TestFp16ToFloat32_RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 1.5, -3.25, 2048, -65504}

	for _, v := range values {
		h := Fp16FromFloat32(v)
		back := Fp16ToFloat32(h)
		if back != v {
			t.Errorf("round trip %g -> 0x%04X -> %g", v, h, back)
		}

		// Widening must agree with the IEEE reference for every half we emit
		if ieee := float16.Frombits(h).Float32(); ieee != back {
			t.Errorf("Fp16ToFloat32(0x%04X) = %g, IEEE gives %g", h, back, ieee)
		}
	}
}
