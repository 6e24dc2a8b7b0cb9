package weights

import "testing"

func TestInt4Block_SetGet(t *testing.T) {
	b := NewInt4Block(16)

	cases := []struct {
		idx  int
		set  int8
		want int8
	}{
		{0, 0, 0},
		{1, 7, 7},
		{2, -8, -8},
		{3, -1, -1},
		{4, 3, 3},
		{5, 100, 7},  // clamped high
		{6, -100, -8}, // clamped low
		{15, -5, -5},
	}

	for _, tc := range cases {
		b.Set(tc.idx, tc.set)
		if got := b.Get(tc.idx); got != tc.want {
			t.Errorf("Set(%d, %d); Get = %d, expected %d", tc.idx, tc.set, got, tc.want)
		}
	}
}

func TestInt4Block_SignExtension(t *testing.T) {
	b := NewInt4Block(4)

	// Every value with bit 3 set must come back negative
	for v := int8(-8); v < 0; v++ {
		b.Set(0, v)
		if got := b.Get(0); got != v {
			t.Errorf("sign extension broken: stored %d, got %d", v, got)
		}
	}
}

func TestInt4Block_NeighborsUndisturbed(t *testing.T) {
	b := NewInt4Block(8)
	b.Set(2, -3)
	b.Set(3, 5)

	if b.Get(2) != -3 {
		t.Errorf("low nibble clobbered by high-nibble write: %d", b.Get(2))
	}
	if b.Get(3) != 5 {
		t.Errorf("high nibble wrong: %d", b.Get(3))
	}
}

func TestInt4Block_PackedLayout(t *testing.T) {
	b := NewInt4Block(4)
	b.Set(0, 1)
	b.Set(1, -1)

	// Nibble 0 in the low half, nibble 1 in the high half
	if b.Data[0] != 0xF1 {
		t.Errorf("packed byte = 0x%02X, expected 0xF1", b.Data[0])
	}
}

func TestInt4Block_OutOfRange(t *testing.T) {
	b := NewInt4Block(3)
	b.Set(3, 5) // ignored
	if got := b.Get(3); got != 0 {
		t.Errorf("Get past the end = %d, expected 0", got)
	}
	if b.DataSize() != 2 {
		t.Errorf("DataSize = %d, expected 2 for 3 weights", b.DataSize())
	}
}

func TestInt4Block_Dequantize(t *testing.T) {
	b := NewInt4Block(4)
	b.Scale = 0.5
	b.ZeroPoint = 1
	b.Set(0, 5)
	b.Set(1, -8)

	if got := b.Dequantize(0); got != 2.0 {
		t.Errorf("Dequantize(0) = %f, expected 2.0", got)
	}
	if got := b.Dequantize(1); got != -4.5 {
		t.Errorf("Dequantize(1) = %f, expected -4.5", got)
	}

	all := b.DequantizeAll()
	if len(all) != 4 || all[0] != 2.0 || all[1] != -4.5 {
		t.Errorf("DequantizeAll = %v", all)
	}
}
