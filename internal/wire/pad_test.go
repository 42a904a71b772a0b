package wire

import "testing"

// Table derived directly from pad's selection rule: the smallest bucket
// that leaves room for encryptionHeadroom, but only if the resulting
// filler is <=255 bytes; otherwise padding is skipped.
func TestPadPicksSmallestFittingBucketOrSkips(t *testing.T) {
	cases := []struct {
		inputLen int
		wantLen  int // wantLen == inputLen means padding was skipped
	}{
		{0, 0},       // needed would be 256, over the 255 filler cap
		{1, 256},
		{100, 256},
		{240, 256},   // 240+16 == 256, needed == 16
		{241, 241},   // next bucket (512) needs 271 filler bytes, skipped
		{257, 512},   // 512-257 == 255, just fits
		{496, 512},
		{497, 497},   // next bucket (1024) needs 527, skipped
		{769, 1024},  // 1024-769 == 255
		{1008, 1024},
		{1009, 1009}, // next bucket (2048) needs 1039, skipped
		{1793, 2048}, // 2048-1793 == 255
		{2032, 2048},
	}
	for _, c := range cases {
		data := make([]byte, c.inputLen)
		got := pad(data)
		if len(got) != c.wantLen {
			t.Errorf("pad(len=%d): got padded len %d, want %d", c.inputLen, len(got), c.wantLen)
		}
	}
}

func TestPadSkipsWhenFillerTooLarge(t *testing.T) {
	// 2033 bytes needs a bucket beyond 2048; padding must be skipped
	// entirely rather than truncating data.
	data := make([]byte, 2033)
	got := pad(data)
	if len(got) != len(data) {
		t.Fatalf("expected pad to skip oversized input, got len %d want %d", len(got), len(data))
	}
}

func TestUnpadInverseOfPad(t *testing.T) {
	for _, n := range []int{1, 10, 100, 240, 300, 2032} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pad(data)
		unpadded := unpad(padded)
		if len(unpadded) != n {
			t.Fatalf("unpad(pad(x)) length mismatch for n=%d: got %d", n, len(unpadded))
		}
		for i := range data {
			if unpadded[i] != data[i] {
				t.Fatalf("unpad(pad(x)) content mismatch at %d for n=%d", i, n)
			}
		}
	}
}

func TestUnpadIgnoresUnpaddedData(t *testing.T) {
	data := []byte{1, 2, 3, 0} // trailing zero is not a valid padding length
	got := unpad(data)
	if len(got) != len(data) {
		t.Fatalf("expected unpad to leave zero-terminated data alone")
	}
}
