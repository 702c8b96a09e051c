package record

import "testing"

func TestVarint_RoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 0x7f, 0x80, 0x3fff, 0x4000,
		1 << 20, 1 << 27, 1 << 34, 1 << 41, 1 << 48, 1 << 55,
		1<<56 - 1, 1 << 56, 1<<64 - 1, 0xffffffffffffffff,
	}
	for _, v := range cases {
		buf := make([]byte, 9)
		n := PutVarint(buf, v)
		if n != VarintLen(v) {
			t.Fatalf("VarintLen(%d) = %d, PutVarint wrote %d", v, VarintLen(v), n)
		}
		got, m := GetVarint(buf[:n])
		if m != n {
			t.Fatalf("GetVarint consumed %d, want %d for v=%d", m, n, v)
		}
		if got != v {
			t.Fatalf("roundtrip mismatch: v=%d got=%d encoded=%x", v, got, buf[:n])
		}
	}
}

func TestVarint_NineByteForm(t *testing.T) {
	v := uint64(0xffffffffffffffff)
	buf := make([]byte, 9)
	n := PutVarint(buf, v)
	if n != 9 {
		t.Fatalf("expected 9-byte encoding, got %d", n)
	}
	got, m := GetVarint(buf)
	if m != 9 || got != v {
		t.Fatalf("9-byte roundtrip failed: got=%d m=%d", got, m)
	}
}

func TestVarint_SingleByteBoundary(t *testing.T) {
	buf := make([]byte, 9)
	n := PutVarint(buf, 0x7f)
	if n != 1 {
		t.Fatalf("0x7f should encode in 1 byte, got %d", n)
	}
	n = PutVarint(buf, 0x80)
	if n != 2 {
		t.Fatalf("0x80 should encode in 2 bytes, got %d", n)
	}
}
