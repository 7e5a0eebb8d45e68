package crypto

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestFileCounterWrap tests the advance-by-two rule and the wrap point
func TestFileCounterWrap(t *testing.T) {
	c := NewFileCounter(0)
	if got := c.Reserve(); got != 0 {
		t.Errorf("first Reserve() = %d, want 0", got)
	}
	if got := c.Value(); got != 2 {
		t.Errorf("Value() = %d, want 2", got)
	}

	c = NewFileCounter(65532)
	if got := c.Reserve(); got != 65532 {
		t.Errorf("Reserve() = %d, want 65532", got)
	}
	if got := c.Value(); got != 65534 {
		t.Errorf("Value() after 65532 = %d, want 65534", got)
	}

	c = NewFileCounter(65533)
	c.Reserve()
	if got := c.Value(); got != 0 {
		t.Errorf("Value() after 65533 = %d, want 0", got)
	}

	c = NewFileCounter(65534)
	c.Reserve()
	if got := c.Value(); got != 0 {
		t.Errorf("Value() after 65534 = %d, want 0", got)
	}

	c = NewFileCounter(65530)
	c.Reserve()
	if got := c.Value(); got != 65532 {
		t.Errorf("Value() after 65530 = %d, want 65532", got)
	}
}

// TestMakePairLayout tests the counter and epoch bytes of both nonces
func TestMakePairLayout(t *testing.T) {
	clock := ClockFunc(func() uint32 { return 0x11223344 })
	f := NewNonceFactory(NewFileCounter(0x05ff), clock, nil)

	n1, n2, err := f.MakePair()
	if err != nil {
		t.Fatalf("MakePair() failed: %v", err)
	}

	if got := binary.BigEndian.Uint16(n1[6:8]); got != 0x05ff {
		t.Errorf("N1 counter = %#x, want 0x05ff", got)
	}
	if got := binary.BigEndian.Uint32(n1[8:12]); got != 0x11223344 {
		t.Errorf("N1 epoch = %#x, want 0x11223344", got)
	}

	// Low bytes wrap without carrying into the high bytes
	if !bytes.Equal(n2[6:12], []byte{0x05, 0x00, 0x11, 0x22, 0x33, 0x45}) {
		t.Errorf("N2 counter/epoch = %x, want 050011223345", n2[6:12])
	}
	if n1 == n2 {
		t.Error("N1 == N2")
	}
}

// TestMakePairUniqueSameSecond tests 1000 encryptions within one epoch second
func TestMakePairUniqueSameSecond(t *testing.T) {
	clock := ClockFunc(func() uint32 { return 1700000000 })
	f := NewNonceFactory(NewFileCounter(0), clock, nil)

	seen := make(map[[NonceSize]byte]bool)
	for i := 0; i < 1000; i++ {
		n1, n2, err := f.MakePair()
		if err != nil {
			t.Fatalf("MakePair() failed: %v", err)
		}
		for _, n := range [][NonceSize]byte{n1, n2} {
			if seen[n] {
				t.Fatalf("nonce collision at file %d", i)
			}
			seen[n] = true
		}
	}

	if len(seen) != 2000 {
		t.Errorf("unique nonces = %d, want 2000", len(seen))
	}
}

// TestMakePairDistinctWithFixedRandomness tests that N1 differs from N2 even
// when the random bytes repeat
func TestMakePairDistinctWithFixedRandomness(t *testing.T) {
	zeros := bytes.NewReader(make([]byte, 12))
	f := NewNonceFactory(NewFileCounter(0), ClockFunc(func() uint32 { return 0 }), zeros)

	n1, n2, err := f.MakePair()
	if err != nil {
		t.Fatalf("MakePair() failed: %v", err)
	}
	if n1 == n2 {
		t.Error("N1 == N2 with identical random bytes")
	}
}
