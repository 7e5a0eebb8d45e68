package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// TestSecretBufferDestroy tests zeroization and idempotent release
func TestSecretBufferDestroy(t *testing.T) {
	src := []byte("intermediate secret")
	s := SecretBufferFrom(src)

	if !bytes.Equal(src, make([]byte, len(src))) {
		t.Error("SecretBufferFrom() did not wipe the source")
	}

	backing := s.Bytes()
	if string(backing) != "intermediate secret" {
		t.Fatalf("Bytes() = %q", backing)
	}

	s.Destroy()
	s.Destroy()

	if !s.Destroyed() {
		t.Error("Destroyed() = false after Destroy()")
	}
	if s.Bytes() != nil || s.Len() != 0 {
		t.Error("destroyed buffer still exposes bytes")
	}
	if !bytes.Equal(backing, make([]byte, len(backing))) {
		t.Error("Destroy() did not zero the backing array")
	}

	var nilBuf *SecretBuffer
	nilBuf.Destroy()
}

// TestPasswordHolderSnapshot tests that snapshots are independent copies
func TestPasswordHolderSnapshot(t *testing.T) {
	var p PasswordHolder
	if p.IsSet() {
		t.Error("IsSet() = true on empty holder")
	}
	if _, err := p.Snapshot(); !errors.Is(err, ErrNoPassword) {
		t.Errorf("Snapshot() on empty holder error = %v, want ErrNoPassword", err)
	}

	pw := []byte("a-long-enough-master-password")
	p.Set(pw)

	snap, err := p.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	snap.Bytes()[0] = 'X'
	snap.Destroy()

	again, err := p.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	defer again.Destroy()
	if !bytes.Equal(again.Bytes(), pw) {
		t.Error("mutating a snapshot changed the held password")
	}

	p.Wipe()
	if p.IsSet() {
		t.Error("IsSet() = true after Wipe()")
	}
	if _, err := p.Snapshot(); !errors.Is(err, ErrNoPassword) {
		t.Errorf("Snapshot() after Wipe error = %v, want ErrNoPassword", err)
	}
}

// TestRandomBytes tests length and source selection
func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(nil, SaltSize)
	if err != nil {
		t.Fatalf("RandomBytes() failed: %v", err)
	}
	if len(b) != SaltSize {
		t.Errorf("len = %d, want %d", len(b), SaltSize)
	}

	if _, err := RandomBytes(bytes.NewReader([]byte{1, 2}), 4); err == nil {
		t.Error("RandomBytes() should fail on a short source")
	}
}
