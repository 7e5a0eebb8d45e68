package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

// TestSealAndOpen tests AES-GCM encryption roundtrip
func TestSealAndOpen(t *testing.T) {
	key := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	rand.Read(key)
	rand.Read(nonce)

	plaintext := make([]byte, IntermediateSize)
	rand.Read(plaintext)

	ciphertext, err := Seal(key, nonce, nil, plaintext)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	// Wrapped R is exactly 80 bytes in the v00 header
	if len(ciphertext) != IntermediateSize+TagSize {
		t.Errorf("Ciphertext length = %d, want %d", len(ciphertext), IntermediateSize+TagSize)
	}

	decrypted, err := Open(key, nonce, nil, ciphertext)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Error("Decrypted plaintext does not match original")
	}
}

// TestAuthenticationFailure tests that tampered ciphertext is rejected
func TestAuthenticationFailure(t *testing.T) {
	key := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	rand.Read(key)
	rand.Read(nonce)

	ciphertext, err := Seal(key, nonce, nil, []byte("Secret message"))
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	ciphertext[0] ^= 0x01

	_, err = Open(key, nonce, nil, ciphertext)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open() error = %v, want ErrAuthenticationFailed", err)
	}
}

// TestOpenWrongKey tests that a different key is reported as an authentication failure
func TestOpenWrongKey(t *testing.T) {
	key := make([]byte, KeySize)
	other := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	rand.Read(key)
	rand.Read(other)
	rand.Read(nonce)

	ciphertext, err := Seal(key, nonce, nil, []byte("R"))
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	if _, err := Open(other, nonce, nil, ciphertext); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open() error = %v, want ErrAuthenticationFailed", err)
	}
}

// TestSealInvalidSizes tests key and nonce size validation
func TestSealInvalidSizes(t *testing.T) {
	if _, err := Seal(make([]byte, 16), make([]byte, NonceSize), nil, nil); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Seal() with short key error = %v, want ErrInvalidKeySize", err)
	}
	if _, err := Seal(make([]byte, KeySize), make([]byte, 8), nil, nil); !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("Seal() with short nonce error = %v, want ErrInvalidNonceSize", err)
	}
	if _, err := Open(make([]byte, KeySize), make([]byte, NonceSize), nil, make([]byte, 4)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open() with short ciphertext error = %v, want ErrAuthenticationFailed", err)
	}
}
