// Package crypto provides the cryptographic primitives of the sealbox envelope engine.
//
// This package implements:
//   - SecretBuffer and PasswordHolder for scoped key material
//   - scrypt key derivation with per-object cost exponents
//   - Nonce pairs built from randomness, a file counter and epoch seconds
//   - One-shot AES-256-GCM (Seal/Open) for wrapping the intermediate secret
//   - Streaming AES-256-GCM (GCMStream) for file bodies of arbitrary size
package crypto

const (
	// KeySize is the length of every derived AES-256 key.
	KeySize = 32

	// NonceSize is the GCM nonce length.
	NonceSize = 12

	// TagSize is the GCM authentication tag length.
	TagSize = 16

	// SaltSize is the length of the KDF salts S1 and S2.
	SaltSize = 64

	// IntermediateSize is the length of the intermediate secret R.
	IntermediateSize = 64
)
