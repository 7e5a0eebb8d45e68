package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt block size and parallelism are fixed; only N varies per object.
const (
	scryptR = 8
	scryptP = 1

	// MinCost and MaxCost bound the cost exponent accepted by DeriveKey.
	MinCost = 1
	MaxCost = 30
)

var (
	// ErrInvalidCost is returned for cost exponents outside [MinCost, MaxCost]
	ErrInvalidCost = errors.New("invalid KDF cost exponent")

	// ErrInvalidSalt is returned when the salt is not SaltSize bytes
	ErrInvalidSalt = errors.New("salt must be exactly 64 bytes")
)

// DeriveKey stretches secret into a 32-byte key with scrypt.
//
// The work factor is N = 2^cost with r = 8 and p = 1, so memory use is
// 128 * r * N bytes (1 GiB at cost 20). The cost is stored in the object
// header, which keeps old objects decryptable when the default changes.
//
// Parameters:
//   - secret: password bytes or the intermediate secret R
//   - salt: 64-byte salt (S1 or S2)
//   - cost: exponent in [MinCost, MaxCost]
//
// Returns:
//   - key: 32-byte SecretBuffer, owned by the caller
//   - error: Non-nil for invalid parameters or KDF failure
func DeriveKey(secret, salt []byte, cost uint8) (*SecretBuffer, error) {
	if cost < MinCost || cost > MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSalt, len(salt))
	}

	key, err := scrypt.Key(secret, salt, 1<<cost, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt failed: %w", err)
	}

	return SecretBufferFrom(key), nil
}

// MemoryForCost returns the scrypt memory requirement in bytes for a cost exponent.
func MemoryForCost(cost uint8) uint64 {
	return 128 * scryptR * (uint64(1) << cost)
}
