package envelope

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/sealbox/backend/internal/crypto"
	"github.com/sealbox/backend/internal/observability"
	"github.com/sealbox/backend/internal/validation"
)

// Scheme is one envelope format. Versions are additive: a new format is a
// new Scheme, existing ones never change.
type Scheme interface {
	Version() Version

	// Encrypt writes version | header | body | tag and returns the peer status.
	Encrypt(ctx context.Context, req Request, src io.Reader, size int64) (int32, error)

	// Decrypt reads size | header | body | tag (the version byte is already
	// consumed) and writes plaintext to dst.
	Decrypt(ctx context.Context, req Request, dst io.Writer) (int32, error)

	// DecryptShare reads size | share header | body | tag using a hex K2.
	DecryptShare(ctx context.Context, req Request, hexKey string, dst io.Writer) (int32, error)

	// DeriveShareKey recovers K2 from an encoded header and the password.
	DeriveShareKey(ctx context.Context, pw PasswordSource, header []byte) (*crypto.SecretBuffer, error)
}

// registry lists every scheme this build can read. Never remove entries.
var registry = map[Version]func(*engine) Scheme{
	V00: newSchemeV00,
}

// engine is the state shared by all schemes of one Dispatcher.
type engine struct {
	opts    Options
	nonces  *crypto.NonceFactory
	log     *observability.Logger
	metrics *observability.Metrics
}

func (e *engine) begin(name string) *operation {
	return &operation{name: name, state: Idle, log: e.log, hook: e.opts.StateHook}
}

func (e *engine) derive(stage string, secret, salt []byte, cost uint8) (*crypto.SecretBuffer, error) {
	start := time.Now()
	k, err := crypto.DeriveKey(secret, salt, cost)
	if err != nil {
		return nil, cryptoError("derive "+stage, err)
	}
	d := time.Since(start)
	e.log.KeyDerived(stage, cost, crypto.MemoryForCost(cost), d)
	e.metrics.RecordKeyDerivation(stage, d)
	return k, nil
}

// checkCost rejects header cost exponents that could not have been
// produced by a sane writer. A modified cost byte is tampering.
func (e *engine) checkCost(cost uint8) error {
	if cost < crypto.MinCost || cost > e.opts.MaxCost {
		return ErrAuthentication
	}
	return nil
}

func (e *engine) checkSize(size int64) error {
	if size < 0 || size > e.opts.MaxDeclaredSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrDeclaredSize, size, e.opts.MaxDeclaredSize)
	}
	return nil
}

func (e *engine) snapshot(pw PasswordSource) (*crypto.SecretBuffer, error) {
	if pw == nil {
		return nil, cryptoError("password", crypto.ErrNoPassword)
	}
	s, err := pw.Snapshot()
	if err != nil {
		return nil, cryptoError("password", err)
	}
	return s, nil
}

// decodeShareKey turns a 64-character lowercase hex key into K2.
func decodeShareKey(hexKey string) (*crypto.SecretBuffer, error) {
	if err := validation.ValidateShareKey(hexKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShareKey, err)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShareKey, err)
	}
	return crypto.SecretBufferFrom(raw), nil
}
