package envelope

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means a tag did not verify: wrong password or
	// corrupted/tampered header or body. It never says which stage failed.
	ErrAuthentication = errors.New("authentication failed: wrong password or corrupted data")

	// ErrCrypto covers every other cipher or KDF failure.
	ErrCrypto = errors.New("cryptographic failure")

	// ErrTransport is an I/O failure on the channel, the source or the sink,
	// including cancellation.
	ErrTransport = errors.New("transport failure")

	// ErrUnknownVersion is returned for a scheme version with no implementation.
	ErrUnknownVersion = errors.New("unknown scheme version")

	// ErrMalformedHeader is returned for headers of the wrong length.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrDeclaredSize is returned when a plaintext size is negative or above the configured maximum.
	ErrDeclaredSize = errors.New("declared size out of range")

	// ErrInvalidShareKey is returned for share keys that are not 64 lowercase hex characters.
	ErrInvalidShareKey = errors.New("invalid share key")

	// ErrInvalidOptions is returned by NewDispatcher for unusable settings.
	ErrInvalidOptions = errors.New("invalid envelope options")
)

// Status codes reported to the workflow layer. Peer status codes are
// passed through unchanged and never collide with the negative codes;
// positive peer codes are only returned with a nil error.
const (
	CodeOK             int32 = 0
	CodeAuthentication int32 = 4
	CodeCrypto         int32 = 5
	CodeShare          int32 = 7
	CodeTransport      int32 = -1
	CodeFormat         int32 = -2
	CodeDeclaredSize   int32 = -3
)

// Code maps an engine error to its status code.
func Code(err error) int32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrInvalidShareKey):
		return CodeShare
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrUnknownVersion), errors.Is(err, ErrMalformedHeader):
		return CodeFormat
	case errors.Is(err, ErrDeclaredSize):
		return CodeDeclaredSize
	default:
		return CodeCrypto
	}
}

// resultLabel is the metrics label for an outcome.
func resultLabel(err error) string {
	switch Code(err) {
	case CodeOK:
		return "ok"
	case CodeAuthentication:
		return "auth_failure"
	case CodeShare:
		return "share_failure"
	case CodeTransport:
		return "transport_failure"
	case CodeFormat:
		return "bad_format"
	case CodeDeclaredSize:
		return "declared_size"
	default:
		return "crypto_failure"
	}
}

// refusal wraps an error after which the channel is back at a request
// boundary: the peer was told not to send the body, or the trailer was
// consumed.
type refusal struct{ err error }

func (r *refusal) Error() string { return r.err.Error() }
func (r *refusal) Unwrap() error { return r.err }

// Resumable reports whether the channel can carry another request after an
// operation failed with err. Any other failure leaves the stream at an
// unknown offset.
func Resumable(err error) bool {
	var r *refusal
	return errors.As(err, &r)
}

func transportError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, what, err)
}

func cryptoError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCrypto, what, err)
}

// checkContext reports cancellation as a transport failure.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return transportError("cancelled", err)
	}
	return nil
}
