// Package envelope implements the versioned envelope encryption engine.
//
// Every object is encrypted under a two-stage key hierarchy:
//
//	K1 = scrypt(password, S1, costK1)   wraps the random intermediate secret R
//	K2 = scrypt(R, S2, costK2)          encrypts the body with streaming AES-256-GCM
//
// The object starts with a one-byte scheme version followed by a
// version-specific header that carries everything needed to decrypt it
// except the password. The Dispatcher is the only entry point callers use;
// it routes new encryptions to the configured version and historical
// objects to the version recorded in their first byte.
//
// One operation owns its Channel for its whole duration. Callers serialize
// operations per connection (see internal/queue and wire.Conn.Lock).
package envelope

import (
	"fmt"
	"io"

	"github.com/sealbox/backend/internal/chunker"
	"github.com/sealbox/backend/internal/crypto"
)

// Version is the scheme version tag written as the first byte of every object.
type Version byte

// V00 is the scrypt + AES-256-GCM scheme.
const V00 Version = 0x00

// String returns the version in its two-digit form, e.g. "v00".
func (v Version) String() string {
	return fmt.Sprintf("v%02x", byte(v))
}

const (
	// HeaderSizeV00 is the length of the v00 header after the version byte.
	HeaderSizeV00 = 234

	// ShareHeaderSize is the share-download header: N2 only.
	ShareHeaderSize = crypto.NonceSize

	// ChunkSize is the body processing unit.
	ChunkSize = chunker.DefaultChunkSize
)

// Channel is the stream pair of one transfer. If it also implements
// Flush() error, the engine flushes before every read that waits on the peer.
type Channel interface {
	io.Reader
	io.Writer
}

// ProgressSink receives human-readable progress texts such as "Uploading (42%)".
type ProgressSink interface {
	Notify(text string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(text string)

// Notify calls f.
func (f ProgressFunc) Notify(text string) { f(text) }

// PasswordSource hands out copies of the master password.
// *crypto.PasswordHolder implements it.
type PasswordSource interface {
	Snapshot() (*crypto.SecretBuffer, error)
}

// Request bundles the collaborators of one engine call.
type Request struct {
	Channel  Channel
	Password PasswordSource
	Progress ProgressSink
}
