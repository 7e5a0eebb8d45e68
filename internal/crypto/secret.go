package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
)

// ErrNoPassword is returned by PasswordHolder.Snapshot when no password is set.
var ErrNoPassword = errors.New("no password set")

// Wipe overwrites every byte of the given buffers with zeros.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
		runtime.KeepAlive(b)
	}
}

// RandomBytes reads n bytes from r, or from crypto/rand when r is nil.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// SecretBuffer holds key material or a password copy.
//
// Destroy zeroes the contents and is safe to call any number of times, so
// owners release a buffer with a single deferred call:
//
//	k, err := DeriveKey(pw.Bytes(), salt, cost)
//	...
//	defer k.Destroy()
type SecretBuffer struct {
	mu        sync.Mutex
	b         []byte
	destroyed bool
}

// NewSecretBuffer allocates a zeroed secret of n bytes.
func NewSecretBuffer(n int) *SecretBuffer {
	return &SecretBuffer{b: make([]byte, n)}
}

// SecretBufferFrom copies b into a new SecretBuffer and wipes b.
func SecretBufferFrom(b []byte) *SecretBuffer {
	s := &SecretBuffer{b: make([]byte, len(b))}
	copy(s.b, b)
	Wipe(b)
	return s
}

// Bytes returns the underlying slice, or nil once destroyed.
// The slice must not outlive the buffer.
func (s *SecretBuffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	return s.b
}

// Len returns the secret length, 0 once destroyed.
func (s *SecretBuffer) Len() int {
	return len(s.Bytes())
}

// Destroy zeroes the secret. Nil buffers are ignored.
func (s *SecretBuffer) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	Wipe(s.b)
	s.b = nil
	s.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (s *SecretBuffer) Destroyed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// PasswordHolder keeps the master password for a session.
// Callers never get a reference to the stored bytes, only snapshots.
type PasswordHolder struct {
	mu  sync.Mutex
	buf *SecretBuffer
}

// Set stores a copy of pw, wiping any previous password.
// The caller keeps ownership of pw and should wipe it.
func (p *PasswordHolder) Set(pw []byte) {
	next := NewSecretBuffer(len(pw))
	copy(next.b, pw)

	p.mu.Lock()
	prev := p.buf
	p.buf = next
	p.mu.Unlock()

	prev.Destroy()
}

// Snapshot returns an independent copy of the password.
// The caller must Destroy it.
func (p *PasswordHolder) Snapshot() (*SecretBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.buf.Bytes()
	if src == nil {
		return nil, ErrNoPassword
	}
	snap := NewSecretBuffer(len(src))
	copy(snap.b, src)
	return snap, nil
}

// IsSet reports whether a password is held.
func (p *PasswordHolder) IsSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Bytes() != nil
}

// Wipe destroys the held password.
func (p *PasswordHolder) Wipe() {
	p.mu.Lock()
	prev := p.buf
	p.buf = nil
	p.mu.Unlock()

	prev.Destroy()
}
