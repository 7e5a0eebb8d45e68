// Package wire carries the big-endian request framing between the sealbox
// client and a storage peer.
//
// Primitives match the classic DataInput/DataOutput encodings: int32 and
// int64 are big-endian, bool is one byte (0 = false), and strings are a
// 2-byte big-endian length followed by UTF-8 bytes.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"
)

// MaxUTFLen is the longest string WriteUTF can encode.
const MaxUTFLen = 65535

// ErrStringTooLong is returned by WriteUTF for strings over MaxUTFLen bytes.
var ErrStringTooLong = errors.New("string too long for wire encoding")

// ErrInvalidUTF8 is returned by ReadUTF for malformed strings.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 on wire")

// Conn is one buffered, exclusively owned stream to the peer.
//
// Lock/Unlock serialize whole requests: a request holds the lock from its
// opcode until the peer's final status so two operations never interleave
// on the stream.
type Conn struct {
	mu     sync.Mutex
	rwc    io.ReadWriteCloser
	r      *bufio.Reader
	w      *bufio.Writer
	closer func() error
	remote string
}

// NewConn wraps rwc. Closing the Conn closes rwc.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReaderSize(rwc, 64<<10),
		w:   bufio.NewWriterSize(rwc, 64<<10),
	}
}

// Lock acquires exclusive use of the stream.
func (c *Conn) Lock() { c.mu.Lock() }

// Unlock releases the stream.
func (c *Conn) Unlock() { c.mu.Unlock() }

// RemoteAddr returns the peer address if known.
func (c *Conn) RemoteAddr() string { return c.remote }

// Read reads buffered bytes from the peer.
func (c *Conn) Read(p []byte) (int, error) { return c.r.Read(p) }

// Write buffers bytes for the peer; call Flush before waiting for a reply.
func (c *Conn) Write(p []byte) (int, error) { return c.w.Write(p) }

// Flush sends buffered bytes.
func (c *Conn) Flush() error { return c.w.Flush() }

// Close flushes what it can and closes the stream.
func (c *Conn) Close() error {
	_ = c.w.Flush()
	err := c.rwc.Close()
	if c.closer != nil {
		if cerr := c.closer(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadFull reads exactly len(p) bytes.
func (c *Conn) ReadFull(p []byte) error {
	_, err := io.ReadFull(c.r, p)
	return err
}

// ReadByte reads one byte.
func (c *Conn) ReadByte() (byte, error) { return c.r.ReadByte() }

// WriteByte writes one byte.
func (c *Conn) WriteByte(b byte) error { return c.w.WriteByte(b) }

// ReadInt32 reads a big-endian int32.
func (c *Conn) ReadInt32() (int32, error) {
	var b [4]byte
	if err := c.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// WriteInt32 writes a big-endian int32.
func (c *Conn) WriteInt32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := c.w.Write(b[:])
	return err
}

// ReadInt64 reads a big-endian int64.
func (c *Conn) ReadInt64() (int64, error) {
	var b [8]byte
	if err := c.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// WriteInt64 writes a big-endian int64.
func (c *Conn) WriteInt64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := c.w.Write(b[:])
	return err
}

// ReadBool reads one byte; any non-zero value is true.
func (c *Conn) ReadBool() (bool, error) {
	b, err := c.r.ReadByte()
	return b != 0, err
}

// WriteBool writes 1 or 0.
func (c *Conn) WriteBool(v bool) error {
	if v {
		return c.w.WriteByte(1)
	}
	return c.w.WriteByte(0)
}

// ReadUTF reads a length-prefixed UTF-8 string.
func (c *Conn) ReadUTF() (string, error) {
	var n [2]byte
	if err := c.ReadFull(n[:]); err != nil {
		return "", err
	}
	b := make([]byte, binary.BigEndian.Uint16(n[:]))
	if err := c.ReadFull(b); err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// WriteUTF writes a length-prefixed UTF-8 string.
func (c *Conn) WriteUTF(s string) error {
	if len(s) > MaxUTFLen {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	if _, err := c.w.Write(n[:]); err != nil {
		return err
	}
	_, err := c.w.WriteString(s)
	return err
}
