// Package chunker splits a stream of known length into fixed-size chunks
// for the envelope engine.
package chunker

import (
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the envelope body chunk size (8 KiB).
const DefaultChunkSize = 8192

// ErrShortSource is returned when the reader ends before the declared size.
var ErrShortSource = errors.New("source ended before declared size")

// Chunker reads exactly size bytes from a reader in fixed-size chunks.
// Every chunk except the last is full; a zero-length stream yields one
// empty last chunk so the caller still runs its finalize step.
type Chunker struct {
	reader    io.Reader
	chunkSize int
	buffer    []byte
	size      int64
	done      int64
	finished  bool
}

// NewChunker creates a new streaming chunker over size bytes of r.
func NewChunker(r io.Reader, size int64, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if size < 0 {
		return nil, fmt.Errorf("size must not be negative")
	}
	return &Chunker{
		reader:    r,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
		size:      size,
	}, nil
}

// Next returns the next chunk and whether it is the last one.
// The returned slice is reused by the following call.
// After the last chunk Next returns io.EOF.
func (c *Chunker) Next() (chunk []byte, last bool, err error) {
	if c.finished {
		return nil, false, io.EOF
	}

	n := int64(c.chunkSize)
	if rem := c.size - c.done; rem < n {
		n = rem
	}

	read, err := io.ReadFull(c.reader, c.buffer[:n])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, fmt.Errorf("%w: got %d of %d bytes", ErrShortSource, c.done+int64(read), c.size)
		}
		return nil, false, err
	}

	c.done += n
	last = c.done == c.size
	c.finished = last
	return c.buffer[:n], last, nil
}

// Done returns the number of bytes handed out so far.
func (c *Chunker) Done() int64 {
	return c.done
}

// Wipe zeroes the internal buffer.
func (c *Chunker) Wipe() {
	clear(c.buffer)
}

// Percent returns done/total in whole percent, clamped to [0, 100].
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(done * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
