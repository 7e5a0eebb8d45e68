package crypto

import (
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"
)

// nonceRandomSize is the number of random bytes leading each nonce.
const nonceRandomSize = 6

// counterWrap is the exclusive upper bound of the file counter.
const counterWrap = 65535

// Clock supplies coarse epoch seconds for nonce construction.
type Clock interface {
	EpochSeconds() uint32
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() uint32

// EpochSeconds calls f.
func (f ClockFunc) EpochSeconds() uint32 { return f() }

// SystemClock reads the local wall clock.
type SystemClock struct{}

// EpochSeconds returns the low 32 bits of the current Unix time.
func (SystemClock) EpochSeconds() uint32 {
	return uint32(time.Now().Unix())
}

// FileCounter disambiguates nonces generated within the same epoch second.
// Each file reserves two consecutive values, one per nonce.
type FileCounter struct {
	v atomic.Uint32
}

// NewFileCounter returns a counter starting at start.
func NewFileCounter(start uint16) *FileCounter {
	c := &FileCounter{}
	c.v.Store(uint32(start))
	return c
}

// Value returns the next value Reserve would hand out.
func (c *FileCounter) Value() uint16 {
	return uint16(c.v.Load())
}

// Reserve returns the current value and advances the counter by 2,
// wrapping to 0 when the next value would reach 65535. Values are never
// handed back, so an encryption that fails later still uses up its step.
func (c *FileCounter) Reserve() uint16 {
	for {
		cur := c.v.Load()
		next := cur + 2
		if next >= counterWrap {
			next = 0
		}
		if c.v.CompareAndSwap(cur, next) {
			return uint16(cur)
		}
	}
}

// NonceFactory builds the (N1, N2) pair for one file.
//
// Layout of N1:
//
//	random(6) | counter(2, big-endian) | epoch(4, big-endian)
//
// N2 uses six fresh random bytes and adds one (mod 256) to the low counter
// byte and the low epoch byte, so N1 and N2 always differ in byte 7.
type NonceFactory struct {
	counter *FileCounter
	clock   Clock
	rand    io.Reader
}

// NewNonceFactory creates a factory. A nil clock uses SystemClock and a nil
// rand uses crypto/rand.
func NewNonceFactory(counter *FileCounter, clock Clock, rand io.Reader) *NonceFactory {
	if counter == nil {
		counter = &FileCounter{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &NonceFactory{counter: counter, clock: clock, rand: rand}
}

// MakePair returns two distinct nonces and reserves counter values for them.
// The reservation happens here, not when the file is finished, so failed
// encryptions also advance the counter.
func (f *NonceFactory) MakePair() (n1, n2 [NonceSize]byte, err error) {
	random, err := RandomBytes(f.rand, 2*nonceRandomSize)
	if err != nil {
		return n1, n2, err
	}
	defer Wipe(random)

	ctr := f.counter.Reserve()
	epoch := f.clock.EpochSeconds()

	copy(n1[:6], random[:6])
	binary.BigEndian.PutUint16(n1[6:8], ctr)
	binary.BigEndian.PutUint32(n1[8:12], epoch)

	copy(n2[:6], random[6:])
	copy(n2[6:12], n1[6:12])
	n2[7]++
	n2[11]++

	return n1, n2, nil
}
