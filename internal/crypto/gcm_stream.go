package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// maxStreamBytes is the GCM message limit of 2^32 - 2 blocks.
const maxStreamBytes = (1<<32 - 2) * blockSize

var (
	// ErrStreamFinalized is returned when a finalized stream is used again
	ErrStreamFinalized = errors.New("gcm stream already finalized")

	// ErrStreamTooLong is returned when a message exceeds the GCM length limit
	ErrStreamTooLong = errors.New("gcm stream exceeds maximum message length")
)

// GCMStream is AES-256-GCM over a message delivered in pieces.
//
// The output is byte-identical to a one-shot GCM Seal of the concatenated
// input with no AAD: ciphertext followed by a single 16-byte tag. Update
// processes interior chunks and Final processes the last chunk and produces
// (encrypt) or verifies (decrypt) the tag.
//
// A decrypter cannot know which bytes are the tag until Final, so it holds
// back the trailing TagSize bytes of everything it has seen. Plaintext
// returned by Update is unauthenticated until Final succeeds; callers must
// discard it if Final fails.
//
// dst and src must not overlap.
type GCMStream struct {
	block   cipher.Block
	decrypt bool
	hash    *ghash

	counter [blockSize]byte
	ks      [blockSize]byte
	ksUsed  int
	tagMask [blockSize]byte

	held  [TagSize]byte
	nheld int

	n     uint64
	final bool
}

// NewGCMEncrypter returns a stream that encrypts under (key, nonce).
func NewGCMEncrypter(key, nonce []byte) (*GCMStream, error) {
	return newGCMStream(key, nonce, false)
}

// NewGCMDecrypter returns a stream that decrypts and verifies under (key, nonce).
func NewGCMDecrypter(key, nonce []byte) (*GCMStream, error) {
	return newGCMStream(key, nonce, true)
}

func newGCMStream(key, nonce []byte, decrypt bool) (*GCMStream, error) {
	block, err := newBlock(key, nonce)
	if err != nil {
		return nil, err
	}

	var h [blockSize]byte
	block.Encrypt(h[:], h[:])

	s := &GCMStream{
		block:   block,
		decrypt: decrypt,
		hash:    newGHash(&h),
		ksUsed:  blockSize,
	}
	Wipe(h[:])

	// J0 = nonce || 0^31 || 1
	copy(s.counter[:], nonce)
	s.counter[blockSize-1] = 1
	block.Encrypt(s.tagMask[:], s.counter[:])
	inc32(&s.counter)

	return s, nil
}

// Update processes an interior chunk and appends the output to dst.
func (s *GCMStream) Update(dst, src []byte) ([]byte, error) {
	if s.final {
		return dst, ErrStreamFinalized
	}
	if !s.decrypt {
		return s.crypt(dst, src)
	}

	total := s.nheld + len(src)
	if total <= TagSize {
		s.nheld += copy(s.held[s.nheld:], src)
		return dst, nil
	}

	release := total - TagSize
	fromHeld := min(release, s.nheld)
	fromSrc := release - fromHeld

	var err error
	if dst, err = s.crypt(dst, s.held[:fromHeld]); err != nil {
		return dst, err
	}
	if dst, err = s.crypt(dst, src[:fromSrc]); err != nil {
		return dst, err
	}

	kept := copy(s.held[:], s.held[fromHeld:s.nheld])
	kept += copy(s.held[kept:], src[fromSrc:])
	s.nheld = kept

	return dst, nil
}

// Final processes the last chunk. An encrypter appends the output and the
// tag to dst. A decrypter appends the remaining plaintext and returns
// ErrAuthenticationFailed if the trailing tag does not verify.
func (s *GCMStream) Final(dst, src []byte) ([]byte, error) {
	dst, err := s.Update(dst, src)
	if err != nil {
		return dst, err
	}
	s.final = true

	var tag [blockSize]byte
	s.hash.sum(&tag)
	subtle.XORBytes(tag[:], tag[:], s.tagMask[:])
	defer Wipe(tag[:])

	if !s.decrypt {
		return append(dst, tag[:]...), nil
	}

	if s.nheld != TagSize {
		return dst, fmt.Errorf("%w: stream shorter than tag", ErrAuthenticationFailed)
	}
	if subtle.ConstantTimeCompare(tag[:], s.held[:]) != 1 {
		return dst, ErrAuthenticationFailed
	}
	return dst, nil
}

// Wipe zeroes the stream state. The stream is unusable afterwards.
func (s *GCMStream) Wipe() {
	if s.hash != nil {
		s.hash.wipe()
	}
	Wipe(s.counter[:], s.ks[:], s.tagMask[:], s.held[:])
	s.nheld = 0
	s.block = nil
	s.final = true
}

func (s *GCMStream) crypt(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if s.n+uint64(len(src)) > maxStreamBytes {
		return dst, ErrStreamTooLong
	}
	s.n += uint64(len(src))

	ret, out := sliceForAppend(dst, len(src))
	if s.decrypt {
		s.hash.write(src)
		s.xorKeyStream(out, src)
	} else {
		s.xorKeyStream(out, src)
		s.hash.write(out)
	}
	return ret, nil
}

func (s *GCMStream) xorKeyStream(dst, src []byte) {
	for len(src) > 0 {
		if s.ksUsed == blockSize {
			s.block.Encrypt(s.ks[:], s.counter[:])
			inc32(&s.counter)
			s.ksUsed = 0
		}
		n := subtle.XORBytes(dst, src, s.ks[s.ksUsed:])
		s.ksUsed += n
		dst, src = dst[n:], src[n:]
	}
}

// inc32 increments the low 32 bits of the counter block, wrapping mod 2^32.
func inc32(counter *[blockSize]byte) {
	ctr := counter[blockSize-4:]
	binary.BigEndian.PutUint32(ctr, binary.BigEndian.Uint32(ctr)+1)
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
