package envelope

import (
	"fmt"

	"github.com/sealbox/backend/internal/crypto"
)

// v00 field offsets, relative to the byte after the version tag.
const (
	offS1       = 0
	offN1       = offS1 + crypto.SaltSize
	offK1Cost   = offN1 + crypto.NonceSize
	offWrappedR = offK1Cost + 1
	offS2       = offWrappedR + wrappedSize
	offN2       = offS2 + crypto.SaltSize
	offK2Cost   = offN2 + crypto.NonceSize

	wrappedSize = crypto.IntermediateSize + crypto.TagSize
)

// HeaderV00 is the fixed 234-byte v00 header.
//
//	offset  len  field
//	     0   64  S1, salt of K1
//	    64   12  N1, nonce wrapping R
//	    76    1  K1 cost exponent
//	    77   80  GCM(K1, N1, R) including tag
//	   157   64  S2, salt of K2
//	   221   12  N2, body nonce
//	   233    1  K2 cost exponent
type HeaderV00 struct {
	S1       [crypto.SaltSize]byte
	N1       [crypto.NonceSize]byte
	K1Cost   uint8
	WrappedR [wrappedSize]byte
	S2       [crypto.SaltSize]byte
	N2       [crypto.NonceSize]byte
	K2Cost   uint8
}

// MarshalBinary encodes the header body (without the version byte).
func (h *HeaderV00) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSizeV00)
	copy(b[offS1:], h.S1[:])
	copy(b[offN1:], h.N1[:])
	b[offK1Cost] = h.K1Cost
	copy(b[offWrappedR:], h.WrappedR[:])
	copy(b[offS2:], h.S2[:])
	copy(b[offN2:], h.N2[:])
	b[offK2Cost] = h.K2Cost
	return b, nil
}

// UnmarshalBinary decodes a 234-byte header body.
func (h *HeaderV00) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSizeV00 {
		return fmt.Errorf("%w: v00 header is %d bytes, got %d", ErrMalformedHeader, HeaderSizeV00, len(data))
	}
	copy(h.S1[:], data[offS1:offN1])
	copy(h.N1[:], data[offN1:offK1Cost])
	h.K1Cost = data[offK1Cost]
	copy(h.WrappedR[:], data[offWrappedR:offS2])
	copy(h.S2[:], data[offS2:offN2])
	copy(h.N2[:], data[offN2:offK2Cost])
	h.K2Cost = data[offK2Cost]
	return nil
}

// ShareHeader returns the 12-byte share-download header (N2).
func (h *HeaderV00) ShareHeader() []byte {
	return append([]byte(nil), h.N2[:]...)
}

// Wipe zeroes every field.
func (h *HeaderV00) Wipe() {
	crypto.Wipe(h.S1[:], h.N1[:], h.WrappedR[:], h.S2[:], h.N2[:])
	h.K1Cost, h.K2Cost = 0, 0
}

// ShareHeaderFromV00 extracts N2 from an encoded v00 header body.
// Storage peers use it to serve share downloads.
func ShareHeaderFromV00(data []byte) ([]byte, error) {
	var h HeaderV00
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	defer h.Wipe()
	return h.ShareHeader(), nil
}

// HeaderSize returns the header length that follows the version byte.
func HeaderSize(v Version) (int, error) {
	switch v {
	case V00:
		return HeaderSizeV00, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownVersion, v)
	}
}
