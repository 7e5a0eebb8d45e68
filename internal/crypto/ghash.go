package crypto

import "encoding/binary"

const blockSize = 16

// fieldElement is an element of GF(2^128) in GCM bit order:
// low holds the first eight bytes of a block, high the last eight.
type fieldElement struct {
	low, high uint64
}

// ghash computes the GCM universal hash incrementally over a ciphertext
// stream delivered in arbitrary pieces. Partial blocks are buffered until
// the next write or until sum pads them with zeros.
type ghash struct {
	productTable [16]fieldElement
	y            fieldElement
	buf          [blockSize]byte
	nbuf         int
	length       uint64
}

func newGHash(h *[blockSize]byte) *ghash {
	g := &ghash{}
	x := fieldElement{
		binary.BigEndian.Uint64(h[:8]),
		binary.BigEndian.Uint64(h[8:]),
	}
	g.productTable[reverseBits(1)] = x
	for i := 2; i < 16; i += 2 {
		g.productTable[reverseBits(i)] = fieldDouble(&g.productTable[reverseBits(i/2)])
		g.productTable[reverseBits(i+1)] = fieldAdd(&g.productTable[reverseBits(i)], &x)
	}
	return g
}

// reverseBits reverses the order of the low four bits of i.
func reverseBits(i int) int {
	i = ((i << 2) & 0xc) | ((i >> 2) & 0x3)
	i = ((i << 1) & 0xa) | ((i >> 1) & 0x5)
	return i
}

func fieldAdd(x, y *fieldElement) fieldElement {
	return fieldElement{x.low ^ y.low, x.high ^ y.high}
}

func fieldDouble(x *fieldElement) (double fieldElement) {
	msbSet := x.high&1 == 1

	double.high = x.high >> 1
	double.high |= x.low << 63
	double.low = x.low >> 1

	if msbSet {
		double.low ^= 0xe100000000000000
	}
	return
}

var reductionTable = []uint16{
	0x0000, 0x1c20, 0x3840, 0x2460, 0x7080, 0x6ca0, 0x48c0, 0x54e0,
	0xe100, 0xfd20, 0xd940, 0xc560, 0x9180, 0x8da0, 0xa9c0, 0xb5e0,
}

// mul sets y to y*H using the 4-bit product table.
func (g *ghash) mul(y *fieldElement) {
	var z fieldElement

	for i := 0; i < 2; i++ {
		word := y.high
		if i == 1 {
			word = y.low
		}

		for j := 0; j < 64; j += 4 {
			msw := z.high & 0xf
			z.high >>= 4
			z.high |= z.low << 60
			z.low >>= 4
			z.low ^= uint64(reductionTable[msw]) << 48

			t := &g.productTable[word&0xf]

			z.low ^= t.low
			z.high ^= t.high
			word >>= 4
		}
	}

	*y = z
}

func (g *ghash) updateBlocks(blocks []byte) {
	for len(blocks) >= blockSize {
		g.y.low ^= binary.BigEndian.Uint64(blocks)
		g.y.high ^= binary.BigEndian.Uint64(blocks[8:])
		g.mul(&g.y)
		blocks = blocks[blockSize:]
	}
}

// write absorbs ciphertext bytes.
func (g *ghash) write(p []byte) {
	g.length += uint64(len(p))

	if g.nbuf > 0 {
		n := copy(g.buf[g.nbuf:], p)
		g.nbuf += n
		p = p[n:]
		if g.nbuf < blockSize {
			return
		}
		g.updateBlocks(g.buf[:])
		g.nbuf = 0
	}

	full := len(p) &^ (blockSize - 1)
	g.updateBlocks(p[:full])
	g.nbuf = copy(g.buf[:], p[full:])
}

// sum pads the pending partial block, absorbs the length block (no AAD)
// and writes the hash to out.
func (g *ghash) sum(out *[blockSize]byte) {
	if g.nbuf > 0 {
		clear(g.buf[g.nbuf:])
		g.updateBlocks(g.buf[:])
		g.nbuf = 0
	}

	g.y.high ^= g.length * 8
	g.mul(&g.y)

	binary.BigEndian.PutUint64(out[:8], g.y.low)
	binary.BigEndian.PutUint64(out[8:], g.y.high)
}

func (g *ghash) wipe() {
	clear(g.productTable[:])
	clear(g.buf[:])
	g.y = fieldElement{}
	g.nbuf = 0
	g.length = 0
}
