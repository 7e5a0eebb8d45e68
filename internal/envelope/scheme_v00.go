package envelope

import (
	"context"
	"errors"
	"io"

	"github.com/sealbox/backend/internal/chunker"
	"github.com/sealbox/backend/internal/crypto"
)

// schemeV00 is scrypt(r=8, p=1) for K1 and K2 with AES-256-GCM for both the
// wrapped intermediate secret and the body. No AAD is used.
type schemeV00 struct {
	eng *engine
}

func newSchemeV00(e *engine) Scheme {
	return &schemeV00{eng: e}
}

func (s *schemeV00) Version() Version { return V00 }

func (s *schemeV00) Encrypt(ctx context.Context, req Request, src io.Reader, size int64) (status int32, err error) {
	op := s.eng.begin("encrypt")
	prog := progress{req.Progress}
	defer func() {
		if err != nil {
			op.fail()
			prog.notify(progressError)
		}
	}()

	op.enter(HeaderPhase)
	prog.notify(progressGenerating)

	if err := s.eng.checkSize(size); err != nil {
		return 0, err
	}

	pw, err := s.eng.snapshot(req.Password)
	if err != nil {
		return 0, err
	}
	defer pw.Destroy()

	var h HeaderV00
	defer h.Wipe()

	salts, err := crypto.RandomBytes(s.eng.opts.Rand, 2*crypto.SaltSize)
	if err != nil {
		return 0, cryptoError("salts", err)
	}
	copy(h.S1[:], salts[:crypto.SaltSize])
	copy(h.S2[:], salts[crypto.SaltSize:])
	crypto.Wipe(salts)

	rb, err := crypto.RandomBytes(s.eng.opts.Rand, crypto.IntermediateSize)
	if err != nil {
		return 0, cryptoError("intermediate secret", err)
	}
	r := crypto.SecretBufferFrom(rb)
	defer r.Destroy()

	if h.N1, h.N2, err = s.eng.nonces.MakePair(); err != nil {
		return 0, cryptoError("nonces", err)
	}
	h.K1Cost = s.eng.opts.K1Cost
	h.K2Cost = s.eng.opts.K2Cost

	k1, err := s.eng.derive("k1", pw.Bytes(), h.S1[:], h.K1Cost)
	if err != nil {
		return 0, err
	}
	pw.Destroy()

	wrapped, err := crypto.Seal(k1.Bytes(), h.N1[:], nil, r.Bytes())
	k1.Destroy()
	if err != nil {
		return 0, cryptoError("wrap intermediate secret", err)
	}
	copy(h.WrappedR[:], wrapped)

	k2, err := s.eng.derive("k2", r.Bytes(), h.S2[:], h.K2Cost)
	if err != nil {
		return 0, err
	}
	defer k2.Destroy()
	r.Destroy()

	hdr, _ := h.MarshalBinary()
	defer crypto.Wipe(hdr)

	if err := write(req.Channel, []byte{byte(V00)}); err != nil {
		return 0, err
	}
	if err := write(req.Channel, hdr); err != nil {
		return 0, err
	}

	op.enter(BodyPhase)

	stream, err := crypto.NewGCMEncrypter(k2.Bytes(), h.N2[:])
	if err != nil {
		return 0, cryptoError("body cipher", err)
	}
	defer stream.Wipe()
	k2.Destroy()

	c, err := chunker.NewChunker(src, size, ChunkSize)
	if err != nil {
		return 0, cryptoError("chunker", err)
	}
	defer c.Wipe()

	out := make([]byte, 0, ChunkSize+crypto.TagSize)
	for {
		if err := checkContext(ctx); err != nil {
			return 0, err
		}

		chunk, last, err := c.Next()
		if err != nil {
			return 0, transportError("read source", err)
		}

		if last {
			out, err = stream.Final(out[:0], chunk)
		} else {
			out, err = stream.Update(out[:0], chunk)
		}
		if err != nil {
			return 0, cryptoError("encrypt body", err)
		}

		if err := write(req.Channel, out); err != nil {
			return 0, err
		}
		s.eng.metrics.RecordBytes("encrypt", len(chunk))
		prog.update(progressUploading, c.Done(), size)

		if last {
			break
		}
	}

	if err := flush(req.Channel); err != nil {
		return 0, err
	}

	prog.notify(progressFinalizing)
	status, err = readInt32(req.Channel)
	if err != nil {
		return 0, err
	}

	op.enter(Finalized)
	return status, nil
}

func (s *schemeV00) Decrypt(ctx context.Context, req Request, dst io.Writer) (status int32, err error) {
	op := s.eng.begin("decrypt")
	prog := progress{req.Progress}
	defer func() {
		if err != nil {
			op.fail()
			prog.notify(progressError)
		}
	}()

	op.enter(HeaderPhase)
	prog.notify(progressReading)

	size, err := readInt64(req.Channel)
	if err != nil {
		return 0, err
	}

	hdr := make([]byte, HeaderSizeV00)
	defer crypto.Wipe(hdr)
	if err := readFull(req.Channel, hdr); err != nil {
		return 0, err
	}

	var h HeaderV00
	defer h.Wipe()
	if err := h.UnmarshalBinary(hdr); err != nil {
		return 0, err
	}

	if err := s.eng.checkSize(size); err != nil {
		return 0, refuse(req.Channel, err)
	}

	k2, err := s.recoverK2(&h, req.Password)
	if err != nil {
		return 0, refuse(req.Channel, err)
	}
	defer k2.Destroy()

	if err := signal(req.Channel, true); err != nil {
		return 0, err
	}

	op.enter(BodyPhase)
	return s.decryptBody(ctx, op, req, k2, h.N2[:], size, dst)
}

func (s *schemeV00) DecryptShare(ctx context.Context, req Request, hexKey string, dst io.Writer) (status int32, err error) {
	op := s.eng.begin("decrypt_share")
	prog := progress{req.Progress}
	defer func() {
		if err != nil {
			op.fail()
			prog.notify(progressError)
		}
	}()

	op.enter(HeaderPhase)
	prog.notify(progressReading)

	size, err := readInt64(req.Channel)
	if err != nil {
		return 0, err
	}

	n2 := make([]byte, ShareHeaderSize)
	if err := readFull(req.Channel, n2); err != nil {
		return 0, err
	}

	if err := s.eng.checkSize(size); err != nil {
		return 0, refuse(req.Channel, err)
	}

	k2, err := decodeShareKey(hexKey)
	if err != nil {
		return 0, refuse(req.Channel, err)
	}
	defer k2.Destroy()

	if err := signal(req.Channel, true); err != nil {
		return 0, err
	}

	op.enter(BodyPhase)
	return s.decryptBody(ctx, op, req, k2, n2, size, dst)
}

func (s *schemeV00) DeriveShareKey(ctx context.Context, pw PasswordSource, header []byte) (k2 *crypto.SecretBuffer, err error) {
	op := s.eng.begin("derive_share_key")
	defer func() {
		if err != nil {
			op.fail()
		}
	}()

	op.enter(HeaderPhase)

	var h HeaderV00
	defer h.Wipe()
	if err := h.UnmarshalBinary(header); err != nil {
		return nil, err
	}

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	k2, err = s.recoverK2(&h, pw)
	if err != nil {
		return nil, err
	}

	op.enter(Finalized)
	return k2, nil
}

// recoverK2 derives K1, unwraps R and derives K2. K1 and R never leave
// this function.
func (s *schemeV00) recoverK2(h *HeaderV00, src PasswordSource) (*crypto.SecretBuffer, error) {
	if err := s.eng.checkCost(h.K1Cost); err != nil {
		return nil, err
	}
	if err := s.eng.checkCost(h.K2Cost); err != nil {
		return nil, err
	}

	pw, err := s.eng.snapshot(src)
	if err != nil {
		return nil, err
	}
	defer pw.Destroy()

	k1, err := s.eng.derive("k1", pw.Bytes(), h.S1[:], h.K1Cost)
	if err != nil {
		return nil, err
	}
	defer k1.Destroy()
	pw.Destroy()

	rb, err := crypto.Open(k1.Bytes(), h.N1[:], nil, h.WrappedR[:])
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			return nil, ErrAuthentication
		}
		return nil, cryptoError("unwrap intermediate secret", err)
	}
	r := crypto.SecretBufferFrom(rb)
	defer r.Destroy()
	k1.Destroy()

	if r.Len() != crypto.IntermediateSize {
		return nil, cryptoError("unwrap intermediate secret", errors.New("unexpected length"))
	}

	return s.eng.derive("k2", r.Bytes(), h.S2[:], h.K2Cost)
}

// decryptBody streams size bytes plus the tag from the channel through
// GCM under (k2, nonce) into dst, then reads the peer status.
func (s *schemeV00) decryptBody(ctx context.Context, op *operation, req Request, k2 *crypto.SecretBuffer, nonce []byte, size int64, dst io.Writer) (int32, error) {
	prog := progress{req.Progress}

	stream, err := crypto.NewGCMDecrypter(k2.Bytes(), nonce)
	if err != nil {
		return 0, cryptoError("body cipher", err)
	}
	defer stream.Wipe()
	k2.Destroy()

	in := make([]byte, ChunkSize)
	out := make([]byte, 0, ChunkSize+crypto.TagSize)
	defer func() { crypto.Wipe(out[:cap(out)]) }()

	emit := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		if _, err := dst.Write(p); err != nil {
			return transportError("write output", err)
		}
		s.eng.metrics.RecordBytes("decrypt", len(p))
		return nil
	}

	for done := int64(0); done < size; {
		if err := checkContext(ctx); err != nil {
			return 0, err
		}

		n := int64(ChunkSize)
		if rem := size - done; rem < n {
			n = rem
		}
		if err := readFull(req.Channel, in[:n]); err != nil {
			return 0, err
		}

		if out, err = stream.Update(out[:0], in[:n]); err != nil {
			return 0, cryptoError("decrypt body", err)
		}
		if err := emit(out); err != nil {
			return 0, err
		}

		done += n
		prog.update(progressDownload, done, size)
	}

	tag := in[:crypto.TagSize]
	if err := readFull(req.Channel, tag); err != nil {
		return 0, err
	}

	out, err = stream.Final(out[:0], tag)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			// Consume the peer status so the next request starts aligned.
			if _, err := readInt32(req.Channel); err != nil {
				return 0, err
			}
			return 0, &refusal{ErrAuthentication}
		}
		return 0, cryptoError("finalize body", err)
	}
	if err := emit(out); err != nil {
		return 0, err
	}

	prog.notify(progressFinalizing)
	status, err := readInt32(req.Channel)
	if err != nil {
		return 0, err
	}

	op.enter(Finalized)
	return status, nil
}
