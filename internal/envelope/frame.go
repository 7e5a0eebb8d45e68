package envelope

import (
	"encoding/binary"
	"io"
)

// Big-endian framing shared with the peer. These mirror the helpers on
// wire.Conn so the engine works on any Channel.

func readFull(r io.Reader, p []byte) error {
	if _, err := io.ReadFull(r, p); err != nil {
		return transportError("read", err)
	}
	return nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func write(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return transportError("write", err)
	}
	return nil
}

func writeBool(w io.Writer, v bool) error {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return write(w, b)
}

func flush(w io.Writer) error {
	f, ok := w.(interface{ Flush() error })
	if !ok {
		return nil
	}
	if err := f.Flush(); err != nil {
		return transportError("flush", err)
	}
	return nil
}

// signal writes the header-phase verdict and flushes it.
func signal(w io.Writer, ok bool) error {
	if err := writeBool(w, ok); err != nil {
		return err
	}
	return flush(w)
}

// refuse tells the peer not to send the body and marks err as resumable.
func refuse(w io.Writer, err error) error {
	if serr := signal(w, false); serr != nil {
		return serr
	}
	return &refusal{err}
}
