// Package server is the reference storage peer. It speaks the request
// framing of package wire, stores ciphertext blobs exactly as uploaded and
// never handles keys or plaintext.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sealbox/backend/internal/crypto"
	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/observability"
	"github.com/sealbox/backend/internal/storage"
	"github.com/sealbox/backend/internal/validation"
	"github.com/sealbox/backend/internal/wire"
)

// ErrUnknownOpcode ends a connection that sent an opcode the peer does not serve.
var ErrUnknownOpcode = errors.New("unknown opcode")

// DefaultMaxUploadSize bounds declared plaintext sizes (60 GB).
const DefaultMaxUploadSize int64 = 60_000_000_000

// Config holds the peer settings.
type Config struct {
	MaxUploadSize int64
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Server serves requests against an object index and a share registry.
type Server struct {
	objects *storage.ObjectIndex
	shares  *storage.ShareRegistry
	maxSize int64
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	connSeq uint64
}

// New creates a peer.
func New(objects *storage.ObjectIndex, shares *storage.ShareRegistry, cfg Config) *Server {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	s := &Server{
		objects: objects,
		shares:  shares,
		maxSize: cfg.MaxUploadSize,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  observability.Tracer("server"),
	}
	s.refreshGauges()
	return s
}

// ServeConn runs the request loop of one connection until DISCONNECT, EOF,
// a framing error or ctx cancellation. It closes conn.
func (s *Server) ServeConn(ctx context.Context, conn *wire.Conn) error {
	id := strconv.FormatUint(atomic.AddUint64(&s.connSeq, 1), 10)
	log := s.log.WithPeer(conn.RemoteAddr()).WithSession(id)
	log.ConnectionEstablished(conn.RemoteAddr(), id)
	s.metrics.RecordConnection(true)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		conn.Close()
		s.metrics.RecordConnectionClosed()
	}()

	for {
		b, err := conn.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			log.ConnectionFailed(conn.RemoteAddr(), err)
			return err
		}

		op := wire.Opcode(b)
		if op == wire.OpDisconnect {
			log.Debug("client disconnected")
			return nil
		}

		if err := s.handle(ctx, conn, op); err != nil {
			log.WithOperation(op.String()).Error(err, "request failed, closing connection")
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, conn *wire.Conn, op wire.Opcode) error {
	_, span := s.tracer.Start(ctx, "server."+op.String())
	defer span.End()

	var (
		status int32
		err    error
	)
	switch op {
	case wire.OpUpload:
		status, err = s.upload(conn)
	case wire.OpDownload:
		status, err = s.download(conn)
	case wire.OpDownloadShare:
		status, err = s.downloadShare(conn)
	case wire.OpMakeShare:
		status, err = s.makeShare(conn)
	case wire.OpRemoveShare:
		status, err = s.removeShare(conn)
	case wire.OpGetShare:
		status, err = s.getShare(conn)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}

	span.SetAttributes(attribute.Int("sealbox.status", int(status)))
	result := strconv.Itoa(int(status))
	if err != nil {
		span.RecordError(err)
		result = "error"
	}
	s.metrics.RecordRequest(op.String(), result)
	return err
}

// reply writes a request status and flushes it.
func reply(conn *wire.Conn, status int32) error {
	if err := conn.WriteInt32(status); err != nil {
		return err
	}
	return conn.Flush()
}

func (s *Server) upload(conn *wire.Conn) (int32, error) {
	name, err := conn.ReadUTF()
	if err != nil {
		return 0, err
	}
	size, err := conn.ReadInt64()
	if err != nil {
		return 0, err
	}

	var w *storage.ObjectWriter
	status := wire.StatusOK
	switch {
	case validation.ValidateRemotePath(name) != nil:
		status = wire.UploadNameTooShort
	case size < 0:
		status = wire.UploadTooSmall
	case size > s.maxSize:
		status = wire.UploadTooLarge
	default:
		w, err = s.objects.Create(name)
		switch {
		case errors.Is(err, storage.ErrObjectExists):
			status = wire.UploadExists
		case errors.Is(err, storage.ErrObjectInProgress):
			status = wire.UploadInProgress
		case err != nil:
			s.log.Error(err, "create object failed")
			status = wire.UploadQuota
		}
	}
	if err := reply(conn, status); err != nil {
		if w != nil {
			w.Abort()
		}
		return status, err
	}
	if status != wire.StatusOK {
		return status, nil
	}
	defer w.Abort()

	v, err := conn.ReadByte()
	if err != nil {
		return 0, err
	}
	hs, err := envelope.HeaderSize(envelope.Version(v))
	if err != nil {
		return 0, err
	}
	if _, err := w.Write([]byte{v}); err != nil {
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if _, err := io.CopyN(w, conn, int64(hs)+size+crypto.TagSize); err != nil {
		return 0, fmt.Errorf("receive object: %w", err)
	}

	rec, err := w.Commit(v, size)
	if err != nil {
		s.log.Error(err, "commit object failed")
		return wire.UploadQuota, reply(conn, wire.UploadQuota)
	}
	s.log.WithFile(name, size).ObjectStored(name, rec.BlobSize, rec.Digest)
	s.refreshGauges()
	return wire.StatusOK, reply(conn, wire.StatusOK)
}

// blob is an opened object positioned after its header.
type blob struct {
	rec     *storage.ObjectRecord
	body    io.ReadCloser
	version byte
	header  []byte
}

func (s *Server) openBlob(name string) (*blob, error) {
	rec, f, err := s.objects.OpenBlob(name)
	if err != nil {
		return nil, err
	}
	hs, err := envelope.HeaderSize(envelope.Version(rec.Version))
	if err != nil {
		f.Close()
		return nil, err
	}
	buf := make([]byte, 1+hs)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("read blob header: %w", err)
	}
	return &blob{rec: rec, body: f, version: buf[0], header: buf[1:]}, nil
}

// sendBody waits for the client's verdict and streams body and tag.
func sendBody(conn *wire.Conn, b *blob) error {
	ok, err := conn.ReadBool()
	if err != nil || !ok {
		return err
	}
	if _, err := io.CopyN(conn, b.body, b.rec.Size+crypto.TagSize); err != nil {
		return fmt.Errorf("send object: %w", err)
	}
	return reply(conn, wire.StatusOK)
}

func (s *Server) download(conn *wire.Conn) (int32, error) {
	name, err := conn.ReadUTF()
	if err != nil {
		return 0, err
	}

	var b *blob
	status := wire.StatusOK
	if validation.ValidateRemotePath(name) != nil {
		status = wire.DownloadNameTooShort
	} else if b, err = s.openBlob(name); err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Error(err, "open object failed")
		}
		status = wire.DownloadNotFound
	}
	if status != wire.StatusOK {
		return status, reply(conn, status)
	}
	defer b.body.Close()

	conn.WriteInt32(wire.StatusOK)
	conn.WriteByte(b.version)
	conn.WriteInt64(b.rec.Size)
	conn.Write(b.header)
	if err := conn.Flush(); err != nil {
		return 0, err
	}
	return wire.StatusOK, sendBody(conn, b)
}

// shareStatus validates a share id and resolves it to an opened blob.
func (s *Server) shareStatus(id string) (int32, *blob) {
	if len(id) < 32 {
		return wire.ShareIDTooShort, nil
	}
	if validation.ValidateShareID(id) != nil {
		return wire.ShareBadIDFormat, nil
	}
	sh, err := s.shares.Lookup(id)
	if err != nil {
		if !errors.Is(err, storage.ErrShareNotFound) {
			s.log.Error(err, "share lookup failed")
		}
		return wire.ShareNoSuchID, nil
	}
	b, err := s.openBlob(sh.Path)
	if err != nil {
		return wire.ShareNotFound, nil
	}
	return wire.StatusOK, b
}

func (s *Server) downloadShare(conn *wire.Conn) (int32, error) {
	id, err := conn.ReadUTF()
	if err != nil {
		return 0, err
	}

	status, b := s.shareStatus(id)
	if status != wire.StatusOK {
		return status, reply(conn, status)
	}
	defer b.body.Close()

	n2, err := envelope.ShareHeaderFromV00(b.header)
	if err != nil {
		return wire.ShareNotFound, reply(conn, wire.ShareNotFound)
	}

	conn.WriteInt32(wire.StatusOK)
	conn.WriteByte(b.version)
	conn.WriteInt64(b.rec.Size)
	conn.Write(n2)
	if err := conn.Flush(); err != nil {
		return 0, err
	}
	return wire.StatusOK, sendBody(conn, b)
}

func (s *Server) makeShare(conn *wire.Conn) (int32, error) {
	name, err := conn.ReadUTF()
	if err != nil {
		return 0, err
	}

	var b *blob
	status := wire.StatusOK
	if validation.ValidateRemotePath(name) != nil {
		status = wire.ShareIDTooShort
	} else if _, err := s.shares.LookupByPath(name); err == nil {
		status = wire.ShareExists
	} else if b, err = s.openBlob(name); err != nil {
		status = wire.ShareNotFound
	}
	if status != wire.StatusOK {
		return status, reply(conn, status)
	}
	b.body.Close()

	conn.WriteInt32(wire.StatusOK)
	conn.WriteByte(b.version)
	conn.Write(b.header)
	if err := conn.Flush(); err != nil {
		return 0, err
	}

	ok, err := conn.ReadBool()
	if err != nil || !ok {
		return wire.StatusOK, err
	}

	sh, err := s.shares.Create(name)
	if err != nil {
		s.log.Error(err, "create share failed")
		conn.WriteUTF("")
		return wire.ShareExists, conn.Flush()
	}
	s.log.ShareCreated(name, sh.ID)
	s.refreshGauges()

	if err := conn.WriteUTF(sh.ID); err != nil {
		return 0, err
	}
	return wire.StatusOK, conn.Flush()
}

func (s *Server) removeShare(conn *wire.Conn) (int32, error) {
	name, err := conn.ReadUTF()
	if err != nil {
		return 0, err
	}

	status := wire.StatusOK
	if validation.ValidateRemotePath(name) != nil {
		status = wire.ShareIDTooShort
	} else if err := s.shares.RemoveByPath(name); err != nil {
		if !errors.Is(err, storage.ErrShareNotFound) {
			s.log.Error(err, "remove share failed")
		}
		status = wire.ShareExists
	} else {
		s.refreshGauges()
	}
	return status, reply(conn, status)
}

func (s *Server) getShare(conn *wire.Conn) (int32, error) {
	id, err := conn.ReadUTF()
	if err != nil {
		return 0, err
	}

	status, b := s.shareStatus(id)
	if status != wire.StatusOK {
		return status, reply(conn, status)
	}
	b.body.Close()

	conn.WriteInt32(wire.StatusOK)
	conn.WriteUTF(path.Base(b.rec.Path))
	conn.WriteInt64(b.rec.Size)
	return wire.StatusOK, conn.Flush()
}

func (s *Server) refreshGauges() {
	if s.metrics == nil {
		return
	}
	if n, err := s.objects.TotalBlobBytes(); err == nil {
		s.metrics.StoredBytes.Set(float64(n))
	}
	if n, err := s.shares.Count(); err == nil {
		s.metrics.SharesActive.Set(float64(n))
	}
}
