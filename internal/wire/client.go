package wire

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/observability"
)

// ErrConnBroken is returned after an interrupted request left the stream in
// an unknown position. The connection must be replaced.
var ErrConnBroken = errors.New("connection unusable after interrupted request")

// ErrShareRejected is returned when the peer did not mint a share id.
var ErrShareRejected = errors.New("peer rejected share creation")

// ShareLink is what a share recipient needs: the id and the hex K2.
type ShareLink struct {
	ID  string
	Key string
}

// ShareInfo is the metadata the peer reports for a share id.
type ShareInfo struct {
	Name string
	Size int64
}

// Client issues requests on one Conn and runs the envelope engine for
// upload and download bodies.
//
// Every call returns (status, err). A non-nil error carries an envelope
// sentinel (envelope.Code maps it); otherwise status is the peer's reply,
// 0 on success.
type Client struct {
	conn   *Conn
	engine *envelope.Dispatcher
	log    *observability.Logger
	broken bool
}

// NewClient binds a connection to an envelope engine.
func NewClient(conn *Conn, engine *envelope.Dispatcher, log *observability.Logger) *Client {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Client{conn: conn, engine: engine, log: log.WithPeer(conn.RemoteAddr())}
}

// Upload encrypts size bytes from src to remote. Sizes above the engine's
// maximum are refused before the peer is contacted.
func (c *Client) Upload(ctx context.Context, remote string, src io.Reader, size int64, pw envelope.PasswordSource, progress envelope.ProgressSink) (int32, error) {
	if size < 0 || size > c.engine.MaxDeclaredSize() {
		return envelope.CodeDeclaredSize, fmt.Errorf("%w: %d bytes", envelope.ErrDeclaredSize, size)
	}

	c.conn.Lock()
	defer c.conn.Unlock()

	status, err := c.request(ctx, OpUpload, func() error {
		if err := c.conn.WriteUTF(remote); err != nil {
			return err
		}
		return c.conn.WriteInt64(size)
	})
	if err != nil || status != StatusOK {
		return status, err
	}

	req := envelope.Request{Channel: c.conn, Password: pw, Progress: progress}
	return c.track(c.engine.Encrypt(ctx, req, src, size))
}

// Download fetches remote and writes the plaintext to dst. On any
// non-zero result dst may hold unauthenticated partial output and must be
// discarded.
func (c *Client) Download(ctx context.Context, remote string, dst io.Writer, pw envelope.PasswordSource, progress envelope.ProgressSink) (int32, error) {
	c.conn.Lock()
	defer c.conn.Unlock()

	status, err := c.request(ctx, OpDownload, func() error {
		return c.conn.WriteUTF(remote)
	})
	if err != nil || status != StatusOK {
		return status, err
	}

	req := envelope.Request{Channel: c.conn, Password: pw, Progress: progress}
	return c.track(c.engine.Decrypt(ctx, req, dst))
}

// DownloadShare fetches a shared object by id and decrypts it with the hex key.
func (c *Client) DownloadShare(ctx context.Context, id, hexKey string, dst io.Writer, progress envelope.ProgressSink) (int32, error) {
	c.conn.Lock()
	defer c.conn.Unlock()

	status, err := c.request(ctx, OpDownloadShare, func() error {
		return c.conn.WriteUTF(id)
	})
	if err != nil || status != StatusOK {
		return status, err
	}

	req := envelope.Request{Channel: c.conn, Progress: progress}
	return c.track(c.engine.DecryptShare(ctx, req, hexKey, dst))
}

// MakeShare asks the peer to share remote. The peer sends the object's
// header, the client derives K2 from it and the peer answers with the id.
func (c *Client) MakeShare(ctx context.Context, remote string, pw envelope.PasswordSource) (*ShareLink, int32, error) {
	c.conn.Lock()
	defer c.conn.Unlock()

	status, err := c.request(ctx, OpMakeShare, func() error {
		return c.conn.WriteUTF(remote)
	})
	if err != nil || status != StatusOK {
		return nil, status, err
	}

	v, err := c.conn.ReadByte()
	if err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}
	hs, err := envelope.HeaderSize(envelope.Version(v))
	if err != nil {
		// Header length unknown: the stream cannot be realigned.
		c.broken = true
		return nil, envelope.Code(err), err
	}
	header := make([]byte, hs)
	if err := c.conn.ReadFull(header); err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}

	key, derr := c.engine.DeriveShareKey(ctx, pw, envelope.Version(v), header)
	if err := c.conn.WriteBool(derr == nil); err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}
	if err := c.conn.Flush(); err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}
	if derr != nil {
		return nil, envelope.Code(derr), derr
	}

	id, err := c.conn.ReadUTF()
	if err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}
	if id == "" {
		return nil, ShareExists, ErrShareRejected
	}
	return &ShareLink{ID: id, Key: key}, StatusOK, nil
}

// RemoveShare withdraws the share of remote.
func (c *Client) RemoveShare(ctx context.Context, remote string) (int32, error) {
	c.conn.Lock()
	defer c.conn.Unlock()

	return c.request(ctx, OpRemoveShare, func() error {
		return c.conn.WriteUTF(remote)
	})
}

// GetShare returns the file name and plaintext size behind a share id.
func (c *Client) GetShare(ctx context.Context, id string) (*ShareInfo, int32, error) {
	c.conn.Lock()
	defer c.conn.Unlock()

	status, err := c.request(ctx, OpGetShare, func() error {
		return c.conn.WriteUTF(id)
	})
	if err != nil || status != StatusOK {
		return nil, status, err
	}

	var info ShareInfo
	if info.Name, err = c.conn.ReadUTF(); err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}
	if info.Size, err = c.conn.ReadInt64(); err != nil {
		code, err := c.fail(err)
		return nil, code, err
	}
	return &info, StatusOK, nil
}

// Disconnect tells the peer the session is over and closes the connection.
func (c *Client) Disconnect() error {
	c.conn.Lock()
	defer c.conn.Unlock()

	if !c.broken {
		c.conn.WriteByte(byte(OpDisconnect))
		c.conn.Flush()
	}
	return c.conn.Close()
}

// request sends the opcode and arguments and reads the peer's reply.
func (c *Client) request(ctx context.Context, op Opcode, args func() error) (int32, error) {
	if c.broken {
		return envelope.CodeTransport, fmt.Errorf("%w: %w", envelope.ErrTransport, ErrConnBroken)
	}
	if err := ctx.Err(); err != nil {
		return envelope.CodeTransport, fmt.Errorf("%w: %v", envelope.ErrTransport, err)
	}

	c.log.WithOperation(op.String()).Debug("sending request")
	if err := c.conn.WriteByte(byte(op)); err != nil {
		return c.fail(err)
	}
	if err := args(); err != nil {
		return c.fail(err)
	}
	if err := c.conn.Flush(); err != nil {
		return c.fail(err)
	}

	status, err := c.conn.ReadInt32()
	if err != nil {
		return c.fail(err)
	}
	if status != StatusOK {
		c.log.WithOperation(op.String()).Warn(fmt.Sprintf("peer refused request with status %d", status))
	}
	return status, nil
}

func (c *Client) fail(err error) (int32, error) {
	c.broken = true
	return envelope.CodeTransport, fmt.Errorf("%w: %v", envelope.ErrTransport, err)
}

// track marks the connection broken unless the engine left the stream at
// a request boundary. An upload that fails after the peer said proceed
// never is: the peer is still waiting for the object.
func (c *Client) track(status int32, err error) (int32, error) {
	if err != nil && !envelope.Resumable(err) {
		c.broken = true
	}
	return status, err
}
