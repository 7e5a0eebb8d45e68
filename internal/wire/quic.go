package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 60 * time.Second,
		InitialStreamReceiveWindow:     8 << 20,   // 8 MiB
		InitialConnectionReceiveWindow: 128 << 20, // 128 MiB
	}
}

// DialQUIC connects to a peer and opens the request stream.
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	qc, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}

	c := NewConn(stream)
	c.remote = qc.RemoteAddr().String()
	c.closer = func() error { return qc.CloseWithError(0, "connection closed") }
	return c, nil
}

// Listener accepts peer connections over QUIC.
type Listener struct {
	listener *quic.Listener
}

// ListenQUIC starts a QUIC listener.
func ListenQUIC(addr string, tlsConfig *tls.Config) (*Listener, error) {
	l, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{listener: l}, nil
}

// Incoming is an accepted QUIC connection whose request stream has not
// been opened yet.
type Incoming struct {
	qc *quic.Conn
}

// Accept waits for the next QUIC connection. Call Stream on the result,
// typically from the connection's own goroutine.
func (l *Listener) Accept(ctx context.Context) (*Incoming, error) {
	qc, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Incoming{qc: qc}, nil
}

// RemoteAddr returns the client address.
func (in *Incoming) RemoteAddr() string {
	return in.qc.RemoteAddr().String()
}

// Stream waits for the request stream. It appears once the client sends
// its first request.
func (in *Incoming) Stream(ctx context.Context) (*Conn, error) {
	stream, err := in.qc.AcceptStream(ctx)
	if err != nil {
		_ = in.qc.CloseWithError(0, "no request stream")
		return nil, fmt.Errorf("accept stream: %w", err)
	}

	c := NewConn(stream)
	c.remote = in.qc.RemoteAddr().String()
	qc := in.qc
	c.closer = func() error { return qc.CloseWithError(0, "connection closed") }
	return c, nil
}

// Reject closes a connection that will not be served.
func (in *Incoming) Reject(reason string) error {
	return in.qc.CloseWithError(1, reason)
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}
