package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sealbox/backend/internal/crypto"
	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/observability"
	"github.com/sealbox/backend/internal/quicutil"
	"github.com/sealbox/backend/internal/storage"
	"github.com/sealbox/backend/internal/wire"
)

const testPassword = "correct horse battery staple 42"

type testPeer struct {
	srv     *Server
	objects *storage.ObjectIndex
	shares  *storage.ShareRegistry
	client  *wire.Client
}

func openStores(t *testing.T) (*storage.ObjectIndex, *storage.ShareRegistry) {
	t.Helper()
	dir := t.TempDir()
	objects, err := storage.OpenObjectIndex(dir)
	if err != nil {
		t.Fatalf("OpenObjectIndex failed: %v", err)
	}
	shares, err := storage.OpenShareRegistry(filepath.Join(dir, "shares.db"))
	if err != nil {
		objects.Close()
		t.Fatalf("OpenShareRegistry failed: %v", err)
	}
	t.Cleanup(func() {
		objects.Close()
		shares.Close()
	})
	return objects, shares
}

func testDispatcher(t *testing.T) *envelope.Dispatcher {
	t.Helper()
	opts := envelope.DefaultOptions()
	opts.K1Cost = 2
	opts.K2Cost = 3
	opts.MaxCost = 12
	d, err := envelope.NewDispatcher(opts)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d
}

// startPeer connects a client to a fresh peer over an in-memory pipe.
func startPeer(t *testing.T, cfg Config) *testPeer {
	t.Helper()
	objects, shares := openStores(t)
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	srv := New(objects, shares, cfg)

	a, b := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(context.Background(), wire.NewConn(a)) }()

	client := wire.NewClient(wire.NewConn(b), testDispatcher(t), nil)
	t.Cleanup(func() {
		client.Disconnect()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop after disconnect")
		}
	})
	return &testPeer{srv: srv, objects: objects, shares: shares, client: client}
}

func password(pw string) *crypto.PasswordHolder {
	h := &crypto.PasswordHolder{}
	h.Set([]byte(pw))
	return h
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func (p *testPeer) upload(t *testing.T, remote string, data []byte) {
	t.Helper()
	status, err := p.client.Upload(context.Background(), remote, bytes.NewReader(data), int64(len(data)), password(testPassword), nil)
	if err != nil {
		t.Fatalf("Upload(%q) failed: %v", remote, err)
	}
	if status != wire.StatusOK {
		t.Fatalf("Upload(%q) status = %d, want 0", remote, status)
	}
}

func TestUploadDownload(t *testing.T) {
	p := startPeer(t, Config{})
	ctx := context.Background()

	for _, size := range []int{0, 1, envelope.ChunkSize, 3*envelope.ChunkSize + 17} {
		data := randomBytes(size)
		remote := "files/" + strings.Repeat("x", size%7+1)
		p.upload(t, remote, data)

		var texts []string
		var out bytes.Buffer
		status, err := p.client.Download(ctx, remote, &out, password(testPassword), envelope.ProgressFunc(func(s string) {
			texts = append(texts, s)
		}))
		if err != nil || status != wire.StatusOK {
			t.Fatalf("Download(%d bytes) = %d, %v", size, status, err)
		}
		if !bytes.Equal(out.Bytes(), data) {
			t.Fatalf("Download(%d bytes) returned different plaintext", size)
		}
		if len(texts) == 0 || texts[len(texts)-1] != "Finalizing" {
			t.Errorf("progress texts = %v", texts)
		}

		rec, err := p.objects.Get(remote)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if want := int64(1 + envelope.HeaderSizeV00 + size + crypto.TagSize); rec.BlobSize != want {
			t.Errorf("blob size = %d, want %d", rec.BlobSize, want)
		}
		if err := p.objects.Verify(remote); err != nil {
			t.Errorf("Verify failed: %v", err)
		}
		p.objects.Delete(remote)
	}
}

func TestUploadRefusals(t *testing.T) {
	p := startPeer(t, Config{MaxUploadSize: 100})
	ctx := context.Background()

	p.upload(t, "a.txt", []byte("hello"))

	status, err := p.client.Upload(ctx, "a.txt", bytes.NewReader([]byte("again")), 5, password(testPassword), nil)
	if err != nil || status != wire.UploadExists {
		t.Errorf("duplicate upload = %d, %v; want %d", status, err, wire.UploadExists)
	}

	status, err = p.client.Upload(ctx, "../escape", bytes.NewReader(nil), 0, password(testPassword), nil)
	if err != nil || status != wire.UploadNameTooShort {
		t.Errorf("bad name upload = %d, %v; want %d", status, err, wire.UploadNameTooShort)
	}

	big := randomBytes(101)
	status, err = p.client.Upload(ctx, "big.bin", bytes.NewReader(big), int64(len(big)), password(testPassword), nil)
	if err != nil || status != wire.UploadTooLarge {
		t.Errorf("oversized upload = %d, %v; want %d", status, err, wire.UploadTooLarge)
	}

	// The session still works after refusals.
	p.upload(t, "b.txt", []byte("world"))
}

func TestUploadDeclaredSizeCheckedLocally(t *testing.T) {
	p := startPeer(t, Config{})

	status, err := p.client.Upload(context.Background(), "x", bytes.NewReader(nil), -1, password(testPassword), nil)
	if !errors.Is(err, envelope.ErrDeclaredSize) {
		t.Fatalf("negative size: got %v, want ErrDeclaredSize", err)
	}
	if status != envelope.CodeDeclaredSize {
		t.Errorf("status = %d, want %d", status, envelope.CodeDeclaredSize)
	}
	p.upload(t, "x", []byte("ok"))
}

func TestUploadEngineFailureBreaksConnection(t *testing.T) {
	p := startPeer(t, Config{})
	ctx := context.Background()

	// The peer has said proceed and waits for the object, so a failure
	// before the header is written leaves the stream mid-request.
	data := []byte("never sent")
	status, err := p.client.Upload(ctx, "orphan.bin", bytes.NewReader(data), int64(len(data)), &crypto.PasswordHolder{}, nil)
	if !errors.Is(err, envelope.ErrCrypto) || status != envelope.CodeCrypto {
		t.Fatalf("upload without password = %d, %v; want ErrCrypto", status, err)
	}

	_, status, err = p.client.GetShare(ctx, strings.Repeat("a", 32))
	if !errors.Is(err, wire.ErrConnBroken) || status != envelope.CodeTransport {
		t.Fatalf("request after failed upload = %d, %v; want ErrConnBroken", status, err)
	}
	if _, err := p.objects.Get("orphan.bin"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("failed upload was stored: %v", err)
	}
}

func TestDownloadFailures(t *testing.T) {
	p := startPeer(t, Config{})
	ctx := context.Background()

	var out bytes.Buffer
	status, err := p.client.Download(ctx, "missing", &out, password(testPassword), nil)
	if err != nil || status != wire.DownloadNotFound {
		t.Errorf("missing object = %d, %v; want %d", status, err, wire.DownloadNotFound)
	}

	data := randomBytes(5000)
	p.upload(t, "secret.bin", data)

	status, err = p.client.Download(ctx, "secret.bin", &out, password("the wrong password entirely"), nil)
	if !errors.Is(err, envelope.ErrAuthentication) {
		t.Fatalf("wrong password: got %d, %v; want ErrAuthentication", status, err)
	}
	if out.Len() != 0 {
		t.Errorf("wrong password produced %d output bytes", out.Len())
	}

	status, err = p.client.Download(ctx, "secret.bin", &out, &crypto.PasswordHolder{}, nil)
	if !errors.Is(err, envelope.ErrCrypto) || !envelope.Resumable(err) {
		t.Fatalf("download without password = %d, %v; want resumable ErrCrypto", status, err)
	}

	// The peer stopped at the verdict, so the stream is still aligned.
	out.Reset()
	status, err = p.client.Download(ctx, "secret.bin", &out, password(testPassword), nil)
	if err != nil || status != wire.StatusOK || !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("download after failure = %d, %v", status, err)
	}
}

func TestShareLifecycle(t *testing.T) {
	p := startPeer(t, Config{})
	ctx := context.Background()

	data := randomBytes(2*envelope.ChunkSize + 5)
	p.upload(t, "docs/report.pdf", data)

	link, status, err := p.client.MakeShare(ctx, "docs/report.pdf", password(testPassword))
	if err != nil || status != wire.StatusOK {
		t.Fatalf("MakeShare = %d, %v", status, err)
	}
	if len(link.ID) != 32 || len(link.Key) != 64 {
		t.Fatalf("unexpected share link %+v", link)
	}

	info, status, err := p.client.GetShare(ctx, link.ID)
	if err != nil || status != wire.StatusOK {
		t.Fatalf("GetShare = %d, %v", status, err)
	}
	if info.Name != "report.pdf" || info.Size != int64(len(data)) {
		t.Errorf("GetShare = %+v", info)
	}

	var out bytes.Buffer
	status, err = p.client.DownloadShare(ctx, link.ID, link.Key, &out, nil)
	if err != nil || status != wire.StatusOK {
		t.Fatalf("DownloadShare = %d, %v", status, err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("share download returned different plaintext")
	}

	_, status, err = p.client.MakeShare(ctx, "docs/report.pdf", password(testPassword))
	if err != nil || status != wire.ShareExists {
		t.Errorf("second MakeShare = %d, %v; want %d", status, err, wire.ShareExists)
	}

	if status, err := p.client.RemoveShare(ctx, "docs/report.pdf"); err != nil || status != wire.StatusOK {
		t.Fatalf("RemoveShare = %d, %v", status, err)
	}
	if status, err := p.client.RemoveShare(ctx, "docs/report.pdf"); err != nil || status != wire.ShareExists {
		t.Errorf("second RemoveShare = %d, %v; want %d", status, err, wire.ShareExists)
	}
	if _, status, err := p.client.GetShare(ctx, link.ID); err != nil || status != wire.ShareNoSuchID {
		t.Errorf("GetShare after removal = %d, %v; want %d", status, err, wire.ShareNoSuchID)
	}
}

func TestShareFailures(t *testing.T) {
	p := startPeer(t, Config{})
	ctx := context.Background()

	if _, status, err := p.client.MakeShare(ctx, "missing", password(testPassword)); err != nil || status != wire.ShareNotFound {
		t.Errorf("MakeShare missing = %d, %v; want %d", status, err, wire.ShareNotFound)
	}

	data := randomBytes(300)
	p.upload(t, "f.bin", data)

	_, status, err := p.client.MakeShare(ctx, "f.bin", password("the wrong password entirely"))
	if !errors.Is(err, envelope.ErrAuthentication) {
		t.Fatalf("MakeShare wrong password = %d, %v; want ErrAuthentication", status, err)
	}
	if n, _ := p.shares.Count(); n != 0 {
		t.Errorf("share registered after failed derivation: %d", n)
	}

	if _, status, err := p.client.GetShare(ctx, "abc"); err != nil || status != wire.ShareIDTooShort {
		t.Errorf("GetShare short id = %d, %v; want %d", status, err, wire.ShareIDTooShort)
	}
	if _, status, err := p.client.GetShare(ctx, strings.Repeat("z", 32)); err != nil || status != wire.ShareBadIDFormat {
		t.Errorf("GetShare bad id = %d, %v; want %d", status, err, wire.ShareBadIDFormat)
	}

	link, status, err := p.client.MakeShare(ctx, "f.bin", password(testPassword))
	if err != nil || status != wire.StatusOK {
		t.Fatalf("MakeShare = %d, %v", status, err)
	}

	var out bytes.Buffer
	status, err = p.client.DownloadShare(ctx, link.ID, "not-a-key", &out, nil)
	if !errors.Is(err, envelope.ErrInvalidShareKey) || envelope.Code(err) != envelope.CodeShare {
		t.Errorf("malformed key = %d, %v; want ErrInvalidShareKey", status, err)
	}

	wrongKey := strings.Repeat("ab", 32)
	out.Reset()
	status, err = p.client.DownloadShare(ctx, link.ID, wrongKey, &out, nil)
	if !errors.Is(err, envelope.ErrAuthentication) {
		t.Errorf("wrong key = %d, %v; want ErrAuthentication", status, err)
	}

	out.Reset()
	status, err = p.client.DownloadShare(ctx, link.ID, link.Key, &out, nil)
	if err != nil || status != wire.StatusOK || !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("DownloadShare after failures = %d, %v", status, err)
	}
}

func TestUnknownOpcode(t *testing.T) {
	objects, shares := openStores(t)
	srv := New(objects, shares, Config{})

	a, b := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(context.Background(), wire.NewConn(a)) }()

	b.Write([]byte{0x7f})
	select {
	case err := <-done:
		if !errors.Is(err, ErrUnknownOpcode) {
			t.Errorf("ServeConn = %v, want ErrUnknownOpcode", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not reject unknown opcode")
	}
	b.Close()
}

func TestServeConnCancel(t *testing.T) {
	objects, shares := openStores(t)
	srv := New(objects, shares, Config{})

	a, b := net.Pipe()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(ctx, wire.NewConn(a)) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeConn after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server ignored cancellation")
	}
}

// TestQUICEndToEnd runs an upload and download over a real QUIC connection.
func TestQUICEndToEnd(t *testing.T) {
	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	serverTLS, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("MakeTLSConfig failed: %v", err)
	}
	clientTLS, err := quicutil.MakeClientTLSConfig(certPEM)
	if err != nil {
		t.Fatalf("MakeClientTLSConfig failed: %v", err)
	}

	ln, err := wire.ListenQUIC("127.0.0.1:0", serverTLS)
	if err != nil {
		t.Skipf("UDP listen unavailable: %v", err)
	}
	defer ln.Close()

	objects, shares := openStores(t)
	srv := New(objects, shares, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	served := make(chan error, 1)
	go func() {
		in, err := ln.Accept(ctx)
		if err != nil {
			served <- err
			return
		}
		conn, err := in.Stream(ctx)
		if err != nil {
			served <- err
			return
		}
		served <- srv.ServeConn(ctx, conn)
	}()

	conn, err := wire.DialQUIC(ctx, ln.Addr(), clientTLS)
	if err != nil {
		t.Fatalf("DialQUIC failed: %v", err)
	}
	client := wire.NewClient(conn, testDispatcher(t), nil)

	data := randomBytes(100_000)
	status, err := client.Upload(ctx, "quic.bin", bytes.NewReader(data), int64(len(data)), password(testPassword), nil)
	if err != nil || status != wire.StatusOK {
		t.Fatalf("Upload = %d, %v", status, err)
	}

	var out bytes.Buffer
	status, err = client.Download(ctx, "quic.bin", &out, password(testPassword), nil)
	if err != nil || status != wire.StatusOK {
		t.Fatalf("Download = %d, %v", status, err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("QUIC round trip returned different plaintext")
	}

	client.Disconnect()
	// Closing the QUIC connection may race the DISCONNECT byte, so only
	// wait for the server to notice.
	<-served
}
