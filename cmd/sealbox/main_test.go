package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sealbox/backend/internal/config"
	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/wire"
)

func TestWriteOutputRemovesFileOnFailure(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out", "file.bin")

	err := writeOutput(dst, func(w io.Writer) error {
		w.Write([]byte("unauthenticated plaintext"))
		return envelope.ErrAuthentication
	})
	if !errors.Is(err, envelope.ErrAuthentication) {
		t.Fatalf("writeOutput = %v, want ErrAuthentication", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}
}

func TestWriteOutputKeepsFileOnSuccess(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "file.bin")

	err := writeOutput(dst, func(w io.Writer) error {
		_, err := w.Write([]byte("plaintext"))
		return err
	})
	if err != nil {
		t.Fatalf("writeOutput failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "plaintext" {
		t.Errorf("output = %q, %v", data, err)
	}

	// Existing files are never overwritten.
	if err := writeOutput(dst, func(io.Writer) error { return nil }); err == nil {
		t.Error("writeOutput overwrote an existing file")
	}
	data, _ = os.ReadFile(dst)
	if string(data) != "plaintext" {
		t.Errorf("existing file modified: %q", data)
	}
}

func TestStatusError(t *testing.T) {
	if err := statusError("upload", wire.StatusOK, nil); err != nil {
		t.Errorf("success mapped to %v", err)
	}

	err := statusError("download", 0, envelope.ErrAuthentication)
	if !errors.Is(err, envelope.ErrAuthentication) {
		t.Errorf("engine error not wrapped: %v", err)
	}
	if !strings.Contains(err.Error(), "wrong password") || !strings.Contains(err.Error(), "code 4") {
		t.Errorf("unexpected message: %v", err)
	}

	err = statusError("upload", wire.UploadExists, nil)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("peer status message: %v", err)
	}

	err = statusError("unshare", wire.ShareExists, nil)
	if err == nil || !strings.Contains(err.Error(), "not shared") {
		t.Errorf("unshare status message: %v", err)
	}

	err = statusError("upload", 99, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Errorf("unknown status message: %v", err)
	}
}

func TestPrintConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := printConfig(&buf, config.DefaultConfig()); err != nil {
		t.Fatalf("printConfig failed: %v", err)
	}
	for _, key := range []string{"server_address", "k1_cost = 20", "max_cost = 22"} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("config output missing %q:\n%s", key, buf.String())
		}
	}
}
