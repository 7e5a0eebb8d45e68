package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sealbox/backend/internal/storage"
)

func TestVerifyObjects(t *testing.T) {
	dir := t.TempDir()
	objects, err := storage.OpenObjectIndex(dir)
	if err != nil {
		t.Fatalf("OpenObjectIndex failed: %v", err)
	}
	defer objects.Close()

	var ids []string
	for _, name := range []string{"a", "b"} {
		w, err := objects.Create(name)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		w.Write([]byte("blob-" + name))
		rec, err := w.Commit(0x00, 6)
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		ids = append(ids, rec.BlobID)
	}

	var out bytes.Buffer
	if n := verifyObjects(objects, &out); n != 0 {
		t.Fatalf("verifyObjects on intact store = %d failures:\n%s", n, out.String())
	}

	if err := os.WriteFile(filepath.Join(dir, "blobs", ids[1]), []byte("blob-x"), 0600); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if n := verifyObjects(objects, &out); n != 1 {
		t.Errorf("verifyObjects = %d failures, want 1", n)
	}
	if !strings.Contains(out.String(), "FAIL b") {
		t.Errorf("report does not name the corrupt object:\n%s", out.String())
	}
}
