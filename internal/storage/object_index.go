// Package storage holds the peer-side persistence of the sealbox daemon:
// an object index in Bolt with the ciphertext blobs on disk, and a share
// registry in SQLite.
//
// The peer never sees plaintext or keys. A blob is the exact byte stream
// the client uploaded: version byte, header, body ciphertext and tag.
package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var (
	ErrObjectExists     = errors.New("object already exists")
	ErrObjectNotFound   = errors.New("object not found")
	ErrObjectInProgress = errors.New("object upload in progress")
	ErrDigestMismatch   = errors.New("blob digest mismatch")
	ErrShortBlob        = errors.New("blob shorter than declared")
)

var bucketObjects = []byte("objects")

const partSuffix = ".part"

// ObjectRecord describes one stored object.
type ObjectRecord struct {
	Path      string    `json:"path"`
	BlobID    string    `json:"blob_id"`
	Size      int64     `json:"size"` // plaintext size declared by the client
	Version   byte      `json:"version"`
	BlobSize  int64     `json:"blob_size"`
	Digest    string    `json:"digest"` // BLAKE3-256 of the blob, hex
	Created   time.Time `json:"created"`
	Completed bool      `json:"completed"`
}

// ObjectIndex maps remote paths to blobs.
type ObjectIndex struct {
	db      *bolt.DB
	blobDir string

	mu      sync.Mutex
	pending map[string]struct{}
}

// OpenObjectIndex opens (or creates) the index under dataDir.
func OpenObjectIndex(dataDir string) (*ObjectIndex, error) {
	blobDir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(blobDir, 0700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "objects.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open object index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ObjectIndex{db: db, blobDir: blobDir, pending: make(map[string]struct{})}, nil
}

func (x *ObjectIndex) Close() error { return x.db.Close() }

// Ping checks that the index is readable.
func (x *ObjectIndex) Ping() error {
	return x.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketObjects) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}

// Get returns the completed record for path.
func (x *ObjectIndex) Get(path string) (*ObjectRecord, error) {
	var rec *ObjectRecord
	err := x.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(path))
		if v == nil {
			return ErrObjectNotFound
		}
		rec = new(ObjectRecord)
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every record in path order.
func (x *ObjectIndex) List() ([]ObjectRecord, error) {
	var out []ObjectRecord
	err := x.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(_, v []byte) error {
			var rec ObjectRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// TotalBlobBytes sums the blob sizes of all records.
func (x *ObjectIndex) TotalBlobBytes() (int64, error) {
	recs, err := x.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range recs {
		total += r.BlobSize
	}
	return total, nil
}

// Create reserves path for an upload. The returned writer must be either
// committed or aborted.
func (x *ObjectIndex) Create(path string) (*ObjectWriter, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, busy := x.pending[path]; busy {
		return nil, ErrObjectInProgress
	}
	if _, err := x.Get(path); err == nil {
		return nil, ErrObjectExists
	} else if !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	f, err := os.OpenFile(filepath.Join(x.blobDir, id+partSuffix), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}

	x.pending[path] = struct{}{}
	return &ObjectWriter{
		index:   x,
		path:    path,
		blobID:  id,
		file:    f,
		hasher:  blake3.New(),
		created: time.Now().UTC(),
	}, nil
}

// OpenBlob opens the blob of a completed object for reading.
func (x *ObjectIndex) OpenBlob(path string) (*ObjectRecord, *os.File, error) {
	rec, err := x.Get(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(x.blobPath(rec.BlobID))
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return rec, f, nil
}

// Delete removes the record and its blob.
func (x *ObjectIndex) Delete(path string) error {
	rec, err := x.Get(path)
	if err != nil {
		return err
	}
	err = x.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketObjects).Delete([]byte(path)) })
	if err != nil {
		return err
	}
	if err := os.Remove(x.blobPath(rec.BlobID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Verify re-hashes the blob of path and compares it with the stored digest.
func (x *ObjectIndex) Verify(path string) error {
	rec, f, err := x.OpenBlob(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	if n != rec.BlobSize {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrShortBlob, path, n, rec.BlobSize)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != rec.Digest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, path)
	}
	return nil
}

// SweepPartial removes abandoned upload files older than maxAge. Uploads
// still held by a writer are skipped by age.
func (x *ObjectIndex) SweepPartial(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(x.blobDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(x.blobDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (x *ObjectIndex) blobPath(id string) string {
	return filepath.Join(x.blobDir, id)
}

func (x *ObjectIndex) release(path string) {
	x.mu.Lock()
	delete(x.pending, path)
	x.mu.Unlock()
}

// ObjectWriter receives the blob bytes of one upload.
type ObjectWriter struct {
	index   *ObjectIndex
	path    string
	blobID  string
	file    *os.File
	hasher  *blake3.Hasher
	written int64
	created time.Time
	done    bool
}

func (w *ObjectWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.hasher.Write(p[:n])
	w.written += int64(n)
	return n, err
}

// Commit syncs the blob and publishes the record. size is the plaintext
// size the client declared.
func (w *ObjectWriter) Commit(version byte, size int64) (*ObjectRecord, error) {
	if w.done {
		return nil, errors.New("object writer already finished")
	}
	w.done = true
	defer w.index.release(w.path)

	part := w.file.Name()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(part)
		return nil, fmt.Errorf("sync blob: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(part)
		return nil, fmt.Errorf("close blob: %w", err)
	}
	final := w.index.blobPath(w.blobID)
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return nil, fmt.Errorf("publish blob: %w", err)
	}

	rec := &ObjectRecord{
		Path:      w.path,
		BlobID:    w.blobID,
		Size:      size,
		Version:   version,
		BlobSize:  w.written,
		Digest:    hex.EncodeToString(w.hasher.Sum(nil)),
		Created:   w.created,
		Completed: true,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	err = w.index.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte(w.path), buf)
	})
	if err != nil {
		os.Remove(final)
		return nil, fmt.Errorf("index object: %w", err)
	}
	return rec, nil
}

// Abort discards the upload. It is a no-op after Commit.
func (w *ObjectWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	os.Remove(w.file.Name())
	w.index.release(w.path)
}
