package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrShareExists   = errors.New("share already exists")
	ErrShareNotFound = errors.New("share not found")
)

// Share links a public share id to a stored object.
type Share struct {
	ID      string
	Path    string
	Created time.Time
}

// ShareRegistry keeps share ids in SQLite.
type ShareRegistry struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenShareRegistry opens (or creates) the registry database at dbPath.
func OpenShareRegistry(dbPath string) (*ShareRegistry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	r := &ShareRegistry{db: db, path: dbPath}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *ShareRegistry) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS shares (
			share_id TEXT PRIMARY KEY,
			object_path TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := r.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := r.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	return nil
}

// Create mints a share id for objectPath. A path has at most one share.
func (r *ShareRegistry) Create(objectPath string) (*Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing string
	err := r.db.QueryRow(`SELECT share_id FROM shares WHERE object_path = ?`, objectPath).Scan(&existing)
	if err == nil {
		return nil, ErrShareExists
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up share: %w", err)
	}

	s := &Share{
		ID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		Path:    objectPath,
		Created: time.Now().UTC(),
	}
	_, err = r.db.Exec(`INSERT INTO shares (share_id, object_path, created_at) VALUES (?, ?, ?)`,
		s.ID, s.Path, s.Created)
	if err != nil {
		return nil, fmt.Errorf("failed to save share: %w", err)
	}
	return s, nil
}

// Lookup resolves a share id.
func (r *ShareRegistry) Lookup(id string) (*Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Share{ID: id}
	err := r.db.QueryRow(`SELECT object_path, created_at FROM shares WHERE share_id = ?`, id).Scan(&s.Path, &s.Created)
	if err == sql.ErrNoRows {
		return nil, ErrShareNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load share: %w", err)
	}
	return s, nil
}

// LookupByPath returns the share of objectPath, if any.
func (r *ShareRegistry) LookupByPath(objectPath string) (*Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Share{Path: objectPath}
	err := r.db.QueryRow(`SELECT share_id, created_at FROM shares WHERE object_path = ?`, objectPath).Scan(&s.ID, &s.Created)
	if err == sql.ErrNoRows {
		return nil, ErrShareNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load share: %w", err)
	}
	return s, nil
}

// RemoveByPath deletes the share of objectPath.
func (r *ShareRegistry) RemoveByPath(objectPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.Exec(`DELETE FROM shares WHERE object_path = ?`, objectPath)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrShareNotFound
	}
	return nil
}

// Count returns the number of active shares.
func (r *ShareRegistry) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM shares`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count shares: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (r *ShareRegistry) Ping() error {
	return r.db.Ping()
}

// Close closes the database.
func (r *ShareRegistry) Close() error {
	return r.db.Close()
}
