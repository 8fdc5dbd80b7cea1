// Package store keeps the documents produced by SaveDocument in SQLite so
// earlier revisions can be listed and retrieved.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tsawler/docworker/store/migrations"
)

// ErrNotFound is returned for unknown revision ids.
var ErrNotFound = errors.New("revision not found")

// Revision describes one saved document.
type Revision struct {
	ID          string    `json:"id"`
	DocID       string    `json:"docId"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is a SQLite backed revision store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Put stores data as a new revision of docID. Storing identical bytes for
// the same document again returns the existing revision.
func (s *Store) Put(ctx context.Context, docID, fingerprint string, data []byte) (*Revision, error) {
	sum := sha256.Sum256(data)
	rev := &Revision{
		ID:          uuid.NewString(),
		DocID:       docID,
		Fingerprint: fingerprint,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   s.now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO revisions (id, doc_id, fingerprint, size, sha256, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_id, sha256) DO NOTHING
	`, rev.ID, rev.DocID, rev.Fingerprint, rev.Size, rev.SHA256, rev.CreatedAt, data)
	if err != nil {
		return nil, fmt.Errorf("inserting revision: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.find(ctx, "doc_id = ? AND sha256 = ?", docID, rev.SHA256)
	}
	return rev, nil
}

// SaveRevision records a saved document.
func (s *Store) SaveRevision(ctx context.Context, docID, fingerprint string, data []byte) error {
	_, err := s.Put(ctx, docID, fingerprint, data)
	return err
}

const revisionColumns = "id, doc_id, fingerprint, size, sha256, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRevision(row scanner) (*Revision, error) {
	var r Revision
	if err := row.Scan(&r.ID, &r.DocID, &r.Fingerprint, &r.Size, &r.SHA256, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) find(ctx context.Context, where string, args ...any) (*Revision, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+revisionColumns+" FROM revisions WHERE "+where, args...)
	r, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading revision: %w", err)
	}
	return r, nil
}

// Get returns the revision and its bytes.
func (s *Store) Get(ctx context.Context, id string) (*Revision, []byte, error) {
	var data []byte
	var r Revision
	err := s.db.QueryRowContext(ctx, "SELECT "+revisionColumns+", data FROM revisions WHERE id = ?", id).
		Scan(&r.ID, &r.DocID, &r.Fingerprint, &r.Size, &r.SHA256, &r.CreatedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading revision %s: %w", id, err)
	}
	return &r, data, nil
}

// List returns the revisions of docID, oldest first. An empty docID lists
// every revision.
func (s *Store) List(ctx context.Context, docID string) ([]*Revision, error) {
	query := "SELECT " + revisionColumns + " FROM revisions"
	var args []any
	if docID != "" {
		query += " WHERE doc_id = ?"
		args = append(args, docID)
	}
	query += " ORDER BY created_at, rowid"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing revisions: %w", err)
	}
	defer rows.Close()

	var out []*Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a revision.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM revisions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting revision %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
