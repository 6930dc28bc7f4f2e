// Package localstore provides the durable local persistence for zinc.
//
// The store is a small SQLite file holding named slots, each a JSON
// document. It is the backing store for local-only mode and the safety net
// for remote mode:
//
//   - zincContacts: the full contact list (JSON array of contact.Contact)
//   - zincDashboardPreferences: view mode and density
//   - contactFormDraft: an unsubmitted add/edit form, disposable
//
// The database runs with WAL so a second zinc process (for example
// `zinc watch`) can read while another writes.
//
// A total byte quota may be configured. When saving the contact list would
// exceed it, the draft slot is evicted and the write retried once.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// Slot names.
const (
	SlotContacts    = "zincContacts"
	SlotPreferences = "zincDashboardPreferences"
	SlotDraft       = "contactFormDraft"
)

// ErrQuotaExceeded is returned when a write would push the store over its
// configured byte quota.
var ErrQuotaExceeded = errors.New("local storage quota exceeded")

// Store wraps the SQLite slot table.
type Store struct {
	conn   *sql.DB
	path   string
	quota  atomic.Int64
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithQuota limits the total size of all slot values in bytes. Zero means
// unlimited.
func WithQuota(bytes int64) Option {
	return func(s *Store) { s.quota.Store(bytes) }
}

// WithLogger sets the logger used for eviction warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens (creating if needed) the store at path and initializes the
// schema. The caller must call Close when done.
//
// Example:
//
//	store, err := localstore.Open(filepath.Join(dataDir, "local.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, opts ...Option) (*Store, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping local store: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS slots (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetQuota changes the byte quota. Zero means unlimited.
func (s *Store) SetQuota(bytes int64) {
	s.quota.Store(bytes)
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close local store: %w", err)
	}
	s.conn = nil
	return nil
}

// Get returns the value of a slot and whether it exists.
func (s *Store) Get(name string) (string, bool, error) {
	return s.GetContext(context.Background(), name)
}

// GetContext is Get with context support.
func (s *Store) GetContext(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read slot %s: %w", name, err)
	}
	return value, true, nil
}

// Put stores value in a slot, replacing any previous value. It fails with
// ErrQuotaExceeded when the quota would be exceeded; the slot is then left
// unchanged.
func (s *Store) Put(name, value string) error {
	return s.PutContext(context.Background(), name, value)
}

// PutContext is Put with context support.
func (s *Store) PutContext(ctx context.Context, name, value string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if quota := s.quota.Load(); quota > 0 {
		var others int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(CAST(value AS BLOB))), 0) FROM slots WHERE name != ?`, name,
		).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to measure storage usage: %w", err)
		}
		if others+int64(len(value)) > quota {
			return fmt.Errorf("failed to write slot %s (%d bytes, %d in use, quota %d): %w",
				name, len(value), others, quota, ErrQuotaExceeded)
		}
	}

	query := `
	INSERT INTO slots (name, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, name, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes a slot. Deleting a missing slot is not an error.
func (s *Store) Delete(name string) error {
	return s.DeleteContext(context.Background(), name)
}

// DeleteContext is Delete with context support.
func (s *Store) DeleteContext(ctx context.Context, name string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM slots WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", name, err)
	}
	return nil
}

// Usage returns the total size of all slot values in bytes.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(length(CAST(value AS BLOB))), 0) FROM slots`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to measure storage usage: %w", err)
	}
	return total, nil
}
