// Package hub is a self-hostable backend for the zinc contacts table.
//
// It serves the REST and realtime surface the remote client speaks, backed by
// a SQLite database. A team can run `zinc serve` on a shared host instead of a
// hosted backend; the remote client tests run against it in-process.
//
// Architecture:
//   - Database file: hub.db (WAL mode, one contacts table)
//   - REST: /rest/v1/contacts, scoped by organization_id
//   - Realtime: /realtime/v1/contacts websocket, one feed per organization
//   - Auth: shared API key plus a bearer token naming the user
package hub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a row does not exist in the organization.
var ErrNotFound = errors.New("contact not found")

// ErrConflict is returned when an insert reuses an existing id.
var ErrConflict = errors.New("contact id already exists")

// Store persists contact rows.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// OpenStore opens (creating if needed) the hub database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, now: time.Now}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		plant_name TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		contact_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL DEFAULT '',
		first_contact TEXT NOT NULL DEFAULT '',   -- YYYY-MM-DD or ''
		recent_contact TEXT NOT NULL DEFAULT '',
		next_contact TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL DEFAULT '',
		call_time TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'inactive',
		organization_id TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_org_updated
	    ON contacts(organization_id, updated_at DESC);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const rowColumns = `id, plant_name, location, contact_name, phone_number, email_address,
	first_contact, recent_contact, next_contact, frequency, call_time, notes, status,
	organization_id, created_by, updated_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (contact.Row, error) {
	var (
		r                        contact.Row
		first, recent, next      string
		status, created, updated string
	)
	err := sc.Scan(&r.ID, &r.PlantName, &r.Location, &r.ContactName, &r.PhoneNumber, &r.EmailAddress,
		&first, &recent, &next, &r.Frequency, &r.CallTime, &r.Notes, &status,
		&r.OrganizationID, &r.CreatedBy, &r.UpdatedBy, &created, &updated)
	if err != nil {
		return contact.Row{}, err
	}
	r.Status = contact.Status(status)

	if r.FirstContact, err = contact.ParseDateStrict(first); err != nil {
		return contact.Row{}, err
	}
	if r.RecentContact, err = contact.ParseDateStrict(recent); err != nil {
		return contact.Row{}, err
	}
	if r.NextContact, err = contact.ParseDateStrict(next); err != nil {
		return contact.Row{}, err
	}
	if r.CreatedAt, err = parseTimestamp(created); err != nil {
		return contact.Row{}, err
	}
	if r.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return contact.Row{}, err
	}
	return r, nil
}

func parseTimestamp(s string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return &t, nil
}

// timestampLayout has fixed-width fractions so stored values sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// List returns the organization's rows, most recently updated first. A
// positive limit caps the result.
func (s *Store) List(ctx context.Context, organizationID string, limit int) ([]contact.Row, error) {
	query := `SELECT ` + rowColumns + ` FROM contacts
		WHERE organization_id = ?
		ORDER BY updated_at DESC, rowid DESC`
	args := []any{organizationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	out := []contact.Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return out, nil
}

// Get returns one row of the organization.
func (s *Store) Get(ctx context.Context, organizationID, id string) (contact.Row, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM contacts WHERE id = ? AND organization_id = ?`, id, organizationID)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contact.Row{}, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return contact.Row{}, fmt.Errorf("failed to get contact %s: %w", id, err)
	}
	return r, nil
}

// Insert stores a new row on behalf of userID and returns it as persisted.
// An empty id is assigned; created_by and updated_by are always userID.
func (s *Store) Insert(ctx context.Context, r contact.Row, userID string) (contact.Row, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedBy, r.UpdatedBy = userID, userID
	if r.Status == "" {
		r.Status = contact.StatusInactive
	}
	now := s.now().UTC()
	r.CreatedAt, r.UpdatedAt = &now, &now

	query := `INSERT INTO contacts (` + rowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn.ExecContext(ctx, query,
		r.ID, r.PlantName, r.Location, r.ContactName, r.PhoneNumber, r.EmailAddress,
		r.FirstContact.String(), r.RecentContact.String(), r.NextContact.String(),
		r.Frequency, r.CallTime, r.Notes, string(r.Status),
		r.OrganizationID, r.CreatedBy, r.UpdatedBy,
		formatTimestamp(now), formatTimestamp(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return contact.Row{}, fmt.Errorf("contact %s: %w", r.ID, ErrConflict)
		}
		return contact.Row{}, fmt.Errorf("failed to insert contact: %w", err)
	}
	return r, nil
}

// Update replaces the editable fields of an existing row and returns the
// previous and the persisted versions. created_by and created_at are kept.
func (s *Store) Update(ctx context.Context, r contact.Row, userID string) (old, updated contact.Row, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return contact.Row{}, contact.Row{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err = scanRow(tx.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM contacts WHERE id = ? AND organization_id = ?`, r.ID, r.OrganizationID))
	if errors.Is(err, sql.ErrNoRows) {
		return contact.Row{}, contact.Row{}, fmt.Errorf("contact %s: %w", r.ID, ErrNotFound)
	}
	if err != nil {
		return contact.Row{}, contact.Row{}, fmt.Errorf("failed to get contact %s: %w", r.ID, err)
	}

	now := s.now().UTC()
	r.CreatedBy, r.CreatedAt = old.CreatedBy, old.CreatedAt
	r.UpdatedBy, r.UpdatedAt = userID, &now
	if r.Status == "" {
		r.Status = old.Status
	}

	query := `
	UPDATE contacts SET
		plant_name = ?, location = ?, contact_name = ?, phone_number = ?, email_address = ?,
		first_contact = ?, recent_contact = ?, next_contact = ?,
		frequency = ?, call_time = ?, notes = ?, status = ?,
		updated_by = ?, updated_at = ?
	WHERE id = ? AND organization_id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		r.PlantName, r.Location, r.ContactName, r.PhoneNumber, r.EmailAddress,
		r.FirstContact.String(), r.RecentContact.String(), r.NextContact.String(),
		r.Frequency, r.CallTime, r.Notes, string(r.Status),
		r.UpdatedBy, formatTimestamp(now),
		r.ID, r.OrganizationID,
	)
	if err != nil {
		return contact.Row{}, contact.Row{}, fmt.Errorf("failed to update contact %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return contact.Row{}, contact.Row{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return old, r, nil
}

// Delete removes a row. It returns the removed row and whether anything was
// deleted; deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, organizationID, id string) (contact.Row, bool, error) {
	old, err := s.Get(ctx, organizationID, id)
	if errors.Is(err, ErrNotFound) {
		return contact.Row{}, false, nil
	}
	if err != nil {
		return contact.Row{}, false, err
	}

	res, err := s.conn.ExecContext(ctx, `DELETE FROM contacts WHERE id = ? AND organization_id = ?`, id, organizationID)
	if err != nil {
		return contact.Row{}, false, fmt.Errorf("failed to delete contact %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return old, n > 0, nil
}

// Count returns the number of rows in the organization.
func (s *Store) Count(ctx context.Context, organizationID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts WHERE organization_id = ?`, organizationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}
