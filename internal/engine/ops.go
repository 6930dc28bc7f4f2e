package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/remote"
	"go.uber.org/zap"
)

// Source tells where a Load took its list from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceSeed   Source = "seed"
)

// LoadResult describes a completed Load.
type LoadResult struct {
	Source   Source
	Count    int
	Migrated int   // legacy local contacts pushed to the remote table
	Seeded   bool  // the built-in set was installed
	Err      error // remote failure that forced the local path, if any
	Warnings []string
}

// Load replaces the list from the authoritative backend.
//
// With a session the remote table is fetched, most recently updated first.
// An empty table with legacy contacts in the local store triggers a one-time
// migration: they are pushed tagged with the current user, the local slot is
// cleared and the table fetched again. Without a session, or when the remote
// fetch fails, the local store is read; if it has never been written the
// seed set is installed and persisted.
//
// Load never fails. A remote failure is reported in LoadResult.Err.
func (e *Engine) Load(ctx context.Context) LoadResult {
	var res LoadResult

	if rs, ok := e.strategy().(remoteStrategy); ok {
		list, err := e.loadRemote(ctx, rs, &res)
		if err == nil {
			res.Source, res.Count = SourceRemote, len(list)
			e.commitLoad(list)
			e.markSynced()
			e.logger.Info("loaded contacts", zap.String("source", string(res.Source)),
				zap.Int("count", res.Count), zap.Int("migrated", res.Migrated))
			return res
		}

		res.Err = err
		msg := "Could not reach cloud storage, using local data"
		if remote.IsAuthError(err) {
			msg = "Cloud session rejected, using local data"
		}
		res.Warnings = append(res.Warnings, msg)
		e.warn(msg)
		e.logger.Warn("remote load failed, falling back to local store", zap.Error(err))
	}

	list := e.loadLocal(&res)
	res.Count = len(list)
	e.commitLoad(list)
	e.logger.Info("loaded contacts", zap.String("source", string(res.Source)), zap.Int("count", res.Count))
	return res
}

func (e *Engine) loadRemote(ctx context.Context, rs remoteStrategy, res *LoadResult) ([]contact.Contact, error) {
	rows, err := rs.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	if len(rows) > 0 {
		return contact.FromRows(rows), nil
	}

	migrated, err := e.migrate(ctx, rs)
	res.Migrated = migrated
	if err != nil {
		msg := "Could not migrate local data"
		res.Warnings = append(res.Warnings, msg)
		e.warn(msg)
		e.logger.Warn("migration failed", zap.Int("migrated", migrated), zap.Error(err))
	}
	if migrated == 0 {
		return []contact.Contact{}, nil
	}

	rows, err = rs.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts after migration: %w", err)
	}
	return contact.FromRows(rows), nil
}

// migrate pushes legacy local contacts into an empty remote table. Contacts
// that came from the remote table (they carry timestamps) are snapshots, not
// legacy data, and are not pushed again. On a partial failure the contacts
// still to migrate are written back so a retry does not duplicate rows.
func (e *Engine) migrate(ctx context.Context, rs remoteStrategy) (int, error) {
	stored, found, err := e.local.LoadContacts()
	if err != nil {
		return 0, fmt.Errorf("failed to read local contacts: %w", err)
	}
	if !found {
		return 0, nil
	}

	var legacy []contact.Contact
	for _, c := range stored {
		if c.CreatedAt == nil && c.UpdatedAt == nil && c.CreatedBy == "" {
			legacy = append(legacy, c)
		}
	}
	if len(legacy) == 0 {
		return 0, nil
	}

	e.logger.Info("migrating local contacts", zap.Int("count", len(legacy)))
	for i, c := range legacy {
		row := contact.ToRow(c.Draft(), rs.session.OrganizationID)
		if row.Status == "" {
			row.Status = contact.StatusInactive
		}
		row.CreatedBy = rs.session.UserID
		row.UpdatedBy = rs.session.UserID

		if _, err := rs.store.Upsert(ctx, row, false); err != nil {
			if i > 0 {
				if serr := e.local.SaveContacts(legacy[i:]); serr != nil {
					e.logger.Error("failed to save unmigrated contacts", zap.Error(serr))
				}
			}
			return i, fmt.Errorf("failed to migrate contact %q: %w", c.PlantName, err)
		}
	}

	if err := e.local.ClearContacts(); err != nil {
		return len(legacy), fmt.Errorf("failed to clear local contacts: %w", err)
	}
	return len(legacy), nil
}

func (e *Engine) loadLocal(res *LoadResult) []contact.Contact {
	res.Source = SourceLocal

	list, found, err := e.local.LoadContacts()
	if err != nil {
		// Unreadable data is left on disk; the seed set is shown instead.
		msg := "Could not read local data, showing defaults"
		res.Warnings = append(res.Warnings, msg)
		e.warn(msg)
		e.logger.Error("failed to load local contacts", zap.Error(err))
		res.Source, res.Seeded = SourceSeed, true
		return contact.Seed(e.now())
	}
	if found {
		return list
	}

	res.Source, res.Seeded = SourceSeed, true
	seed := contact.Seed(e.now())
	if err := e.local.SaveContacts(seed); err != nil {
		res.Warnings = append(res.Warnings, StorageFullWarning)
		e.warn(StorageFullWarning)
	}
	return seed
}

// commitLoad replaces the list, dropping duplicate ids and assigning ids to
// legacy entries that have none.
func (e *Engine) commitLoad(list []contact.Contact) {
	clean := make([]contact.Contact, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, c := range list {
		if c.ID == "" {
			c.ID = contact.NewID()
		}
		if _, dup := seen[c.ID]; dup {
			e.logger.Warn("dropping duplicate contact id", zap.String("id", c.ID))
			continue
		}
		seen[c.ID] = struct{}{}
		clean = append(clean, c)
	}

	_ = e.do(func(st *state) {
		st.list = clean
		e.notifyChanged(st)
	})
}

// Save creates (existingID empty) or updates a contact and returns the
// stored record.
//
// In remote mode the draft is upserted tagged with the current user; on
// success the returned row replaces the entry with its id or is prepended.
// If the remote write fails the current list is snapshotted locally and the
// error returned. In local-only mode a new id is assigned on insert, the
// list updated and persisted; updating an id that is gone yields
// ErrNotFound.
func (e *Engine) Save(ctx context.Context, d contact.Draft, existingID string) (contact.Contact, error) {
	d = d.Resolve(e.now())
	if d.PlantName == "" {
		return contact.Contact{}, fmt.Errorf("%w: plantName: is required", contact.ErrInvalid)
	}

	p := e.strategy()

	var existing *contact.Contact
	if existingID != "" {
		if c, ok := e.Get(existingID); ok {
			existing = &c
		}
	}

	saved, err := p.write(ctx, d, existingID, existing)
	if err != nil {
		if p.Mode() == ModeRemote {
			_ = e.do(func(st *state) { e.persistLocal(st) })
			return contact.Contact{}, fmt.Errorf("failed to save contact remotely: %w", err)
		}
		return contact.Contact{}, err
	}

	err = e.do(func(st *state) {
		st.list = upsertInto(st.list, saved)
		if p.Mode() == ModeLocal {
			e.persistLocal(st)
		}
		e.notifyChanged(st)
	})
	if err != nil {
		return contact.Contact{}, err
	}

	if p.Mode() == ModeRemote {
		e.markSynced()
	}
	e.logger.Debug("contact saved", zap.String("id", saved.ID), zap.Stringer("mode", p.Mode()))
	return saved, nil
}

// Remove deletes a contact. In remote mode the row is deleted first and the
// list is left untouched if that fails. Removing an id that is not in the
// list is a no-op.
func (e *Engine) Remove(ctx context.Context, id string) error {
	p := e.strategy()
	if err := p.erase(ctx, id); err != nil {
		return fmt.Errorf("failed to delete contact %s: %w", id, err)
	}

	return e.do(func(st *state) {
		var removed bool
		st.list, removed = removeFrom(st.list, id)
		if !removed {
			return
		}
		e.persistLocal(st)
		e.notifyChanged(st)
	})
}

// BulkResult reports a BulkRemove.
type BulkResult struct {
	Requested int
	Removed   int
	Failed    map[string]error
}

// BulkRemove applies Remove semantics to each distinct id, continuing past
// failures. Successful removals stay even if others fail; the list is
// snapshotted locally once at the end.
func (e *Engine) BulkRemove(ctx context.Context, ids []string) BulkResult {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	res := BulkResult{Requested: len(unique), Failed: make(map[string]error)}
	p := e.strategy()

	var erased []string
	for _, id := range unique {
		if err := p.erase(ctx, id); err != nil {
			res.Failed[id] = err
			e.logger.Warn("bulk delete failed", zap.String("id", id), zap.Error(err))
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		erased = append(erased, id)
	}
	res.Removed = len(erased)

	_ = e.do(func(st *state) {
		changed := false
		for _, id := range erased {
			var removed bool
			st.list, removed = removeFrom(st.list, id)
			changed = changed || removed
		}
		if changed {
			e.persistLocal(st)
			e.notifyChanged(st)
		}
	})

	if len(res.Failed) > 0 {
		e.warn(fmt.Sprintf("Deleted %d of %d contacts", res.Removed, res.Requested))
	}
	return res
}
