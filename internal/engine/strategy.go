package engine

import (
	"context"
	"fmt"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/remote"
)

// persistence is where an operation reads and writes. One is chosen per
// operation from the session present when it starts.
type persistence interface {
	Mode() Mode

	// write persists one submitted draft and returns the canonical record.
	// existing is the current entry for existingID, nil if absent or new.
	write(ctx context.Context, d contact.Draft, existingID string, existing *contact.Contact) (contact.Contact, error)

	// erase deletes the record from the backend.
	erase(ctx context.Context, id string) error
}

// strategy picks the persistence for a new operation.
func (e *Engine) strategy() persistence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session != nil && e.store != nil {
		return remoteStrategy{session: *e.session, store: e.store}
	}
	return localStrategy{}
}

// remoteStrategy writes through the remote table. The local store only
// receives safety snapshots.
type remoteStrategy struct {
	session remote.Session
	store   remote.Store
}

func (remoteStrategy) Mode() Mode { return ModeRemote }

func (r remoteStrategy) write(ctx context.Context, d contact.Draft, existingID string, _ *contact.Contact) (contact.Contact, error) {
	row := contact.ToRow(d, r.session.OrganizationID)
	row.UpdatedBy = r.session.UserID

	isUpdate := existingID != ""
	if isUpdate {
		row.ID = existingID
	} else {
		row.CreatedBy = r.session.UserID
	}

	saved, err := r.store.Upsert(ctx, row, isUpdate)
	if err != nil {
		return contact.Contact{}, err
	}
	if saved.ID == "" {
		return contact.Contact{}, fmt.Errorf("remote store returned a row without id")
	}
	return saved.Contact(), nil
}

func (r remoteStrategy) erase(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// localStrategy keeps everything in the local store.
type localStrategy struct{}

func (localStrategy) Mode() Mode { return ModeLocal }

func (localStrategy) write(_ context.Context, d contact.Draft, existingID string, existing *contact.Contact) (contact.Contact, error) {
	if existingID == "" {
		return d.Contact(contact.NewID()), nil
	}
	if existing == nil {
		return contact.Contact{}, fmt.Errorf("contact %s: %w", existingID, ErrNotFound)
	}
	return d.Apply(*existing), nil
}

func (localStrategy) erase(context.Context, string) error {
	return nil
}
