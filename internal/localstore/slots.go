package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geminiglobal/zinc/internal/contact"
	"go.uber.org/zap"
)

// LoadContacts returns the stored contact list. found is false when the slot
// has never been written (or was cleared).
func (s *Store) LoadContacts() ([]contact.Contact, bool, error) {
	return s.LoadContactsContext(context.Background())
}

// LoadContactsContext is LoadContacts with context support.
func (s *Store) LoadContactsContext(ctx context.Context) ([]contact.Contact, bool, error) {
	raw, found, err := s.GetContext(ctx, SlotContacts)
	if err != nil || !found {
		return nil, found, err
	}

	var list []contact.Contact
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, true, fmt.Errorf("failed to parse stored contacts: %w", err)
	}
	return list, true, nil
}

// SaveContacts replaces the stored contact list.
//
// On ErrQuotaExceeded the form draft is evicted and the write retried once.
// If the retry fails too, an error wrapping ErrQuotaExceeded is returned and
// the previous list stays on disk.
func (s *Store) SaveContacts(list []contact.Contact) error {
	return s.SaveContactsContext(context.Background(), list)
}

// SaveContactsContext is SaveContacts with context support.
func (s *Store) SaveContactsContext(ctx context.Context, list []contact.Contact) error {
	if list == nil {
		list = []contact.Contact{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}

	err = s.PutContext(ctx, SlotContacts, string(data))
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	s.logger.Warn("local storage full, evicting form draft", zap.Int("bytes", len(data)))
	if derr := s.DeleteContext(ctx, SlotDraft); derr != nil {
		return fmt.Errorf("failed to evict form draft: %w", derr)
	}
	if err := s.PutContext(ctx, SlotContacts, string(data)); err != nil {
		return fmt.Errorf("failed to save contacts after evicting draft: %w", err)
	}
	return nil
}

// ClearContacts removes the contact list slot.
func (s *Store) ClearContacts() error {
	return s.DeleteContext(context.Background(), SlotContacts)
}

// View is the dashboard layout.
type View string

// Density is the dashboard row spacing.
type Density string

const (
	ViewCard View = "card"
	ViewList View = "list"

	DensityComfortable Density = "comfortable"
	DensityCompact     Density = "compact"
)

// Preferences are the user's display settings.
type Preferences struct {
	View    View    `json:"view"`
	Density Density `json:"density"`
}

// DefaultPreferences returns card view with comfortable density.
func DefaultPreferences() Preferences {
	return Preferences{View: ViewCard, Density: DensityComfortable}
}

// Validate checks both fields hold known values.
func (p Preferences) Validate() error {
	if p.View != ViewCard && p.View != ViewList {
		return fmt.Errorf("view must be card or list (got %q)", p.View)
	}
	if p.Density != DensityComfortable && p.Density != DensityCompact {
		return fmt.Errorf("density must be comfortable or compact (got %q)", p.Density)
	}
	return nil
}

// LoadPreferences returns the stored preferences. Missing or partial values
// fall back to DefaultPreferences.
func (s *Store) LoadPreferences() (Preferences, error) {
	prefs := DefaultPreferences()
	raw, found, err := s.Get(SlotPreferences)
	if err != nil || !found {
		return prefs, err
	}

	var stored Preferences
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("ignoring unreadable preferences", zap.Error(err))
		return prefs, nil
	}
	if stored.View != "" {
		prefs.View = stored.View
	}
	if stored.Density != "" {
		prefs.Density = stored.Density
	}
	return prefs, nil
}

// SavePreferences stores p after validating it.
func (s *Store) SavePreferences(p Preferences) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	return s.Put(SlotPreferences, string(data))
}

// SaveDraft stores an unsubmitted form.
func (s *Store) SaveDraft(d contact.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}
	return s.Put(SlotDraft, string(data))
}

// LoadDraft returns the stored form draft, if any.
func (s *Store) LoadDraft() (contact.Draft, bool, error) {
	raw, found, err := s.Get(SlotDraft)
	if err != nil || !found {
		return contact.Draft{}, found, err
	}
	var d contact.Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return contact.Draft{}, true, fmt.Errorf("failed to parse form draft: %w", err)
	}
	return d, true, nil
}

// ClearDraft removes the form draft.
func (s *Store) ClearDraft() error {
	return s.Delete(SlotDraft)
}
