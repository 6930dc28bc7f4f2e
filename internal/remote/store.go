// Package remote is the client side of the hosted contacts table.
//
// The table is reached through a small REST surface and a websocket change
// feed, both scoped to one organization:
//
//	GET    /rest/v1/contacts?organization_id=ORG&order=updated_at.desc
//	POST   /rest/v1/contacts             insert, returns the canonical row
//	PATCH  /rest/v1/contacts/{id}        update, returns the canonical row
//	DELETE /rest/v1/contacts/{id}
//	WS     /realtime/v1/contacts?organization_id=ORG
//
// Every request carries the project API key ("apikey" header) and the
// session access token ("Authorization: Bearer"). None of the operations
// retry internally; callers decide how to degrade.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
)

// Store is the set of primitives the reconciliation engine needs from the
// remote table.
type Store interface {
	// FetchAll returns every row of the organization, most recently updated first.
	FetchAll(ctx context.Context) ([]contact.Row, error)

	// Upsert inserts row (isUpdate false) or updates the row with row.ID and
	// returns the persisted row, including server-assigned id and timestamps.
	Upsert(ctx context.Context, row contact.Row, isUpdate bool) (contact.Row, error)

	// Delete removes the row with the given id.
	Delete(ctx context.Context, id string) error

	// Subscribe opens the change feed. The caller must Close the subscription.
	Subscribe(ctx context.Context) (Subscription, error)

	// Ping performs the cheapest possible read to check reachability.
	Ping(ctx context.Context) error
}

// Subscription is a live change feed. Events arrive unordered and the
// channel is closed when the feed ends.
type Subscription interface {
	Events() <-chan Change
	// Err reports why the feed ended; nil while running or after Close.
	Err() error
	Close() error
}

// ChangeKind is the type of row mutation in a Change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one pushed mutation of the contacts table. Record holds the new
// row for insert and update; OldRecord holds at least the id for delete.
type Change struct {
	Kind            ChangeKind  `json:"kind"`
	Record          contact.Row `json:"record"`
	OldRecord       contact.Row `json:"old_record"`
	CommitTimestamp time.Time   `json:"commit_timestamp"`
}

// RowID returns the id the change applies to.
func (c Change) RowID() string {
	if c.Kind == ChangeDelete && c.OldRecord.ID != "" {
		return c.OldRecord.ID
	}
	if c.Record.ID != "" {
		return c.Record.ID
	}
	return c.OldRecord.ID
}

// MessageType identifies a realtime frame.
type MessageType string

const (
	// MessageTypeWelcome is sent once after the feed is established
	MessageTypeWelcome MessageType = "welcome"

	// MessageTypeChange carries a Change in Data
	MessageTypeChange MessageType = "change"
)

// Message is the realtime wire envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Session identifies the signed-in user and organization. Its presence is
// what puts the engine in remote mode.
type Session struct {
	UserID         string
	OrganizationID string
	AccessToken    string
}

// Valid reports whether every field needed for remote calls is set.
func (s Session) Valid() bool {
	return s.UserID != "" && s.OrganizationID != "" && s.AccessToken != ""
}
