package contact

import (
	"fmt"
	"time"
)

// Status is the lead state of a contact.
type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusFollowUp Status = "follow-up"
	StatusInactive Status = "inactive"
)

// Thresholds used by DetermineStatus, in calendar days.
const (
	FollowUpWindowDays = 7
	ActiveWindowDays   = 30
	PendingWindowDays  = 90
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusActive, StatusPending, StatusFollowUp, StatusInactive}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q (want active, pending, follow-up or inactive)", s)
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Label is the human wording used in listings and CSV export.
func (s Status) Label() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusPending:
		return "Pending Response"
	case StatusFollowUp:
		return "Follow-up Needed"
	case StatusInactive:
		return "Inactive"
	default:
		return "Unknown"
	}
}

// DetermineStatus derives a status from the next and most recent contact
// dates. It depends on nothing but its arguments.
func DetermineStatus(next, recent Date, now time.Time) Status {
	if !next.IsZero() {
		days := next.DaysFrom(now)
		if days >= 0 && days <= FollowUpWindowDays {
			return StatusFollowUp
		}
	}

	if !recent.IsZero() {
		since := -recent.DaysFrom(now)
		if since <= ActiveWindowDays {
			return StatusActive
		}
		if since <= PendingWindowDays {
			return StatusPending
		}
	}

	return StatusInactive
}
