package contact

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Criteria narrows a contact list. Zero fields match everything.
type Criteria struct {
	Search       string // case-insensitive substring of plant, contact, location or notes
	Location     string // exact match
	Status       Status // exact match
	RecentWithin int    // days; keep contacts reached within the last N days
}

// Filter returns the contacts matching c, preserving order. now anchors the
// RecentWithin window.
func Filter(list []Contact, c Criteria, now time.Time) []Contact {
	term := strings.ToLower(strings.TrimSpace(c.Search))

	out := make([]Contact, 0, len(list))
	for _, ct := range list {
		if term != "" && !matchesSearch(ct, term) {
			continue
		}
		if c.Location != "" && ct.Location != c.Location {
			continue
		}
		if c.Status != "" && ct.Status != c.Status {
			continue
		}
		if c.RecentWithin > 0 {
			if ct.RecentContact.IsZero() || -ct.RecentContact.DaysFrom(now) > c.RecentWithin {
				continue
			}
		}
		out = append(out, ct)
	}
	return out
}

func matchesSearch(c Contact, term string) bool {
	for _, field := range []string{c.PlantName, c.ContactName, c.Location, c.Notes} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// Stats summarizes a contact list for the dashboard header.
type Stats struct {
	Total             int `json:"total"`
	ActiveLeads       int `json:"activeLeads"`       // active or pending
	UpcomingFollowUps int `json:"upcomingFollowUps"` // next contact within a week
}

// ComputeStats counts totals relative to now.
func ComputeStats(list []Contact, now time.Time) Stats {
	s := Stats{Total: len(list)}
	for _, c := range list {
		if c.Status == StatusActive || c.Status == StatusPending {
			s.ActiveLeads++
		}
		if !c.NextContact.IsZero() {
			days := c.NextContact.DaysFrom(now)
			if days >= 0 && days <= FollowUpWindowDays {
				s.UpcomingFollowUps++
			}
		}
	}
	return s
}

// Locations returns the distinct non-empty locations, sorted.
func Locations(list []Contact) []string {
	seen := make(map[string]struct{})
	for _, c := range list {
		if c.Location != "" {
			seen[c.Location] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Relative renders d for listings: "Today", "Tomorrow", "Yesterday",
// "in N days" or "N days ago" within a week, otherwise "Jan 2, 2006".
// An unset date renders as "".
func Relative(d Date, now time.Time) string {
	if d.IsZero() {
		return ""
	}
	days := d.DaysFrom(now)
	switch {
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days == -1:
		return "Yesterday"
	case days > 1 && days <= 7:
		return fmt.Sprintf("in %d days", days)
	case days < -1 && days >= -7:
		return fmt.Sprintf("%d days ago", -days)
	default:
		return d.Time().Format("Jan 2, 2006")
	}
}
