// Package status derives the sync indicator shown to the user: the
// scheduler phase, how long ago the last successful sync happened and
// whether the remote store is reachable.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/geminiglobal/zinc/internal/scheduler"
)

// Snapshot is the reporter state at one instant.
type Snapshot struct {
	Phase    scheduler.Phase `json:"phase"`
	Message  string          `json:"message,omitempty"`
	LastSync time.Time       `json:"lastSync,omitempty"`
	Since    string          `json:"since"`
	Online   bool            `json:"online"`
	Probed   bool            `json:"probed"` // Online is meaningful only once a probe has completed
	Disabled bool            `json:"autoSyncDisabled"`
	LastErr  string          `json:"lastError,omitempty"`
}

// Reporter collects scheduler transitions, sync times and probe results.
// It is safe for concurrent use.
type Reporter struct {
	mu       sync.RWMutex
	phase    scheduler.Phase
	manual   bool
	lastSync time.Time
	lastErr  error
	online   bool
	probed   bool
	disabled func() bool
}

// NewReporter returns a reporter in the idle phase that has never synced.
func NewReporter() *Reporter {
	return &Reporter{phase: scheduler.PhaseIdle}
}

// Observe records a scheduler transition. Pass it to
// scheduler.OnTransition.
func (r *Reporter) Observe(t scheduler.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = t.To
	r.manual = t.Manual
	switch t.To {
	case scheduler.PhaseError:
		r.lastErr = t.Err
	case scheduler.PhaseSuccess:
		r.lastErr = nil
	}
}

// MarkSynced records a successful remote load or save.
func (r *Reporter) MarkSynced(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at.After(r.lastSync) {
		r.lastSync = at
	}
}

// SetOnline records a connectivity probe result.
func (r *Reporter) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online, r.probed = online, true
}

// TrackDisabled makes Snapshot report whether auto-sync is disabled.
func (r *Reporter) TrackDisabled(fn func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = fn
}

// Snapshot returns the current state with Since computed relative to now.
func (r *Reporter) Snapshot(now time.Time) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Phase:    r.phase,
		Message:  message(r.phase, r.manual),
		LastSync: r.lastSync,
		Since:    Since(r.lastSync, now),
		Online:   r.online,
		Probed:   r.probed,
	}
	if r.disabled != nil {
		s.Disabled = r.disabled()
	}
	if r.lastErr != nil {
		s.LastErr = r.lastErr.Error()
	}
	return s
}

func message(p scheduler.Phase, manual bool) string {
	switch p {
	case scheduler.PhaseSyncing:
		if manual {
			return "Syncing with cloud..."
		}
		return "Auto-syncing..."
	case scheduler.PhaseSuccess:
		if manual {
			return "Sync complete!"
		}
		return "Auto-sync complete"
	case scheduler.PhaseError:
		return "Sync failed"
	default:
		return ""
	}
}

// Since renders the time from last to now: "never", "just now", "5m ago",
// "3h ago", and a humanized form such as "2 days ago" beyond a day.
func Since(last, now time.Time) string {
	if last.IsZero() {
		return "never"
	}
	d := now.Sub(last)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return humanize.RelTime(last, now, "ago", "from now")
	}
}
