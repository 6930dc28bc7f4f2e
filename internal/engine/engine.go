package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/localstore"
	"github.com/geminiglobal/zinc/internal/remote"
	"go.uber.org/zap"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a local-only edit targets an id that is
	// no longer in the list.
	ErrNotFound = errors.New("contact not found")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")
)

// StorageFullWarning is sent to observers when the local store rejects a
// snapshot even after evicting the form draft.
const StorageFullWarning = "Storage full. Some changes may not be saved."

// LocalStore is the slice of the local store the engine uses.
type LocalStore interface {
	LoadContacts() ([]contact.Contact, bool, error)
	SaveContacts(list []contact.Contact) error
	ClearContacts() error
}

// Observer is notified after the list changes. Calls are made from a single
// goroutine in commit order, never from inside the event loop, so observers
// may call back into the engine.
type Observer interface {
	// ContactsChanged receives a copy of the list after every commit.
	ContactsChanged(snapshot []contact.Contact)
	// Warn receives user-facing, non-fatal problems.
	Warn(msg string)
	// PushApplied is called for every pushed change that altered the list.
	PushApplied(change remote.Change)
}

// SyncRecorder records successful remote reconciliations.
type SyncRecorder interface {
	MarkSynced(at time.Time)
}

// Mode is the persistence mode an operation ran in.
type Mode int

const (
	ModeLocal Mode = iota
	ModeRemote
)

func (m Mode) String() string {
	if m == ModeRemote {
		return "remote"
	}
	return "local"
}

// Config holds engine configuration
type Config struct {
	// Local store used in local-only mode and for safety snapshots (required)
	Local LocalStore

	// Logger for engine activity (default: no-op)
	Logger *zap.Logger

	// Recorder is told about successful remote loads and saves (optional)
	Recorder SyncRecorder

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// state is owned by the event loop goroutine.
type state struct {
	list []contact.Contact
}

type op struct {
	fn   func(st *state)
	done chan struct{}
}

// Engine is the reconciliation engine. Create one per process with New and
// release it with Close.
type Engine struct {
	local    LocalStore
	logger   *zap.Logger
	recorder SyncRecorder
	now      func() time.Time

	ops  chan op
	quit chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once

	// Session and observers; never touched by the loop's list logic.
	mu           sync.RWMutex
	session      *remote.Session
	store        remote.Store
	followCancel context.CancelFunc
	observers    []Observer

	// Notification queue drained by notifyLoop.
	qmu   sync.Mutex
	queue []func(Observer)
	wake  chan struct{}
}

// New creates an engine and starts its event loop.
func New(cfg Config) (*Engine, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		local:    cfg.Local,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		now:      cfg.Now,
		ops:      make(chan op),
		quit:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}

	e.wg.Add(2)
	go e.loop()
	go e.notifyLoop()

	return e, nil
}

// Close stops following pushes, stops the event loop and waits for pending
// notifications to be delivered.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		if e.followCancel != nil {
			e.followCancel()
			e.followCancel = nil
		}
		e.mu.Unlock()

		close(e.quit)
		e.wg.Wait()
	})
	return nil
}

func (e *Engine) loop() {
	defer e.wg.Done()

	var st state
	for {
		select {
		case o := <-e.ops:
			o.fn(&st)
			close(o.done)
		case <-e.quit:
			return
		}
	}
}

// do runs fn inside the event loop and waits for it.
func (e *Engine) do(fn func(st *state)) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case e.ops <- o:
	case <-e.quit:
		return ErrClosed
	}
	<-o.done
	return nil
}

// Observe registers an observer.
func (e *Engine) Observe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// notify queues a callback for every observer. Safe to call from the loop.
func (e *Engine) notify(fn func(Observer)) {
	e.qmu.Lock()
	e.queue = append(e.queue, fn)
	e.qmu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) notifyChanged(st *state) {
	snapshot := cloneList(st.list)
	e.notify(func(o Observer) { o.ContactsChanged(snapshot) })
}

func (e *Engine) warn(msg string) {
	e.logger.Warn(msg)
	e.notify(func(o Observer) { o.Warn(msg) })
}

func (e *Engine) notifyLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.wake:
			e.drain()
		case <-e.quit:
			e.drain()
			return
		}
	}
}

func (e *Engine) drain() {
	for {
		e.qmu.Lock()
		batch := e.queue
		e.queue = nil
		e.qmu.Unlock()
		if len(batch) == 0 {
			return
		}

		e.mu.RLock()
		observers := append([]Observer(nil), e.observers...)
		e.mu.RUnlock()

		for _, fn := range batch {
			for _, o := range observers {
				fn(o)
			}
		}
	}
}

// SetSession attaches a signed-in session and its remote store; subsequent
// operations run in remote mode. A previous Follow is stopped.
func (e *Engine) SetSession(session *remote.Session, store remote.Store) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.followCancel != nil {
		e.followCancel()
		e.followCancel = nil
	}
	if session == nil || store == nil {
		e.session, e.store = nil, nil
		return
	}
	s := *session
	e.session, e.store = &s, store
	e.logger.Info("session attached", zap.String("user", s.UserID), zap.String("organization", s.OrganizationID))
}

// SignOut detaches the session, stopping Follow (which closes the
// subscription). Later operations run in local-only mode.
func (e *Engine) SignOut() {
	e.SetSession(nil, nil)
	e.logger.Info("signed out")
}

// Session returns the attached session, if any.
func (e *Engine) Session() (remote.Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return remote.Session{}, false
	}
	return *e.session, true
}

// Mode reports which strategy a new operation would use.
func (e *Engine) Mode() Mode {
	return e.strategy().Mode()
}

// Contacts returns a copy of the list.
func (e *Engine) Contacts() []contact.Contact {
	var out []contact.Contact
	_ = e.do(func(st *state) { out = cloneList(st.list) })
	return out
}

// Get returns the contact with the given id.
func (e *Engine) Get(id string) (contact.Contact, bool) {
	var (
		c  contact.Contact
		ok bool
	)
	_ = e.do(func(st *state) {
		if i := indexOf(st.list, id); i >= 0 {
			c, ok = st.list[i], true
		}
	})
	return c, ok
}

// Filter returns the contacts matching the criteria.
func (e *Engine) Filter(c contact.Criteria) []contact.Contact {
	var out []contact.Contact
	now := e.now()
	_ = e.do(func(st *state) { out = contact.Filter(st.list, c, now) })
	return out
}

// Stats summarizes the list relative to now.
func (e *Engine) Stats(now time.Time) contact.Stats {
	var s contact.Stats
	_ = e.do(func(st *state) { s = contact.ComputeStats(st.list, now) })
	return s
}

// persistLocal writes the list to the local store. Must run in the loop.
func (e *Engine) persistLocal(st *state) {
	err := e.local.SaveContacts(cloneList(st.list))
	if err == nil {
		return
	}
	e.logger.Error("failed to persist contacts locally", zap.Error(err))
	if errors.Is(err, localstore.ErrQuotaExceeded) {
		e.warn(StorageFullWarning)
		return
	}
	e.warn("Could not save contacts locally: " + err.Error())
}

func (e *Engine) markSynced() {
	if e.recorder != nil {
		e.recorder.MarkSynced(e.now())
	}
}

func indexOf(list []contact.Contact, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneList(list []contact.Contact) []contact.Contact {
	out := make([]contact.Contact, len(list))
	copy(out, list)
	return out
}

// upsertInto replaces the entry with c.ID or prepends c.
func upsertInto(list []contact.Contact, c contact.Contact) []contact.Contact {
	if i := indexOf(list, c.ID); i >= 0 {
		list[i] = c
		return list
	}
	return append([]contact.Contact{c}, list...)
}

func removeFrom(list []contact.Contact, id string) ([]contact.Contact, bool) {
	i := indexOf(list, id)
	if i < 0 {
		return list, false
	}
	return append(list[:i:i], list[i+1:]...), true
}
