package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/localstore"
	"github.com/geminiglobal/zinc/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testNow = time.Date(2025, time.August, 20, 15, 30, 0, 0, time.UTC)

var testSession = remote.Session{UserID: "u1", OrganizationID: "org-1", AccessToken: "tok"}

// ===== Fakes =====

type fakeLocal struct {
	mu      sync.Mutex
	list    []contact.Contact
	found   bool
	loadErr error
	saveErr error
	saves   int
	clears  int
}

func (f *fakeLocal) LoadContacts() ([]contact.Contact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, false, f.loadErr
	}
	return append([]contact.Contact(nil), f.list...), f.found, nil
}

func (f *fakeLocal) SaveContacts(list []contact.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.list = append([]contact.Contact(nil), list...)
	f.found = true
	return nil
}

func (f *fakeLocal) ClearContacts() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.list, f.found = nil, false
	return nil
}

func (f *fakeLocal) snapshot() ([]contact.Contact, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contact.Contact(nil), f.list...), f.saves
}

type fakeRemote struct {
	mu         sync.Mutex
	rows       []contact.Row
	fetchErr   error
	upsertErr  error
	failAfter  int // upserts allowed before upsertErr applies; 0 means always fail
	deleteErrs map[string]error
	upserts    []contact.Row
	deletes    []string
	seq        int
}

func (f *fakeRemote) FetchAll(context.Context) ([]contact.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]contact.Row(nil), f.rows...), nil
}

func (f *fakeRemote) Upsert(_ context.Context, row contact.Row, isUpdate bool) (contact.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil && len(f.upserts) >= f.failAfter {
		return contact.Row{}, f.upsertErr
	}
	f.upserts = append(f.upserts, row)

	ts := testNow
	row.UpdatedAt = &ts
	if isUpdate {
		for i := range f.rows {
			if f.rows[i].ID == row.ID {
				row.CreatedAt = f.rows[i].CreatedAt
				row.CreatedBy = f.rows[i].CreatedBy
				f.rows[i] = row
				return row, nil
			}
		}
		return contact.Row{}, fmt.Errorf("update %s: %w", row.ID, remote.ErrNotFound)
	}

	f.seq++
	row.ID = fmt.Sprintf("r%d", f.seq)
	row.CreatedAt = &ts
	f.rows = append([]contact.Row{row}, f.rows...)
	return row, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErrs[id]; err != nil {
		return err
	}
	f.deletes = append(f.deletes, id)
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRemote) Subscribe(context.Context) (remote.Subscription, error) {
	return newFakeSub(), nil
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

type fakeSub struct {
	events    chan remote.Change
	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan remote.Change)}
}

func (s *fakeSub) Events() <-chan remote.Change { return s.events }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordingObserver struct {
	mu       sync.Mutex
	lists    [][]contact.Contact
	warnings []string
	pushes   []remote.Change
}

func (o *recordingObserver) ContactsChanged(s []contact.Contact) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists = append(o.lists, s)
}

func (o *recordingObserver) Warn(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, msg)
}

func (o *recordingObserver) PushApplied(ch remote.Change) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pushes = append(o.pushes, ch)
}

func (o *recordingObserver) warningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.warnings)
}

func (o *recordingObserver) pushCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pushes)
}

type syncCounter struct {
	mu    sync.Mutex
	marks []time.Time
}

func (s *syncCounter) MarkSynced(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, at)
}

func (s *syncCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

// ===== Helpers =====

type fixture struct {
	eng      *Engine
	local    *fakeLocal
	remote   *fakeRemote
	observer *recordingObserver
	synced   *syncCounter
}

func newFixture(t *testing.T, signedIn bool) *fixture {
	t.Helper()
	f := &fixture{
		local:    &fakeLocal{},
		remote:   &fakeRemote{},
		observer: &recordingObserver{},
		synced:   &syncCounter{},
	}
	eng, err := New(Config{
		Local:    f.local,
		Recorder: f.synced,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	eng.Observe(f.observer)
	if signedIn {
		eng.SetSession(&testSession, f.remote)
	}
	f.eng = eng
	t.Cleanup(func() { _ = eng.Close() })
	return f
}

func legacy(name string) contact.Contact {
	return contact.Contact{ID: contact.NewID(), PlantName: name, Status: contact.StatusActive}
}

func ids(list []contact.Contact) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

// ===== Lifecycle =====

func TestNew_RequiresLocalStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClose_StopsGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	eng, err := New(Config{Local: &fakeLocal{}})
	require.NoError(t, err)
	eng.Load(context.Background())
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "second close is a no-op")

	_, err = eng.Save(context.Background(), contact.Draft{PlantName: "x"}, "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMode_FollowsSession(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, ModeLocal, f.eng.Mode())

	f.eng.SetSession(&testSession, f.remote)
	assert.Equal(t, ModeRemote, f.eng.Mode())
	sess, ok := f.eng.Session()
	require.True(t, ok)
	assert.Equal(t, "u1", sess.UserID)

	f.eng.SignOut()
	assert.Equal(t, ModeLocal, f.eng.Mode())
	_, ok = f.eng.Session()
	assert.False(t, ok)
}

// ===== Load =====

func TestLoad_LocalSeedsWhenSlotMissing(t *testing.T) {
	f := newFixture(t, false)

	res := f.eng.Load(context.Background())
	assert.Equal(t, SourceSeed, res.Source)
	assert.True(t, res.Seeded)
	assert.NoError(t, res.Err)
	assert.Equal(t, 19, res.Count)

	stored, saves := f.local.snapshot()
	assert.Equal(t, 1, saves, "seed is persisted")
	assert.Equal(t, ids(f.eng.Contacts()), ids(stored))
	assert.Zero(t, f.synced.count(), "local loads are not syncs")
}

func TestLoad_LocalEmptySlotStaysEmpty(t *testing.T) {
	f := newFixture(t, false)
	f.local.found = true

	res := f.eng.Load(context.Background())
	assert.Equal(t, SourceLocal, res.Source)
	assert.False(t, res.Seeded)
	assert.Empty(t, f.eng.Contacts())
}

func TestLoad_DedupesAndAssignsIDs(t *testing.T) {
	f := newFixture(t, false)
	a := legacy("A")
	f.local.list = []contact.Contact{a, a, {PlantName: "No ID"}}
	f.local.found = true

	f.eng.Load(context.Background())
	list := f.eng.Contacts()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.NotEmpty(t, list[1].ID)
}

func TestLoad_RemoteOrderAndSync(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "b", PlantName: "Newest"}, {ID: "a", PlantName: "Older"}}

	res := f.eng.Load(context.Background())
	assert.Equal(t, SourceRemote, res.Source)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"b", "a"}, ids(f.eng.Contacts()))
	assert.Equal(t, 1, f.synced.count())
}

func TestLoad_RemoteUnreachableFallsBackToLocal(t *testing.T) {
	f := newFixture(t, true)
	f.remote.fetchErr = fmt.Errorf("dial: %w", remote.ErrUnavailable)
	a, b := legacy("A"), legacy("B")
	f.local.list, f.local.found = []contact.Contact{a, b}, true

	res := f.eng.Load(context.Background())
	require.Error(t, res.Err)
	assert.True(t, remote.IsConnectivityError(res.Err))
	assert.Equal(t, SourceLocal, res.Source)
	assert.Equal(t, []string{a.ID, b.ID}, ids(f.eng.Contacts()))
	assert.NotEmpty(t, res.Warnings)
	assert.Zero(t, f.synced.count())
	assert.Eventually(t, func() bool { return f.observer.warningCount() > 0 }, time.Second, 10*time.Millisecond)
}

func TestLoad_MigratesLegacyContacts(t *testing.T) {
	f := newFixture(t, true)
	a := legacy("A")
	b := legacy("B")
	b.Status = ""
	f.local.list, f.local.found = []contact.Contact{a, b}, true

	res := f.eng.Load(context.Background())
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, 2, res.Migrated)
	assert.Len(t, f.eng.Contacts(), 2)

	require.Len(t, f.remote.upserts, 2)
	for _, row := range f.remote.upserts {
		assert.Equal(t, "u1", row.CreatedBy)
		assert.Equal(t, "org-1", row.OrganizationID)
		assert.Empty(t, row.ID, "migrated rows get remote ids")
	}
	assert.Equal(t, contact.StatusInactive, f.remote.upserts[1].Status)

	_, found, _ := f.local.LoadContacts()
	assert.False(t, found, "local slot cleared after migration")
}

func TestLoad_DoesNotMigrateRemoteSnapshots(t *testing.T) {
	f := newFixture(t, true)
	ts := testNow
	snap := contact.Contact{ID: "r9", PlantName: "From cloud", CreatedBy: "u2", CreatedAt: &ts}
	f.local.list, f.local.found = []contact.Contact{snap}, true

	res := f.eng.Load(context.Background())
	assert.Zero(t, res.Migrated)
	assert.Empty(t, f.remote.upserts)
	assert.Empty(t, f.eng.Contacts())
}

func TestLoad_PartialMigrationKeepsRemainder(t *testing.T) {
	f := newFixture(t, true)
	a, b, c := legacy("A"), legacy("B"), legacy("C")
	f.local.list, f.local.found = []contact.Contact{a, b, c}, true
	f.remote.upsertErr = fmt.Errorf("boom: %w", remote.ErrUnavailable)
	f.remote.failAfter = 1

	res := f.eng.Load(context.Background())
	assert.Equal(t, 1, res.Migrated)
	assert.NotEmpty(t, res.Warnings)

	stored, _, _ := f.local.LoadContacts()
	assert.Equal(t, []string{b.ID, c.ID}, ids(stored))
}

// ===== Save =====

func TestSave_RequiresPlantName(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.eng.Save(context.Background(), contact.Draft{PlantName: "   "}, "")
	assert.ErrorIs(t, err, contact.ErrInvalid)
}

func TestSave_LocalInsertAndEdit(t *testing.T) {
	f := newFixture(t, false)
	f.local.found = true
	f.eng.Load(context.Background())
	ctx := context.Background()

	first, err := f.eng.Save(ctx, contact.Draft{PlantName: "First"}, "")
	require.NoError(t, err)
	second, err := f.eng.Save(ctx, contact.Draft{PlantName: "Second", NextContact: contact.DateOf(testNow.AddDate(0, 0, 2))}, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, contact.StatusInactive, first.Status)
	assert.Equal(t, contact.StatusFollowUp, second.Status)
	assert.Equal(t, []string{second.ID, first.ID}, ids(f.eng.Contacts()), "new contacts are prepended")

	edited, err := f.eng.Save(ctx, contact.Draft{PlantName: "First, renamed", Status: contact.StatusActive}, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, edited.ID)
	assert.Equal(t, []string{second.ID, first.ID}, ids(f.eng.Contacts()), "edits stay in place")

	stored, _ := f.local.snapshot()
	require.Len(t, stored, 2)
	assert.Equal(t, "First, renamed", stored[1].PlantName)
	assert.Zero(t, f.synced.count())
}

func TestSave_LocalEditOfMissingID(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.eng.Save(context.Background(), contact.Draft{PlantName: "x"}, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_RemoteTagsUserAndPrepends(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "Existing"}}
	f.eng.Load(context.Background())

	saved, err := f.eng.Save(context.Background(), contact.Draft{PlantName: "New"}, "")
	require.NoError(t, err)
	assert.Equal(t, "r1", saved.ID)
	assert.Equal(t, "u1", saved.CreatedBy)
	assert.Equal(t, "u1", saved.UpdatedBy)
	assert.Equal(t, []string{"r1", "a"}, ids(f.eng.Contacts()))
	assert.Equal(t, 2, f.synced.count())

	_, saves := f.local.snapshot()
	assert.Zero(t, saves, "remote saves do not snapshot on success")
}

func TestSave_RemoteUpdateReplacesInPlace(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A", CreatedBy: "u2"}, {ID: "b", PlantName: "B"}}
	f.eng.Load(context.Background())

	saved, err := f.eng.Save(context.Background(), contact.Draft{PlantName: "B2"}, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", saved.ID)
	assert.Equal(t, []string{"a", "b"}, ids(f.eng.Contacts()))
	assert.Equal(t, "B2", f.eng.Contacts()[1].PlantName)
	assert.Equal(t, "u1", f.remote.upserts[0].UpdatedBy)
}

func TestSave_RemoteFailureSnapshotsLocally(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A"}}
	f.eng.Load(context.Background())
	f.remote.upsertErr = fmt.Errorf("down: %w", remote.ErrUnavailable)

	_, err := f.eng.Save(context.Background(), contact.Draft{PlantName: "New"}, "")
	require.Error(t, err)
	assert.True(t, remote.IsConnectivityError(err))

	stored, saves := f.local.snapshot()
	assert.Equal(t, 1, saves)
	assert.Equal(t, []string{"a"}, ids(stored))
	assert.Equal(t, []string{"a"}, ids(f.eng.Contacts()), "list unchanged")
}

func TestSave_StorageFullWarns(t *testing.T) {
	f := newFixture(t, false)
	f.local.found = true
	f.eng.Load(context.Background())
	f.local.saveErr = fmt.Errorf("retry: %w", localstore.ErrQuotaExceeded)

	_, err := f.eng.Save(context.Background(), contact.Draft{PlantName: "x"}, "")
	require.NoError(t, err, "in-memory save still succeeds")
	assert.Len(t, f.eng.Contacts(), 1)

	assert.Eventually(t, func() bool {
		f.observer.mu.Lock()
		defer f.observer.mu.Unlock()
		for _, w := range f.observer.warnings {
			if w == StorageFullWarning {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestSaveLoad_RoundTripThroughLocalStore(t *testing.T) {
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	draft := contact.Draft{
		PlantName:     "Armour Galvanizing",
		Location:      "Ohio",
		RecentContact: contact.MustDate("2025-08-19"),
		NextContact:   contact.MustDate("2025-09-19"),
		Notes:         "Material not ready yet",
	}

	eng, err := New(Config{Local: store, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	eng.Load(ctx)
	saved, err := eng.Save(ctx, draft, "")
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	again, err := New(Config{Local: store, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	defer again.Close()
	res := again.Load(ctx)
	assert.Equal(t, SourceLocal, res.Source)

	got, ok := again.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, saved, got)
	assert.Equal(t, contact.StatusActive, got.Status)
}

// ===== Remove =====

func TestRemove_LocalIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	a, b := legacy("A"), legacy("B")
	f.local.list, f.local.found = []contact.Contact{a, b}, true
	f.eng.Load(context.Background())

	require.NoError(t, f.eng.Remove(context.Background(), a.ID))
	assert.Equal(t, []string{b.ID}, ids(f.eng.Contacts()))
	_, saves := f.local.snapshot()
	assert.Equal(t, 1, saves)

	require.NoError(t, f.eng.Remove(context.Background(), a.ID))
	assert.Equal(t, []string{b.ID}, ids(f.eng.Contacts()))
	_, saves = f.local.snapshot()
	assert.Equal(t, 1, saves, "removing an absent id writes nothing")
}

func TestRemove_RemoteFailureLeavesList(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A"}}
	f.eng.Load(context.Background())
	f.remote.deleteErrs = map[string]error{"a": fmt.Errorf("x: %w", remote.ErrUnavailable)}

	err := f.eng.Remove(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, ids(f.eng.Contacts()))
}

func TestRemove_RemoteSnapshotsLocally(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A"}, {ID: "b", PlantName: "B"}}
	f.eng.Load(context.Background())

	require.NoError(t, f.eng.Remove(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, f.remote.deletes)
	stored, _ := f.local.snapshot()
	assert.Equal(t, []string{"b"}, ids(stored))
}

func TestBulkRemove_PartialFailure(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A"}, {ID: "b", PlantName: "B"}, {ID: "c", PlantName: "C"}}
	f.eng.Load(context.Background())
	f.remote.deleteErrs = map[string]error{"b": errors.New("rejected")}

	res := f.eng.BulkRemove(context.Background(), []string{"a", "b", "c", "a", ""})
	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 2, res.Removed)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed, "b")

	assert.Equal(t, []string{"b"}, ids(f.eng.Contacts()))
	stored, saves := f.local.snapshot()
	assert.Equal(t, 1, saves, "one snapshot for the whole batch")
	assert.Equal(t, []string{"b"}, ids(stored))
}

// ===== Pushes =====

func TestApplyRemotePush(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A"}}
	f.eng.Load(context.Background())

	// Own insert and update are already applied by Save.
	assert.False(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeInsert,
		Record: contact.Row{ID: "mine", PlantName: "Mine", CreatedBy: "u1"}}))
	assert.False(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeUpdate,
		Record: contact.Row{ID: "a", PlantName: "A edited by me", UpdatedBy: "u1"}}))
	assert.Equal(t, "A", f.eng.Contacts()[0].PlantName)

	assert.True(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeInsert,
		Record: contact.Row{ID: "n", PlantName: "New", CreatedBy: "u2"}}))
	assert.Equal(t, []string{"n", "a"}, ids(f.eng.Contacts()))

	assert.False(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeInsert,
		Record: contact.Row{ID: "n", PlantName: "Duplicate", CreatedBy: "u2"}}), "insert of present id is ignored")

	assert.True(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeUpdate,
		Record: contact.Row{ID: "a", PlantName: "A edited", UpdatedBy: "u2"}}))
	assert.Equal(t, "A edited", f.eng.Contacts()[1].PlantName)

	// Deletes apply regardless of author.
	assert.True(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeDelete,
		OldRecord: contact.Row{ID: "n"}}))
	assert.False(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeDelete,
		OldRecord: contact.Row{ID: "n"}}))
	assert.Equal(t, []string{"a"}, ids(f.eng.Contacts()))

	// A late update for a deleted row does not bring it back.
	assert.False(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeUpdate,
		Record: contact.Row{ID: "n", PlantName: "New edited", UpdatedBy: "u2"}}))
	assert.Equal(t, []string{"a"}, ids(f.eng.Contacts()))

	assert.Eventually(t, func() bool { return f.observer.pushCount() == 3 }, time.Second, 10*time.Millisecond)
}

func TestApplyRemotePush_UpdateAfterDelete(t *testing.T) {
	f := newFixture(t, true)
	f.remote.rows = []contact.Row{{ID: "a", PlantName: "A"}}
	f.eng.Load(context.Background())

	require.True(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeDelete, OldRecord: contact.Row{ID: "a"}}))
	changed := f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeUpdate,
		Record: contact.Row{ID: "a", PlantName: "A edited", UpdatedBy: "u2"}})
	assert.False(t, changed)
	assert.Empty(t, f.eng.Contacts())
}

func TestApplyRemotePush_IgnoredWithoutSession(t *testing.T) {
	f := newFixture(t, false)
	assert.False(t, f.eng.ApplyRemotePush(remote.Change{Kind: remote.ChangeInsert,
		Record: contact.Row{ID: "n", PlantName: "New", CreatedBy: "u2"}}))
	assert.Empty(t, f.eng.Contacts())
}

func TestFollow_AppliesUntilSignOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	local := &fakeLocal{found: true}
	eng, err := New(Config{Local: local})
	require.NoError(t, err)
	defer eng.Close()
	eng.SetSession(&testSession, &fakeRemote{})

	sub := newFakeSub()
	done := make(chan error, 1)
	go func() { done <- eng.Follow(context.Background(), sub) }()

	sub.events <- remote.Change{Kind: remote.ChangeInsert, Record: contact.Row{ID: "x", PlantName: "X", CreatedBy: "u2"}}
	assert.Eventually(t, func() bool { return len(eng.Contacts()) == 1 }, time.Second, 10*time.Millisecond)

	eng.SignOut()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not stop on sign-out")
	}
	assert.True(t, sub.isClosed())
}

func TestFollow_ReturnsSubscriptionError(t *testing.T) {
	f := newFixture(t, true)
	sub := newFakeSub()
	boom := errors.New("connection reset")

	done := make(chan error, 1)
	go func() { done <- f.eng.Follow(context.Background(), sub) }()
	sub.end(boom)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return")
	}
	assert.True(t, sub.isClosed())
}

// ===== Reads =====

func TestFilterAndStats(t *testing.T) {
	f := newFixture(t, false)
	f.eng.Load(context.Background())

	all := f.eng.Contacts()
	require.Len(t, all, 19)
	assert.Len(t, f.eng.Filter(contact.Criteria{}), 19)

	st := f.eng.Stats(testNow)
	assert.Equal(t, 19, st.Total)
	assert.Equal(t, contact.ComputeStats(all, testNow), st)
}
