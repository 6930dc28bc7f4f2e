package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStarted(t *testing.T, debounce time.Duration) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "local.db")

	w, err := New(path, &Config{Debounce: debounce})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w, path
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestWatcher_StartStop(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "local.db"), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("new watcher should not be running")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop()")
	}
	if _, ok := <-w.Refresh(); ok {
		t.Error("Refresh channel should be closed")
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "local.db"), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestWatcher_CoalescesWrites(t *testing.T) {
	w, path := newStarted(t, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		if err := os.WriteFile(path+"-wal", []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	select {
	case <-w.Refresh():
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after writes")
	}

	select {
	case <-w.Refresh():
		t.Fatal("burst should produce a single refresh")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	w, path := newStarted(t, 20*time.Millisecond)

	other := filepath.Join(filepath.Dir(path), "notes.txt")
	if err := os.WriteFile(other, []byte("hi"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-w.Refresh():
		t.Fatal("unrelated file triggered a refresh")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelevant(t *testing.T) {
	w, err := New("/data/local.db", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer w.Stop()

	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/data/local.db", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/data/local.db-wal", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/data/local.db-journal", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/data/local.db", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/data/local.db-shm", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/data/other.db", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.event); got != tt.want {
			t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
		}
	}
}
