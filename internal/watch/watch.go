// Package watch notices when another process changes the local store.
//
// The local store is a single SQLite file in WAL mode. Writes from any
// process touch the database file or its -wal/-journal companions, so the
// watcher observes the containing directory, keeps only events for those
// names and coalesces bursts into one refresh signal.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Config holds watcher configuration
type Config struct {
	// Debounce is how long the store must stay quiet before a refresh is
	// signalled. SQLite commits touch several files in quick succession.
	Debounce time.Duration

	// Logger for watcher activity (default: no-op)
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 150 * time.Millisecond,
	}
}

// Watcher emits a signal on Refresh after the store file changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	names   map[string]struct{}
	config  *Config
	logger  *zap.Logger

	refresh chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a watcher for the store at storePath. Start must be called
// before it emits anything.
func New(storePath string, config *Config) (*Watcher, error) {
	if storePath == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	base := filepath.Base(abs)
	return &Watcher{
		watcher: fw,
		dir:     filepath.Dir(abs),
		names: map[string]struct{}{
			base:              {},
			base + "-wal":     {},
			base + "-journal": {},
		},
		config:  config,
		logger:  logger,
		refresh: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the store directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if w.stopped {
		return fmt.Errorf("watcher stopped")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.logger.Info("watching local store", zap.String("dir", w.dir))
	return nil
}

// Stop stops watching and closes the Refresh and Errors channels. It is
// safe to call more than once, and on a watcher that was never started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	close(w.refresh)
	close(w.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Refresh delivers one value per quiet period after the store changed.
// Signals are coalesced; a slow reader sees at most one pending signal.
func (w *Watcher) Refresh() <-chan struct{} {
	return w.refresh
}

// Errors delivers watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher has been started and not stopped.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("local store changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
			if timer == nil {
				timer = time.NewTimer(w.config.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.config.Debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			select {
			case w.refresh <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn("dropping watcher error", zap.Error(err))
			}
		}
	}
}

// relevant keeps content changes to the store file and its companions.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if _, ok := w.names[filepath.Base(event.Name)]; !ok {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
