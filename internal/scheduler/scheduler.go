// Package scheduler runs reconciliation passes manually and on an interval,
// with at most one pass in flight.
//
// Phases move idle → syncing → success|error → idle. The result phase is held
// for a short while so a status display can show it, then falls back to idle.
// Automatic passes only run while the host reports itself visible and
// focused; repeated authorization failures disable the interval until a new
// scheduler is built for a new session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geminiglobal/zinc/internal/remote"
	"go.uber.org/zap"
)

// ErrSyncInProgress is returned by TriggerManual while a pass is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Phase is the scheduler's externally visible state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSyncing Phase = "syncing"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// Transition is delivered to listeners on every phase change.
type Transition struct {
	From   Phase
	To     Phase
	Manual bool  // the pass was requested by the user
	Err    error // set when To is PhaseError
	At     time.Time
}

// Host reports whether the user is looking at the application.
type Host interface {
	Visible() bool
	Focused() bool
}

type alwaysActive struct{}

func (alwaysActive) Visible() bool { return true }
func (alwaysActive) Focused() bool { return true }

// AlwaysActive is a Host for headless use.
var AlwaysActive Host = alwaysActive{}

// Pass performs one reconciliation. A nil error counts as success.
type Pass func(ctx context.Context) error

// Config holds scheduler configuration
type Config struct {
	// Interval between automatic passes (default: 2m)
	Interval time.Duration

	// SuccessHold is how long PhaseSuccess is shown (default: 2s)
	SuccessHold time.Duration

	// ErrorHold is how long PhaseError is shown (default: 3s)
	ErrorHold time.Duration

	// MaxAuthFailures consecutive automatic authorization failures disable
	// the interval (default: 3)
	MaxAuthFailures int

	// Host gates automatic passes (default: AlwaysActive)
	Host Host

	// Logger for scheduler activity (default: no-op)
	Logger *zap.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:        2 * time.Minute,
		SuccessHold:     2 * time.Second,
		ErrorHold:       3 * time.Second,
		MaxAuthFailures: 3,
		Host:            AlwaysActive,
	}
}

func (c *Config) withDefaults() *Config {
	out := *DefaultConfig()
	if c == nil {
		out.Logger, out.Now = zap.NewNop(), time.Now
		return &out
	}
	cfg := *c
	if cfg.Interval <= 0 {
		cfg.Interval = out.Interval
	}
	if cfg.SuccessHold <= 0 {
		cfg.SuccessHold = out.SuccessHold
	}
	if cfg.ErrorHold <= 0 {
		cfg.ErrorHold = out.ErrorHold
	}
	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = out.MaxAuthFailures
	}
	if cfg.Host == nil {
		cfg.Host = out.Host
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &cfg
}

// Scheduler serializes reconciliation passes.
type Scheduler struct {
	pass   Pass
	config *Config
	logger *zap.Logger

	mu         sync.Mutex
	phase      Phase
	hold       *time.Timer
	holdGen    uint64
	authStreak int
	disabled   bool
	started    bool
	stopped    bool
	listeners  []func(Transition)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler running pass. Call Start to enable the interval.
func New(pass Pass, config *Config) (*Scheduler, error) {
	if pass == nil {
		return nil, fmt.Errorf("pass cannot be nil")
	}
	cfg := config.withDefaults()
	return &Scheduler{
		pass:   pass,
		config: cfg,
		logger: cfg.Logger,
		phase:  PhaseIdle,
	}, nil
}

// OnTransition registers a listener. Listeners run synchronously on the
// goroutine that caused the change and must not block.
func (s *Scheduler) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Phase returns the current phase.
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Disabled reports whether the interval was cancelled after repeated
// authorization failures.
func (s *Scheduler) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Start begins automatic passes. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.stopped {
		return fmt.Errorf("scheduler stopped")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("auto-sync started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop cancels the interval and any pending hold, then waits for the
// automatic loop to exit. A manual pass in flight is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	if s.hold != nil {
		s.hold.Stop()
		s.hold = nil
	}
	s.holdGen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("auto-sync stopped")
}

// TriggerManual runs a pass now and returns its error. It returns
// ErrSyncInProgress without calling the pass if one is already running.
func (s *Scheduler) TriggerManual(ctx context.Context) error {
	if !s.begin(true) {
		return ErrSyncInProgress
	}
	err := s.pass(ctx)
	s.finish(true, err)
	return err
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.config.Host.Visible() || !s.config.Host.Focused() {
		s.logger.Debug("skipping auto-sync, host inactive")
		return
	}
	if !s.begin(false) {
		s.logger.Debug("skipping auto-sync, pass in flight")
		return
	}
	err := s.pass(ctx)
	s.finish(false, err)
}

// begin moves to PhaseSyncing unless a pass is already running.
func (s *Scheduler) begin(manual bool) bool {
	s.mu.Lock()
	if s.phase == PhaseSyncing || (!manual && s.disabled) {
		s.mu.Unlock()
		return false
	}
	if s.hold != nil {
		s.hold.Stop()
		s.hold = nil
	}
	s.holdGen++
	t := Transition{From: s.phase, To: PhaseSyncing, Manual: manual, At: s.config.Now()}
	s.phase = PhaseSyncing
	listeners := s.listeners
	s.mu.Unlock()

	emit(listeners, t)
	return true
}

func (s *Scheduler) finish(manual bool, err error) {
	s.mu.Lock()
	t := Transition{From: PhaseSyncing, To: PhaseSuccess, Manual: manual, At: s.config.Now()}
	hold := s.config.SuccessHold
	var cancel context.CancelFunc

	switch {
	case err == nil:
		s.authStreak = 0
	case remote.IsAuthError(err):
		t.To, t.Err, hold = PhaseError, err, s.config.ErrorHold
		if !manual {
			s.authStreak++
		}
		if s.authStreak >= s.config.MaxAuthFailures && !s.disabled {
			s.disabled = true
			cancel = s.cancel
		}
	default:
		t.To, t.Err, hold = PhaseError, err, s.config.ErrorHold
		s.authStreak = 0
	}
	s.phase = t.To

	if !s.stopped {
		gen := s.holdGen
		s.hold = time.AfterFunc(hold, func() { s.settle(gen) })
	}
	streak := s.authStreak
	listeners := s.listeners
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("sync failed", zap.Bool("manual", manual), zap.Int("auth_streak", streak), zap.Error(err))
	} else {
		s.logger.Debug("sync succeeded", zap.Bool("manual", manual))
	}
	if cancel != nil {
		s.logger.Warn("auto-sync disabled after repeated authorization failures", zap.Int("failures", streak))
		cancel()
	}

	emit(listeners, t)
}

// settle returns to idle once the result hold expires, unless a newer pass
// has started since.
func (s *Scheduler) settle(gen uint64) {
	s.mu.Lock()
	if gen != s.holdGen || s.phase == PhaseSyncing || s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	t := Transition{From: s.phase, To: PhaseIdle, At: s.config.Now()}
	s.phase = PhaseIdle
	s.hold = nil
	listeners := s.listeners
	s.mu.Unlock()

	emit(listeners, t)
}

func emit(listeners []func(Transition), t Transition) {
	for _, fn := range listeners {
		fn(t)
	}
}
