package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/geminiglobal/zinc/internal/remote"
	"github.com/geminiglobal/zinc/internal/scheduler"
	"go.uber.org/zap"
)

// Pinger performs a lightweight read against the remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProberConfig holds prober configuration
type ProberConfig struct {
	// Interval between probes (default: 30s)
	Interval time.Duration

	// Timeout for a single probe (default: 10s)
	Timeout time.Duration

	// Host gates probes; hidden hosts are not probed (default: scheduler.AlwaysActive)
	Host scheduler.Host

	// Logger for probe failures (default: no-op)
	Logger *zap.Logger
}

// DefaultProberConfig returns the default configuration.
func DefaultProberConfig() *ProberConfig {
	return &ProberConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Host:     scheduler.AlwaysActive,
	}
}

// Prober periodically pings the remote store and reports connectivity,
// independently of the scheduler.
type Prober struct {
	pinger   Pinger
	reporter *Reporter
	config   *ProberConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProber creates a prober. Call Start to begin probing.
func NewProber(pinger Pinger, reporter *Reporter, config *ProberConfig) (*Prober, error) {
	if pinger == nil {
		return nil, fmt.Errorf("pinger cannot be nil")
	}
	if reporter == nil {
		return nil, fmt.Errorf("reporter cannot be nil")
	}

	cfg := DefaultProberConfig()
	if config != nil {
		if config.Interval > 0 {
			cfg.Interval = config.Interval
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.Host != nil {
			cfg.Host = config.Host
		}
		cfg.Logger = config.Logger
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Prober{pinger: pinger, reporter: reporter, config: cfg}, nil
}

// Start launches the probe loop.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("prober already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

// Stop ends the probe loop and waits for it.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.config.Host.Visible() {
				continue
			}
			p.Probe(ctx)
		}
	}
}

// Probe pings once, records the result and returns it.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err != nil {
		if remote.IsAuthError(err) {
			p.config.Logger.Debug("connection check failed", zap.Error(err))
		} else {
			p.config.Logger.Info("connection check failed", zap.Error(err))
		}
	}
	p.reporter.SetOnline(err == nil)
	return err == nil
}
