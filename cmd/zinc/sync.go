package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geminiglobal/zinc/internal/engine"
	"github.com/geminiglobal/zinc/internal/remote"
	"github.com/geminiglobal/zinc/internal/scheduler"
	"github.com/geminiglobal/zinc/internal/status"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/geminiglobal/zinc/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newScheduler wires a scheduler whose pass reloads the list, reporting
// transitions to the app's reporter.
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	pass := func(ctx context.Context) error {
		return a.eng.Load(ctx).Err
	}
	s, err := scheduler.New(pass, &scheduler.Config{
		Interval:        cfg.Sync.Interval,
		SuccessHold:     cfg.Sync.SuccessHold,
		ErrorHold:       cfg.Sync.ErrorHold,
		MaxAuthFailures: cfg.Sync.MaxAuthFailures,
		Logger:          logger.Named("scheduler"),
	})
	if err != nil {
		return nil, err
	}
	s.OnTransition(a.reporter.Observe)
	a.reporter.TrackDisabled(s.Disabled)
	return s, nil
}

func newProber(a *app) (*status.Prober, error) {
	pc := status.DefaultProberConfig()
	pc.Interval = cfg.Status.ProbeInterval
	pc.Logger = logger.Named("prober")
	return status.NewProber(a.client, a.reporter, pc)
}

// ===== sync =====

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile with the remote table now",
	Long: `Run one manual reconciliation pass: migrate legacy local contacts if the
remote table is empty, then replace the local view with the remote list.

Without a session the pass only re-reads the local store.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		var res engine.LoadResult
		s, err := scheduler.New(func(ctx context.Context) error {
			res = a.eng.Load(ctx)
			return res.Err
		}, &scheduler.Config{Logger: logger.Named("scheduler")})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer s.Stop()
		s.OnTransition(a.reporter.Observe)

		if a.eng.Mode() == engine.ModeRemote {
			fmt.Println(ui.RenderAccent("Syncing with cloud..."))
		}
		if err := s.TriggerManual(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), a.reporter.Snapshot(time.Now()).Message, err)
			os.Exit(1)
		}

		msg := a.reporter.Snapshot(time.Now()).Message
		if a.eng.Mode() == engine.ModeLocal {
			msg = "Local store reloaded"
		}
		fmt.Printf("%s %s: %d contacts", ui.RenderPass("✓"), msg, res.Count)
		if res.Migrated > 0 {
			fmt.Printf(", %d migrated from local storage", res.Migrated)
		}
		if res.Seeded {
			fmt.Print(" (default set)")
		}
		fmt.Println()
	},
}

// ===== status =====

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show mode, connectivity and list summary",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, res, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if a.client != nil {
			p, err := newProber(a)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			p.Probe(ctx)
		}

		now := time.Now()
		snap := a.reporter.Snapshot(now)
		stats := a.eng.Stats(now)
		usage, err := a.local.Usage(ctx)
		if err != nil {
			logger.Debug("failed to measure local usage", zap.Error(err))
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			out := struct {
				Mode   string          `json:"mode"`
				Source engine.Source   `json:"source"`
				Status status.Snapshot `json:"status"`
				Stats  any             `json:"stats"`
				Usage  int64           `json:"localBytes"`
			}{a.eng.Mode().String(), res.Source, snap, stats, usage}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		fmt.Printf("%s %s\n", ui.RenderBold("Mode:"), a.eng.Mode())
		if session, ok := a.eng.Session(); ok {
			fmt.Printf("%s %s (%s)\n", ui.RenderBold("User:"), session.UserID, session.OrganizationID)
			conn := ui.RenderFail("offline")
			if snap.Online {
				conn = ui.RenderPass("online")
			}
			fmt.Printf("%s %s\n", ui.RenderBold("Connection:"), conn)
			fmt.Printf("%s %s\n", ui.RenderBold("Last sync:"), snap.Since)
		}
		fmt.Printf("%s %s\n", ui.RenderBold("Loaded from:"), res.Source)
		fmt.Printf("%s %d total, %d active leads, %d follow-ups this week\n",
			ui.RenderBold("Contacts:"), stats.Total, stats.ActiveLeads, stats.UpcomingFollowUps)
		if usage > 0 {
			fmt.Printf("%s %d bytes of %d\n", ui.RenderBold("Local store:"), usage, cfg.Local.QuotaBytes)
		}
		if res.Err != nil {
			fmt.Printf("%s %v\n", ui.RenderWarn("Remote error:"), res.Err)
		}
	},
}

// ===== watch =====

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Stay in sync until interrupted",
	Long: `Keep the list current until Ctrl+C.

With a session: reconcile every sync.interval, apply pushed changes from
other users as they arrive and probe connectivity every
status.probe_interval. Automatic sync stops after repeated authorization
failures.

Without a session: reload whenever another process changes the local store.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()
		a.observer.verbose = true

		if a.client != nil {
			err = watchRemote(ctx, a)
		} else {
			err = watchLocal(ctx, a)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(ui.RenderMuted("Stopped."))
	},
}

func watchRemote(ctx context.Context, a *app) error {
	s, err := newScheduler(a)
	if err != nil {
		return err
	}
	s.OnTransition(func(t scheduler.Transition) {
		switch t.To {
		case scheduler.PhaseSuccess:
			fmt.Printf("%s %s (%d contacts)\n", ui.RenderPass("✓"), a.reporter.Snapshot(t.At).Message, len(a.eng.Contacts()))
		case scheduler.PhaseError:
			fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), a.reporter.Snapshot(t.At).Message, t.Err)
			if s.Disabled() {
				fmt.Println(ui.RenderWarn("Automatic sync disabled after repeated authorization failures."))
			}
		}
	})

	p, err := newProber(a)
	if err != nil {
		return err
	}

	if err := s.TriggerManual(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("initial sync failed", zap.Error(err))
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("→"), cfg.Remote.URL)

	// Resubscribe with a short backoff until interrupted.
	for ctx.Err() == nil {
		sub, err := a.client.Subscribe(ctx)
		if err == nil {
			err = a.eng.Follow(ctx, sub)
		}
		if ctx.Err() != nil {
			break
		}
		if remote.IsAuthError(err) {
			return fmt.Errorf("realtime subscription rejected: %w", err)
		}
		logger.Warn("realtime subscription ended, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

func watchLocal(ctx context.Context, a *app) error {
	res := a.eng.Load(ctx)
	fmt.Printf("%s Loaded %d contacts from %s\n", ui.RenderPass("✓"), res.Count, res.Source)

	w, err := watch.New(a.local.Path(), &watch.Config{Logger: logger.Named("watch")})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("→"), a.local.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Refresh():
			res := a.eng.Load(ctx)
			fmt.Printf("%s Local store changed, %d contacts\n", ui.RenderAccent("↻"), res.Count)
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func init() {
	statusCmd.Flags().Bool("json", false, "print status as JSON")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}
