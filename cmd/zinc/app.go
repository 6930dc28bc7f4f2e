package main

import (
	"context"
	"fmt"
	"os"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/engine"
	"github.com/geminiglobal/zinc/internal/localstore"
	"github.com/geminiglobal/zinc/internal/remote"
	"github.com/geminiglobal/zinc/internal/status"
	"github.com/geminiglobal/zinc/internal/ui"
	"go.uber.org/zap"
)

// app is the set of components a command works with.
type app struct {
	local    *localstore.Store
	eng      *engine.Engine
	client   *remote.Client // nil in local-only mode
	session  remote.Session
	reporter *status.Reporter
	observer *cliObserver
}

// openApp opens the local store and builds the engine, attaching the
// configured session unless --local is set. The list is not loaded.
func openApp() (*app, error) {
	local, err := localstore.Open(cfg.LocalPath(),
		localstore.WithQuota(cfg.Local.QuotaBytes),
		localstore.WithLogger(logger.Named("localstore")))
	if err != nil {
		return nil, err
	}

	reporter := status.NewReporter()
	eng, err := engine.New(engine.Config{
		Local:    local,
		Logger:   logger.Named("engine"),
		Recorder: reporter,
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}

	a := &app{local: local, eng: eng, reporter: reporter, observer: &cliObserver{}}
	eng.Observe(a.observer)

	if cfg.RemoteEnabled() && !localOnly {
		a.session = remote.Session{
			UserID:         cfg.Session.UserID,
			OrganizationID: cfg.Session.OrganizationID,
			AccessToken:    cfg.Session.AccessToken,
		}
		client, err := remote.NewClient(remote.Config{
			BaseURL: cfg.Remote.URL,
			APIKey:  cfg.Remote.APIKey,
			Logger:  logger.Named("remote"),
		}, a.session)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.client = client
		eng.SetSession(&a.session, client)
	}
	return a, nil
}

// openLoaded is openApp followed by a Load.
func openLoaded(ctx context.Context) (*app, engine.LoadResult, error) {
	a, err := openApp()
	if err != nil {
		return nil, engine.LoadResult{}, err
	}
	res := a.eng.Load(ctx)
	logger.Debug("load finished", zap.String("source", string(res.Source)), zap.Int("count", res.Count))
	return a, res, nil
}

func (a *app) Close() {
	if a.eng != nil {
		_ = a.eng.Close()
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			logger.Warn("failed to close local store", zap.Error(err))
		}
	}
}

// resolveID accepts a full id or a unique prefix of one.
func (a *app) resolveID(arg string) (string, error) {
	if _, ok := a.eng.Get(arg); ok {
		return arg, nil
	}
	var match string
	for _, c := range a.eng.Contacts() {
		if len(arg) >= 4 && len(c.ID) >= len(arg) && c.ID[:len(arg)] == arg {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", arg)
			}
			match = c.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no contact with id %q", arg)
	}
	return match, nil
}

// cliObserver prints engine warnings, and pushed changes when verbose.
type cliObserver struct {
	verbose bool
}

func (o *cliObserver) ContactsChanged([]contact.Contact) {}

func (o *cliObserver) Warn(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), msg)
}

func (o *cliObserver) PushApplied(ch remote.Change) {
	if !o.verbose {
		return
	}
	name := ch.Record.PlantName
	if name == "" {
		name = ch.OldRecord.PlantName
	}
	if name == "" {
		name = ch.RowID()
	}
	verbs := map[remote.ChangeKind]string{
		remote.ChangeInsert: "added",
		remote.ChangeUpdate: "updated",
		remote.ChangeDelete: "deleted",
	}
	fmt.Printf("%s Team member %s %s\n", ui.RenderAccent("↻"), verbs[ch.Kind], name)
}
