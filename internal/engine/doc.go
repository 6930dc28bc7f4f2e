// Package engine owns the in-memory contact list and reconciles it with the
// local store and, when a session is present, the remote contacts table.
//
// Overview
//
// Every operation picks a persistence strategy when it starts: remote when a
// session is attached, local-only otherwise. The list itself lives inside a
// single goroutine; operations and pushed changes are delivered to it as
// closures over a channel, so the list is never touched concurrently and no
// lock guards it.
//
//	UI / CLI ──Load/Save/Remove──┐
//	Scheduler ──Load─────────────┤
//	Follow(sub) ──ApplyRemotePush┤
//	                             ▼
//	                     event loop (owns list)
//	                             │
//	          ┌──────────────────┴─────────────────┐
//	    remote.Store (calls run outside       localstore (snapshots,
//	    the loop, results committed by id)     local-only mode)
//
// Remote calls are made from the caller's goroutine, outside the loop. Two
// saves issued back to back may commit in either order; every commit is keyed
// by id and the last one wins.
//
// Usage
//
//	local, err := localstore.Open(filepath.Join(dataDir, "local.db"))
//	if err != nil {
//	    return err
//	}
//	eng, err := engine.New(engine.Config{Local: local, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	res := eng.Load(ctx) // never fails; res.Err holds a remote failure
//	saved, err := eng.Save(ctx, draft, "")
//
// Remote mode:
//
//	client, _ := remote.NewClient(cfg, session)
//	eng.SetSession(&session, client)
//	sub, err := client.Subscribe(ctx)
//	if err == nil {
//	    go eng.Follow(ctx, sub)
//	}
//	...
//	eng.SignOut() // stops Follow and closes the subscription
//
// Error Handling
//
//   - Load degrades to the local store (or the seed set) and reports why in
//     LoadResult; it never returns an error
//   - Save returns remote failures after snapshotting the list locally
//   - Remove leaves the list untouched when the remote delete fails
//   - A full local store is reported to observers as a warning
package engine
