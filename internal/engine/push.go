package engine

import (
	"context"
	"errors"

	"github.com/geminiglobal/zinc/internal/remote"
	"go.uber.org/zap"
)

// ApplyRemotePush merges one change pushed by the remote table and reports
// whether the list changed.
//
// Inserts and updates authored by the current user are ignored since the
// originating Save already committed them. Deletes are applied regardless of
// author. A pushed insert for an id already present is ignored, as is an
// update for an id not present. Pushes arriving without a session are
// dropped.
func (e *Engine) ApplyRemotePush(ch remote.Change) bool {
	sess, ok := e.Session()
	if !ok {
		e.logger.Debug("ignoring push without session", zap.String("kind", string(ch.Kind)))
		return false
	}

	id := ch.RowID()
	if id == "" {
		e.logger.Warn("ignoring push without row id", zap.String("kind", string(ch.Kind)))
		return false
	}

	switch ch.Kind {
	case remote.ChangeInsert:
		if ch.Record.CreatedBy == sess.UserID {
			return false
		}
	case remote.ChangeUpdate:
		if ch.Record.UpdatedBy == sess.UserID {
			return false
		}
	case remote.ChangeDelete:
	default:
		e.logger.Warn("ignoring push of unknown kind", zap.String("kind", string(ch.Kind)))
		return false
	}

	var changed bool
	err := e.do(func(st *state) {
		switch ch.Kind {
		case remote.ChangeInsert:
			if indexOf(st.list, id) >= 0 {
				return
			}
			st.list = upsertInto(st.list, ch.Record.Contact())
			changed = true
		case remote.ChangeUpdate:
			i := indexOf(st.list, id)
			if i < 0 {
				return
			}
			st.list[i] = ch.Record.Contact()
			changed = true
		case remote.ChangeDelete:
			st.list, changed = removeFrom(st.list, id)
		}
		if changed {
			e.notifyChanged(st)
			e.notify(func(o Observer) { o.PushApplied(ch) })
		}
	})
	if err != nil {
		return false
	}

	if changed {
		e.logger.Debug("applied remote change", zap.String("kind", string(ch.Kind)), zap.String("id", id))
	}
	return changed
}

// Follow applies every change from sub until ctx is cancelled, the session
// is replaced or cleared, the engine is closed, or the subscription ends.
// The subscription is closed on return. A subscription that ends on its own
// returns its error; cancellation returns nil.
func (e *Engine) Follow(ctx context.Context, sub remote.Subscription) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sub.Close()

	e.mu.Lock()
	if e.followCancel != nil {
		e.followCancel()
	}
	e.followCancel = cancel
	e.mu.Unlock()

	select {
	case <-e.quit:
		return nil
	default:
	}

	e.logger.Info("following remote changes")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stopped following remote changes")
			return nil
		case <-e.quit:
			return nil
		case ch, ok := <-sub.Events():
			if !ok {
				err := sub.Err()
				if err != nil && !errors.Is(err, context.Canceled) {
					e.logger.Warn("realtime subscription ended", zap.Error(err))
					return err
				}
				return nil
			}
			e.ApplyRemotePush(ch)
		}
	}
}
