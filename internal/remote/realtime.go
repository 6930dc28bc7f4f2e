package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// maxFrameBytes bounds a single realtime frame.
const maxFrameBytes = 1 << 20

// Subscribe dials the realtime change feed for the session's organization.
// ctx bounds the handshake only; the feed runs until Close.
func (c *Client) Subscribe(ctx context.Context) (Subscription, error) {
	q := url.Values{}
	q.Set("organization_id", c.session.OrganizationID)

	wsURL := c.endpoint(realtimePath, q)
	switch c.base.Scheme {
	case "https":
		wsURL = "wss" + wsURL[len("https"):]
	case "http":
		wsURL = "ws" + wsURL[len("http"):]
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: c.headers(),
	})
	if err != nil {
		if resp != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			return nil, &StatusError{Op: "subscribe", Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to subscribe: %w: %w", ErrUnavailable, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	feedCtx, cancel := context.WithCancel(context.Background())
	sub := &feed{
		conn:   conn,
		events: make(chan Change, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go sub.readLoop(feedCtx)

	c.logger.Debug("subscribed to change feed", zap.String("organization", c.session.OrganizationID))
	return sub, nil
}

// feed is the websocket-backed Subscription.
type feed struct {
	conn   *websocket.Conn
	events chan Change
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func (f *feed) Events() <-chan Change {
	return f.events
}

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close stops the feed and waits for the reader to exit. It is safe to call
// more than once.
func (f *feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	_ = f.conn.Close(websocket.StatusNormalClosure, "")
	f.cancel()
	<-f.done
	return nil
}

func (f *feed) readLoop(ctx context.Context) {
	defer close(f.done)
	defer close(f.events)

	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			f.finish(err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("dropping malformed realtime frame", zap.Error(err))
			continue
		}
		if msg.Type != MessageTypeChange {
			continue
		}

		var change Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			f.logger.Warn("dropping malformed change", zap.Error(err))
			continue
		}

		select {
		case f.events <- change:
		case <-ctx.Done():
			f.finish(ctx.Err())
			return
		}
	}
}

// finish records why the feed ended unless it was closed on purpose.
func (f *feed) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || errors.Is(err, context.Canceled) {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		f.err = fmt.Errorf("change feed closed by server: %w", ErrUnavailable)
	case websocket.StatusPolicyViolation:
		f.err = &StatusError{Op: "change feed", Code: http.StatusUnauthorized, Body: err.Error()}
	default:
		f.err = fmt.Errorf("change feed failed: %w: %w", ErrUnavailable, err)
	}
}
