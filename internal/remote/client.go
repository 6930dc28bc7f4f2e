package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"go.uber.org/zap"
)

const (
	restPath     = "/rest/v1/contacts"
	realtimePath = "/realtime/v1/contacts"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4096
)

// Config holds client configuration
type Config struct {
	// BaseURL of the backend, e.g. "https://xyz.example.co" (required)
	BaseURL string

	// APIKey is the public project key sent with every request (required)
	APIKey string

	// HTTPClient used for REST calls and the websocket handshake
	// (default: a client with a 30s timeout)
	HTTPClient *http.Client

	// Logger for request tracing (default: no-op)
	Logger *zap.Logger
}

// Client talks to the remote contacts table on behalf of one session.
// It is safe for concurrent use.
type Client struct {
	base    *url.URL
	apiKey  string
	session Session
	http    *http.Client
	logger  *zap.Logger
}

var _ Store = (*Client)(nil)

// NewClient creates a client scoped to session.
func NewClient(cfg Config, session Session) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("remote API key is required")
	}
	if !session.Valid() {
		return nil, fmt.Errorf("session requires user id, organization id and access token")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote base URL must be http or https (got %q)", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		session: session,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// Session returns the session the client acts for.
func (c *Client) Session() Session {
	return c.session
}

// FetchAll returns every contact row of the organization, most recently
// updated first.
func (c *Client) FetchAll(ctx context.Context) ([]contact.Row, error) {
	q := url.Values{}
	q.Set("organization_id", c.session.OrganizationID)
	q.Set("order", "updated_at.desc")

	var rows []contact.Row
	if err := c.do(ctx, "fetch contacts", http.MethodGet, restPath, q, nil, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []contact.Row{}
	}
	return rows, nil
}

// Upsert inserts or updates a row and returns the canonical persisted row.
func (c *Client) Upsert(ctx context.Context, row contact.Row, isUpdate bool) (contact.Row, error) {
	row.OrganizationID = c.session.OrganizationID

	var out contact.Row
	if isUpdate {
		if row.ID == "" {
			return contact.Row{}, fmt.Errorf("update requires a row id")
		}
		path := restPath + "/" + url.PathEscape(row.ID)
		if err := c.do(ctx, "update contact "+row.ID, http.MethodPatch, path, nil, row, &out); err != nil {
			return contact.Row{}, err
		}
		return out, nil
	}

	if err := c.do(ctx, "insert contact", http.MethodPost, restPath, nil, row, &out); err != nil {
		return contact.Row{}, err
	}
	return out, nil
}

// Delete removes a row by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("delete requires a row id")
	}
	q := url.Values{}
	q.Set("organization_id", c.session.OrganizationID)
	return c.do(ctx, "delete contact "+id, http.MethodDelete, restPath+"/"+url.PathEscape(id), q, nil, nil)
}

// Ping reads at most one id from the table.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("organization_id", c.session.OrganizationID)
	q.Set("select", "id")
	q.Set("limit", "1")

	var rows []json.RawMessage
	return c.do(ctx, "ping", http.MethodGet, restPath, q, nil, &rows)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("apikey", c.apiKey)
	h.Set("Authorization", "Bearer "+c.session.AccessToken)
	return h
}

// do performs one REST call. A nil in skips the body; a nil out discards the
// response.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header = c.headers()
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to %s: %w", op, err)
		}
		return fmt.Errorf("failed to %s: %w: %w", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		zap.String("op", op),
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(raw)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
