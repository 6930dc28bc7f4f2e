package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "anon-key"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// steppedClock returns strictly increasing times one second apart.
func steppedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestStore_InsertListOrder(t *testing.T) {
	s := openTestStore(t)
	s.now = steppedClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a, err := s.Insert(ctx, contact.Row{PlantName: "AZZ", OrganizationID: "org-1"}, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "u1", a.CreatedBy)
	assert.Equal(t, "u1", a.UpdatedBy)
	assert.Equal(t, contact.StatusInactive, a.Status)
	require.NotNil(t, a.CreatedAt)

	b, err := s.Insert(ctx, contact.Row{PlantName: "Valmont", OrganizationID: "org-1", NextContact: contact.MustDate("2025-09-01")}, "u2")
	require.NoError(t, err)
	_, err = s.Insert(ctx, contact.Row{PlantName: "Other org", OrganizationID: "org-2"}, "u3")
	require.NoError(t, err)

	rows, err := s.List(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].ID, "most recently updated first")
	assert.Equal(t, "2025-09-01", rows[0].NextContact.String())
	assert.Equal(t, a.ID, rows[1].ID)

	// Updating the older row moves it to the front.
	_, _, err = s.Update(ctx, contact.Row{ID: a.ID, PlantName: "AZZ Galvanizing", OrganizationID: "org-1"}, "u2")
	require.NoError(t, err)
	rows, err = s.List(ctx, "org-1", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a.ID, rows[0].ID)
	assert.Equal(t, "AZZ Galvanizing", rows[0].PlantName)
	assert.Equal(t, "u1", rows[0].CreatedBy)
	assert.Equal(t, "u2", rows[0].UpdatedBy)

	n, err := s.Count(ctx, "org-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_InsertIgnoresClientAuthor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Insert(ctx, contact.Row{PlantName: "AZZ", OrganizationID: "org-1", CreatedBy: "someone-else", UpdatedBy: "someone-else"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", r.CreatedBy)
	assert.Equal(t, "u1", r.UpdatedBy)

	rows, err := s.List(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].CreatedBy)
}

func TestStore_InsertConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, contact.Row{ID: "fixed", PlantName: "AZZ", OrganizationID: "org-1"}, "u1")
	require.NoError(t, err)
	_, err = s.Insert(ctx, contact.Row{ID: "fixed", PlantName: "AZZ", OrganizationID: "org-1"}, "u1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_UpdateMissing(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Update(context.Background(), contact.Row{ID: "nope", PlantName: "x", OrganizationID: "org-1"}, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateScopedToOrganization(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Insert(ctx, contact.Row{PlantName: "AZZ", OrganizationID: "org-1"}, "u1")
	require.NoError(t, err)

	_, _, err = s.Update(ctx, contact.Row{ID: r.ID, PlantName: "hijack", OrganizationID: "org-2"}, "u9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Insert(ctx, contact.Row{PlantName: "AZZ", OrganizationID: "org-1"}, "u1")
	require.NoError(t, err)

	old, deleted, err := s.Delete(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "AZZ", old.PlantName)

	_, deleted, err = s.Delete(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(&Config{APIKey: testAPIKey}, openTestStore(t))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop()
	})
	return srv, ts
}

func request(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("apikey", testAPIKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_Auth(t *testing.T) {
	_, ts := newTestServer(t)

	resp := request(t, http.MethodGet, ts.URL+"/rest/v1/contacts?organization_id=org-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/rest/v1/contacts?organization_id=org-1", nil)
	require.NoError(t, err)
	req.Header.Set("apikey", "wrong")
	req.Header.Set("Authorization", "Bearer u1")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_TokenMap(t *testing.T) {
	srv, err := NewServer(&Config{
		APIKey: testAPIKey,
		Tokens: map[string]string{"tok-u1": "u1", "tok-u2": "u2"},
	}, openTestStore(t))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop()
	})
	base := ts.URL + "/rest/v1/contacts"

	resp := request(t, http.MethodPost, base, "tok-u1", contact.Row{PlantName: "Valmont", OrganizationID: "org-1", CreatedBy: "u9"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created contact.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "u1", created.CreatedBy)
	assert.Equal(t, "u1", created.UpdatedBy)

	resp = request(t, http.MethodPatch, base+"/"+created.ID, "tok-u2", contact.Row{PlantName: "Valmont Coatings", OrganizationID: "org-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated contact.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, "u2", updated.UpdatedBy)
	assert.Equal(t, "u1", updated.CreatedBy)

	resp = request(t, http.MethodGet, base+"?organization_id=org-1", "u1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "bare user id is not a token")
	resp = request(t, http.MethodGet, base+"?organization_id=org-1", "tok-u3", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_CRUD(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/rest/v1/contacts"

	resp := request(t, http.MethodPost, base, "u1", contact.Row{PlantName: "Galvan Industries", OrganizationID: "org-1", Status: contact.StatusActive})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created contact.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.CreatedBy)

	resp = request(t, http.MethodPatch, base+"/"+created.ID, "u2", contact.Row{PlantName: "Galvan Industries Inc", OrganizationID: "org-1", Status: contact.StatusPending})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated contact.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, "u2", updated.UpdatedBy)
	assert.Equal(t, "u1", updated.CreatedBy)

	resp = request(t, http.MethodGet, base+"?organization_id=org-1&order=updated_at.desc", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []contact.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Galvan Industries Inc", rows[0].PlantName)

	resp = request(t, http.MethodPatch, base+"/missing", "u2", contact.Row{PlantName: "x", OrganizationID: "org-1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = request(t, http.MethodDelete, base+"/"+created.ID+"?organization_id=org-1", "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = request(t, http.MethodDelete, base+"/"+created.ID+"?organization_id=org-1", "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_Validation(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/rest/v1/contacts"

	resp := request(t, http.MethodPost, base, "u1", contact.Row{PlantName: "  ", OrganizationID: "org-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = request(t, http.MethodPost, base, "u1", contact.Row{PlantName: "AZZ"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = request(t, http.MethodPost, base, "u1", contact.Row{PlantName: "AZZ", OrganizationID: "org-1", Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = request(t, http.MethodGet, base, "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = request(t, http.MethodGet, base+"?organization_id=org-1&limit=-1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SelectID(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/rest/v1/contacts"

	request(t, http.MethodPost, base, "u1", contact.Row{PlantName: "AZZ", OrganizationID: "org-1"})
	request(t, http.MethodPost, base, "u1", contact.Row{PlantName: "Valmont", OrganizationID: "org-1"})

	resp := request(t, http.MethodGet, base+"?organization_id=org-1&select=id&limit=1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ids []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	require.Len(t, ids, 1)
	assert.Len(t, ids[0], 1)
	assert.Contains(t, ids[0], "id")
}

func TestNewServer_RequiresKey(t *testing.T) {
	_, err := NewServer(&Config{}, openTestStore(t))
	assert.Error(t, err)

	_, err = NewServer(&Config{APIKey: "k"}, nil)
	assert.Error(t, err)
}
