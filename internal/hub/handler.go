package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/remote"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a single row payload.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Message: msg})
}

func decodeRow(w http.ResponseWriter, r *http.Request) (contact.Row, bool) {
	var row contact.Row
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid row: "+err.Error())
		return contact.Row{}, false
	}
	row.PlantName = strings.TrimSpace(row.PlantName)
	if row.PlantName == "" {
		writeError(w, http.StatusBadRequest, "plant_name is required")
		return contact.Row{}, false
	}
	if row.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return contact.Row{}, false
	}
	if row.Status != "" && !row.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status "+strconv.Quote(string(row.Status)))
		return contact.Row{}, false
	}
	return row, true
}

// handleList serves GET /rest/v1/contacts.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orgID := q.Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	if order := q.Get("order"); order != "" && order != "updated_at.desc" {
		writeError(w, http.StatusBadRequest, "unsupported order "+strconv.Quote(order))
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := s.store.List(r.Context(), orgID, limit)
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}

	if q.Get("select") == "id" {
		ids := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, map[string]string{"id": row.ID})
		}
		writeJSON(w, http.StatusOK, ids)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleInsert serves POST /rest/v1/contacts.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	row, ok := decodeRow(w, r)
	if !ok {
		return
	}

	saved, err := s.store.Insert(r.Context(), row, userFrom(r.Context()))
	if errors.Is(err, ErrConflict) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("insert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to insert contact")
		return
	}

	s.logger.Debug("contact inserted", zap.String("id", saved.ID), zap.String("organization", saved.OrganizationID))
	s.publish(saved.OrganizationID, remote.Change{
		Kind:            remote.ChangeInsert,
		Record:          saved,
		CommitTimestamp: commitTime(saved),
	})
	writeJSON(w, http.StatusCreated, saved)
}

// handleUpdate serves PATCH /rest/v1/contacts/{id}.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	row, ok := decodeRow(w, r)
	if !ok {
		return
	}
	row.ID = mux.Vars(r)["id"]

	old, saved, err := s.store.Update(r.Context(), row, userFrom(r.Context()))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update contact")
		return
	}

	s.logger.Debug("contact updated", zap.String("id", saved.ID))
	s.publish(saved.OrganizationID, remote.Change{
		Kind:            remote.ChangeUpdate,
		Record:          saved,
		OldRecord:       old,
		CommitTimestamp: commitTime(saved),
	})
	writeJSON(w, http.StatusOK, saved)
}

// handleDelete serves DELETE /rest/v1/contacts/{id}. Deleting a missing row
// succeeds.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	id := mux.Vars(r)["id"]

	old, deleted, err := s.store.Delete(r.Context(), orgID, id)
	if err != nil {
		s.logger.Error("delete failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete contact")
		return
	}

	if deleted {
		s.logger.Debug("contact deleted", zap.String("id", id))
		s.publish(orgID, remote.Change{
			Kind:            remote.ChangeDelete,
			OldRecord:       old,
			CommitTimestamp: time.Now().UTC(),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func commitTime(r contact.Row) time.Time {
	if r.UpdatedAt != nil {
		return *r.UpdatedAt
	}
	return time.Now().UTC()
}
