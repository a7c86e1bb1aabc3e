package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type createSnapshotRequest struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// CreateSnapshot takes a new snapshot of the container.
func (s *ApiService) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req createSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed snapshot body: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "snapshot name is required"})
		return
	}

	if err := s.Snapshots.Create(r.Context(), id, req.Name, req.Comment); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// DeleteSnapshot removes a snapshot. force=true proceeds past a set lock
// token and a failing volume delete.
func (s *ApiService) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := s.Snapshots.Delete(r.Context(), id, name, force); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// RollbackSnapshot reverts the container to a committed snapshot.
func (s *ApiService) RollbackSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	if err := s.Snapshots.Rollback(r.Context(), id, name); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
