package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/go-chi/chi/v5"
)

// ApplyNetwork converges a network slot toward the requested interface.
func (s *ApiService) ApplyNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "slot must be numeric"})
		return
	}

	var want ctconfig.NetworkInterface
	if err := json.NewDecoder(r.Body).Decode(&want); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed interface body: " + err.Error()})
		return
	}

	if err := s.Reconciler.Apply(r.Context(), id, slot, &want); err != nil {
		writeDomainError(w, r, err)
		return
	}

	cfg, err := s.Store.Load(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Interfaces[slot])
}

// RemoveNetwork tears down and forgets a network slot.
func (s *ApiService) RemoveNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "slot must be numeric"})
		return
	}

	if err := s.Reconciler.Apply(r.Context(), id, slot, nil); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
