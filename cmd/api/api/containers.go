package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/snapshot"
	"github.com/go-chi/chi/v5"
)

const stopTimeout = 60 * time.Second

// CreateContainer persists a new container config.
func (s *ApiService) CreateContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg ctconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed config body: " + err.Error()})
		return
	}

	if err := s.Store.Create(r.Context(), id, &cfg); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &cfg)
}

// GetContainer returns the persisted config, including its digest.
func (s *ApiService) GetContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := s.Store.Load(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateContainer replaces the live options of an existing container.
// Snapshot history, the parent pointer, and the lock token are never taken
// from the request body.
func (s *ApiService) UpdateContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body ctconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed config body: " + err.Error()})
		return
	}

	err := s.Store.WithLock(r.Context(), id, func(ctx context.Context) error {
		cur, err := s.Store.Load(ctx, id)
		if err != nil {
			return err
		}
		if cur.Lock != ctconfig.LockNone {
			return fmt.Errorf("%w: token %q is set on container %s", snapshot.ErrLocked, cur.Lock, id)
		}

		body.Snapshots = cur.Snapshots
		body.Parent = cur.Parent
		body.Lock = cur.Lock
		return s.Store.Write(ctx, id, &body)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &body)
}

// DestroyContainer removes all persisted state, irreversibly.
func (s *ApiService) DestroyContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.Store.WithLock(r.Context(), id, func(ctx context.Context) error {
		return s.Store.Destroy(ctx, id)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// StartContainer starts the container process.
func (s *ApiService) StartContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.Store.Load(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.Runtime.Start(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// StopContainer gracefully stops the container process.
func (s *ApiService) StopContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.Store.Load(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.Runtime.Stop(r.Context(), id, stopTimeout); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
