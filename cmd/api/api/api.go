// Package api exposes the container manager's operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cradlehost/cradle/cmd/api/config"
	"github.com/cradlehost/cradle/lib/cgroup"
	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/logger"
	"github.com/cradlehost/cradle/lib/network"
	"github.com/cradlehost/cradle/lib/runtime"
	"github.com/cradlehost/cradle/lib/snapshot"
	"github.com/cradlehost/cradle/lib/store"
	"github.com/go-chi/chi/v5"
)

// ApiService routes HTTP requests to the underlying managers.
type ApiService struct {
	Config     *config.Config
	Store      store.Store
	Snapshots  *snapshot.Engine
	Reconciler *network.Reconciler
	CGroups    *cgroup.Adapter
	Runtime    runtime.Channel
}

// New creates a new ApiService.
func New(
	cfg *config.Config,
	st store.Store,
	snapshots *snapshot.Engine,
	reconciler *network.Reconciler,
	cgroups *cgroup.Adapter,
	channel runtime.Channel,
) *ApiService {
	return &ApiService{
		Config:     cfg,
		Store:      st,
		Snapshots:  snapshots,
		Reconciler: reconciler,
		CGroups:    cgroups,
		Runtime:    channel,
	}
}

// Routes mounts every endpoint on a chi router.
func (s *ApiService) Routes(r chi.Router) {
	r.Route("/containers/{id}", func(r chi.Router) {
		r.Post("/", s.CreateContainer)
		r.Get("/", s.GetContainer)
		r.Put("/", s.UpdateContainer)
		r.Delete("/", s.DestroyContainer)

		r.Post("/start", s.StartContainer)
		r.Post("/stop", s.StopContainer)

		r.Post("/snapshots", s.CreateSnapshot)
		r.Delete("/snapshots/{name}", s.DeleteSnapshot)
		r.Post("/snapshots/{name}/rollback", s.RollbackSnapshot)

		r.Put("/network/{slot}", s.ApplyNetwork)
		r.Delete("/network/{slot}", s.RemoveNetwork)

		r.Get("/usage", s.GetUsage)
		r.Put("/limits", s.SetLimits)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v with the given status. A nil v writes no body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeDomainError maps a failure from the managers onto an HTTP status.
// Every failure already carries container id and operation context.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, snapshot.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, snapshot.ErrDuplicateName):
		status = http.StatusConflict
	case errors.Is(err, snapshot.ErrLocked) || errors.Is(err, snapshot.ErrInconsistent):
		status = http.StatusConflict
	case errors.Is(err, store.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	case errors.Is(err, snapshot.ErrUnsupported) || errors.Is(err, network.ErrUnsupportedType):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, cgroup.ErrNotRunning) || errors.Is(err, network.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, ctconfig.ErrUnknownKey),
		errors.Is(err, ctconfig.ErrInvalidValue),
		errors.Is(err, ctconfig.ErrDuplicateKey),
		errors.Is(err, ctconfig.ErrDuplicateName),
		errors.Is(err, ctconfig.ErrInconsistent),
		errors.Is(err, cgroup.ErrInvalidWeight):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log := logger.FromContext(r.Context())
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
