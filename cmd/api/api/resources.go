package api

import (
	"encoding/json"
	"net/http"

	"github.com/cradlehost/cradle/lib/cgroup"
	"github.com/go-chi/chi/v5"
)

type usageResponse struct {
	Memory   cgroup.MemoryUsage   `json:"memory"`
	CPU      cgroup.CPUStat       `json:"cpu"`
	IO       cgroup.IOStat        `json:"io"`
	Pressure cgroup.PressureStall `json:"pressure"`
	CPUSet   string               `json:"cpuset"`
}

// GetUsage reads current resource consumption. An inactive container
// reports all zeros.
func (s *ApiService) GetUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.Store.Load(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}

	mem, err := s.CGroups.MemoryUsage(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	cpu, err := s.CGroups.CPUStat(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	io, err := s.CGroups.IOStat(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	pressure, err := s.CGroups.PressureStall(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	cpuset, err := s.CGroups.EffectiveCPUs(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{
		Memory:   mem,
		CPU:      cpu,
		IO:       io,
		Pressure: pressure,
		CPUSet:   cpuset,
	})
}

type limitsRequest struct {
	MemoryBytes *int64  `json:"memory_bytes,omitempty"`
	SwapBytes   *int64  `json:"swap_bytes,omitempty"`
	CPUQuota    *int64  `json:"cpu_quota_usec,omitempty"`
	CPUPeriod   uint64  `json:"cpu_period_usec,omitempty"`
	CPUWeight   *uint64 `json:"cpu_weight,omitempty"`
}

// SetLimits adjusts live resource ceilings. Fields left out of the body are
// untouched. Memory and swap travel together: the legacy hierarchy's write
// ordering needs both values.
func (s *ApiService) SetLimits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req limitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed limits body: " + err.Error()})
		return
	}
	if (req.MemoryBytes == nil) != (req.SwapBytes == nil) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "memory_bytes and swap_bytes must be set together"})
		return
	}

	if _, err := s.Store.Load(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if req.MemoryBytes != nil {
		if err := s.CGroups.SetMemoryLimit(r.Context(), id, *req.MemoryBytes, *req.SwapBytes); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	if req.CPUQuota != nil {
		if err := s.CGroups.SetCPUQuota(r.Context(), id, *req.CPUQuota, req.CPUPeriod); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	if req.CPUWeight != nil {
		if err := s.CGroups.SetCPUWeight(r.Context(), id, *req.CPUWeight); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusNoContent, nil)
}
