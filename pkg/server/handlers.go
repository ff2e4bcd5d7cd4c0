package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gitforge/pkg/cluster"
	"gitforge/pkg/lifecycle"
	"gitforge/storage"
)

// maxBodyBytes caps request bodies on the setup and join endpoints.
const maxBodyBytes = 64 << 10

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Ready bool             `json:"ready"`
	Phase string           `json:"phase"`
	Stage *lifecycle.Stage `json:"stage,omitempty"`
}

// StepRequest is the body of POST /api/setup/{step}.
type StepRequest struct {
	Value string `json:"value"`
}

// StepResponse reports how many setup steps are still pending.
type StepResponse struct {
	Remaining int `json:"remaining"`
}

// JoinRequest is the body of POST /api/cluster/join.
type JoinRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"phase":  s.deps.Lifecycle.Phase().String(),
	})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Lifecycle.IsReady() {
		writeError(w, http.StatusServiceUnavailable, "server is not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	stage, _ := s.deps.Lifecycle.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Ready: s.deps.Lifecycle.IsReady(),
		Phase: s.deps.Lifecycle.Phase().String(),
		Stage: stage,
	})
}

// completeStep records one manual setup step. Completing the last step
// releases the lifecycle machine from its setup wait.
func (s *Server) completeStep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Setup == nil || s.deps.Lifecycle.Phase() != lifecycle.PhaseAwaitingSetup {
		writeError(w, http.StatusConflict, "server is not awaiting setup")
		return
	}

	var req StepRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	step := chi.URLParam(r, "step")
	remaining, err := s.deps.Setup.CompleteStep(r.Context(), step, req.Value)
	switch {
	case errors.Is(err, storage.ErrUnknownStep):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, storage.ErrInvalidStepValue):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("setup step failed", "step", step, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record setup step")
		return
	}

	s.logger.Info("setup step completed", "step", step, "remaining", remaining)
	if remaining == 0 {
		s.deps.Lifecycle.Release()
	}
	writeJSON(w, http.StatusOK, StepResponse{Remaining: remaining})
}

func (s *Server) clusterNodes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cluster == nil {
		writeError(w, http.StatusServiceUnavailable, cluster.ErrNotRunning.Error())
		return
	}
	nodes, err := s.deps.Cluster.Nodes()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cluster.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) clusterJoin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cluster == nil || !s.deps.Lifecycle.IsReady() {
		writeError(w, http.StatusServiceUnavailable, "server is not ready")
		return
	}

	var req JoinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "id and address are required")
		return
	}

	if err := s.deps.Cluster.Join(req.ID, req.Address); err != nil {
		s.logger.Warn("cluster join failed", "node_id", req.ID, "address", req.Address, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, cluster.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("node joined cluster", "node_id", req.ID, "address", req.Address)
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
