package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coriolis-labs/agentrun/internal/apierr"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
)

type createRunRequest struct {
	Goal           string            `json:"goal"`
	AgentProfileID string            `json:"agent_profile_id"`
	Context        map[string]string `json:"context"`
	StreamTokens   bool              `json:"stream_tokens"`
}

// maxGoalLength mirrors the original task-description cap: 10KB of text is
// already far more than any reasonable goal statement needs.
const maxGoalLength = 10000

type createRunResponse struct {
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	Goal           string `json:"goal"`
	AgentProfileID string `json:"agent_profile_id"`
	CreatedAt      string `json:"created_at"`
	Message        string `json:"message"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid request body: %v", err))
		return
	}
	if req.Goal == "" {
		writeError(w, apierr.Validation("goal is required"))
		return
	}
	if len(req.Goal) > maxGoalLength {
		writeError(w, apierr.Validation("goal exceeds maximum length of %d characters", maxGoalLength))
		return
	}
	profile, ok := s.profiles.Snapshot().Profiles[req.AgentProfileID]
	if !ok || !profile.Enabled {
		writeError(w, apierr.Validation("agent profile %q is not in the enabled set", req.AgentProfileID))
		return
	}

	run, err := s.store.CreateRun(r.Context(), req.Goal, req.AgentProfileID, req.Context, req.StreamTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RunStarted(run.AgentProfileID)
	}

	s.dispatch(run.RunID, run.AgentProfileID)

	writeJSON(w, http.StatusCreated, createRunResponse{
		RunID:          run.RunID,
		Status:         string(run.Status),
		Goal:           run.Goal,
		AgentProfileID: run.AgentProfileID,
		CreatedAt:      run.CreatedAt.Format(timeFormat),
		Message:        "run created",
	})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	status := runmodel.Status(r.URL.Query().Get("status"))

	runs, err := s.store.ListRuns(r.Context(), limit, offset, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
		"count":  len(runs),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRunByID(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRunByID(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run.Status.Terminal() {
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":  run.RunID,
			"status":  run.Status,
			"message": "run already in a terminal state",
		})
		return
	}

	cancelled := runmodel.StatusCancelled
	updated, err := s.store.UpdateRun(r.Context(), runID, runmodel.UpdateFields{Status: &cancelled})
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.AppendRunEvent(r.Context(), runID, runmodel.EventStatus, map[string]string{"status": string(cancelled)}); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RunCompleted(updated.AgentProfileID, string(cancelled))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  updated.RunID,
		"status":  updated.Status,
		"message": "cancellation requested",
	})
}

type approveRunRequest struct {
	Approved          bool           `json:"approved"`
	ModifiedArguments map[string]any `json:"modified_arguments,omitempty"`
}

func (s *Server) handleApproveRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var req approveRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Validation("invalid request body: %v", err))
			return
		}
	}
	if !req.Approved {
		writeError(w, apierr.Validation("approved must be true; use /runs/%s/reject to decline", runID))
		return
	}

	run, err := s.gate.Approve(r.Context(), runID, req.ModifiedArguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  run.RunID,
		"status":  run.Status,
		"message": "tool call approved",
	})
}

func (s *Server) handleRejectRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	run, err := s.gate.Reject(r.Context(), runID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RunCompleted(run.AgentProfileID, string(run.Status))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  run.RunID,
		"status":  run.Status,
		"message": "tool call rejected",
	})
}

func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := s.store.GetRunByID(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SubscriberConnected()
		defer s.metrics.SubscriberDisconnected()
	}
	s.streamer.ServeRun(w, r, runID)
}
