package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coriolis-labs/agentrun/internal/apierr"
	"github.com/coriolis-labs/agentrun/internal/approval"
	"github.com/coriolis-labs/agentrun/internal/runstore"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.StatusCode(), map[string]any{
			"error":         apiErr.Code,
			"message":       apiErr.Message,
			"recovery_hint": apiErr.RecoveryHint,
		})
		return
	}
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   apierr.CodeNotFound,
			"message": "run not found",
		})
	case errors.Is(err, approval.ErrNotAwaitingApproval):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   apierr.CodeConflict,
			"message": err.Error(),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   apierr.CodeInternal,
			"message": err.Error(),
		})
	}
}
