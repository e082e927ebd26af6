package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coriolis-labs/agentrun/internal/apierr"
	"github.com/coriolis-labs/agentrun/internal/auth"
)

// alertmanagerPayload is the subset of the Alertmanager v4 webhook shape
// this intake reads. Fields it doesn't use are decoded and discarded along
// with the rest of the JSON object.
type alertmanagerPayload struct {
	Version string         `json:"version"`
	Status  string         `json:"status"`
	Alerts  []alertPayload `json:"alerts"`
}

type alertPayload struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Validation("read body: %v", err))
		return
	}

	if s.settings != nil && s.settings.WebhookRequireAuth && s.settings.WebhookSecret != "" {
		if !auth.VerifyWebhookSignature(s.settings.WebhookSecret, body, r.Header.Get("X-Webhook-Token")) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   apierr.CodeUnauthorized,
				"message": "invalid or missing X-Webhook-Token",
			})
			return
		}
	}

	var payload alertmanagerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, apierr.Validation("invalid alertmanager payload: %v", err))
		return
	}

	ttl := 300 * time.Second
	maxConcurrent := 5
	if s.settings != nil {
		ttl = s.settings.WebhookDedupTTL()
		maxConcurrent = s.settings.WebhookMaxConcurrent()
	}

	now := time.Now()
	started := 0
	suppressed := 0
	results := make([]alertResult, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		if alert.Status != "firing" {
			continue
		}
		fingerprint := alertFingerprint(alert.Labels)
		if s.webhook.seenRecently(fingerprint, ttl, now) {
			suppressed++
			if s.metrics != nil {
				s.metrics.WebhookDuplicateSuppressed()
			}
			results = append(results, alertResult{OK: true, Deduplicated: true})
			continue
		}

		running, err := s.store.CountRunningRuns(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if running >= maxConcurrent {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":   apierr.CodeRateLimited,
				"message": "too many concurrently running webhook-triggered runs",
			})
			return
		}

		goal := alertGoal(alert)
		profileID := alert.Labels["agent_profile_id"]
		run, err := s.store.CreateRun(r.Context(), goal, profileID, alert.Labels, false)
		if err != nil {
			writeError(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.WebhookRunStarted()
			s.metrics.RunStarted(run.AgentProfileID)
		}
		s.dispatch(run.RunID, run.AgentProfileID)
		started++
		results = append(results, alertResult{OK: true, RunID: run.RunID})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"runs_started":          started,
		"duplicates_suppressed": suppressed,
		"alerts":                results,
	})
}

// alertResult mirrors the per-alert {ok, run_id} / {ok, deduplicated:true}
// shape for a single alert within the batch ack.
type alertResult struct {
	OK           bool   `json:"ok"`
	RunID        string `json:"run_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// alertFingerprint hashes an alert's sorted label pairs so the same alert
// firing repeatedly produces the same fingerprint regardless of label order.
func alertFingerprint(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func alertGoal(alert alertPayload) string {
	if summary := alert.Annotations["summary"]; summary != "" {
		return summary
	}
	if name := alert.Labels["alertname"]; name != "" {
		return "Investigate alert: " + name
	}
	return "Investigate firing alert"
}
