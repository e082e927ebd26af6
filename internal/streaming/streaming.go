// Package streaming converts a run's event log into a server-sent-events
// stream: a short poll loop that tails new events and closes the
// connection once the run reaches a terminal status.
package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/runstore"
)

// PollInterval bounds how long the streamer waits between checks of the
// event log. 500ms keeps a subscriber's view close to real time without
// hammering the store.
const PollInterval = 500 * time.Millisecond

// EventsLimit caps how many rows are fetched per poll.
const EventsLimit = 200

// Streamer serves a run's event log as text/event-stream.
type Streamer struct {
	store  runstore.Store
	logger *slog.Logger
}

// New constructs a Streamer backed by store.
func New(store runstore.Store, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{store: store, logger: logger.With("component", "streaming")}
}

// ServeRun writes the server-sent-events stream for runID to w until the
// run reaches a terminal status, the client disconnects, or r's context is
// cancelled. The caller has already confirmed the run exists.
func (s *Streamer) ServeRun(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	var lastEventID int64

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		events, err := s.store.GetRunEvents(ctx, runID, lastEventID, EventsLimit)
		if err != nil {
			s.logger.Error("stream: fetch events failed", "run_id", runID, "error", err)
			return
		}
		for _, event := range events {
			if !writeEvent(w, string(event.EventType), event.Payload) {
				return
			}
			lastEventID = event.EventID
		}
		if len(events) > 0 {
			flusher.Flush()
		}

		run, err := s.store.GetRunByID(ctx, runID)
		if err != nil {
			s.logger.Error("stream: fetch run failed", "run_id", runID, "error", err)
			return
		}
		if run.Status.Terminal() {
			writeEvent(w, string(runmodel.EventEnd), map[string]string{"status": string(run.Status)})
			flusher.Flush()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeEvent(w http.ResponseWriter, eventType string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return false
	}
	return true
}
