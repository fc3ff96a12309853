package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/22f2001388/llm-analysis-quiz/internal/events"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

var heartbeatInterval = 15 * time.Second

// streamEvents replays the broker's retained history for a run and then
// follows live events until the run completes or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	afterSeq := parseAfterSeq(runID, r)
	// Subscribe before reading history so nothing published in between is lost.
	eventsChan := s.broker.Subscribe(ctx, runID)
	history := s.broker.History(runID, 0)
	var finished *store.Run
	if len(history) == 0 {
		run, err := s.store.GetRun(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if err == nil && (run.Status == store.RunStatusCompleted || run.Status == store.RunStatusErrored) {
			finished = run
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The broker no longer holds this run's events; close with its stored outcome.
	if finished != nil {
		sendSSE(w, completedEvent(finished))
		flusher.Flush()
		return
	}

	lastSeq := afterSeq
	for _, event := range history {
		if event.Seq <= lastSeq {
			continue
		}
		sendSSE(w, event)
		flusher.Flush()
		lastSeq = event.Seq
		if event.Terminal() {
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			sendSSE(w, event)
			flusher.Flush()
			lastSeq = event.Seq
			if event.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// completedEvent rebuilds the terminal event of a run from its stored row.
func completedEvent(run *store.Run) events.RunEvent {
	payload := map[string]any{
		"status":  run.FinalStatus,
		"steps":   run.Steps,
		"totalMs": run.DurationMs,
	}
	if run.Status == store.RunStatusErrored {
		payload["status"] = store.RunStatusErrored
		payload["error"] = run.Error
	}
	ts := run.CompletedAt
	if ts == "" {
		ts = run.UpdatedAt
	}
	return events.RunEvent{RunID: run.ID, Seq: 1, Type: events.TypeRunCompleted, Ts: ts, Source: "store", Payload: payload}
}

func sendSSE(w http.ResponseWriter, event events.RunEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.RunID, event.Seq)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// parseAfterSeq reads the resume point from ?after_seq or a Last-Event-ID of
// the form "<run id>:<seq>".
func parseAfterSeq(runID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	parts := strings.Split(lastEventID, ":")
	if len(parts) != 2 {
		return 0
	}
	if parts[0] != runID {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
