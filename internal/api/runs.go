package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

type runResponse struct {
	ID          string         `json:"id"`
	StartURL    string         `json:"start_url"`
	Status      string         `json:"status"`
	FinalStatus string         `json:"final_status,omitempty"`
	Steps       int            `json:"steps"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt string         `json:"completed_at,omitempty"`
	Items       []stepResponse `json:"items,omitempty"`
}

type stepResponse struct {
	Index          int                `json:"index"`
	URL            string             `json:"url"`
	URLFingerprint string             `json:"url_fingerprint"`
	Outcome        string             `json:"outcome"`
	NextURL        string             `json:"next_url,omitempty"`
	Answer         any                `json:"answer,omitempty"`
	Correct        *bool              `json:"correct,omitempty"`
	Retries        int                `json:"retries"`
	Reason         string             `json:"reason,omitempty"`
	Code           string             `json:"code,omitempty"`
	Error          string             `json:"error,omitempty"`
	Timings        []store.StepTiming `json:"timings"`
	StartedAt      string             `json:"started_at,omitempty"`
	DurationMs     int64              `json:"duration_ms"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

func toRunResponse(run store.Run) runResponse {
	return runResponse{
		ID:          run.ID,
		StartURL:    run.StartURL,
		Status:      run.Status,
		FinalStatus: run.FinalStatus,
		Steps:       run.Steps,
		Error:       run.Error,
		DurationMs:  run.DurationMs,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		CompletedAt: run.CompletedAt,
	}
}

func toStepResponse(step store.StepRecord) stepResponse {
	timings := step.Timings
	if timings == nil {
		timings = []store.StepTiming{}
	}
	return stepResponse{
		Index:          step.Index,
		URL:            step.URL,
		URLFingerprint: step.URLFingerprint,
		Outcome:        step.Outcome,
		NextURL:        step.NextURL,
		Answer:         step.Answer,
		Correct:        step.Correct,
		Retries:        step.Retries,
		Reason:         step.Reason,
		Code:           step.Code,
		Error:          step.Error,
		Timings:        timings,
		StartedAt:      step.StartedAt,
		DurationMs:     step.DurationMs,
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeFault(w, r, faults.New(faults.CodeInput, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeFault(w, r, faults.Wrap(faults.CodeUnexpected, "list runs", err))
		return
	}
	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}
	writeJSONStatus(w, response, http.StatusOK)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "id"))
	if runID == "" {
		writeFault(w, r, faults.New(faults.CodeInput, "run id required"))
		return
	}
	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONStatus(w, errorResponse{Error: "run not found", Code: "NOT_FOUND", RequestID: requestIDFrom(r.Context())}, http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", runID, "error", err)
		writeFault(w, r, faults.Wrap(faults.CodeUnexpected, "get run", err))
		return
	}
	steps, err := s.store.ListSteps(r.Context(), runID)
	if err != nil {
		s.logger.Error("list steps failed", "run_id", runID, "error", err)
		writeFault(w, r, faults.Wrap(faults.CodeUnexpected, "list steps", err))
		return
	}
	response := toRunResponse(*run)
	response.Items = make([]stepResponse, 0, len(steps))
	for _, step := range steps {
		response.Items = append(response.Items, toStepResponse(step))
	}
	writeJSONStatus(w, response, http.StatusOK)
}
