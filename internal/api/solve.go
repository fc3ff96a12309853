package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

type solveRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type solveResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
	RunID     string `json:"runId"`
}

// credentials holds digests of the configured email and secret so that
// comparisons run over equal-length inputs.
type credentials struct {
	configured bool
	email      [32]byte
	secret     [32]byte
}

func newCredentials(email, secret string) credentials {
	return credentials{
		configured: strings.TrimSpace(email) != "" && secret != "",
		email:      sha3.Sum256([]byte(normalizeEmail(email))),
		secret:     sha3.Sum256([]byte(secret)),
	}
}

// match always compares both fields.
func (c credentials) match(email, secret string) bool {
	emailSum := sha3.Sum256([]byte(normalizeEmail(email)))
	secretSum := sha3.Sum256([]byte(secret))
	emailOK := subtle.ConstantTimeCompare(emailSum[:], c.email[:])
	secretOK := subtle.ConstantTimeCompare(secretSum[:], c.secret[:])
	return c.configured && emailOK&secretOK == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (req solveRequest) validate() *faults.Fault {
	if strings.TrimSpace(req.Email) == "" || req.Secret == "" || strings.TrimSpace(req.URL) == "" {
		return faults.New(faults.CodeInput, "email, secret and url are required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return faults.New(faults.CodeInput, "email is not a valid address")
	}
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return faults.New(faults.CodeInput, "url must be an absolute http(s) URL")
	}
	return nil
}

// solve accepts a chain run and returns before any of it executes. The
// caller never sees the run's outcome here; it is observable through
// /runs and the logs.
func (s *Server) solve(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	accepted := false
	defer func() {
		s.metrics.RecordRequest(r.Context(), s.now().Sub(started), accepted)
	}()
	requestID := requestIDFrom(r.Context())

	var req solveRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeFault(w, r, faults.New(faults.CodeInput, "request body must be a JSON object"))
		return
	}
	if fault := req.validate(); fault != nil {
		writeFault(w, r, fault)
		return
	}
	if !s.credentials.match(req.Email, req.Secret) {
		s.logger.Warn("solve rejected", "request_id", requestID, "reason", "credentials")
		writeFault(w, r, faults.New(faults.CodeAuth, "forbidden"))
		return
	}

	job := workflows.Job{
		RunID:     s.newID(),
		RequestID: requestID,
		StartURL:  strings.TrimSpace(req.URL),
		Email:     strings.TrimSpace(req.Email),
		Secret:    req.Secret,
	}
	if s.dispatcher == nil {
		writeFault(w, r, faults.New(faults.CodeUnexpected, "no dispatcher"))
		return
	}
	if err := s.dispatcher.Dispatch(r.Context(), job); err != nil {
		s.logger.Error("dispatch failed", "job", job, "error", err)
		if errors.Is(err, workflows.ErrQueueFull) || errors.Is(err, workflows.ErrExecutorClosed) {
			writeJSONStatus(w, errorResponse{Error: err.Error(), Code: "QUEUE_UNAVAILABLE", RequestID: requestID}, http.StatusServiceUnavailable)
			return
		}
		writeFault(w, r, faults.Wrap(faults.CodeUnexpected, "dispatch", err))
		return
	}

	accepted = true
	s.logger.Info("solve accepted", "job", job)
	writeJSONStatus(w, solveResponse{Status: "accepted", RequestID: requestID, RunID: job.RunID}, http.StatusOK)
}
