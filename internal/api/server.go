package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/22f2001388/llm-analysis-quiz/internal/browser"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/events"
	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
	"github.com/22f2001388/llm-analysis-quiz/internal/telemetry"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

const (
	requestIDHeader = "x-request-id"
	maxBodyBytes    = 64 << 10
)

type Server struct {
	store       store.Store
	broker      Broker
	dispatcher  workflows.Dispatcher
	cfg         config.Config
	credentials credentials
	pool        PoolStatus
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	now         func() time.Time
	started     time.Time
	newID       func() string
}

type Broker interface {
	Subscribe(ctx context.Context, runID string) <-chan events.RunEvent
	History(runID string, afterSeq int64) []events.RunEvent
}

// PoolStatus is the read-only view of the browser pool used by /ready.
type PoolStatus interface {
	State() browser.State
	Leases() int
}

// QueueStatus is implemented by dispatchers with a local queue.
type QueueStatus interface {
	Pending() int
}

type Option func(*Server)

func WithPool(pool PoolStatus) Option {
	return func(s *Server) { s.pool = pool }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.OrDefault(logger) }
}

func NewServer(st store.Store, broker Broker, dispatcher workflows.Dispatcher, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		store:       st,
		broker:      broker,
		dispatcher:  dispatcher,
		cfg:         cfg,
		credentials: newCredentials(cfg.QuizEmail, cfg.QuizSecret),
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics(s.now())
	}
	s.started = s.now()
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/solve", s.solve)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.getRun)
	r.Get("/runs/{id}/events", s.streamEvents)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

type requestIDKey struct{}

// requestID echoes the caller's x-request-id or assigns a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	return method == http.MethodOptions
}

type healthResponse struct {
	Status  string                   `json:"status"`
	Service string                   `json:"service"`
	Uptime  float64                  `json:"uptime"`
	Metrics telemetry.Snapshot       `json:"metrics"`
	Memory  telemetry.MemorySnapshot `json:"memory"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSONStatus(w, healthResponse{
		Status:  "ok",
		Service: "quizchain",
		Uptime:  now.Sub(s.started).Seconds(),
		Metrics: s.metrics.Snapshot(now),
		Memory:  telemetry.ReadMemory(),
	}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	State  string `json:"state,omitempty"`
	Leases *int   `json:"leases,omitempty"`
	Queued *int   `json:"queued,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.pool == nil {
		subsystems["browser"] = subsystemStatus{Status: "skipped"}
	} else {
		leases := s.pool.Leases()
		// The engine launches lazily, so an absent engine is still ready.
		subsystems["browser"] = subsystemStatus{Status: "ok", State: s.pool.State().String(), Leases: &leases}
	}

	if s.dispatcher == nil {
		subsystems["dispatcher"] = subsystemStatus{Status: "error", Error: "no dispatcher configured"}
		overall = http.StatusServiceUnavailable
	} else if queue, ok := s.dispatcher.(QueueStatus); ok {
		queued := queue.Pending()
		subsystems["dispatcher"] = subsystemStatus{Status: "ok", Queued: &queued}
	} else {
		subsystems["dispatcher"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

// writeFault renders a fault. Auth and unexpected faults get a generic
// message so the body never reveals which check failed.
func writeFault(w http.ResponseWriter, r *http.Request, fault *faults.Fault) {
	status := faults.HTTPStatus(fault.Code)
	message := fault.Message
	if fault.Code == faults.CodeUnexpected || fault.Code == faults.CodeAuth {
		message = http.StatusText(status)
	}
	writeJSONStatus(w, errorResponse{Error: message, Code: string(fault.Code), RequestID: requestIDFrom(r.Context())}, status)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, X-Request-Id")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("http server listening", "addr", addr)
	return server.ListenAndServe()
}
