// Package gateway is the HTTP surface of the engine: a JSON search
// endpoint, overflow artifact read-back, an insights endpoint, a
// WebSocket variant that streams matches as they arrive, plus health
// and Prometheus metrics. The gateway holds no search state of its
// own; it translates between HTTP and the engine's error taxonomy.
package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elis-salobehaj/log-ai/engine"
	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/health"
	"github.com/elis-salobehaj/log-ai/metric"
	"github.com/elis-salobehaj/log-ai/search"
)

// DefaultMaxRequestSize bounds request bodies.
const DefaultMaxRequestSize = 1 << 20

// Server routes HTTP traffic into the engine.
type Server struct {
	engine  *engine.Engine
	monitor *health.Monitor
	metrics *metric.MetricsRegistry
	logger  *slog.Logger
	maxBody int64

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// WithMonitor serves aggregated component health on /healthz.
func WithMonitor(m *health.Monitor) Option {
	return func(s *Server) { s.monitor = m }
}

// WithMetricsRegistry serves the registry on /metrics.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(s *Server) { s.metrics = r }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxRequestSize overrides the request body bound.
func WithMaxRequestSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New builds a gateway over the engine.
func New(eng *engine.Engine, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, errors.WrapInvalid(errors.New("engine is required"),
			"Server", "New", "validate engine")
	}
	s := &Server{
		engine:  eng,
		logger:  slog.Default(),
		maxBody: DefaultMaxRequestSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", s.withRequestID(s.handleSearch))
	mux.HandleFunc("/api/overflow", s.withRequestID(s.handleOverflow))
	mux.HandleFunc("/api/insights", s.withRequestID(s.handleInsights))
	mux.HandleFunc("/api/search/ws", s.handleSearchWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			s.metrics.PrometheusRegistry(), promhttp.HandlerOpts{}))
	}
	return mux
}

// withRequestID tags every response for tracing, honoring an inbound
// X-Request-ID.
func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", requestID(r))
		s.requestsTotal.Add(1)
		next(w, r)
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	defer r.Body.Close()

	var req engine.SearchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOverflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	q := r.URL.Query()
	shape := search.OutputShape(q.Get("shape"))
	page, err := s.engine.ReadOverflow(r.Context(), q.Get("handle"), shape)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	defer r.Body.Close()

	var req struct {
		Service string `json:"service"`
		Content string `json:"content"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Service == "" {
		s.writeError(w, http.StatusBadRequest, "service is required", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"insights": s.engine.Insights(r.Context(), req.Service, req.Content),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.writeJSON(w, http.StatusOK, health.NewHealthy("gateway", "no monitor attached"))
		return
	}
	agg := s.monitor.Aggregate("log-ai")
	status := http.StatusOK
	if agg.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, agg)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body", nil)
		return false
	}
	if int64(len(body)) > s.maxBody {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", s.maxBody), nil)
		return false
	}
	if err := json.Unmarshal(body, into); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON request", nil)
		return false
	}
	return true
}

// writeEngineError maps the engine's error taxonomy onto status codes:
// input errors 400 (with suggestions when resolution failed), overflow
// handles 404, saturation 429, everything else 503/500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var resErr *engine.ResolutionError
	switch {
	case errors.As(err, &resErr):
		s.writeError(w, http.StatusBadRequest, resErr.Error(), resErr.Suggestions)
	case errors.Is(err, errors.ErrArtifactNotFound):
		s.writeError(w, http.StatusNotFound, "overflow artifact not found", nil)
	case errors.IsSaturated(err):
		w.Header().Set("Retry-After", "5")
		s.writeError(w, http.StatusTooManyRequests,
			"search budget saturated, retry shortly", nil)
	case errors.IsInvalid(err):
		s.writeError(w, http.StatusBadRequest, publicMessage(err), nil)
	case errors.IsTransient(err):
		s.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable", nil)
	default:
		s.logger.Error("unclassified gateway error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

// publicMessage keeps input-error feedback useful without leaking
// internal wrapping.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, errors.ErrEmptyPattern):
		return "search pattern must not be empty"
	case errors.Is(err, errors.ErrInvalidTimeRange):
		return "invalid time range: start must not be after end"
	case errors.Is(err, errors.ErrServiceNotFound):
		return "service not found"
	default:
		return "invalid request"
	}
}

type errorResponse struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, suggestions []string) {
	s.requestsFailed.Add(1)
	s.writeJSON(w, status, errorResponse{Error: msg, Suggestions: suggestions})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}
