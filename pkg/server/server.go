// Package server exposes a wikigraph DB over HTTP.
//
// Endpoints:
//
//	GET  /healthz              liveness and graph size
//	GET  /metrics              Prometheus exposition
//	GET  /snapshot?view=coedit current edges of one view and their nodes
//	GET  /mldata               latest analytics result (204 before the first)
//	GET  /summary              derived metrics projection
//	POST /events               line-delimited JSON edit records
//
// /snapshot and /summary responses are cached for Config.CacheTTL and
// dropped whenever POST /events applies a record.
//
// The server is read-mostly: POST /events is a convenience for local feeds
// and tests, not a replacement for a real ingestion client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/orneryd/wikigraph/pkg/cache"
	"github.com/orneryd/wikigraph/pkg/event"
	"github.com/orneryd/wikigraph/pkg/logging"
	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/storage"
	"github.com/orneryd/wikigraph/pkg/wikigraph"
)

// Errors for HTTP operations.
var (
	ErrServerClosed = errors.New("server closed")
	ErrBadRequest   = errors.New("bad request")
)

// maxReportedErrors caps the per-record errors echoed by POST /events.
const maxReportedErrors = 10

// Config holds HTTP server configuration.
type Config struct {
	// Addr is the listen address (default ":9108").
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxRequestSize bounds POST bodies in bytes (default 10MB).
	MaxRequestSize int64
	// Summary configures GET /summary.
	Summary metrics.SummaryOptions
	// CacheTTL is how long /snapshot and /summary responses are reused.
	// Zero disables caching.
	CacheTTL time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":9108",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024,
		Summary:        metrics.DefaultSummaryOptions(),
		CacheTTL:       time.Second,
	}
}

// Server is the HTTP front of a DB.
type Server struct {
	config   *Config
	db       *wikigraph.DB
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	clock    clockwork.Clock

	snapshots *cache.LRU[storage.View, storage.Snapshot]
	summaries *cache.LRU[string, metrics.Summary]

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a server for db. gatherer backs /metrics; nil uses the
// default Prometheus registry.
func New(db *wikigraph.DB, gatherer prometheus.Gatherer, config *Config, logger zerolog.Logger) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config:   config,
		db:       db,
		gatherer: gatherer,
		logger:   logging.Component(logger, "http"),
		clock:    clockwork.NewRealClock(),
	}
	if config.CacheTTL > 0 {
		s.snapshots = cache.New[storage.View, storage.Snapshot](len(storage.Views), config.CacheTTL, s.clock)
		s.summaries = cache.New[string, metrics.Summary](1, config.CacheTTL, s.clock)
	}
	return s, nil
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.started = s.clock.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /mldata", s.handleMLData)
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("POST /events", s.handleEvents)

	var h http.Handler = mux
	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	store := s.db.Store()
	response := map[string]interface{}{
		"status":   "healthy",
		"time":     s.clock.Now().UTC().Format(time.RFC3339),
		"nodes":    store.NodeCount(),
		"edges":    store.EdgeCount(),
		"requests": s.requestCount.Load(),
		"errors":   s.errorCount.Load(),
	}
	if s.snapshots != nil {
		response["snapshot_cache"] = s.snapshots.Stats()
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("view")
	if name == "" {
		name = string(storage.ViewBipartite)
	}
	view, err := storage.ParseView(name)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), ErrBadRequest)
		return
	}
	if s.snapshots == nil {
		s.writeJSON(w, http.StatusOK, s.db.GetSnapshot(view))
		return
	}
	s.writeJSON(w, http.StatusOK, s.snapshots.GetOrCompute(view, func() storage.Snapshot {
		return s.db.GetSnapshot(view)
	}))
}

func (s *Server) handleMLData(w http.ResponseWriter, r *http.Request) {
	data := s.db.MLData()
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.summaries == nil {
		s.writeJSON(w, http.StatusOK, s.db.Summary(s.config.Summary))
		return
	}
	s.writeJSON(w, http.StatusOK, s.summaries.GetOrCompute("summary", func() metrics.Summary {
		return s.db.Summary(s.config.Summary)
	}))
}

// EventsResponse reports the outcome of POST /events.
type EventsResponse struct {
	Processed int      `json:"processed"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	dec := event.NewDecoder(body)

	var resp EventsResponse
	status, err := s.ingest(dec, &resp)
	if resp.Processed > 0 {
		s.invalidate()
	}
	if err != nil {
		s.writeError(w, status, err.Error(), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ingest applies every record from dec, collecting per-record failures in
// resp. A non-nil error aborts the request with the returned status.
func (s *Server) ingest(dec *event.Decoder, resp *EventsResponse) (int, error) {
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return http.StatusOK, nil
		}
		if errors.Is(err, event.ErrMalformed) || errors.Is(err, event.ErrMissingField) {
			resp.Rejected++
			if len(resp.Errors) < maxReportedErrors {
				resp.Errors = append(resp.Errors, err.Error())
			}
			continue
		}
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		if _, err := s.db.ProcessEvent(ev); err != nil {
			return http.StatusServiceUnavailable, err
		}
		resp.Processed++
	}
}

// invalidate drops cached projections after a local write.
func (s *Server) invalidate() {
	if s.snapshots != nil {
		s.snapshots.Clear()
		s.summaries.Clear()
	}
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		start := s.clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip scrapes and health checks for noise reduction
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("took", s.clock.Since(start)).
			Msg("Request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.logger.Error().
					Interface("panic", err).
					Str("stack", string(buf[:n])).
					Msg("Handler panicked")
				s.writeError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// JSON helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	s.errorCount.Add(1)
	if err != nil && status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg(message)
	}
	s.writeJSON(w, status, map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    status,
	})
}
