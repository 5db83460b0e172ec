// Package server implements the HTTP server that exposes the jiraiya ask
// pipeline as a small REST API, plus health, readiness, and Prometheus
// metrics endpoints. The server is started by the `jiraiya serve` command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KixPanganiban/jiraiya-go/internal/logging"
	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// TopK is the default number of issues retrieved per question when a
	// request does not specify its own. Defaults to 5 if zero.
	TopK int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, logging.New is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /api/ask
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /api/ask. If empty,
	// authentication is disabled (development mode).
	APIKey string
	// Registry is the Prometheus registry for server metrics. If nil, the
	// default registry is used. Tests inject a fresh registry.
	Registry *prometheus.Registry
}

// asker answers a question against the issue index. *pipeline.Pipeline
// satisfies it; tests inject a fake.
type asker interface {
	Ask(ctx context.Context, question string, topK int, history []*schema.Message) (string, []rag.Document, error)
}

// Server is the HTTP server that wraps the ask pipeline.
type Server struct {
	// asker handles all /api/ask questions.
	asker asker
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// TopK overrides the number of issues retrieved. Optional.
	TopK int `json:"topK,omitempty"`
}

// askSource describes one retrieved issue in the response.
type askSource struct {
	// Key is the JIRA issue key.
	Key string `json:"key"`
	// Link is the browse URL for the issue, when known.
	Link string `json:"link,omitempty"`
	// Score is the similarity score of the match.
	Score float32 `json:"score"`
}

// askResponse is the JSON body returned by POST /api/ask.
type askResponse struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources lists the issues the answer was grounded on, best match first.
	Sources []askSource `json:"sources"`
}

// New constructs a Server from the provided asker and config.
func New(a asker, cfg *Config) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("server: asker must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Generation can take a while on slow backends.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	gatherer := prometheus.DefaultGatherer
	if cfg.Registry != nil {
		reg = cfg.Registry
		gatherer = cfg.Registry
	}

	s := &Server{
		asker:   a,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	s.stopRL = stopRL
	if cfg.APIKey == "" {
		log.Warn("server: JIRAIYA_API_KEY not set — /api/ask is unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask",
		authMiddleware(cfg.APIKey,
			rl.middleware(
				s.instrument("ask", http.HandlerFunc(s.handleAsk)))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler exposes the fully wired HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask: retrieve context, generate an answer,
// return it with the source issues.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	start := time.Now()
	answer, docs, err := s.asker.Ask(r.Context(), req.Question, topK, nil)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.FromContext(r.Context()).Error("ask failed", slog.Any("error", err))
		http.Error(w, "answer generation failed", http.StatusBadGateway)
		return
	}

	resp := askResponse{Answer: answer, Sources: make([]askSource, 0, len(docs))}
	for _, d := range docs {
		resp.Sources = append(resp.Sources, askSource{Key: d.ID, Link: d.Source, Score: d.Score})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.FromContext(r.Context()).Error("ask encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
