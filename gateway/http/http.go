// Package http serves the notifier's inbound HTTP surface.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/dispatch"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/health"
	"github.com/mu-semtech/delta-notifier/metric"
)

// Source labels batches received over HTTP in metrics.
const Source = "http"

// Banner is served on GET /.
const Banner = "Hello from delta-notifier"

// Submitter queues decoded batches without waiting for their processing.
type Submitter interface {
	Submit(source string, b *delta.Batch) error
}

// Config controls the gateway.
type Config struct {
	Addr            string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	// LogRequests logs every accepted batch at Info.
	LogRequests bool
}

// Deps holds runtime dependencies of the gateway.
type Deps struct {
	Submitter Submitter
	Checker   *health.Checker
	Registry  *metric.MetricsRegistry
	Logger    *slog.Logger
}

// Gateway routes inbound requests to the notifier.
type Gateway struct {
	config    Config
	submitter Submitter
	checker   *health.Checker
	registry  *metric.MetricsRegistry
	metrics   *metric.Metrics
	logger    *slog.Logger
	router    chi.Router

	running atomic.Bool
	mu      sync.Mutex
	server  *http.Server
	addr    net.Addr

	requestsTotal    atomic.Uint64
	requestsAccepted atomic.Uint64
	requestsFailed   atomic.Uint64
}

// NewGateway creates a gateway. Checker and Registry are optional; without
// them /health always reports UP and /metrics is not served.
func NewGateway(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Submitter == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway", "submitter is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: max body bytes must be positive", errors.ErrInvalidConfig),
			"Gateway", "NewGateway", "config validation")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := deps.Checker
	if checker == nil {
		checker = health.NewChecker(nil, nil)
	}

	g := &Gateway{
		config:    cfg,
		submitter: deps.Submitter,
		checker:   checker,
		registry:  deps.Registry,
		logger:    logger.With("component", "gateway"),
	}
	if deps.Registry != nil {
		g.metrics = deps.Registry.CoreMetrics()
	}
	g.router = g.routes()
	return g, nil
}

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", g.handleBanner)
	r.Post("/", g.handleDelta)
	r.Get("/health", g.handleHealth)
	if g.registry != nil {
		r.Method(http.MethodGet, "/metrics", g.registry.Handler())
	}
	return r
}

// Handler returns the routed handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start listens on the configured address and serves until Stop.
func (g *Gateway) Start(_ context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start", "gateway already running")
	}

	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		g.running.Store(false)
		return errors.WrapFatal(err, "Gateway", "Start", "listen on "+g.config.Addr)
	}

	server := &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.mu.Lock()
	g.server = server
	g.addr = ln.Addr()
	g.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("HTTP server stopped", "error", err)
		}
	}()
	g.logger.Info("Listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Stop stops accepting requests and waits for in-flight ones.
func (g *Gateway) Stop() error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	g.mu.Lock()
	server := g.server
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "Gateway", "Stop", "shutdown server")
	}
	return nil
}

func (g *Gateway) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Banner))
}

func (g *Gateway) handleDelta(w http.ResponseWriter, r *http.Request) {
	g.requestsTotal.Add(1)
	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes)
	batch, err := delta.DecodeBatch(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			g.reject(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxBodyBytes),
				fmt.Errorf("%w: limit %d bytes", errors.ErrPayloadTooLarge, tooLarge.Limit))
			return
		}
		g.reject(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
		return
	}

	trail, err := delta.NextCallIDTrail(r.Header.Get(dispatch.HeaderCallIDTrail), r.Header.Get(dispatch.HeaderCallID))
	if err != nil {
		g.reject(w, http.StatusBadRequest, "invalid_trail", "invalid "+dispatch.HeaderCallIDTrail+" header", err)
		return
	}
	sessionID := r.Header.Get(dispatch.HeaderSessionID)
	batch.SetCallContext(trail, sessionID)

	if dropped := batch.Dropped(); dropped > 0 {
		g.logger.Warn("Dropped triples with invalid terms", "dropped", dropped, "call_id_trail", trail)
	}

	if g.config.LogRequests {
		g.logger.Info("Received change-sets",
			"change_sets", len(batch.ChangeSets),
			"session", sessionID,
			"call_id_trail", trail)
	}

	if err := g.submitter.Submit(Source, batch); err != nil {
		g.requestsFailed.Add(1)
		status := g.mapErrorToHTTPStatus(err)
		g.logger.Warn("Cannot accept change-sets", "status", status, "error", err)
		g.writeError(w, status, g.sanitizeError(err))
		return
	}

	g.requestsAccepted.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := g.checker.Check()
	status := http.StatusOK
	if body.Status != health.StatusUp {
		status = http.StatusInternalServerError
	}
	g.writeJSON(w, status, body)
}

func (g *Gateway) reject(w http.ResponseWriter, status int, reason, message string, err error) {
	g.requestsFailed.Add(1)
	g.metrics.RecordRejected(Source, reason)
	g.logger.Warn("Rejected request", "reason", reason, "error", err)
	g.writeError(w, status, message)
}

// mapErrorToHTTPStatus maps submission errors to status codes.
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrQueueFull), stderrors.Is(err, errors.ErrShuttingDown),
		stderrors.Is(err, errors.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a message safe for clients.
func (g *Gateway) sanitizeError(err error) string {
	switch g.mapErrorToHTTPStatus(err) {
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusBadRequest:
		return "invalid request"
	default:
		return "internal server error"
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Cannot encode response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// Stats reports request counters.
type Stats struct {
	Total    uint64 `json:"total"`
	Accepted uint64 `json:"accepted"`
	Failed   uint64 `json:"failed"`
}

// Stats returns request counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Total:    g.requestsTotal.Load(),
		Accepted: g.requestsAccepted.Load(),
		Failed:   g.requestsFailed.Load(),
	}
}
