// Package httpapi exposes FrameVault over HTTP: video assembly, event
// descriptor CRUD, metrics, and health. Handlers only bind parameters and map
// errors to status codes; all domain behavior lives in the packages they call.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/eventmeta"
	"github.com/c360/framevault/locator"
	"github.com/c360/framevault/metric"
	"github.com/c360/framevault/video"
	"github.com/c360/framevault/videocache"
)

// VideoProvider assembles a clip for a camera and window. Satisfied by
// video.Assembler.
type VideoProvider interface {
	Assemble(ctx context.Context, location, camera string, window locator.TimeWindow, outPath string) (*video.AssembledVideo, error)
}

// EventStore reads and writes event descriptors. Satisfied by eventmeta.Store.
type EventStore interface {
	Save(ctx context.Context, doc *eventmeta.Document) error
	Load(ctx context.Context, id string) (*eventmeta.Document, error)
}

// Service is the HTTP gateway.
type Service struct {
	cfg         config.HTTPConfig
	maxDuration time.Duration
	assembler   VideoProvider
	cache       *videocache.Cache
	events      EventStore
	registry    *metric.MetricsRegistry
	logger      *slog.Logger
	limiter     *rate.Limiter
	server      *http.Server

	// Healthy reports readiness on /healthz. Defaults to always healthy;
	// wiring replaces it with the NATS connection check.
	Healthy func() bool

	requests *prometheus.CounterVec
}

// New creates the gateway. The registry may be nil, in which case /metrics is
// not mounted and no metrics are exported.
func New(
	cfg config.HTTPConfig,
	videoCfg config.VideoConfig,
	assembler VideoProvider,
	cache *videocache.Cache,
	events EventStore,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:         cfg,
		maxDuration: videoCfg.MaxDuration.Std(),
		assembler:   assembler,
		cache:       cache,
		events:      events,
		registry:    registry,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		Healthy:     func() bool { return true },
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framevault_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	if registry != nil {
		if err := registry.RegisterCounterVec("gateway", "framevault_http_requests_total", s.requests); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Handler builds the route table. Exposed separately from Start so tests can
// drive the service through httptest.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /video", s.instrument("video", s.rateLimited(s.handleVideo)))
	mux.HandleFunc("POST /video", s.instrument("video", s.rateLimited(s.handleVideo)))
	mux.HandleFunc("GET /event/{id}", s.instrument("event_get", s.handleGetEvent))
	mux.HandleFunc("PUT /event/{id}", s.instrument("event_put", s.handlePutEvent))
	mux.HandleFunc("GET /healthz", s.instrument("healthz", s.handleHealth))

	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}

	return mux
}

// Start begins serving in a background goroutine.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP gateway listening", "addr", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully, bounded by the configured timeout.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Std())
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Service", "Stop", "shutdown HTTP server")
	}
	return nil
}

// instrument attaches a request ID, logs the request, and counts it.
func (s *Service) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next(rec, r)

		s.requests.WithLabelValues(route, httpStatusLabel(rec.status)).Inc()
		s.logger.Debug("Handled request",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration", time.Since(started),
			"requestId", requestID,
		)
	}
}

// rateLimited rejects requests beyond the configured rate with 429. Only the
// assembly endpoint is limited; event and health traffic is cheap.
func (s *Service) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeErrorStatus(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
