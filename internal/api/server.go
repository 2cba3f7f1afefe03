// Package api exposes the anonymization service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync/atomic"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/cache"
	"github.com/omers/pii-anonymizer-api/internal/config"
	"github.com/omers/pii-anonymizer-api/internal/events"
	"github.com/omers/pii-anonymizer-api/internal/logger"
	"github.com/omers/pii-anonymizer-api/internal/metrics"
	"github.com/omers/pii-anonymizer-api/internal/ratelimit"
	"github.com/omers/pii-anonymizer-api/internal/web"
)

// Name is reported by /info.
const Name = "pii-anonymizer-api"

// Pinger is a dependency whose health /health reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStatser reports span cache statistics for /metrics.
type CacheStatser interface {
	GetStats(ctx context.Context) (*cache.CacheStats, error)
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	limits  atomic.Pointer[config.AnonymizerConfig]
	logger  *logger.Logger
	service *anonymizer.Service
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
	hub     *events.Hub
	cache   CacheStatser
	deps    map[string]Pinger
	version string
	proxies []netip.Prefix

	router  *mux.Router
	handler http.Handler
	server  *http.Server
	hubCtx  context.Context
	stopHub context.CancelFunc
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithMetrics sets the metrics registry. A private one is used otherwise.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter enables per-client rate limiting on the API routes.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithEventHub mounts the event stream and publishes anonymization events to it.
func WithEventHub(h *events.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithCacheStats adds span cache statistics to /metrics.
func WithCacheStats(c CacheStatser) Option {
	return func(s *Server) { s.cache = c }
}

// WithDependency adds a named dependency to /health.
func WithDependency(name string, p Pinger) Option {
	return func(s *Server) { s.deps[name] = p }
}

// WithVersion sets the version reported by /health and /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a new API server instance
func New(cfg *config.Config, service *anonymizer.Service, log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("api"),
		service: service,
		deps:    make(map[string]Pinger),
		version: "dev",
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	limits := cfg.Anonymizer
	s.limits.Store(&limits)
	if proxies, err := config.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		s.logger.Warn("Ignoring invalid trusted proxies", zap.Error(err))
	} else {
		s.proxies = proxies
	}
	s.hubCtx, s.stopHub = context.WithCancel(context.Background())

	s.setupRoutes()
	s.handler = s.wrap(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	if s.hub != nil && s.config.Events.Enabled {
		s.router.Handle(s.config.Events.Path, s.hub).Methods(http.MethodGet)
		s.router.HandleFunc("/dashboard", web.DashboardHandler(Name, s.config.Events.Path)).Methods(http.MethodGet)
	}

	apiRouter := s.router.NewRoute().Subrouter()
	apiRouter.Use(s.metricsMiddleware)
	apiRouter.Use(s.rateLimitMiddleware)
	apiRouter.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	if s.deanonymizeEnabled() {
		apiRouter.HandleFunc("/deanonymize", s.handleDeanonymize).Methods(http.MethodPost)
	}
}

// wrap adds CORS and panic recovery around the router.
func (s *Server) wrap(h http.Handler) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.config.Server.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID", "Retry-After"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(h))
}

func (s *Server) deanonymizeEnabled() bool {
	return s.config.Encryption.AllowDeanonymize && s.service.Engine().CanDecrypt()
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// UpdateLimits applies hot-reloadable settings from a new configuration.
func (s *Server) UpdateLimits(cfg *config.Config) {
	limits := cfg.Anonymizer
	s.limits.Store(&limits)
	if s.limiter != nil {
		s.limiter.Update(cfg.RateLimit)
	}
	s.logger.Info("Limits updated",
		zap.Int("max_text_length", limits.MaxTextLength),
		zap.Strings("supported_languages", limits.SupportedLanguages),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
	)
}

// Start starts the event hub and the HTTP server. It blocks until the
// server stops and returns nil after a graceful Stop.
func (s *Server) Start() error {
	s.logger.Info("Starting PII anonymizer API",
		zap.Int("port", s.config.Server.Port),
		zap.String("detector", s.config.Detector.Type),
		zap.Bool("encryption", s.service.Engine().CanEncrypt()),
		zap.Bool("deanonymize", s.deanonymizeEnabled()),
		zap.Bool("events", s.hub != nil && s.config.Events.Enabled),
	)

	if s.hub != nil {
		go s.hub.Run(s.hubCtx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and disconnects event subscribers
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII anonymizer API")
	err := s.server.Shutdown(ctx)
	s.stopHub()
	return err
}

// recoveryLogger routes gorilla/handlers panic reports to zap.
type recoveryLogger struct {
	log *logger.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Error("Recovered from panic", zap.String("panic", fmt.Sprint(v...)))
}
