// HTTP and WebSocket presentation server for corridor sessions
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deltran/corridorsim/internal/cache"
	"github.com/deltran/corridorsim/internal/config"
	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/integration"
	"github.com/deltran/corridorsim/internal/journal"
	"github.com/deltran/corridorsim/internal/observability"
	"github.com/deltran/corridorsim/internal/playback"
	"github.com/deltran/corridorsim/internal/resilience"
	"github.com/deltran/corridorsim/internal/session"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/swift"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Server represents the simulator server
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	registry  *corridor.Registry
	results   *cache.ResultCache
	sessions  *SessionStore
	journal   *journal.Journal
	hub       *WebSocketHub
	health    *integration.HealthChecker
	generator *swift.Generator
	metrics   *observability.Metrics
	promReg   *prometheus.Registry
	tracer    *observability.Tracer
	startTime time.Time

	idempotency *resilience.IdempotencyManager
	limiter     *resilience.RateLimiter

	tickers playback.TickerFactory
}

// Option configures a Server
type Option func(*Server)

// WithTracerProvider traces requests through tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = observability.NewTracerWithProvider(tp, "corridorsim/server")
	}
}

// WithTickerFactory replaces the autoplay ticker of every session driver
func WithTickerFactory(f playback.TickerFactory) Option {
	return func(s *Server) {
		s.tickers = f
	}
}

// New creates a new server
func New(cfg *config.Config, registry *corridor.Registry, logger *zap.Logger, opts ...Option) (*Server, error) {
	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if registry == nil || registry.Len() == 0 {
		return nil, integration.ErrCatalogNotReady
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promReg := prometheus.NewRegistry()
	s := &Server{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		journal:   journal.New(cfg.Journal.MaxEntries, logger),
		generator: swift.NewGenerator("0001"),
		metrics:   observability.NewMetrics("corridorsim", "server", promReg),
		promReg:   promReg,
		tracer:    observability.NewTracer("corridorsim/server"),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Cache.Enabled {
		s.results = cache.NewResultCache(cfg.Cache.TTL)
	}
	s.idempotency = resilience.NewIdempotencyManager(cfg.Server.IdempotencyTTL)
	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = resilience.NewRateLimiter(rl.RequestsPerMinute, rl.BurstSize)
		if err := s.limiter.TrustProxies(rl.TrustedProxies...); err != nil {
			return nil, fmt.Errorf("server.rate_limit.trusted_proxies: %w", err)
		}
	}

	s.hub = NewWebSocketHub(cfg.Server.AllowedOrigins, s.applyCommand, s.metrics)

	driverOpts := []playback.Option{
		playback.WithInterval(cfg.Playback.Interval),
		playback.WithLogger(logger),
	}
	if s.tickers != nil {
		driverOpts = append(driverOpts, playback.WithTickerFactory(s.tickers))
	}
	s.sessions = NewSessionStore(registry, cfg.Server.MaxSessions, logger, driverOpts,
		s.journal.Observer,
		s.hub.Observer,
		s.playbackObserver,
	)

	s.health = integration.NewHealthChecker(registry, s.results, s.sessions, logger)

	s.logger.Info("Server created",
		zap.Int("corridors", registry.Len()),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Duration("autoplay_interval", cfg.Playback.Interval),
	)
	return s, nil
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsMiddleware(s.metrics))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/corridors", s.handleListCorridors)
		r.Get("/audit", s.handleAudit)

		r.Route("/corridors/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCorridor)
			r.Get("/simulate", s.handleSimulate)
			r.Get("/compare", s.handleCompare)
			r.Get("/mt", s.handleCorridorMT)
			r.Get("/export", s.handleCorridorExport)
		})

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(resilience.IPRateLimitMiddleware(s.limiter))
			}
			r.Post("/sessions", s.handleCreateSession)
		})
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/next", s.handlePlayback(commandNext))
			r.Post("/prev", s.handlePlayback(commandPrev))
			r.Post("/reset", s.handlePlayback(commandReset))
			r.Post("/play", s.handlePlayback(commandPlay))
			r.Post("/jump", s.handleJump)
			r.Post("/select", s.handleSelect)
			r.Get("/events", s.handleEvents)
			r.Get("/mt", s.handleSessionMT)
			r.Get("/export", s.handleSessionExport)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// Run serves HTTP until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	done := make(chan struct{})
	defer close(done)
	s.metrics.StartUptimeTracking(s.startTime, done)

	srv := &http.Server{
		Addr:         s.config.Server.HTTPAddr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	return s.Close(shutdownCtx)
}

// Close stops every session driver
func (s *Server) Close(ctx context.Context) error {
	err := s.sessions.CloseAll(ctx)
	s.metrics.RecordSessions(0)
	s.logger.Info("Server shutdown complete")
	return err
}

// Hub exposes the WebSocket hub so tests and embedders can run it
func (s *Server) Hub() *WebSocketHub { return s.hub }

// simulate runs a simulation through the cache when enabled, with metrics and a span
func (s *Server) simulate(ctx context.Context, c *types.Corridor, method types.SettlementMethod, amount decimal.Decimal, bearer types.ChargeBearer) (*simulation.Result, error) {
	_, span := observability.TraceSimulation(ctx, s.tracer, c.ID, string(method), string(bearer), amount.String())
	defer span.End()

	start := time.Now()
	var (
		result *simulation.Result
		err    error
	)
	if s.results != nil {
		result, err = s.results.Simulate(c, method, amount, bearer)
	} else {
		result, err = simulation.SimulateCorridor(c, method, amount, bearer)
	}
	s.metrics.RecordSimulation(c.ID, string(method), string(bearer), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// sessionSimulate is the session.SimulateFunc of served sessions
func (s *Server) sessionSimulate(c *types.Corridor, method types.SettlementMethod, amount decimal.Decimal, bearer types.ChargeBearer) (*simulation.Result, error) {
	return s.simulate(context.Background(), c, method, amount, bearer)
}

func (s *Server) playbackObserver(sessionID string) playback.Observer {
	return func(ev playback.Event) {
		s.metrics.RecordPlayback(string(ev.Kind))
	}
}

func (s *Server) newSession(opts session.Options) (*liveSession, error) {
	opts.Simulate = s.sessionSimulate
	live, err := s.sessions.Create(opts)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSessions(s.sessions.Len())
	return live, nil
}
