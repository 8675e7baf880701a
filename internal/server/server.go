// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/lumen-social/trustcore/internal/behavior"
	"github.com/lumen-social/trustcore/internal/cases"
	"github.com/lumen-social/trustcore/internal/confidence"
	"github.com/lumen-social/trustcore/internal/config"
	"github.com/lumen-social/trustcore/internal/consent"
	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/enforcement"
	"github.com/lumen-social/trustcore/internal/health"
	"github.com/lumen-social/trustcore/internal/logging"
	"github.com/lumen-social/trustcore/internal/metrics"
	"github.com/lumen-social/trustcore/internal/notify"
	"github.com/lumen-social/trustcore/internal/orchestrator"
	"github.com/lumen-social/trustcore/internal/ratelimit"
	"github.com/lumen-social/trustcore/internal/realtime"
	"github.com/lumen-social/trustcore/internal/riskprofile"
	"github.com/lumen-social/trustcore/internal/security"
	"github.com/lumen-social/trustcore/internal/shield"
	"github.com/lumen-social/trustcore/internal/traces"
	"github.com/lumen-social/trustcore/internal/validation"
)

// riskEvalWindow is how far back the periodic risk worker looks for
// recently-active users.
const riskEvalWindow = 24 * time.Hour

// regionalPolicyFlags maps jurisdictions with heightened contact-safety
// requirements to the signal level their policy regime contributes.
var regionalPolicyFlags = map[string]orchestrator.SignalLevel{
	"eu": orchestrator.SignalLow,
	"uk": orchestrator.SignalLow,
	"kr": orchestrator.SignalMedium,
	"au": orchestrator.SignalLow,
}

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	consentSvc     *consent.Service
	detector       *detection.Detector
	shieldSvc      *shield.Service
	behaviorSvc    *behavior.Service
	confidenceSvc  *confidence.Service
	riskSvc        *riskprofile.Service
	assessSvc      *orchestrator.Service
	notifySvc      *notify.Service
	caseSvc        *cases.Service
	enforcementSvc *enforcement.Service
	hub            *realtime.Hub

	expiryWorker *behavior.ExpiryWorker
	applyWorker  *confidence.ApplyWorker
	riskWorker   *riskprofile.Worker

	rateLimiter    *ratelimit.Limiter
	checks         *health.Registry
	shutdownTraces func(context.Context) error
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	var (
		consentStore  consent.Store
		shieldStore   shield.Store
		behaviorStore behavior.Store
		confStore     confidence.Store
		riskStore     riskprofile.Store
		assessStore   orchestrator.Store
		notifyStore   notify.Store
		caseStore     cases.Store
		enforceStore  enforcement.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		consentPg := consent.NewPostgresStore(db)
		if err := consentPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate consent store", "error", err)
		}
		consentStore = consentPg

		shieldPg := shield.NewPostgresStore(db)
		if err := shieldPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate shield store", "error", err)
		}
		shieldStore = shieldPg

		behaviorPg := behavior.NewPostgresStore(db)
		if err := behaviorPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate behavior store", "error", err)
		}
		behaviorStore = behaviorPg

		confPg := confidence.NewPostgresStore(db)
		if err := confPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate confidence store", "error", err)
		}
		confStore = confPg

		riskPg := riskprofile.NewPostgresStore(db)
		if err := riskPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate risk profile store", "error", err)
		}
		riskStore = riskPg

		assessPg := orchestrator.NewPostgresStore(db)
		if err := assessPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate assessment store", "error", err)
		}
		assessStore = assessPg

		notifyPg := notify.NewPostgresStore(db)
		if err := notifyPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate notification store", "error", err)
		}
		notifyStore = notifyPg

		casePg := cases.NewPostgresStore(db)
		if err := casePg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate case store", "error", err)
		}
		caseStore = casePg

		enforcePg := enforcement.NewPostgresStore(db)
		if err := enforcePg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate enforcement store", "error", err)
		}
		enforceStore = enforcePg

		metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		consentStore = consent.NewMemoryStore()
		shieldStore = shield.NewMemoryStore()
		behaviorStore = behavior.NewMemoryStore()
		confStore = confidence.NewMemoryStore()
		riskStore = riskprofile.NewMemoryStore()
		assessStore = orchestrator.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
		caseStore = cases.NewMemoryStore()
		enforceStore = enforcement.NewMemoryStore()
	}

	// Leaf services first; everything downstream hangs off these.
	s.caseSvc = cases.NewService(caseStore, s.logger)
	s.enforcementSvc = enforcement.NewService(enforceStore, s.logger)
	s.notifySvc = notify.NewService(notifyStore, s.logger)
	s.consentSvc = consent.NewService(consentStore, s.logger)

	behaviorCfg := behavior.DefaultConfig()
	if cfg.BehaviorRetentionMonths > 0 {
		behaviorCfg.ExpiryHorizonMonths = cfg.BehaviorRetentionMonths
	}
	s.behaviorSvc = behavior.NewService(behaviorCfg, behaviorStore, s.logger)
	s.confidenceSvc = confidence.NewService(confidence.DefaultConfig(), confStore, s.logger)

	s.detector = detection.New(detection.DefaultConfig())

	// Realtime hub feeds live moderator dashboards.
	s.hub = realtime.NewHub(s.logger)

	s.shieldSvc = shield.NewService(
		shield.DefaultConfig(),
		shieldStore,
		&consentRevokerAdapter{s.consentSvc},
		s.caseSvc,
		s.logger,
	).WithPublisher(s.hub)

	s.riskSvc = riskprofile.NewService(
		riskprofile.DefaultConfig(),
		riskStore,
		s.behaviorSvc,
		s.consentSvc,
		s.caseSvc,
		s.enforcementSvc,
		s.logger,
	)

	providers := []orchestrator.SignalProvider{
		orchestrator.NewTrustScoreProvider(s.riskSvc),
		orchestrator.NewEnforcementStatusProvider(s.enforcementSvc),
		orchestrator.NewContentViolationProvider(s.behaviorSvc),
		orchestrator.NewRelationshipBehaviorProvider(s.behaviorSvc),
		orchestrator.NewFraudHistoryProvider(s.behaviorSvc),
		orchestrator.NewConsentViolationProvider(s.consentSvc),
		orchestrator.NewRegionalPolicyProvider(regionalPolicyFlags),
	}

	s.assessSvc = orchestrator.NewService(
		orchestrator.DefaultConfig(),
		assessStore,
		providers,
		s.shieldSvc,
		s.consentSvc,
		s.caseSvc,
		s.enforcementSvc,
		s.notifySvc,
		s.logger,
	).WithPublisher(s.hub)

	// Background sweeps
	s.expiryWorker = behavior.NewExpiryWorker(behaviorStore, cfg.BehaviorSweepInterval, s.logger)
	s.applyWorker = confidence.NewApplyWorker(s.confidenceSvc, cfg.ConfidenceApplyInterval, s.logger)
	s.riskWorker = riskprofile.NewWorker(s.riskSvc, behaviorStore, cfg.RiskEvalInterval, riskEvalWindow, s.logger)

	// Tracing (no-op when OTLP_ENDPOINT is unset)
	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.shutdownTraces = shutdown
			s.logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
		}
	}

	// Subsystem health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for live moderator feeds
	s.router.GET("/ws/moderation", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.UserParamMiddleware())

	consent.NewHandler(s.consentSvc).RegisterRoutes(v1)
	shield.NewHandler(s.shieldSvc, s.detector).RegisterRoutes(v1)
	behavior.NewHandler(s.behaviorSvc).RegisterRoutes(v1)
	confidence.NewHandler(s.confidenceSvc).RegisterRoutes(v1)
	riskprofile.NewHandler(s.riskSvc).RegisterRoutes(v1)
	orchestrator.NewHandler(s.assessSvc).RegisterRoutes(v1)
	notify.NewHandler(s.notifySvc).RegisterRoutes(v1)
	cases.NewHandler(s.caseSvc).RegisterRoutes(v1)
	enforcement.NewHandler(s.enforcementSvc).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Trustcore",
		"description": "Trust and safety decision core",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start background sweeps
	go s.expiryWorker.Start(runCtx)
	go s.applyWorker.Start(runCtx)
	go s.riskWorker.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeps)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop background sweeps
	s.expiryWorker.Stop()
	s.applyWorker.Stop()
	s.riskWorker.Stop()
	s.logger.Info("background sweeps stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush tracing exporter
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// consentRevokerAdapter narrows consent.Service to the error-only revoke the
// shield needs.
type consentRevokerAdapter struct {
	svc *consent.Service
}

func (a *consentRevokerAdapter) RevokeConsent(ctx context.Context, userA, userB, actor, reason string) error {
	_, _, err := a.svc.Revoke(ctx, userA, userB, actor, reason)
	return err
}
