// Package server wires the escrow engine into an HTTP server.
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

	"github.com/mbd888/rekberpay/internal/admin"
	"github.com/mbd888/rekberpay/internal/audit"
	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/config"
	"github.com/mbd888/rekberpay/internal/dispute"
	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/fees"
	"github.com/mbd888/rekberpay/internal/health"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/ledger"
	"github.com/mbd888/rekberpay/internal/logging"
	"github.com/mbd888/rekberpay/internal/metrics"
	"github.com/mbd888/rekberpay/internal/notify"
	"github.com/mbd888/rekberpay/internal/payments"
	"github.com/mbd888/rekberpay/internal/ratelimit"
	"github.com/mbd888/rekberpay/internal/realtime"
	"github.com/mbd888/rekberpay/internal/reconciliation"
	"github.com/mbd888/rekberpay/internal/review"
	"github.com/mbd888/rekberpay/internal/security"
	"github.com/mbd888/rekberpay/internal/traces"
	"github.com/mbd888/rekberpay/internal/txn"
	"github.com/mbd888/rekberpay/internal/users"
	"github.com/mbd888/rekberpay/internal/validation"
)

// Version is reported by /health. Overridden by cmd/server from ldflags.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB // nil when using in-memory stores

	issuer     *auth.Issuer
	users      *users.Service
	escrows    *escrow.Service
	disputes   *dispute.Service
	reviews    *review.Service
	notifier   *notify.Service
	fees       *fees.Schedule
	auditLog   *audit.Log
	reconciler *reconciliation.Runner

	hub            *realtime.Hub
	kafka          *notify.KafkaPublisher
	expiryTimer    *escrow.Timer
	reconcileTimer *reconciliation.Timer
	rateLimiter    *ratelimit.Limiter
	health         *health.Registry
	shutdownTraces func(context.Context) error

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDB uses an already opened database instead of DATABASE_URL.
func WithDB(db *sql.DB) Option {
	return func(s *Server) {
		s.db = db
	}
}

// New builds the server. Postgres is used when DATABASE_URL is set (or a
// database is passed with WithDB), otherwise every store is in memory.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.shutdownTraces = shutdown

	if s.db == nil && cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	}

	var st *stores
	if s.db != nil {
		if st, err = postgresStores(s.db); err != nil {
			return nil, err
		}
		s.health.Register("database", health.Ping(s.db))
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage")
		st = memoryStores()
	}

	s.wire(st)

	gin.SetMode(gin.ReleaseMode)
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// stores is one complete set of persistence backends.
type stores struct {
	runner        txn.Runner
	users         users.Store
	blacklist     users.BlacklistStore
	methods       users.PaymentMethodStore
	escrows       escrow.Store
	ledger        ledger.Store
	disputes      dispute.Store
	audit         audit.Store
	notifications notify.Store
	reviews       review.Store
	fees          fees.Store
}

func memoryStores() *stores {
	us := users.NewMemoryStore()
	return &stores{
		runner:        txn.NewMemoryRunner(),
		users:         us,
		blacklist:     us.BlacklistStore(),
		methods:       us.PaymentMethodStore(),
		escrows:       escrow.NewMemoryStore(),
		ledger:        ledger.NewMemoryStore(),
		disputes:      dispute.NewMemoryStore(),
		audit:         audit.NewMemoryStore(),
		notifications: notify.NewMemoryStore(),
		reviews:       review.NewMemoryStore(),
		fees:          fees.NewMemoryStore(),
	}
}

// postgresStores backs the core stores with database/sql and the catalog
// stores with gorm, both on the same pool so they share transactions.
func postgresStores(db *sql.DB) (*stores, error) {
	gdb, err := txn.OpenGorm(db)
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	us := users.NewPostgresStore(db)
	return &stores{
		runner:        txn.NewSQLRunner(db),
		users:         us,
		blacklist:     us.BlacklistStore(),
		methods:       users.NewGormPaymentMethodStore(gdb),
		escrows:       escrow.NewPostgresStore(db),
		ledger:        ledger.NewPostgresStore(db),
		disputes:      dispute.NewPostgresStore(db),
		audit:         audit.NewPostgresStore(db),
		notifications: notify.NewPostgresStore(db),
		reviews:       review.NewGormStore(gdb),
		fees:          fees.NewGormStore(gdb),
	}, nil
}

// wire builds the services over st.
func (s *Server) wire(st *stores) {
	cfg := s.cfg

	s.issuer = auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	s.hub = realtime.NewHub(s.logger)
	s.health.Register("realtime", health.Running(s.hub.Running))

	s.notifier = notify.NewService(st.notifications).
		WithPublisher(notify.NewHubPublisher(s.hub)).
		WithLogger(s.logger)
	if cfg.KafkaEnabled() {
		s.kafka = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		s.notifier.WithPublisher(s.kafka)
		s.logger.Info("kafka notification fan-out enabled", "topic", cfg.KafkaTopic)
	}

	s.auditLog = audit.NewLog(st.audit)
	fx := effects.NewRunner(s.auditLog, s.notifier, s.logger)

	s.users = users.NewService(st.users, st.blacklist, st.methods, st.runner).
		WithEffects(fx).
		WithLogger(s.logger)

	s.fees = fees.NewSchedule(st.fees, st.runner).
		WithEffects(fx).
		WithLogger(s.logger)

	var gateway escrow.PaymentGateway = escrow.NewPlaceholderGateway(cfg.PaymentBaseURL)
	if cfg.StripeSecretKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL)
		s.logger.Info("stripe checkout gateway enabled")
	}

	l := ledger.New(st.ledger)
	s.escrows = escrow.NewService(st.escrows, l, st.runner).
		WithGateway(gateway).
		WithAccountChecker(s.users).
		WithFeeQuoter(s.fees).
		WithEffects(fx).
		WithLogger(s.logger).
		WithPaymentWindow(cfg.PaymentWindow).
		WithCurrency(cfg.DefaultCurrency)

	s.disputes = dispute.NewService(st.disputes, s.escrows, st.runner).
		WithRoles(s.users).
		WithEffects(fx).
		WithLogger(s.logger)

	s.reviews = review.NewService(st.reviews, s.escrows, st.runner).
		WithEffects(fx).
		WithLogger(s.logger)

	s.expiryTimer = escrow.NewTimer(s.escrows, cfg.ExpiryInterval, s.logger)
	s.health.Register("expiry_timer", health.Running(s.expiryTimer.Running))

	s.reconciler = reconciliation.NewRunner(l, s.escrows, st.runner, s.logger).
		WithRepair(cfg.ReconcileRepair)
	s.reconcileTimer = reconciliation.NewTimer(s.reconciler, cfg.ReconcileInterval, s.logger)
	s.health.Register("reconciliation", s.reconciliationCheck)
}

func (s *Server) reconciliationCheck(context.Context) health.Status {
	report := s.reconciler.Last()
	switch {
	case report == nil:
		return health.Status{Healthy: true, Detail: "no run yet"}
	case !report.Healthy:
		return health.Status{Detail: fmt.Sprintf("%d drifted wallets, %d stuck escrows",
			len(report.Drifts)-report.Repaired, len(report.StuckEscrows))}
	}
	return health.Status{Healthy: true}
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(s.requestContextMiddleware())
	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(auth.Middleware(s.issuer))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(s.loggingMiddleware())
}

// requestContextMiddleware attaches the request id, logger and client
// details that the audit trail records.
func (s *Server) requestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		ctx = logging.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		if actor, ok := auth.ActorFrom(c); ok {
			c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), actor.UserID))
		}

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", health.Handler(s.health, Version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	usersHandler := users.NewHandler(s.users)
	if s.cfg.IsDevelopment() {
		usersHandler.WithIssuer(s.issuer)
	}
	usersHandler.RegisterRoutes(v1)

	protected := v1.Group("", auth.RequireAuth())
	usersHandler.RegisterProtectedRoutes(protected)
	escrow.NewHandler(s.escrows).RegisterProtectedRoutes(protected)
	dispute.NewHandler(s.disputes).RegisterProtectedRoutes(protected)
	review.NewHandler(s.reviews).RegisterProtectedRoutes(protected)
	notify.NewHandler(s.notifier).RegisterProtectedRoutes(protected)
	s.hub.RegisterRoutes(protected)

	adminGroup := v1.Group("", auth.RequireRole(identity.RoleAdmin))
	admin.NewHandler(s.users, s.escrows, s.disputes).
		WithAuditLog(s.auditLog).
		WithFeeSchedule(s.fees).
		WithReconciler(s.reconciler).
		RegisterRoutes(adminGroup)
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, and blocks until a
// signal, ctx cancellation or a server error.
func (s *Server) Run(ctx context.Context) error {
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

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.expiryTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if !s.cfg.IsDevelopment() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.expiryTimer.Stop()
	s.reconcileTimer.Stop()
	s.rateLimiter.Stop()

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka writer close error", "error", err)
		}
	}

	if err := s.shutdownTraces(ctx); err != nil {
		s.logger.Error("tracer shutdown error", "error", err)
	}

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Issuer returns the token issuer for testing.
func (s *Server) Issuer() *auth.Issuer {
	return s.issuer
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
