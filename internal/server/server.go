// Package server wires the HTTP API: risk intelligence lookups, decisions,
// the guardian and sentinel agents, and the realtime alert stream.
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
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/mbd888/chainguard/internal/agent"
	"github.com/mbd888/chainguard/internal/audit"
	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/config"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/intel"
	"github.com/mbd888/chainguard/internal/ledger"
	"github.com/mbd888/chainguard/internal/logging"
	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/realtime"
	"github.com/mbd888/chainguard/internal/reposearch"
)

// Server holds the HTTP router and every component behind it.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *gin.Engine

	chainClient *chain.Client
	engine      agent.Analyzer
	ledger      ledger.Client
	auditStore  audit.Store
	scamList    *intel.StaticScamList
	hub         *realtime.Hub
	manager     *agent.Manager

	db           *sql.DB
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	healthy      atomic.Bool
	ready        atomic.Bool
}

// Option configures optional server dependencies. Used by tests to inject
// fakes instead of live chain and explorer clients.
type Option func(*Server)

// WithAnalyzer replaces the intelligence engine.
func WithAnalyzer(a agent.Analyzer) Option {
	return func(s *Server) { s.engine = a }
}

// WithLedger replaces the on-chain report ledger.
func WithLedger(lc ledger.Client) Option {
	return func(s *Server) { s.ledger = lc }
}

// WithAuditStore replaces the guardian audit store.
func WithAuditStore(st audit.Store) Option {
	return func(s *Server) { s.auditStore = st }
}

// New builds a fully wired server from configuration. Components not
// injected through options are constructed from cfg: live RPC, explorer and
// repo-search clients, a registry or in-memory ledger, and a postgres or
// in-memory audit store.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.engine == nil {
		if err := s.buildEngine(); err != nil {
			return nil, err
		}
	}
	if s.ledger == nil {
		if err := s.buildLedger(); err != nil {
			return nil, err
		}
	}
	if s.auditStore == nil {
		if err := s.buildAuditStore(); err != nil {
			return nil, err
		}
	}

	s.hub = realtime.NewHub(logging.Component(logger, "realtime"))

	sentinel := agent.NewSentinel(s.engine, s.ledger, s.hub, agent.SentinelConfig{
		Threshold: cfg.SentinelThreshold,
		Interval:  cfg.SentinelInterval,
		MaxAlerts: cfg.MaxAlerts,
	}, logging.Component(logger, "sentinel"))
	guardian := agent.NewGuardian(s.engine, cfg.GuardianThreshold, sentinel, s.auditStore,
		logging.Component(logger, "guardian"))
	s.manager = agent.NewManager(guardian, sentinel, logger)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// buildEngine constructs the five analyzers against live providers.
func (s *Server) buildEngine() error {
	chainClient, err := chain.Dial(s.cfg.RPCURL, s.cfg.DEXFactory, s.cfg.WETH)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	s.chainClient = chainClient

	expl := explorer.New(s.cfg.ExplorerURL, s.cfg.ExplorerAPIKey)
	repos := reposearch.New(s.cfg.RepoSearchURL, s.cfg.RepoSearchToken)
	s.scamList = intel.NewStaticScamList(nil)

	engineLogger := logging.Component(s.logger, "intel")
	s.engine = intel.NewEngine(
		intel.NewContractAnalyzer(chainClient, expl, engineLogger),
		intel.NewBehaviorAnalyzer(chainClient, expl, engineLogger),
		intel.NewWalletAnalyzer(chainClient, expl, engineLogger),
		intel.NewTransparencyAnalyzer(repos, engineLogger),
		intel.NewScamAnalyzer(s.scamList, engineLogger),
		expl,
		engineLogger,
	)

	s.logger.Info("intelligence engine ready",
		"rpc", s.cfg.RPCURL,
		"explorer", s.cfg.ExplorerURL,
	)
	return nil
}

// buildLedger picks the registry submitter when a key and contract are
// configured, otherwise an in-memory ledger.
func (s *Server) buildLedger() error {
	if s.cfg.PrivateKey != "" && s.cfg.RegistryContract != "" {
		reg, err := ledger.NewRegistry(ledger.Config{
			RPCURL:     s.cfg.RPCURL,
			PrivateKey: s.cfg.PrivateKey,
			ChainID:    s.cfg.ChainID,
			Contract:   s.cfg.RegistryContract,
		}, logging.Component(s.logger, "ledger"))
		if err != nil {
			return fmt.Errorf("create registry ledger: %w", err)
		}
		s.ledger = reg
		s.logger.Info("using on-chain report registry",
			"contract", s.cfg.RegistryContract,
			"chain_id", s.cfg.ChainID,
		)
		return nil
	}

	s.ledger = ledger.NewMemory()
	s.logger.Warn("no registry key configured, using in-memory ledger")
	return nil
}

// buildAuditStore picks postgres when DATABASE_URL is set, otherwise memory.
func (s *Server) buildAuditStore() error {
	if s.cfg.DatabaseURL == "" {
		s.auditStore = audit.NewMemoryStore()
		s.logger.Info("using in-memory audit store")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db
	s.auditStore = audit.NewPostgresStore(db)
	s.logger.Info("using postgres audit store", "dsn", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"panic", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}))
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
}

// requestIDMiddleware tags each request with an ID and puts a request-scoped
// logger into the context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware logs each request at a level chosen by response status.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger := logging.L(c.Request.Context())
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			logger.Error("request failed", attrs...)
		case status >= 400:
			logger.Warn("request rejected", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws/alerts", s.wsHandler)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/intel/:address", s.intelHandler)
		v1.POST("/decide", s.decideHandler)

		v1.POST("/guardian/check", s.guardianCheckHandler)
		v1.GET("/guardian/status", s.guardianStatusHandler)
		v1.GET("/guardian/checks/:address", s.guardianChecksHandler)

		v1.GET("/sentinel/watchlist", s.watchlistHandler)
		v1.POST("/sentinel/watchlist", s.addWatchHandler)
		v1.DELETE("/sentinel/watchlist/:address", s.removeWatchHandler)
		v1.GET("/sentinel/alerts", s.alertsHandler)
		v1.GET("/sentinel/status", s.sentinelStatusHandler)

		v1.GET("/agents/status", s.agentsStatusHandler)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	checks := map[string]string{}
	healthy := true

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	for name, st := range s.manager.Status() {
		if st.Running {
			checks[name] = "running"
		} else {
			checks[name] = "stopped"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and both agents, then blocks until a shutdown
// signal or context cancellation.
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

	if err := s.manager.StartAll(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start agents: %w", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown stops the agents first so an in-flight monitoring cycle can
// finish, then drains the HTTP server and closes connections.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	s.manager.StopAll()

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if closer, ok := s.ledger.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("ledger close error", "error", err)
		}
	}

	if s.chainClient != nil {
		s.chainClient.Close()
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

// Manager returns the agent manager for testing and the MCP bridge.
func (s *Server) Manager() *agent.Manager {
	return s.manager
}

// ScamList returns the mutable scam database, nil when an injected analyzer
// is in use.
func (s *Server) ScamList() *intel.StaticScamList {
	return s.scamList
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// maskDSN hides the password in a connection string before logging it.
func maskDSN(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if schemeEnd == -1 || at == -1 || at < schemeEnd {
		return dsn
	}
	creds := dsn[schemeEnd+3 : at]
	if colon := strings.Index(creds, ":"); colon != -1 {
		creds = creds[:colon] + ":****"
	}
	return dsn[:schemeEnd+3] + creds + dsn[at:]
}
