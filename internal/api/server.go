// Package api serves views of the latest pipeline snapshot over HTTP, plus the session controls.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/journal"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/pipeline"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/risk"
)

// Source yields the latest published snapshot.
type Source interface {
	Snapshot() *pipeline.Snapshot
}

// EventSource yields recorded journal events, oldest first.
type EventSource interface {
	Snapshot() []journal.Event
}

// SessionBook is the session state the operator can change over HTTP.
type SessionBook interface {
	Session() risk.SessionState
	Lock()
	Unlock()
	RecordResult(pnl float64, at time.Time) error
}

// Option configures optional routes.
type Option func(*Server)

// WithJournal serves GET /journal from events.
func WithJournal(events EventSource) Option {
	return func(s *Server) { s.events = events }
}

// WithSession serves GET /session and the POST routes that lock, unlock and record results.
func WithSession(book SessionBook) Option {
	return func(s *Server) { s.book = book }
}

// Config holds server configuration.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	AllowOrigins   []string
	StallAfter     time.Duration
	DefaultDays    int
}

// Server represents the HTTP API server.
type Server struct {
	cfg        Config
	src        Source
	log        zerolog.Logger
	router     *gin.Engine
	httpServer *http.Server
	limiter    *rate.Limiter
	events     EventSource
	book       SessionBook
	now        func() time.Time
}

// NewServer builds the router; it does not start listening.
func NewServer(cfg Config, src Source, log zerolog.Logger, opts ...Option) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 5 * time.Second
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 3
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		src:    src,
		log:    log.With().Str("component", "api").Logger(),
		router: gin.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), max(1, cfg.RateLimitBurst))
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	if len(cfg.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowOrigins
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		s.router.Use(cors.New(corsConfig))
	}
	s.router.Use(s.rateLimitMiddleware())
	s.router.Use(s.deadlineMiddleware())

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/orderflow", s.handleOrderflow)
	s.router.GET("/orderflow/ladder", s.handleLadder)
	s.router.GET("/iceberg/memory", s.handleMemory)
	s.router.GET("/decision", s.handleDecision)
	if s.events != nil {
		s.router.GET("/journal", s.handleJournal)
	}
	if s.book != nil {
		s.router.GET("/session", s.handleSession)
		s.router.POST("/session/lock", s.handleLock)
		s.router.POST("/session/unlock", s.handleUnlock)
		s.router.POST("/session/result", s.handleResult)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens in the background; listener errors other than a clean shutdown are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http api listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.fail(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// deadlineMiddleware bounds every request; handlers check the context before replying.
func (s *Server) deadlineMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// snapshot takes the current view, or replies with an error if the request is already out of time.
func (s *Server) snapshot(c *gin.Context) (*pipeline.Snapshot, bool) {
	snap := s.src.Snapshot()
	if err := c.Request.Context().Err(); err != nil {
		s.fail(c, http.StatusGatewayTimeout, "timeout", "request deadline exceeded")
		return nil, false
	}
	if snap == nil {
		s.fail(c, http.StatusServiceUnavailable, "unavailable", "no snapshot published yet")
		return nil, false
	}
	return snap, true
}

func (s *Server) fail(c *gin.Context, status int, kind, msg string) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.QueryErrors.WithLabelValues(route, kind).Inc()
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
