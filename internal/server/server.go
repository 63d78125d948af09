// Package server exposes the operational HTTP surface: health, manual
// triggers, metrics and feeds of recent deliveries.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/cache"
	"dispatch/internal/core"
)

const (
	defaultAddr      = ":8080"
	shutdownTimeout  = 5 * time.Second
	defaultFeedSize  = 50
	defaultFeedCache = time.Minute
)

// Triggerer starts pipeline runs on demand.
type Triggerer interface {
	Trigger(name string) error
	Pipelines() []string
	IsRunning() bool
}

type Config struct {
	Name      string
	Addr      string
	FeedSize  int
	FeedTitle string
	FeedLink  string
	// FeedCacheTTL bounds how long a rendered feed is served from memory.
	FeedCacheTTL time.Duration
	Debug        bool
}

type Server struct {
	config  Config
	bot     Triggerer
	journal core.Journal
	metrics http.Handler
	feeds   *cache.Cache[feedKey, string]
	logger  *slog.Logger
	router  *gin.Engine
	server  *http.Server
}

// New builds the router. journal and metrics may be nil, in which case
// their routes are not registered.
func New(config Config, bot Triggerer, journal core.Journal, metrics http.Handler, logger *slog.Logger) *Server {
	if config.Addr == "" {
		config.Addr = defaultAddr
	}
	if config.FeedSize <= 0 {
		config.FeedSize = defaultFeedSize
	}
	if config.FeedCacheTTL <= 0 {
		config.FeedCacheTTL = defaultFeedCache
	}
	if config.FeedTitle == "" {
		config.FeedTitle = fmt.Sprintf("%s deliveries", config.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:  config,
		bot:     bot,
		journal: journal,
		metrics: metrics,
		feeds:   cache.NewCache[feedKey, string](cache.CacheConfig{TTL: config.FeedCacheTTL}, feedKey.String),
		logger:  logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/pipelines", s.handlePipelines)
	router.GET("/trigger/:pipeline", s.handleTrigger)
	router.POST("/trigger/:pipeline", s.handleTrigger)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	if journal != nil {
		router.GET("/feed.rss", s.handleFeed(feedRSS))
		router.GET("/feed.atom", s.handleFeed(feedAtom))
		router.GET("/feed.json", s.handleFeed(feedJSON))
	}

	s.router = router
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. Listen errors are sent on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		s.logger.Info("HTTP server starting", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !s.bot.IsRunning() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"name":   s.config.Name,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePipelines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pipelines": s.bot.Pipelines()})
}

func (s *Server) handleTrigger(c *gin.Context) {
	name := c.Param("pipeline")

	if err := s.bot.Trigger(name); err != nil {
		if errors.Is(err, core.ErrUnknownPipeline) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Trigger failed", "pipeline", name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "pipeline": name})
}
