package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/broadcast"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/runner"
	"pulse/internal/store"
	"pulse/internal/store/decisionlog"
)

// ServerConfig wires the HTTP surface to the rest of the system.
type ServerConfig struct {
	Addr       string
	Signals    store.SignalStore
	Executions store.ExecutionStore
	Runner     *runner.Runner
	Hub        *broadcast.Hub
	Decisions  *decisionlog.Store
	Source     market.Source

	// DefaultSymbols backs a bodyless generate trigger; the first entry is
	// used when the request names no symbol.
	DefaultSymbols []string

	// ChartInterval and the EMA periods feed the rendered chart page.
	ChartInterval string
	FastPeriod    int
	SlowPeriod    int

	// DefaultMinConfidence applies when a decide request omits the field.
	DefaultMinConfidence float64

	// Heartbeat paces SSE keepalive frames.
	Heartbeat time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.ChartInterval == "" {
		c.ChartInterval = "3m"
	}
	if c.DefaultMinConfidence <= 0 {
		c.DefaultMinConfidence = 60
	}
	return c
}

// Server exposes signal generation, lifecycle reads, the SSE stream, and the
// bot decide endpoint.
type Server struct {
	cfg    ServerConfig
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Signals == nil {
		return nil, errors.New("http server requires a signal store")
	}
	cfg = cfg.withDefaults()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, router: router}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	signals := api.Group("/signals")
	signals.POST("/generate", s.handleGenerate)
	signals.GET("/active", s.handleActive)
	signals.GET("/history", s.handleHistory)
	signals.GET("/chart", s.handleChart)
	if cfg.Hub != nil {
		signals.GET("/stream", s.handleStream)
	}
	api.POST("/bot/decide", s.handleDecide)
	if cfg.Executions != nil {
		api.POST("/bot/executions/:id", s.handleExecutionReport)
		api.GET("/bot/executions", s.handleListExecutions)
	}
	api.GET("/stats", s.handleStats)
	if cfg.Decisions != nil {
		api.GET("/bot/decisions", s.handleDecisionLog)
	}

	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}
