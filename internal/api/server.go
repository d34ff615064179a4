// Package api implements the HTTP API: task management, live task
// streaming over SSE, crawl source administration, and report
// generation.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/newsbrief/internal/logger"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

// NewServer creates the API server and wires up all routes.
func NewServer(
	cfg ServerConfig,
	tasks *TasksHandler,
	streamH *StreamHandler,
	sources *SourcesHandler,
	reports *ReportsHandler,
	log logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tasks", tasks.Create)
		v1.GET("/tasks", tasks.List)
		v1.GET("/tasks/stats", tasks.Stats)
		v1.GET("/tasks/:id", tasks.Get)
		v1.POST("/tasks/:id/start", tasks.Start)
		v1.POST("/tasks/:id/cancel", tasks.Cancel)
		v1.GET("/tasks/:id/events", tasks.Events)
		v1.GET("/tasks/:id/stream", streamH.StreamTask)
		v1.GET("/events/stream", streamH.StreamGlobal)

		v1.POST("/sources", sources.Create)
		v1.GET("/sources", sources.List)
		v1.GET("/sources/:id", sources.Get)
		v1.POST("/sources/:id/crawl", sources.CrawlNow)

		v1.POST("/crawl", sources.StartCrawlTask)
		v1.POST("/crawl/retry", sources.StartRetryTask)

		v1.POST("/reports", reports.Create)
		v1.GET("/reports", reports.List)
		v1.GET("/reports/:id", reports.Get)
		v1.DELETE("/reports/:id", reports.Delete)
		v1.POST("/reports/:id/generate", reports.Generate)
		v1.POST("/reports/:id/complete", reports.Complete)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:        cfg.Address,
			Handler:     router,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout stays at the configured value; zero keeps SSE
			// streams open indefinitely.
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: log,
	}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", logger.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with latency and status.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}
