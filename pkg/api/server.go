// Package api exposes the workflow engine over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowline/flowline/pkg/observability"
)

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// NewRouter assembles the gin engine with the API routes registered under
// /api plus a health endpoint.
func NewRouter(workflowAPI *WorkflowAPI, executionAPI *ExecutionAPI, logger observability.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := router.Group("/api")
	workflowAPI.RegisterRoutes(group)
	executionAPI.RegisterRoutes(group)
	return router
}

// NewServer wraps the router in an http.Server with the configured timeouts.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
