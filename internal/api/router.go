// Package api wires together all HTTP routes for the media registry.
//
// Route grouping philosophy:
//   - Asset retrieval routes (content, url, details) are read paths and share
//     the general rate limit.
//   - Mutating routes (upload, delete, move) sit behind the stricter upload
//     rate limit since each one reaches the remote store.
//
// Object ids are free-form paths (they may contain folder prefixes like
// "invoices/3f2a"), so every id-addressed route uses a Gin wildcard segment
// and the handler strips the leading slash Gin leaves on wildcard values.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/media-registry/media-registry/internal/assets"
	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/middleware"
	"github.com/media-registry/media-registry/internal/storage"
)

// BackgroundServices holds references to resources that must be stopped during
// graceful shutdown. The caller (cmd/server) is responsible for calling
// Shutdown() after the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	facade   *assets.Facade
	limiters []middleware.Limiter
}

// Shutdown stops the download pool and releases limiter resources.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.facade != nil {
		if err := bg.facade.Close(); err != nil {
			slog.Warn("asset facade shutdown incomplete", "error", err)
		}
	}
	for _, rl := range bg.limiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router over an already-constructed
// backend and facade. Splitting construction from routing keeps the router
// testable against a fake backend.
func NewRouter(cfg *config.Config, backend storage.Backend, facade *assets.Facade) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())

	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(backend))
	router.GET("/version", versionHandler())

	h := NewHandlers(facade)

	var limiters []middleware.Limiter

	readGroup := router.Group("/v1")
	if cfg.Security.RateLimiting.Enabled {
		generalLimiter := middleware.NewLimiter(cfg)
		limiters = append(limiters, generalLimiter)
		readGroup.Use(middleware.RateLimitMiddleware(generalLimiter))
	}
	{
		readGroup.GET("/content/*id", h.Download)
		readGroup.GET("/url/*id", h.URL)
		readGroup.GET("/signed-url/*id", h.SignedDownloadURL)
		readGroup.GET("/transform-url/*id", h.TransformURL)
		readGroup.GET("/details/*id", h.ResourceDetails)
	}

	writeGroup := router.Group("/v1")
	if cfg.Security.RateLimiting.Enabled {
		uploadLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
		limiters = append(limiters, uploadLimiter)
		writeGroup.Use(middleware.RateLimitMiddleware(uploadLimiter))
	}
	{
		writeGroup.POST("/content", h.Upload)
		writeGroup.DELETE("/content/*id", h.Delete)
		writeGroup.POST("/move/*id", h.Move)
	}

	bg := &BackgroundServices{
		facade:   facade,
		limiters: limiters,
	}

	return router, bg
}

// healthCheckHandler returns the liveness status of the service. The process
// serving requests is the only thing liveness asserts; backend reachability
// belongs to readiness.
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. It probes the
// storage backend with a known-absent sentinel id: a not-found answer proves
// authentication and network connectivity without creating any state, while a
// network-class error fails the gate.
func readinessHandler(backend storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		_, err := backend.AdminLookup(c.Request.Context(), ".readiness-probe", storage.TypeRaw, false)
		if err != nil && !storage.IsNotFound(err) && !storage.IsAccessDenied(err) {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}
