package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/metrics"
	"github.com/kartikbazzad/catopus/internal/middleware"
)

// RouterConfig holds everything the HTTP API needs.
type RouterConfig struct {
	Queries Queries
	Runner  JobSubmitter
	RunLogs RunLogs
	Scripts Scripts
	Shards  ShardLister
	Logger  *slog.Logger

	CORSOrigin string
	UserHeader string
	RateLimit  int // requests per minute per IP, 0 disables
	Burst      int

	// Health reports whether dependencies are reachable; nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter builds the gin engine serving the API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigin, cfg.UserHeader))

	router.GET("/health", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				log.Warn("health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.Burst))
	api.Use(middleware.OwnerMiddleware(cfg.UserHeader))

	api.GET("/shards", ShardsHandler(cfg.Shards))

	queries := NewQueryHandler(cfg.Queries, log)
	api.POST("/query", queries.Query)
	api.GET("/results", queries.History)
	api.GET("/results/:id", queries.Share)
	api.GET("/results/:id/download", queries.Download)
	api.POST("/results/:id/table", queries.SaveTable)

	remote := NewRemoteHandler(cfg.Runner, cfg.RunLogs, log)
	api.POST("/remote", remote.Start)
	api.GET("/remote", remote.List)
	api.GET("/remote/:id", remote.Get)

	scripts := NewScriptHandler(cfg.Scripts, log)
	api.GET("/scripts", scripts.List)
	api.POST("/scripts", scripts.Save)
	api.DELETE("/scripts/:id", scripts.Delete)

	return router
}
