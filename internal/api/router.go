// Package api assembles the relay's HTTP surface.
package api

import (
	"net/http"

	"github.com/bhandras/relay/internal/api/handlers"
	"github.com/bhandras/relay/internal/api/middleware"
	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/internal/metrics"
	"github.com/bhandras/relay/internal/policy"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterConfig lists what the router mounts.
type RouterConfig struct {
	// Relay serves GET / (websocket upgrades and the information document).
	Relay gin.HandlerFunc
	// Metrics is exposed on /metrics when set.
	Metrics *metrics.Metrics
	// AllowedOrigins configures CORS for the HTTP API.
	AllowedOrigins []string
	// JWT guards the admin API. The admin API is not mounted when nil.
	JWT       *crypto.JWTManager
	Allowlist policy.Allowlist
	Stats     handlers.StatsSource
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	router.Use(cors.New(corsCfg))
	router.Use(middleware.LoggingMiddleware(cfg.Metrics))

	if cfg.Relay != nil {
		router.GET("/", cfg.Relay)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.JWT != nil {
		admin := handlers.NewAdminHandler(cfg.Allowlist, cfg.Stats)
		group := router.Group("/v1/admin")
		group.Use(middleware.AuthMiddleware(cfg.JWT))
		{
			group.GET("/allowlist", admin.ListAllowlist)
			group.POST("/allowlist", admin.AddAllowlist)
			group.DELETE("/allowlist/:pubkey", admin.RemoveAllowlist)
			group.GET("/stats", admin.GetStats)
		}
	}
	return router
}
