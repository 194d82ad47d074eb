package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/http/handlers"
	"github.com/sahaib/ftex/internal/http/middleware"

	_ "github.com/sahaib/ftex/docs"
)

func Router(cfg config.Config, h *handlers.Handler, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	if h.Validator == nil {
		h.Validator = validator.New()
	}
	if h.StaleMaxAge <= 0 {
		h.StaleMaxAge = cfg.StaleMaxAge
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/tickets/:id/intelligence", h.TicketIntelligence)
		api.GET("/tickets/:id/analysis", h.TicketAnalysis)
		api.GET("/tickets/:id/pending", h.TicketPending)
		api.GET("/entities", h.EntitiesList)
		api.GET("/entities/:name", h.EntityDetails)
		api.GET("/metrics/dashboard", h.MetricsDashboard)
		api.GET("/metrics/agents", h.MetricsAgents)
		api.GET("/metrics/entities", h.MetricsEntities)
		api.GET("/metrics/ai", h.MetricsAI)
		api.GET("/cache/stats", h.CacheStats)
		api.GET("/runs/latest", h.RunsLatest)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/process", h.Process)
		admin.POST("/metrics/recompute", h.Recompute)
		admin.POST("/tickets/:id/invalidate", h.Invalidate)
		admin.PATCH("/tickets/:id/intelligence", h.PatchIntelligence)
		admin.POST("/cache/stale", h.Stale)
		admin.POST("/cache/clear", h.ClearCache)
		admin.POST("/import", h.Import)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
