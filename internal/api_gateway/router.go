package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reelforge-backend/internal/api_gateway/handler"
	"github.com/reelforge-backend/internal/api_gateway/middleware"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
)

// handlers groups the HTTP handlers mounted by setupRouter
type handlers struct {
	accounts  *handler.AccountHandler
	jobs      *handler.JobHandler
	artifacts *handler.ArtifactHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, h handlers) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger, healthPath, metricsPath))
	r.Use(middleware.Metrics())
	r.Use(middleware.Recovery(logger))

	v1 := r.Group("/api/v1")
	{
		accounts := v1.Group("/accounts")
		{
			accounts.POST("", h.accounts.Create)
			accounts.GET("/:id", h.accounts.GetByID)
			accounts.GET("/:id/ledger", h.accounts.Ledger)
			accounts.POST("/:id/recharge", h.accounts.Recharge)
			accounts.POST("/:id/adjust", h.accounts.Adjust)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.POST("", h.jobs.Create)
			jobs.GET("/:id", h.jobs.GetByID)
			jobs.POST("/:id/cancel", h.jobs.Cancel)
			jobs.GET("/:id/events", h.jobs.Events)
		}

		if h.artifacts != nil {
			v1.GET("/artifacts/:id", h.artifacts.Download)
		}
	}

	r.GET(healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
}
