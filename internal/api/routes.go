package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/edudata-io/sis-sync/internal/metrics"
)

// @title SIS Sync API
// @version 1.0
// @description Sync orchestration and bulk ingestion for school information systems
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// SetupRouter configures the API routes
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	// API documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 group
	v1 := r.Group("/api/v1")
	{
		sync := v1.Group("/sync")
		{
			// @Summary Start a sync run
			// @Description Start a sync run for the given tenants, or all active tenants
			// @Tags sync
			// @Accept json
			// @Produce json
			// @Param request body StartSyncRequest true "Run scope"
			// @Success 202 {object} StartSyncResponse
			// @Failure 400 {object} ErrorResponse
			// @Failure 500 {object} ErrorResponse
			// @Router /sync/runs [post]
			sync.POST("/runs", h.StartSync)

			// @Summary List sync runs
			// @Description Get the most recent sync runs, newest first
			// @Tags sync
			// @Accept json
			// @Produce json
			// @Param limit query int false "Number of runs to return" default(20)
			// @Success 200 {array} models.SyncRun
			// @Failure 500 {object} ErrorResponse
			// @Router /sync/runs [get]
			sync.GET("/runs", h.ListRuns)

			// @Summary Get a sync run
			// @Description Get a run's aggregate state and its per-school rows
			// @Tags sync
			// @Accept json
			// @Produce json
			// @Param id path string true "Run ID"
			// @Success 200 {object} RunDetailResponse
			// @Failure 404 {object} ErrorResponse
			// @Failure 500 {object} ErrorResponse
			// @Router /sync/runs/{id} [get]
			sync.GET("/runs/:id", h.GetRun)

			// @Summary Cancel a sync run
			// @Description Fire the cooperative cancellation signal for a running sync
			// @Tags sync
			// @Accept json
			// @Produce json
			// @Param id path string true "Run ID"
			// @Success 202 {object} map[string]string "Cancellation accepted"
			// @Failure 404 {object} ErrorResponse
			// @Router /sync/runs/{id}/cancel [post]
			sync.POST("/runs/:id/cancel", h.CancelRun)
		}
	}

	return r
}
