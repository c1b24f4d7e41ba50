package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/cache"
	"github.com/TehMM/bailiikc-fetcher/internal/config"
	"github.com/TehMM/bailiikc-fetcher/internal/ingest"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, cacheService cache.Cache, syncer *ingest.Syncer, log *logger.Logger, cfg *config.Config) {
	h := NewHandlers(db, cacheService, syncer, log, cfg)

	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", h.HealthCheck)

		// Ingestion and worklist selection
		api.POST("/sync", h.SyncCSV)
		api.POST("/worklist", h.BuildWorklist)

		// Run lifecycle
		api.POST("/runs", h.CreateRun)
		api.POST("/runs/:id/complete", h.CompleteRun)

		// Run reporting
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/latest", h.LatestRun)
		api.GET("/runs/:id/coverage", h.RunCoverage)
		api.GET("/runs/:id/summary", h.RunSummary)
		api.GET("/runs/:id/downloads", h.RunDownloads)
		api.GET("/runs/:id/downloaded", h.RunDownloaded)

		// CSV version diffs
		api.GET("/csv-versions/:id/diff", h.CsvVersionDiff)

		// Cache stats
		api.GET("/cache/stats", h.CacheStats)
	}
}
