package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/cache"
	"github.com/TehMM/bailiikc-fetcher/internal/config"
	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/ingest"
	"github.com/TehMM/bailiikc-fetcher/internal/reporting"
	"github.com/TehMM/bailiikc-fetcher/internal/runs"
	"github.com/TehMM/bailiikc-fetcher/internal/worklist"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	cache     cache.Cache
	syncer    *ingest.Syncer
	worklists *worklist.Builder
	reporter  *reporting.Reporter
	runs      *runs.Service
	logger    *logger.Logger
	cfg       *config.Config
}

// NewHandlers creates a new handlers instance
func NewHandlers(db *gorm.DB, cacheService cache.Cache, syncer *ingest.Syncer, log *logger.Logger, cfg *config.Config) *Handlers {
	return &Handlers{
		db:        db,
		cache:     cacheService,
		syncer:    syncer,
		worklists: worklist.NewBuilder(db, log),
		reporter:  reporting.NewReporter(db, log),
		runs:      runs.NewService(db, log),
		logger:    log,
		cfg:       cfg,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	var count int64
	dbHealthy := h.db.Model(&database.Run{}).Count(&count).Error == nil

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealthy,
		"cache":    h.cache.Stats(),
		"time":     time.Now().Unix(),
	})
}

// SyncCSV fetches the remote case listing and upserts cases
func (h *Handlers) SyncCSV(c *gin.Context) {
	var req struct {
		SourceURL string `json:"source_url"`
		Source    string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	sourceURL := req.SourceURL
	if sourceURL == "" {
		sourceURL = h.cfg.CsvSourceURL
	}
	source := ingest.NormalizeSource(req.Source)

	result, err := h.syncer.Sync(c.Request.Context(), sourceURL, source)
	if err != nil {
		h.logger.Error("CSV sync failed", "source_url", sourceURL, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// BuildWorklist returns the cases selected for the given mode and version
func (h *Handlers) BuildWorklist(c *gin.Context) {
	var req struct {
		Mode         string `json:"mode" binding:"required"`
		CsvVersionID uint   `json:"csv_version_id" binding:"required"`
		Source       string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	items, err := h.worklists.Build(req.Mode, req.CsvVersionID, ingest.NormalizeSource(req.Source))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"count":   len(items),
	})
}

// CreateRun opens a new run row for the given mode and CSV version
func (h *Handlers) CreateRun(c *gin.Context) {
	var req struct {
		Trigger      string                 `json:"trigger"`
		Mode         string                 `json:"mode" binding:"required"`
		CsvVersionID uint                   `json:"csv_version_id" binding:"required"`
		TargetSource string                 `json:"target_source"`
		Params       map[string]interface{} `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	switch req.Mode {
	case worklist.ModeFull, worklist.ModeNew, worklist.ModeResume:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unsupported mode: " + req.Mode,
		})
		return
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = runs.TriggerUI
	}

	run, err := h.runs.Create(trigger, req.Mode, req.CsvVersionID, req.TargetSource, req.Params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    run,
	})
}

// CompleteRun finalizes a run, snapshotting its coverage onto the row
func (h *Handlers) CompleteRun(c *gin.Context) {
	runID, ok := h.runIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Status       string `json:"status" binding:"required"`
		ErrorSummary string `json:"error_summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if req.Status != database.RunStatusCompleted && req.Status != database.RunStatusFailed {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unsupported status: " + req.Status,
		})
		return
	}

	coverage, err := h.reporter.GetRunCoverage(runID)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}
	if err := h.runs.Complete(runID, req.Status, req.ErrorSummary, coverage); err != nil {
		h.respondReportingError(c, err)
		return
	}

	// The cached coverage snapshot predates completion.
	h.cache.Delete(cache.RunKey("coverage", runID))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    coverage,
	})
}

// ListRuns returns recent runs
func (h *Handlers) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid limit parameter",
		})
		return
	}

	recent, err := h.reporter.ListRecentRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    recent,
	})
}

// LatestRun returns the most recent run with its download stats
func (h *Handlers) LatestRun(c *gin.Context) {
	runID, ok, err := h.reporter.LatestRunID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "No runs found",
		})
		return
	}

	run, err := h.reporter.GetRunSummary(runID)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}
	summary, err := h.reporter.SummariseDownloadsForRun(runID)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      run,
		"downloads": summary,
	})
}

// RunCoverage returns coverage metrics and the derived health flag
func (h *Handlers) RunCoverage(c *gin.Context) {
	runID, ok := h.runIDParam(c)
	if !ok {
		return
	}

	key := cache.RunKey("coverage", runID)
	if cached, found := h.cache.Get(key); found {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"data":      cached,
			"fromCache": true,
		})
		return
	}

	coverage, err := h.reporter.GetRunCoverage(runID)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}

	h.cache.Set(key, coverage)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      coverage,
		"fromCache": false,
	})
}

// RunSummary returns per-status counts with fail/skip reason histograms
func (h *Handlers) RunSummary(c *gin.Context) {
	runID, ok := h.runIDParam(c)
	if !ok {
		return
	}

	summary, err := h.reporter.SummariseDownloadsForRun(runID)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}

// RunDownloads returns download report rows, optionally filtered by status
func (h *Handlers) RunDownloads(c *gin.Context) {
	runID, ok := h.runIDParam(c)
	if !ok {
		return
	}

	rows, err := h.reporter.GetDownloadRowsForRun(runID, c.Query("status"))
	if err != nil {
		h.respondReportingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
		"count":   len(rows),
	})
}

// RunDownloaded returns successfully downloaded cases for the run
func (h *Handlers) RunDownloaded(c *gin.Context) {
	runID, ok := h.runIDParam(c)
	if !ok {
		return
	}

	cases, err := h.reporter.GetDownloadedCasesForRun(runID)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cases,
		"count":   len(cases),
	})
}

// CsvVersionDiff returns new/removed cases for a CSV version
func (h *Handlers) CsvVersionDiff(c *gin.Context) {
	versionID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid CSV version ID",
		})
		return
	}

	source := ingest.NormalizeSource(c.Query("source"))
	diff, err := h.reporter.GetCaseDiffForCsvVersion(uint(versionID), source)
	if err != nil {
		h.respondReportingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    diff,
	})
}

// CacheStats returns cache statistics
func (h *Handlers) CacheStats(c *gin.Context) {
	stats := h.cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

func (h *Handlers) runIDParam(c *gin.Context) (uint, bool) {
	runID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid run ID",
		})
		return 0, false
	}
	return uint(runID), true
}

func (h *Handlers) respondReportingError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, reporting.ErrRunNotFound) || errors.Is(err, reporting.ErrCsvVersionNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
