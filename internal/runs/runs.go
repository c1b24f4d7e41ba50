package runs

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/ingest"
	"github.com/TehMM/bailiikc-fetcher/internal/reporting"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// Triggers persisted in runs.trigger.
const (
	TriggerUI      = "ui"
	TriggerWebhook = "webhook"
	TriggerCLI     = "cli"
)

// Service creates and completes run rows. Runs are never deleted; completion
// only appends status and a coverage snapshot.
type Service struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewService(db *gorm.DB, log *logger.Logger) *Service {
	return &Service{db: db, logger: log}
}

// Create inserts a running run row with a normalized target_source merged
// into its params JSON. extraParams may carry legacy keys; an explicit
// targetSource wins over any target_source value inside extraParams only
// when the latter is absent.
func (s *Service) Create(trigger, mode string, csvVersionID uint, targetSource string, extraParams map[string]interface{}) (*database.Run, error) {
	params := make(map[string]interface{}, len(extraParams)+1)
	for k, v := range extraParams {
		params[k] = v
	}

	rawSource := targetSource
	if embedded, ok := params["target_source"].(string); ok && embedded != "" {
		rawSource = embedded
	}
	if rawSource != "" {
		params["target_source"] = ingest.NormalizeSource(rawSource)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run params: %w", err)
	}

	run := database.Run{
		StartedAt:    time.Now().UTC(),
		Trigger:      trigger,
		Mode:         mode,
		CsvVersionID: csvVersionID,
		ParamsJSON:   string(paramsJSON),
		Status:       database.RunStatusRunning,
	}
	if err := s.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.Info("Run created",
		"run_id", run.ID, "trigger", trigger, "mode", mode,
		"csv_version_id", csvVersionID, "source", params["target_source"],
	)
	return &run, nil
}

// Complete finalizes a run with the given status, optionally snapshotting
// derived coverage metrics onto the row.
func (s *Service) Complete(runID uint, status, errorSummary string, coverage *reporting.RunCoverage) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"ended_at":      now,
		"status":        status,
		"error_summary": errorSummary,
	}
	if coverage != nil {
		updates["cases_total"] = coverage.CasesTotal
		updates["cases_planned"] = coverage.CasesPlanned
		updates["cases_attempted"] = coverage.CasesAttempted
		updates["cases_downloaded"] = coverage.CasesDownloaded
		updates["cases_failed"] = coverage.CasesFailed
		updates["cases_skipped"] = coverage.CasesSkipped
		updates["coverage_ratio"] = coverage.CoverageRatio
		updates["run_health"] = coverage.RunHealth
	}

	result := s.db.Model(&database.Run{}).Where("id = ?", runID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to complete run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %d: %w", runID, reporting.ErrRunNotFound)
	}

	s.logger.Info("Run completed", "run_id", runID, "status", status)
	return nil
}
