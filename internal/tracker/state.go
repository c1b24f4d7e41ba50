package tracker

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// Tracker owns the per-(run, case) download state machine backed by the
// downloads table.
//
// States: pending -> in_progress -> {downloaded, failed, skipped}. A case
// that failed or was skipped may be retried through Start, which moves it
// back to in_progress. Once a row reaches downloaded no further transition
// is permitted.
type Tracker struct {
	db     *gorm.DB
	logger *logger.Logger
}

func New(db *gorm.DB, log *logger.Logger) *Tracker {
	return &Tracker{db: db, logger: log}
}

// CaseDownloadState is the in-memory view of one (run, case) download row.
// A nil CaseID means the case could not be resolved against the index; such
// states are tracked through events only and never persisted.
type CaseDownloadState struct {
	RunID        uint
	CaseID       *uint
	Status       string
	AttemptCount int
	DownloadID   *uint

	tracker *Tracker
}

// Load returns the current state for (runID, caseID), creating a pending row
// if none exists yet.
func (t *Tracker) Load(runID uint, caseID *uint) (*CaseDownloadState, error) {
	if caseID == nil {
		return &CaseDownloadState{
			RunID:   runID,
			Status:  database.StatusPending,
			tracker: t,
		}, nil
	}

	row, err := t.ensureDownloadRow(runID, *caseID)
	if err != nil {
		return nil, err
	}
	return t.stateFromRow(runID, caseID, row), nil
}

// Start records a new download attempt: it idempotently ensures a row
// exists, refuses the transition if the row is already downloaded, and
// otherwise increments the attempt count and moves to in_progress,
// persisting the Box URL used for this attempt.
func (t *Tracker) Start(runID uint, caseID *uint, boxURL string) (*CaseDownloadState, error) {
	state, err := t.Load(runID, caseID)
	if err != nil {
		return nil, err
	}
	if caseID == nil {
		return state, nil
	}

	if !state.canTransition(database.StatusInProgress) {
		return state, nil
	}

	fromStatus := state.Status
	attempt := state.AttemptCount + 1
	now := time.Now().UTC()

	err = t.db.Model(&database.Download{}).
		Where("run_id = ? AND case_id = ?", runID, *caseID).
		Updates(map[string]interface{}{
			"status":          database.StatusInProgress,
			"attempt_count":   attempt,
			"last_attempt_at": now,
			"box_url_last":    boxURL,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to start download attempt: %w", err)
	}

	state.Status = database.StatusInProgress
	state.AttemptCount = attempt

	t.emitEvent("state", &runID, caseID, map[string]interface{}{
		"download_id": state.DownloadID,
		"from_status": fromStatus,
		"to_status":   state.Status,
		"attempt":     attempt,
		"box_url":     boxURL,
	})
	return state, nil
}

// MarkDownloaded records terminal success for this case. Already-downloaded
// rows are left untouched.
func (s *CaseDownloadState) MarkDownloaded(filePath string, fileSizeBytes int64, boxURL string) error {
	return s.markResult(database.StatusDownloaded, resultFields{
		filePath:      filePath,
		fileSizeBytes: &fileSizeBytes,
		boxURL:        boxURL,
	})
}

// MarkSkipped records a permanent skip for this attempt. The reason is
// persisted in the error_code column.
func (s *CaseDownloadState) MarkSkipped(reason string) error {
	return s.markResult(database.StatusSkipped, resultFields{reason: reason})
}

// MarkFailed records a failed attempt. An empty error code is recorded as
// internal_error so the row still explains itself.
func (s *CaseDownloadState) MarkFailed(errorCode, errorMessage string) error {
	if errorCode == "" {
		errorCode = ErrCodeInternal
	}
	return s.markResult(database.StatusFailed, resultFields{
		errorCode:    errorCode,
		errorMessage: errorMessage,
	})
}

type resultFields struct {
	filePath      string
	fileSizeBytes *int64
	boxURL        string
	errorCode     string
	errorMessage  string
	reason        string
}

func (s *CaseDownloadState) markResult(targetStatus string, fields resultFields) error {
	if !s.canTransition(targetStatus) {
		return nil
	}

	if s.CaseID == nil {
		reason := fields.reason
		if reason == "" {
			reason = fields.errorCode
		}
		if reason == "" {
			reason = "no_case_id"
		}
		s.tracker.emitEvent("state", &s.RunID, nil, map[string]interface{}{
			"from_status": s.Status,
			"to_status":   targetStatus,
			"reason":      reason,
		})
		return nil
	}

	fromStatus := s.Status
	now := time.Now().UTC()

	errorCode := fields.errorCode
	if errorCode == "" {
		errorCode = fields.reason
	}

	updates := map[string]interface{}{
		"status":          targetStatus,
		"attempt_count":   s.AttemptCount,
		"last_attempt_at": now,
	}
	if fields.filePath != "" {
		updates["file_path"] = fields.filePath
	}
	if fields.fileSizeBytes != nil {
		updates["file_size_bytes"] = *fields.fileSizeBytes
	}
	if fields.boxURL != "" {
		updates["box_url_last"] = fields.boxURL
	}
	if errorCode != "" {
		updates["error_code"] = errorCode
	}
	if fields.errorMessage != "" {
		updates["error_message"] = fields.errorMessage
	}

	err := s.tracker.db.Model(&database.Download{}).
		Where("run_id = ? AND case_id = ?", s.RunID, *s.CaseID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to record download result: %w", err)
	}

	s.Status = targetStatus

	payload := map[string]interface{}{
		"download_id": s.DownloadID,
		"from_status": fromStatus,
		"to_status":   targetStatus,
		"attempt":     s.AttemptCount,
	}
	if fields.filePath != "" {
		payload["file_path"] = fields.filePath
	}
	if fields.fileSizeBytes != nil {
		payload["file_size_bytes"] = *fields.fileSizeBytes
	}
	if fields.reason != "" {
		payload["reason"] = fields.reason
	}
	if fields.errorCode != "" {
		payload["error_code"] = fields.errorCode
	}
	if fields.errorMessage != "" {
		payload["error_message"] = fields.errorMessage
	}
	if fields.boxURL != "" {
		payload["box_url_last"] = fields.boxURL
	}
	s.tracker.emitEvent("state", &s.RunID, s.CaseID, payload)
	return nil
}

// canTransition enforces the single hard invariant: downloaded is terminal.
func (s *CaseDownloadState) canTransition(target string) bool {
	if s.Status == database.StatusDownloaded && target != database.StatusDownloaded {
		s.tracker.logger.Warn("Refusing transition out of downloaded",
			"run_id", s.RunID,
			"case_id", s.CaseID,
			"current_status", s.Status,
			"attempted_status", target,
		)
		s.tracker.emitEvent("error", &s.RunID, s.CaseID, map[string]interface{}{
			"download_id":      s.DownloadID,
			"current_status":   s.Status,
			"attempted_status": target,
			"error":            "invalid_transition_after_download",
		})
		return false
	}
	return true
}

// ensureDownloadRow finds or lazily creates the downloads row for the pair.
func (t *Tracker) ensureDownloadRow(runID, caseID uint) (*database.Download, error) {
	var row database.Download
	err := t.db.
		Where(database.Download{RunID: runID, CaseID: caseID}).
		Attrs(database.Download{Status: database.StatusPending}).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure download row: %w", err)
	}
	return &row, nil
}

func (t *Tracker) stateFromRow(runID uint, caseID *uint, row *database.Download) *CaseDownloadState {
	downloadID := row.ID
	return &CaseDownloadState{
		RunID:        runID,
		CaseID:       caseID,
		Status:       row.Status,
		AttemptCount: row.AttemptCount,
		DownloadID:   &downloadID,
		tracker:      t,
	}
}
