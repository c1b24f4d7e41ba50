package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/ingest"
	"github.com/TehMM/bailiikc-fetcher/internal/worklist"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// Run health classifications derived from coverage metrics.
const (
	HealthOK         = "ok"
	HealthPartial    = "partial"
	HealthFailed     = "failed"
	HealthSuspicious = "suspicious"
)

var (
	// ErrRunNotFound is returned when a requested run id does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrCsvVersionNotFound is returned when a CSV version is missing or invalid.
	ErrCsvVersionNotFound = errors.New("csv version not found or invalid")
)

// RunCoverage aggregates per-run download outcomes against the planned
// worklist, with a derived health flag.
type RunCoverage struct {
	RunID           uint    `json:"run_id"`
	CasesTotal      int     `json:"cases_total"`
	CasesPlanned    int     `json:"cases_planned"`
	CasesAttempted  int     `json:"cases_attempted"`
	CasesDownloaded int     `json:"cases_downloaded"`
	CasesFailed     int     `json:"cases_failed"`
	CasesSkipped    int     `json:"cases_skipped"`
	CoverageRatio   float64 `json:"coverage_ratio"`
	RunHealth       string  `json:"run_health"`
}

// DownloadSummary holds per-status counts plus fail/skip reason histograms
// for one run.
type DownloadSummary struct {
	RunID        uint           `json:"run_id"`
	StatusCounts map[string]int `json:"status_counts"`
	FailReasons  map[string]int `json:"fail_reasons"`
	SkipReasons  map[string]int `json:"skip_reasons"`
}

// DownloadRow is the flattened downloads+cases projection consumed by the
// report UI and CSV export.
type DownloadRow struct {
	ActionsToken     string  `json:"actions_token"`
	Title            string  `json:"title"`
	Subject          string  `json:"subject"`
	Court            string  `json:"court"`
	Category         string  `json:"category"`
	JudgmentDate     string  `json:"judgment_date"`
	SortJudgmentDate string  `json:"sort_judgment_date"`
	CauseNumber      string  `json:"cause_number"`
	Status           string  `json:"status"`
	DownloadedAt     string  `json:"downloaded_at"`
	SavedPath        string  `json:"saved_path"`
	Filename         string  `json:"filename"`
	SizeKB           float64 `json:"size_kb"`
}

// DownloadedCase joins a successful download row with its case metadata.
type DownloadedCase struct {
	DownloadID      uint    `json:"download_id"`
	RunID           uint    `json:"run_id"`
	CaseID          uint    `json:"case_id"`
	Status          string  `json:"status"`
	AttemptCount    int     `json:"attempt_count"`
	FilePath        string  `json:"file_path"`
	FileSizeBytes   *int64  `json:"file_size_bytes"`
	BoxURLLast      string  `json:"box_url_last"`
	ActionTokenRaw  string  `json:"action_token_raw"`
	ActionTokenNorm string  `json:"action_token_norm"`
	Title           string  `json:"title"`
	CauseNumber     string  `json:"cause_number"`
	Court           string  `json:"court"`
	Category        string  `json:"category"`
	JudgmentDate    string  `json:"judgment_date"`
	IsCriminal      bool    `json:"is_criminal"`
	Source          string  `json:"source"`
}

// CaseDiff lists cases introduced and removed by one CSV version.
type CaseDiff struct {
	CsvVersionID uint            `json:"csv_version_id"`
	NewCases     []database.Case `json:"new_cases"`
	RemovedCases []database.Case `json:"removed_cases"`
	NewCount     int             `json:"new_count"`
	RemovedCount int             `json:"removed_count"`
}

// Reporter answers read-side aggregate queries over runs, downloads, and
// cases. It never mutates state.
type Reporter struct {
	db        *gorm.DB
	logger    *logger.Logger
	worklists *worklist.Builder
}

func NewReporter(db *gorm.DB, log *logger.Logger) *Reporter {
	return &Reporter{
		db:        db,
		logger:    log,
		worklists: worklist.NewBuilder(db, log),
	}
}

// LatestRunID returns the id of the most recent run by started_at, if any.
func (r *Reporter) LatestRunID() (uint, bool, error) {
	var run database.Run
	err := r.db.Order("started_at DESC, id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest run: %w", err)
	}
	return run.ID, true, nil
}

// GetRunSummary returns the run row, including any persisted coverage
// snapshot.
func (r *Reporter) GetRunSummary(runID uint) (*database.Run, error) {
	var run database.Run
	err := r.db.First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return &run, nil
}

// ListRecentRuns returns up to limit runs ordered by started_at DESC. The
// limit is capped at 200.
func (r *Reporter) ListRecentRuns(limit int) ([]database.Run, error) {
	if limit <= 0 {
		return []database.Run{}, nil
	}
	if limit > 200 {
		limit = 200
	}

	var runs []database.Run
	err := r.db.Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

type statusCount struct {
	Status string
	Count  int
}

// GetRunCoverage computes coverage metrics and a health classification for
// the run.
func (r *Reporter) GetRunCoverage(runID uint) (*RunCoverage, error) {
	var run database.Run
	err := r.db.First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	source := runSource(run.ParamsJSON)
	mode := strings.ToLower(strings.TrimSpace(run.Mode))

	casesTotal, err := r.countCasesTotal(run.CsvVersionID, source)
	if err != nil {
		return nil, err
	}

	planned, plannedKnown, err := r.countPlannedCases(runID, mode, run.CsvVersionID, source)
	if err != nil {
		return nil, err
	}

	var counts []statusCount
	err = r.db.Model(&database.Download{}).
		Select("status, COUNT(DISTINCT case_id) AS count").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate downloads: %w", err)
	}

	var attempted, downloaded, failed, skipped int
	for _, c := range counts {
		attempted += c.Count
		switch c.Status {
		case database.StatusDownloaded:
			downloaded += c.Count
		case database.StatusFailed:
			failed += c.Count
		case database.StatusSkipped:
			skipped += c.Count
		}
	}

	if !plannedKnown {
		var distinct int64
		err = r.db.Model(&database.Download{}).
			Where("run_id = ?", runID).
			Distinct("case_id").
			Count(&distinct).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count planned downloads: %w", err)
		}
		planned = int(distinct)
	}

	denominator := planned
	if denominator < 1 {
		denominator = 1
	}
	coverageRatio := float64(downloaded) / float64(denominator)

	health := classifyRunHealth(planned, casesTotal, downloaded, failed, attempted, coverageRatio)

	return &RunCoverage{
		RunID:           runID,
		CasesTotal:      casesTotal,
		CasesPlanned:    planned,
		CasesAttempted:  attempted,
		CasesDownloaded: downloaded,
		CasesFailed:     failed,
		CasesSkipped:    skipped,
		CoverageRatio:   coverageRatio,
		RunHealth:       health,
	}, nil
}

func (r *Reporter) countCasesTotal(csvVersionID uint, source string) (int, error) {
	var count int64
	err := r.db.Model(&database.Case{}).
		Where("source = ? AND is_active = ? AND first_seen_version_id <= ? AND last_seen_version_id >= ?",
			source, true, csvVersionID, csvVersionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return int(count), nil
}

// countPlannedCases sizes the worklist for the run's mode. Unknown modes
// report plannedKnown=false so the caller can fall back to the download-row
// count.
func (r *Reporter) countPlannedCases(runID uint, mode string, csvVersionID uint, source string) (int, bool, error) {
	var items []worklist.WorkItem
	var err error
	switch mode {
	case worklist.ModeNew:
		items, err = r.worklists.BuildNew(csvVersionID, source)
	case worklist.ModeFull:
		items, err = r.worklists.BuildFull(csvVersionID, source)
	case worklist.ModeResume:
		items, err = r.worklists.BuildResumeForRun(runID)
	default:
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return len(items), true, nil
}

func classifyRunHealth(planned, casesTotal, downloaded, failed, attempted int, coverageRatio float64) string {
	if planned <= 0 {
		if downloaded == 0 && casesTotal > 0 {
			return HealthSuspicious
		}
		return HealthOK
	}

	if attempted == 0 {
		return HealthSuspicious
	}

	if coverageRatio >= 0.95 && failed == 0 {
		return HealthOK
	}
	if coverageRatio >= 0.6 {
		return HealthPartial
	}
	if coverageRatio < 0.1 && (failed > 0 || attempted == 0) {
		return HealthFailed
	}

	return HealthPartial
}

// SummariseDownloadsForRun returns per-status counts plus fail and skip
// reason histograms for the run.
func (r *Reporter) SummariseDownloadsForRun(runID uint) (*DownloadSummary, error) {
	if err := r.requireRun(runID); err != nil {
		return nil, err
	}

	summary := &DownloadSummary{
		RunID:        runID,
		StatusCounts: map[string]int{},
		FailReasons:  map[string]int{},
		SkipReasons:  map[string]int{},
	}

	var counts []statusCount
	err := r.db.Model(&database.Download{}).
		Select("status, COUNT(*) AS count").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statuses: %w", err)
	}
	for _, c := range counts {
		summary.StatusCounts[c.Status] = c.Count
	}

	type reasonCount struct {
		ErrorCode string
		Count     int
	}

	for status, target := range map[string]map[string]int{
		database.StatusFailed:  summary.FailReasons,
		database.StatusSkipped: summary.SkipReasons,
	} {
		var reasons []reasonCount
		err := r.db.Model(&database.Download{}).
			Select("error_code, COUNT(*) AS count").
			Where("run_id = ? AND status = ?", runID, status).
			Group("error_code").
			Scan(&reasons).Error
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate reasons: %w", err)
		}
		for _, rc := range reasons {
			code := rc.ErrorCode
			if code == "" {
				code = "unknown"
			}
			target[code] = rc.Count
		}
	}

	return summary, nil
}

// GetDownloadedCasesForRun returns successfully downloaded cases joined with
// their metadata.
func (r *Reporter) GetDownloadedCasesForRun(runID uint) ([]DownloadedCase, error) {
	if err := r.requireRun(runID); err != nil {
		return nil, err
	}

	var rows []DownloadedCase
	err := r.db.Model(&database.Download{}).
		Select(`downloads.id AS download_id, downloads.run_id, downloads.case_id,
			downloads.status, downloads.attempt_count, downloads.file_path,
			downloads.file_size_bytes, downloads.box_url_last,
			cases.action_token_raw, cases.action_token_norm, cases.title,
			cases.cause_number, cases.court, cases.category, cases.judgment_date,
			cases.is_criminal, cases.source`).
		Joins("JOIN cases ON cases.id = downloads.case_id").
		Where("downloads.run_id = ? AND downloads.status = ?", runID, database.StatusDownloaded).
		Order("downloads.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query downloaded cases: %w", err)
	}
	if rows == nil {
		rows = []DownloadedCase{}
	}
	return rows, nil
}

// GetDownloadRowsForRun returns report rows for the run, optionally filtered
// by status. A zero runID resolves to the latest run; with no runs at all
// the result is empty.
func (r *Reporter) GetDownloadRowsForRun(runID uint, statusFilter string) ([]DownloadRow, error) {
	if runID == 0 {
		latest, ok, err := r.LatestRunID()
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Info("No runs found when building download rows")
			return []DownloadRow{}, nil
		}
		runID = latest
	}

	type joinedRow struct {
		Status           string
		LastAttemptAt    *string
		FilePath         string
		FileSizeBytes    *int64
		ActionTokenRaw   string
		ActionTokenNorm  string
		Title            string
		CauseNumber      string
		Court            string
		Category         string
		JudgmentDate     string
		SortJudgmentDate string
	}

	query := r.db.Model(&database.Download{}).
		Select(`downloads.status, downloads.last_attempt_at, downloads.file_path,
			downloads.file_size_bytes, cases.action_token_raw, cases.action_token_norm,
			cases.title, cases.cause_number, cases.court, cases.category,
			cases.judgment_date, cases.sort_judgment_date`).
		Joins("JOIN cases ON cases.id = downloads.case_id").
		Where("downloads.run_id = ?", runID)
	if statusFilter != "" {
		query = query.Where("downloads.status = ?", statusFilter)
	}

	var joined []joinedRow
	if err := query.Order("downloads.id ASC").Scan(&joined).Error; err != nil {
		return nil, fmt.Errorf("failed to query download rows: %w", err)
	}

	rows := make([]DownloadRow, 0, len(joined))
	for _, j := range joined {
		token := j.ActionTokenNorm
		if token == "" {
			token = j.ActionTokenRaw
		}
		title := j.Title
		if title == "" {
			title = token
		}
		if title == "" {
			title = j.FilePath
		}

		var filename string
		if j.FilePath != "" {
			filename = filepath.Base(j.FilePath)
		}

		var sizeKB float64
		if j.FileSizeBytes != nil && *j.FileSizeBytes > 0 {
			sizeKB = float64(*j.FileSizeBytes) / 1024.0
		}

		sortDate := j.SortJudgmentDate
		if sortDate == "" {
			sortDate = j.JudgmentDate
		}

		var downloadedAt string
		if j.LastAttemptAt != nil {
			downloadedAt = *j.LastAttemptAt
		}

		rows = append(rows, DownloadRow{
			ActionsToken:     token,
			Title:            title,
			Subject:          j.Title,
			Court:            j.Court,
			Category:         j.Category,
			JudgmentDate:     j.JudgmentDate,
			SortJudgmentDate: sortDate,
			CauseNumber:      j.CauseNumber,
			Status:           j.Status,
			DownloadedAt:     downloadedAt,
			SavedPath:        j.FilePath,
			Filename:         filename,
			SizeKB:           sizeKB,
		})
	}
	return rows, nil
}

// GetCaseDiffForCsvVersion returns the cases introduced and removed by a CSV
// version for the given source. The version must exist and be valid.
func (r *Reporter) GetCaseDiffForCsvVersion(versionID uint, source string) (*CaseDiff, error) {
	var version database.CsvVersion
	err := r.db.First(&version, versionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !version.Valid) {
		return nil, fmt.Errorf("csv version %d: %w", versionID, ErrCsvVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query csv version: %w", err)
	}

	diff := &CaseDiff{CsvVersionID: versionID}

	err = r.db.
		Where("source = ? AND first_seen_version_id = ?", source, versionID).
		Order("id ASC").
		Find(&diff.NewCases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query new cases: %w", err)
	}

	err = r.db.
		Where("source = ? AND last_seen_version_id = ? AND is_active = ?", source, versionID, false).
		Order("id ASC").
		Find(&diff.RemovedCases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query removed cases: %w", err)
	}

	diff.NewCount = len(diff.NewCases)
	diff.RemovedCount = len(diff.RemovedCases)
	return diff, nil
}

func (r *Reporter) requireRun(runID uint) error {
	var count int64
	if err := r.db.Model(&database.Run{}).Where("id = ?", runID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to query run: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

func runSource(paramsJSON string) string {
	var params struct {
		TargetSource string `json:"target_source"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil || params.TargetSource == "" {
		return ingest.DefaultSource
	}
	return ingest.NormalizeSource(params.TargetSource)
}
