package worklist

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/ingest"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// Worklist modes.
const (
	ModeFull   = "full"
	ModeNew    = "new"
	ModeResume = "resume"
)

// WorkItem is a single case selected for processing in a run. It carries
// enough metadata for logging and for the download routine but no runtime
// state.
type WorkItem struct {
	CaseID             uint   `json:"case_id"`
	ActionTokenNorm    string `json:"action_token_norm"`
	ActionTokenRaw     string `json:"action_token_raw"`
	Title              string `json:"title"`
	Court              string `json:"court"`
	Category           string `json:"category"`
	JudgmentDate       string `json:"judgment_date"`
	CauseNumber        string `json:"cause_number"`
	IsCriminal         bool   `json:"is_criminal"`
	IsActive           bool   `json:"is_active"`
	FirstSeenVersionID uint   `json:"first_seen_version_id"`
	LastSeenVersionID  uint   `json:"last_seen_version_id"`
	Source             string `json:"source"`
}

// Builder selects cases to process for a run. It performs no mutation and
// has no side effects beyond logging.
type Builder struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewBuilder(db *gorm.DB, log *logger.Logger) *Builder {
	return &Builder{db: db, logger: log}
}

// Build returns the worklist for the given mode, CSV version, and logical
// source. Unsupported modes return an error.
func (b *Builder) Build(mode string, csvVersionID uint, source string) ([]WorkItem, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeFull:
		return b.BuildFull(csvVersionID, source)
	case ModeNew:
		return b.BuildNew(csvVersionID, source)
	case ModeResume:
		return b.BuildResume(csvVersionID, source)
	default:
		return nil, fmt.Errorf("unsupported worklist mode %q; expected 'full', 'new', or 'resume'", mode)
	}
}

// BuildFull returns all active, non-criminal cases of the source seen in the
// given CSV version.
func (b *Builder) BuildFull(csvVersionID uint, source string) ([]WorkItem, error) {
	items, err := b.selectCases("last_seen_version_id = ?", csvVersionID, source)
	if err != nil {
		return nil, err
	}
	b.logger.Info("Built full worklist", "csv_version_id", csvVersionID, "source", source, "count", len(items))
	return items, nil
}

// BuildNew returns the subset of the full worklist that first appeared in
// the given CSV version.
func (b *Builder) BuildNew(csvVersionID uint, source string) ([]WorkItem, error) {
	items, err := b.selectCases("first_seen_version_id = ?", csvVersionID, source)
	if err != nil {
		return nil, err
	}
	b.logger.Info("Built new worklist", "csv_version_id", csvVersionID, "source", source, "count", len(items))
	return items, nil
}

func (b *Builder) selectCases(versionClause string, csvVersionID uint, source string) ([]WorkItem, error) {
	var cases []database.Case
	err := b.db.
		Where("source = ? AND is_active = ? AND is_criminal = ?", source, true, false).
		Where(versionClause, csvVersionID).
		Order("action_token_norm ASC, id ASC").
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}

	items := make([]WorkItem, 0, len(cases))
	for _, c := range cases {
		items = append(items, caseToWorkItem(c))
	}
	return items, nil
}

// BuildResume resolves the most recent incomplete run for the version and
// source and returns the cases still worth attempting for it. If no suitable
// run exists the worklist is empty with no error.
func (b *Builder) BuildResume(csvVersionID uint, source string) ([]WorkItem, error) {
	runID, ok, err := b.resolveResumeRun(csvVersionID, source)
	if err != nil {
		return nil, err
	}
	if !ok {
		b.logger.Info("No resumable run found", "csv_version_id", csvVersionID, "source", source)
		return []WorkItem{}, nil
	}
	return b.BuildResumeForRun(runID)
}

// BuildResumeForRun returns cases whose most recent download row for the run
// is still pending, failed, or in progress, excluding inactive or criminal
// cases even when a stale download row references them. One item per case,
// ordered by most recent update.
func (b *Builder) BuildResumeForRun(runID uint) ([]WorkItem, error) {
	var downloads []database.Download
	err := b.db.
		Where("run_id = ?", runID).
		Order("updated_at DESC, id DESC").
		Find(&downloads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}

	resumable := map[string]bool{
		database.StatusPending:    true,
		database.StatusFailed:     true,
		database.StatusInProgress: true,
	}

	seen := make(map[uint]bool)
	var caseIDs []uint
	for _, d := range downloads {
		if seen[d.CaseID] {
			continue
		}
		seen[d.CaseID] = true
		if resumable[d.Status] {
			caseIDs = append(caseIDs, d.CaseID)
		}
	}

	if len(caseIDs) == 0 {
		b.logger.Info("Built resume worklist", "run_id", runID, "count", 0)
		return []WorkItem{}, nil
	}

	var cases []database.Case
	err = b.db.
		Where("id IN ? AND is_active = ? AND is_criminal = ?", caseIDs, true, false).
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}

	byID := make(map[uint]database.Case, len(cases))
	for _, c := range cases {
		byID[c.ID] = c
	}

	// Preserve the most-recent-update ordering from the downloads scan.
	items := make([]WorkItem, 0, len(cases))
	for _, id := range caseIDs {
		if c, ok := byID[id]; ok {
			items = append(items, caseToWorkItem(c))
		}
	}

	b.logger.Info("Built resume worklist", "run_id", runID, "count", len(items))
	return items, nil
}

// resolveResumeRun finds the most recent non-completed run for the version
// whose params reference the given source, preferring runs created in resume
// mode.
func (b *Builder) resolveResumeRun(csvVersionID uint, source string) (uint, bool, error) {
	var runs []database.Run
	err := b.db.
		Where("csv_version_id = ? AND status <> ?", csvVersionID, database.RunStatusCompleted).
		Order("started_at DESC, id DESC").
		Find(&runs).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to query runs: %w", err)
	}

	var fallback *database.Run
	for i := range runs {
		run := &runs[i]
		if runTargetSource(run.ParamsJSON) != source {
			continue
		}
		if strings.EqualFold(run.Mode, ModeResume) {
			return run.ID, true, nil
		}
		if fallback == nil {
			fallback = run
		}
	}
	if fallback != nil {
		return fallback.ID, true, nil
	}
	return 0, false, nil
}

// runTargetSource extracts the logical source from a run's params JSON,
// defaulting when absent or unparseable.
func runTargetSource(paramsJSON string) string {
	var params struct {
		TargetSource string `json:"target_source"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil || params.TargetSource == "" {
		return ingest.DefaultSource
	}
	return ingest.NormalizeSource(params.TargetSource)
}

func caseToWorkItem(c database.Case) WorkItem {
	return WorkItem{
		CaseID:             c.ID,
		ActionTokenNorm:    strings.TrimSpace(c.ActionTokenNorm),
		ActionTokenRaw:     strings.TrimSpace(c.ActionTokenRaw),
		Title:              strings.TrimSpace(c.Title),
		Court:              strings.TrimSpace(c.Court),
		Category:           strings.TrimSpace(c.Category),
		JudgmentDate:       strings.TrimSpace(c.JudgmentDate),
		CauseNumber:        strings.TrimSpace(c.CauseNumber),
		IsCriminal:         c.IsCriminal,
		IsActive:           c.IsActive,
		FirstSeenVersionID: c.FirstSeenVersionID,
		LastSeenVersionID:  c.LastSeenVersionID,
		Source:             c.Source,
	}
}
