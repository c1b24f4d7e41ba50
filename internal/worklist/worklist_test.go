package worklist

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/ingest"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

func seedCase(t *testing.T, db *gorm.DB, token string, firstSeen, lastSeen uint, active, criminal bool) database.Case {
	t.Helper()
	c := database.Case{
		ActionTokenRaw:     token,
		ActionTokenNorm:    token,
		Title:              "Case " + token,
		Court:              "Grand Court",
		Source:             ingest.SourceUnreportedJudgments,
		IsActive:           active,
		IsCriminal:         criminal,
		FirstSeenVersionID: firstSeen,
		LastSeenVersionID:  lastSeen,
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("Failed to seed case %s: %v", token, err)
	}
	return c
}

func tokens(items []WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ActionTokenNorm)
	}
	return out
}

func TestBuildFullAndNew(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	// Version 1 introduced A and B; version 2 dropped B and added C.
	seedCase(t, db, "A", 1, 2, true, false)
	seedCase(t, db, "B", 1, 2, false, false)
	seedCase(t, db, "C", 2, 2, true, false)
	// Criminal and foreign-source cases are never selected.
	seedCase(t, db, "D", 2, 2, true, true)
	other := database.Case{
		ActionTokenNorm: "E", ActionTokenRaw: "E",
		Source: ingest.SourcePublicRegisters, IsActive: true,
		FirstSeenVersionID: 2, LastSeenVersionID: 2,
	}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("Failed to seed case E: %v", err)
	}

	tests := []struct {
		name      string
		mode      string
		versionID uint
		want      []string
	}{
		{"Full for version 2", ModeFull, 2, []string{"A", "C"}},
		{"New for version 2", ModeNew, 2, []string{"C"}},
		{"New for version 1", ModeNew, 1, []string{"A"}},
		{"Full for stale version", ModeFull, 1, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := builder.Build(tt.mode, tt.versionID, ingest.SourceUnreportedJudgments)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			got := tokens(items)
			if len(got) != len(tt.want) {
				t.Fatalf("Got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestBuildNewIsSubsetOfFull(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	seedCase(t, db, "A", 1, 3, true, false)
	seedCase(t, db, "B", 3, 3, true, false)
	seedCase(t, db, "C", 2, 3, true, false)

	full, err := builder.BuildFull(3, ingest.SourceUnreportedJudgments)
	if err != nil {
		t.Fatalf("BuildFull failed: %v", err)
	}
	newItems, err := builder.BuildNew(3, ingest.SourceUnreportedJudgments)
	if err != nil {
		t.Fatalf("BuildNew failed: %v", err)
	}

	fullSet := make(map[uint]bool)
	for _, item := range full {
		fullSet[item.CaseID] = true
	}
	for _, item := range newItems {
		if !fullSet[item.CaseID] {
			t.Errorf("New worklist item %s not present in full worklist", item.ActionTokenNorm)
		}
	}
}

func TestBuildUnsupportedMode(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	if _, err := builder.Build("bogus", 1, ingest.SourceUnreportedJudgments); err == nil {
		t.Error("Expected an error for an unsupported mode")
	}
}

func seedDownload(t *testing.T, db *gorm.DB, runID, caseID uint, status string, updatedAt time.Time) {
	t.Helper()
	d := database.Download{
		RunID:     runID,
		CaseID:    caseID,
		Status:    status,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	if err := db.Create(&d).Error; err != nil {
		t.Fatalf("Failed to seed download: %v", err)
	}
	// Pin updated_at past gorm's auto-timestamping for deterministic ordering.
	if err := db.Model(&database.Download{}).Where("id = ?", d.ID).
		UpdateColumn("updated_at", updatedAt).Error; err != nil {
		t.Fatalf("Failed to pin updated_at: %v", err)
	}
}

func TestBuildResume(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	pending := seedCase(t, db, "P", 1, 1, true, false)
	failed := seedCase(t, db, "F", 1, 1, true, false)
	done := seedCase(t, db, "OK", 1, 1, true, false)
	criminal := seedCase(t, db, "CRIM", 1, 1, true, true)
	inactive := seedCase(t, db, "GONE", 1, 0, false, false)

	run := database.Run{
		StartedAt:    time.Now().UTC(),
		Trigger:      "cli",
		Mode:         ModeNew,
		CsvVersionID: 1,
		ParamsJSON:   `{"target_source":"unreported_judgments"}`,
		Status:       database.RunStatusFailed,
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	seedDownload(t, db, run.ID, pending.ID, database.StatusPending, base)
	seedDownload(t, db, run.ID, failed.ID, database.StatusFailed, base.Add(time.Minute))
	seedDownload(t, db, run.ID, done.ID, database.StatusDownloaded, base.Add(2*time.Minute))
	seedDownload(t, db, run.ID, criminal.ID, database.StatusFailed, base.Add(3*time.Minute))
	seedDownload(t, db, run.ID, inactive.ID, database.StatusPending, base.Add(4*time.Minute))

	items, err := builder.BuildResume(1, ingest.SourceUnreportedJudgments)
	if err != nil {
		t.Fatalf("BuildResume failed: %v", err)
	}

	got := tokens(items)
	// Most recent update first; terminal, criminal, and inactive excluded.
	want := []string{"F", "P"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Resume worklist = %v, want %v", got, want)
	}
}

func TestBuildResumeNoSuitableRun(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	// Completed runs are never resumable.
	run := database.Run{
		StartedAt:    time.Now().UTC(),
		Trigger:      "cli",
		Mode:         ModeFull,
		CsvVersionID: 1,
		ParamsJSON:   `{"target_source":"unreported_judgments"}`,
		Status:       database.RunStatusCompleted,
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}

	items, err := builder.BuildResume(1, ingest.SourceUnreportedJudgments)
	if err != nil {
		t.Fatalf("BuildResume failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty worklist, got %d items", len(items))
	}
}

func TestBuildResumePrefersResumeModeRun(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	caseA := seedCase(t, db, "A", 1, 1, true, false)
	caseB := seedCase(t, db, "B", 1, 1, true, false)

	older := database.Run{
		StartedAt:    time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC),
		Trigger:      "cli",
		Mode:         ModeResume,
		CsvVersionID: 1,
		ParamsJSON:   `{"target_source":"unreported_judgments"}`,
		Status:       database.RunStatusFailed,
	}
	newer := database.Run{
		StartedAt:    time.Date(2023, 5, 1, 11, 0, 0, 0, time.UTC),
		Trigger:      "cli",
		Mode:         ModeNew,
		CsvVersionID: 1,
		ParamsJSON:   `{"target_source":"unreported_judgments"}`,
		Status:       database.RunStatusFailed,
	}
	if err := db.Create(&older).Error; err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}
	if err := db.Create(&newer).Error; err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}

	now := time.Now().UTC()
	seedDownload(t, db, older.ID, caseA.ID, database.StatusFailed, now)
	seedDownload(t, db, newer.ID, caseB.ID, database.StatusFailed, now)

	items, err := builder.BuildResume(1, ingest.SourceUnreportedJudgments)
	if err != nil {
		t.Fatalf("BuildResume failed: %v", err)
	}
	if len(items) != 1 || items[0].CaseID != caseA.ID {
		t.Errorf("Expected the resume-mode run's case, got %v", tokens(items))
	}
}

func TestBuildResumeFiltersSource(t *testing.T) {
	db := setupTestDB(t)
	builder := NewBuilder(db, logger.NewNop())

	c := seedCase(t, db, "A", 1, 1, true, false)

	run := database.Run{
		StartedAt:    time.Now().UTC(),
		Trigger:      "cli",
		Mode:         ModeNew,
		CsvVersionID: 1,
		ParamsJSON:   `{"target_source":"public_registers"}`,
		Status:       database.RunStatusFailed,
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}
	seedDownload(t, db, run.ID, c.ID, database.StatusFailed, time.Now().UTC())

	items, err := builder.BuildResume(1, ingest.SourceUnreportedJudgments)
	if err != nil {
		t.Fatalf("BuildResume failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Run for another source should not be resumed, got %v", tokens(items))
	}
}
