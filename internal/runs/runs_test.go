package runs

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/internal/reporting"
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

func decodeParams(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		t.Fatalf("Params JSON not decodable: %v", err)
	}
	return params
}

func TestCreateNormalizesSource(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, logger.NewNop())

	run, err := svc.Create(TriggerCLI, "new", 1, "  Public_Registers ", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.Status != database.RunStatusRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}
	if run.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	params := decodeParams(t, run.ParamsJSON)
	if params["target_source"] != "public_registers" {
		t.Errorf("target_source = %v, want public_registers", params["target_source"])
	}
}

func TestCreateEmbeddedSourceWins(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, logger.NewNop())

	run, err := svc.Create(TriggerWebhook, "full", 2, "unreported_judgments", map[string]interface{}{
		"target_source": "public_registers",
		"requested_by":  "scheduler",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	params := decodeParams(t, run.ParamsJSON)
	if params["target_source"] != "public_registers" {
		t.Errorf("target_source = %v, embedded value should win", params["target_source"])
	}
	if params["requested_by"] != "scheduler" {
		t.Errorf("Extra params not preserved: %v", params)
	}
}

func TestCreateUnknownSourceFallsBackToDefault(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, logger.NewNop())

	run, err := svc.Create(TriggerUI, "new", 1, "bogus_source", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	params := decodeParams(t, run.ParamsJSON)
	if params["target_source"] != "unreported_judgments" {
		t.Errorf("target_source = %v, want the default source", params["target_source"])
	}
}

func TestCompleteSnapshotsCoverage(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, logger.NewNop())

	run, err := svc.Create(TriggerCLI, "full", 1, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cov := &reporting.RunCoverage{
		RunID:           run.ID,
		CasesTotal:      20,
		CasesPlanned:    20,
		CasesAttempted:  20,
		CasesDownloaded: 12,
		CasesFailed:     5,
		CasesSkipped:    3,
		CoverageRatio:   0.6,
		RunHealth:       reporting.HealthPartial,
	}
	if err := svc.Complete(run.ID, database.RunStatusCompleted, "", cov); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	var stored database.Run
	if err := db.First(&stored, run.ID).Error; err != nil {
		t.Fatalf("Failed to reload run: %v", err)
	}
	if stored.Status != database.RunStatusCompleted {
		t.Errorf("Status = %q, want completed", stored.Status)
	}
	if stored.EndedAt == nil {
		t.Error("EndedAt should be set")
	}
	if stored.CasesDownloaded == nil || *stored.CasesDownloaded != 12 {
		t.Errorf("CasesDownloaded = %v, want 12", stored.CasesDownloaded)
	}
	if stored.CasesPlanned == nil || *stored.CasesPlanned != 20 {
		t.Errorf("CasesPlanned = %v, want 20", stored.CasesPlanned)
	}
	if stored.CoverageRatio == nil || *stored.CoverageRatio != 0.6 {
		t.Errorf("CoverageRatio = %v, want 0.6", stored.CoverageRatio)
	}
	if stored.RunHealth != reporting.HealthPartial {
		t.Errorf("RunHealth = %q, want partial", stored.RunHealth)
	}
}

func TestCompleteWithErrorSummary(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, logger.NewNop())

	run, err := svc.Create(TriggerCLI, "new", 1, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.Complete(run.ID, database.RunStatusFailed, "csv fetch timed out", nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	var stored database.Run
	db.First(&stored, run.ID)
	if stored.Status != database.RunStatusFailed {
		t.Errorf("Status = %q, want failed", stored.Status)
	}
	if stored.ErrorSummary != "csv fetch timed out" {
		t.Errorf("ErrorSummary = %q", stored.ErrorSummary)
	}
	if stored.CasesDownloaded != nil {
		t.Error("Coverage fields should stay unset without a snapshot")
	}
}

func TestCompleteMissingRun(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, logger.NewNop())

	err := svc.Complete(999, database.RunStatusCompleted, "", nil)
	if !errors.Is(err, reporting.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}
