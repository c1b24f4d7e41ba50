package database

import (
	"fmt"

	"gorm.io/gorm"
)

// createIndexes creates the composite and ordering indexes that AutoMigrate
// does not cover.
func createIndexes(db *gorm.DB) error {
	// Worklist and tracker lookups are always scoped to (run, case).
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_downloads_run_case
		ON downloads(run_id, case_id)
	`).Error; err != nil {
		return fmt.Errorf("failed to create downloads index: %w", err)
	}

	// Recent-run listings order by started_at DESC.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_runs_started_at
		ON runs(started_at DESC)
	`).Error; err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}

	// Case lookups during ingestion are keyed by (source, token).
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cases_source_token
		ON cases(source, action_token_norm)
	`).Error; err != nil {
		return fmt.Errorf("failed to create cases index: %w", err)
	}

	return nil
}
