package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens the SQLite database at dbPath and runs migrations. The
// parent directory is created if missing. The returned handle is shared by
// all components; callers must manage concurrency of multi-statement writes.
func Initialize(dbPath string) (*gorm.DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the baseline tables and indexes. Safe to call
// multiple times.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&CsvVersion{},
		&Case{},
		&Run{},
		&Download{},
		&Event{},
	); err != nil {
		return err
	}
	return createIndexes(db)
}
