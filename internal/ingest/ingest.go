package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// SyncResult describes the outcome of one CSV sync. CsvPath and RowCount
// identify the exact payload recorded for this version so runs can be driven
// from the same bytes the database saw.
type SyncResult struct {
	VersionID      uint   `json:"version_id"`
	IsNewVersion   bool   `json:"is_new_version"`
	NewCaseIDs     []uint `json:"new_case_ids"`
	ChangedCaseIDs []uint `json:"changed_case_ids"`
	RemovedCaseIDs []uint `json:"removed_case_ids"`
	CsvPath        string `json:"csv_path"`
	RowCount       int    `json:"row_count"`
	Source         string `json:"source"`
}

// casePayload is the normalized case metadata extracted from one CSV row.
type casePayload struct {
	ActionTokenRaw   string
	ActionTokenNorm  string
	Title            string
	Subject          string
	Court            string
	Category         string
	JudgmentDate     string
	SortJudgmentDate string
	CauseNumber      string
	IsCriminal       bool
}

// Syncer fetches remote case listings and maintains the csv_versions and
// cases tables.
type Syncer struct {
	db        *gorm.DB
	logger    *logger.Logger
	client    *http.Client
	dataDir   string
	userAgent string
}

// NewSyncer creates a syncer. The HTTP client timeout covers the whole fetch.
func NewSyncer(db *gorm.DB, log *logger.Logger, dataDir, userAgent string, fetchTimeout time.Duration) *Syncer {
	return &Syncer{
		db:        db,
		logger:    log,
		client:    &http.Client{Timeout: fetchTimeout},
		dataDir:   dataDir,
		userAgent: userAgent,
	}
}

// Sync fetches the listing at sourceURL, records a csv_versions row
// unconditionally, and upserts case rows for the given logical source.
// A version row with valid=false is still recorded when parsing fails after
// a successful fetch.
func (s *Syncer) Sync(ctx context.Context, sourceURL, source string) (*SyncResult, error) {
	sourceNorm := NormalizeSource(source)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build CSV request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/csv, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch CSV: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CSV fetch returned status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV body: %w", err)
	}

	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])
	fetchedAt := time.Now().UTC()

	var latest database.CsvVersion
	isNewVersion := true
	if err := s.db.Where("valid = ?", true).Order("id DESC").First(&latest).Error; err == nil {
		isNewVersion = latest.SHA256 != sha
	}

	csvPath, err := s.saveCsvCopy(content, sha, sourceNorm, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save CSV copy: %w", err)
	}

	version := database.CsvVersion{
		FetchedAt:    fetchedAt,
		SourceURL:    sourceURL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		SHA256:       sha,
		FilePath:     csvPath,
	}

	rows, parseErr := parseRows(content)
	if parseErr == nil {
		parseErr = validateHeaders(rows.headers, sourceNorm)
	}
	if parseErr != nil {
		version.Valid = false
		version.ErrorMessage = parseErr.Error()
		if err := s.db.Create(&version).Error; err != nil {
			s.logger.Error("Failed to record invalid CSV version", "error", err)
		}
		return nil, fmt.Errorf("CSV parse failed: %w", parseErr)
	}

	version.Valid = true
	version.RowCount = len(rows.records)
	if err := s.db.Create(&version).Error; err != nil {
		return nil, fmt.Errorf("failed to record CSV version: %w", err)
	}

	result := &SyncResult{
		VersionID:      version.ID,
		IsNewVersion:   isNewVersion,
		NewCaseIDs:     []uint{},
		ChangedCaseIDs: []uint{},
		RemovedCaseIDs: []uint{},
		CsvPath:        csvPath,
		RowCount:       len(rows.records),
		Source:         sourceNorm,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, record := range rows.records {
			for _, payload := range payloadsForSource(record, sourceNorm, s.logger) {
				if err := s.upsertCase(tx, payload, sourceNorm, version.ID, result); err != nil {
					return err
				}
			}
		}
		return s.deactivateStale(tx, sourceNorm, version.ID, result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cases: %w", err)
	}

	s.logger.Info("CSV sync complete",
		"version_id", result.VersionID,
		"new_version", result.IsNewVersion,
		"source", sourceNorm,
		"rows", result.RowCount,
		"new", len(result.NewCaseIDs),
		"changed", len(result.ChangedCaseIDs),
		"removed", len(result.RemovedCaseIDs),
		"file", csvPath,
	)

	return result, nil
}

func (s *Syncer) upsertCase(tx *gorm.DB, payload casePayload, source string, versionID uint, result *SyncResult) error {
	var existing database.Case
	err := tx.Where("action_token_norm = ? AND source = ?", payload.ActionTokenNorm, source).
		Limit(1).Find(&existing).Error
	if err != nil {
		return err
	}

	if existing.ID == 0 {
		created := database.Case{
			ActionTokenRaw:     payload.ActionTokenRaw,
			ActionTokenNorm:    payload.ActionTokenNorm,
			Title:              payload.Title,
			Subject:            payload.Subject,
			CauseNumber:        payload.CauseNumber,
			Court:              payload.Court,
			Category:           payload.Category,
			JudgmentDate:       payload.JudgmentDate,
			SortJudgmentDate:   payload.SortJudgmentDate,
			IsCriminal:         payload.IsCriminal,
			IsActive:           true,
			Source:             source,
			FirstSeenVersionID: versionID,
			LastSeenVersionID:  versionID,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		result.NewCaseIDs = append(result.NewCaseIDs, created.ID)
		return nil
	}

	changed := existing.Title != payload.Title ||
		existing.Subject != payload.Subject ||
		existing.CauseNumber != payload.CauseNumber ||
		existing.Court != payload.Court ||
		existing.Category != payload.Category ||
		existing.JudgmentDate != payload.JudgmentDate ||
		existing.SortJudgmentDate != payload.SortJudgmentDate ||
		existing.IsCriminal != payload.IsCriminal

	if changed {
		updates := map[string]interface{}{
			"title":                payload.Title,
			"subject":              payload.Subject,
			"cause_number":         payload.CauseNumber,
			"court":                payload.Court,
			"category":             payload.Category,
			"judgment_date":        payload.JudgmentDate,
			"sort_judgment_date":   payload.SortJudgmentDate,
			"is_criminal":          payload.IsCriminal,
			"last_seen_version_id": versionID,
			"is_active":            true,
		}
		if err := tx.Model(&database.Case{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		result.ChangedCaseIDs = append(result.ChangedCaseIDs, existing.ID)
		return nil
	}

	return tx.Model(&database.Case{}).Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"last_seen_version_id": versionID, "is_active": true}).Error
}

// deactivateStale marks previously-active cases of this source that did not
// appear in the new version as inactive, bumping their last_seen so the diff
// query can attribute the removal to this version.
func (s *Syncer) deactivateStale(tx *gorm.DB, source string, versionID uint, result *SyncResult) error {
	var removedIDs []uint
	err := tx.Model(&database.Case{}).
		Where("source = ? AND last_seen_version_id < ? AND is_active = ?", source, versionID, true).
		Pluck("id", &removedIDs).Error
	if err != nil {
		return err
	}
	if len(removedIDs) == 0 {
		return nil
	}

	if err := tx.Model(&database.Case{}).Where("id IN ?", removedIDs).
		Updates(map[string]interface{}{"is_active": false, "last_seen_version_id": versionID}).Error; err != nil {
		return err
	}
	result.RemovedCaseIDs = append(result.RemovedCaseIDs, removedIDs...)
	return nil
}

func (s *Syncer) saveCsvCopy(content []byte, sha, source string, fetchedAt time.Time) (string, error) {
	csvDir := filepath.Join(s.dataDir, "csv")
	if err := os.MkdirAll(csvDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.csv", source, fetchedAt.Format("20060102_150405"), sha[:8])
	path := filepath.Join(csvDir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// csvRows holds the parsed payload: lower-cased header set plus one map per
// data row keyed by the original header names.
type csvRows struct {
	headers []string
	records []map[string]string
}

func parseRows(content []byte) (*csvRows, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("CSV is missing header row")
	}

	headers := all[0]
	rows := &csvRows{headers: headers}
	for _, record := range all[1:] {
		row := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[strings.TrimSpace(header)] = record[i]
			}
		}
		rows.records = append(rows.records, row)
	}
	return rows, nil
}

func validateHeaders(headers []string, source string) error {
	if len(headers) == 0 {
		return fmt.Errorf("CSV is missing header row")
	}

	headerSet := make(map[string]bool, len(headers))
	for _, h := range headers {
		headerSet[strings.ToLower(strings.TrimSpace(h))] = true
	}

	if source == SourcePublicRegisters {
		if headerSet["name"] || headerSet["register"] || headerSet["register type"] {
			return nil
		}
		return fmt.Errorf("CSV missing required public_registers identifying columns")
	}

	if !headerSet["actions"] && !headerSet["action"] {
		return fmt.Errorf("CSV missing required Actions column")
	}
	return nil
}

func payloadsForSource(row map[string]string, source string, log *logger.Logger) []casePayload {
	if source == SourcePublicRegisters {
		return payloadsFromPublicRegistersRow(row, log)
	}
	return payloadsFromUnreportedRow(row)
}

func payloadsFromUnreportedRow(row map[string]string) []casePayload {
	actionsRaw := firstPresent(row, "Actions", "Action")
	if actionsRaw == "" {
		return nil
	}

	title := firstPresent(row, "Title", "Case Title", "Subject")
	subject := firstPresent(row, "Subject")
	if subject == "" {
		subject = title
	}
	court := firstPresent(row, "Court", "Court file")
	category := firstPresent(row, "Category")
	judgmentDate := ParseJudgmentDate(firstPresent(row, "Judgment Date", "Date"))
	causeNumber := firstPresent(row, "Cause Number", "Cause number", "Cause No.", "Cause")

	tokens := SplitActionTokens(actionsRaw)
	if len(tokens) == 0 {
		return nil
	}

	isCriminal := inferIsCriminal(category, subject, title)

	payloads := make([]casePayload, 0, len(tokens))
	for _, token := range tokens {
		payloads = append(payloads, casePayload{
			ActionTokenRaw:   actionsRaw,
			ActionTokenNorm:  token,
			Title:            title,
			Subject:          subject,
			Court:            court,
			Category:         category,
			JudgmentDate:     judgmentDate,
			SortJudgmentDate: judgmentDate,
			CauseNumber:      causeNumber,
			IsCriminal:       isCriminal,
		})
	}
	return payloads
}

func payloadsFromPublicRegistersRow(row map[string]string, log *logger.Logger) []casePayload {
	registerType := firstPresent(row, "RegisterType", "Register Type", "Register", "Type")
	name := firstPresent(row, "Name", "Full Name", "Person", "Entity", "Appointee")
	reference := firstPresent(row,
		"Reference", "Ref", "Number", "Licence", "License", "Licence Number",
		"Registration", "Reg No", "Record")
	dateRaw := firstPresent(row,
		"Date", "Appointment Date", "Effective Date", "Start Date", "Registered Date")

	if name == "" && reference == "" {
		log.Warn("public_registers row missing both name and reference; skipping entry")
		return nil
	}

	tokenParts := []string{registerType, reference}
	if reference == "" {
		tokenParts[1] = name
	}
	tokenNorm := NormalizeActionToken(strings.TrimSpace(strings.Join(tokenParts, " ")))
	if tokenNorm == "" {
		return nil
	}

	subjectParts := make([]string, 0, 3)
	for _, part := range []string{registerType, reference, dateRaw} {
		if part != "" {
			subjectParts = append(subjectParts, part)
		}
	}
	subject := strings.Join(subjectParts, " - ")

	category := registerType
	if category == "" {
		category = "Public Register"
	}

	title := name
	if title == "" {
		title = reference
	}
	if title == "" {
		title = registerType
	}
	if title == "" {
		title = tokenNorm
	}
	if subject == "" {
		subject = title
	}

	judgmentDate := ParseJudgmentDate(dateRaw)

	return []casePayload{{
		ActionTokenRaw:   strings.TrimSpace(strings.Join(tokenParts, " ")),
		ActionTokenNorm:  tokenNorm,
		Title:            title,
		Subject:          subject,
		Court:            "Public Register",
		Category:         category,
		JudgmentDate:     judgmentDate,
		SortJudgmentDate: judgmentDate,
		CauseNumber:      reference,
	}}
}

// inferIsCriminal flags obviously criminal matters from CSV metadata.
func inferIsCriminal(category, subject, title string) bool {
	for _, value := range []string{category, subject, title} {
		if strings.Contains(strings.ToLower(value), "criminal") {
			return true
		}
	}
	return false
}

func firstPresent(row map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(row[key]); value != "" {
			return value
		}
	}
	return ""
}
