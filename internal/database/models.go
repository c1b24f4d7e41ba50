package database

import (
	"time"
)

// Download statuses persisted in downloads.status.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDownloaded = "downloaded"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
)

// Run statuses persisted in runs.status.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// CsvVersion records one fetched snapshot of a remote case listing. Rows are
// immutable once written; repeated fetches always append a new version even
// when the payload hash is unchanged.
type CsvVersion struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	FetchedAt    time.Time `json:"fetched_at"`
	SourceURL    string    `json:"source_url" gorm:"column:source_url"`
	ETag         string    `json:"etag" gorm:"column:etag"`
	LastModified string    `json:"last_modified"`
	SHA256       string    `json:"sha256" gorm:"column:sha256;index"`
	RowCount     int       `json:"row_count"`
	Valid        bool      `json:"valid"`
	ErrorMessage string    `json:"error_message"`
	FilePath     string    `json:"file_path"`
}

// Case is one judgment/record keyed by its normalized action token within a
// logical source. Uniqueness of (source, token) among active rows is a
// query-time concern, not a schema constraint.
type Case struct {
	ID                 uint   `json:"id" gorm:"primaryKey"`
	ActionTokenRaw     string `json:"action_token_raw"`
	ActionTokenNorm    string `json:"action_token_norm" gorm:"index"`
	Title              string `json:"title"`
	Subject            string `json:"subject"`
	CauseNumber        string `json:"cause_number"`
	Court              string `json:"court"`
	Category           string `json:"category"`
	JudgmentDate       string `json:"judgment_date"`
	SortJudgmentDate   string `json:"sort_judgment_date"`
	IsCriminal         bool   `json:"is_criminal"`
	IsActive           bool   `json:"is_active"`
	Source             string `json:"source" gorm:"index"`
	FirstSeenVersionID uint   `json:"first_seen_version_id"`
	LastSeenVersionID  uint   `json:"last_seen_version_id"`
}

// Run is one scraping attempt. Coverage fields are nil until the run is
// completed, at which point a snapshot of the derived coverage metrics is
// written back onto the row.
type Run struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	StartedAt    time.Time  `json:"started_at" gorm:"index"`
	EndedAt      *time.Time `json:"ended_at"`
	Trigger      string     `json:"trigger"`
	Mode         string     `json:"mode"`
	CsvVersionID uint       `json:"csv_version_id"`
	ParamsJSON   string     `json:"params_json" gorm:"column:params_json"`
	Status       string     `json:"status"`
	ErrorSummary string     `json:"error_summary"`

	CasesTotal      *int     `json:"cases_total"`
	CasesPlanned    *int     `json:"cases_planned"`
	CasesAttempted  *int     `json:"cases_attempted"`
	CasesDownloaded *int     `json:"cases_downloaded"`
	CasesFailed     *int     `json:"cases_failed"`
	CasesSkipped    *int     `json:"cases_skipped"`
	CoverageRatio   *float64 `json:"coverage_ratio"`
	RunHealth       string   `json:"run_health"`
}

// Download is one (run, case) attempt record, created lazily on the first
// attempt and updated in place thereafter. Status "downloaded" is terminal.
type Download struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	RunID         uint       `json:"run_id"`
	CaseID        uint       `json:"case_id"`
	Status        string     `json:"status" gorm:"index"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	FilePath      string     `json:"file_path"`
	FileSizeBytes *int64     `json:"file_size_bytes"`
	BoxURLLast    string     `json:"box_url_last" gorm:"column:box_url_last"`
	ErrorCode     string     `json:"error_code"`
	ErrorMessage  string     `json:"error_message"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Event is an append-only structured diagnostic row, optionally keyed to a
// run and/or case. No invariants.
type Event struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RunID       *uint     `json:"run_id"`
	CaseID      *uint     `json:"case_id"`
	EventType   string    `json:"event_type"`
	PayloadJSON string    `json:"payload_json" gorm:"column:payload_json"`
	CreatedAt   time.Time `json:"created_at"`
}

func (CsvVersion) TableName() string {
	return "csv_versions"
}

func (Case) TableName() string {
	return "cases"
}

func (Run) TableName() string {
	return "runs"
}

func (Download) TableName() string {
	return "downloads"
}

func (Event) TableName() string {
	return "events"
}
