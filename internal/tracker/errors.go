package tracker

// Error codes persisted in downloads.error_code and carried in structured
// events. The taxonomy is internal-only but must stay stable for reporting.
const (
	ErrCodeNetwork       = "network_error"
	ErrCodeHTTP4xx       = "http_4xx"
	ErrCodeHTTP401       = "http_401_unauthorised"
	ErrCodeHTTP403       = "http_403_forbidden"
	ErrCodeHTTP404       = "http_404_not_found"
	ErrCodeHTTP5xx       = "http_5xx"
	ErrCodeBoxRateLimit  = "box_rate_limit"
	ErrCodeMalformedPDF  = "malformed_pdf"
	ErrCodeSiteStructure = "site_structure_changed"
	ErrCodeInternal      = "internal_error"
	ErrCodeDownload      = "download_error"
)

// Permanent-skip codes used by the retry policy only; these never appear in
// the download-error taxonomy above.
const (
	SkipDiskFull          = "disk_full"
	SkipInvalidToken      = "invalid_token"
	SkipCsvMiss           = "csv_miss"
	SkipWorklistFiltered  = "worklist_filtered"
	SkipSeenHistory       = "seen_history"
	SkipAlreadyDownloaded = "already_downloaded"
	SkipInRunDup          = "in_run_dup"
	SkipExistsOK          = "exists_ok"
	SkipClickTimeout      = "click_timeout"
)
