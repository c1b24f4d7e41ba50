package tracker

import (
	"strings"
	"time"

	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// nonRetryableCodes are failures that must never be retried, either because
// they are permanent upstream conditions or logical skips.
var nonRetryableCodes = map[string]bool{
	ErrCodeHTTP401:        true,
	ErrCodeHTTP403:        true,
	ErrCodeHTTP404:        true,
	ErrCodeHTTP4xx:        true,
	ErrCodeMalformedPDF:   true,
	ErrCodeSiteStructure:  true,
	SkipDiskFull:          true,
	SkipInvalidToken:      true,
	SkipCsvMiss:           true,
	SkipWorklistFiltered:  true,
	SkipSeenHistory:       true,
	SkipAlreadyDownloaded: true,
	SkipInRunDup:          true,
	SkipExistsOK:          true,
	SkipClickTimeout:      true,
}

// RetryPolicy is a static classification of error codes into retryable and
// non-retryable, with a bounded attempt limit per retryable class. It is a
// lookup table, not a backoff algorithm.
type RetryPolicy struct {
	limits map[string]int
	logger *logger.Logger
}

// NewRetryPolicy builds a policy where each transient error class is capped
// at maxAttempts.
func NewRetryPolicy(maxAttempts int, log *logger.Logger) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		limits: map[string]int{
			ErrCodeNetwork:      maxAttempts,
			ErrCodeHTTP5xx:      maxAttempts,
			ErrCodeBoxRateLimit: maxAttempts,
			ErrCodeDownload:     maxAttempts,
		},
		logger: log,
	}
}

// DecideRetry reports whether a failed attempt should be retried. attempt is
// the 1-based index of the attempt that just failed. Codes with no defined
// policy are never retried.
func (p *RetryPolicy) DecideRetry(errorCode string, attempt int) bool {
	code := strings.TrimSpace(errorCode)

	if code == "" {
		p.logger.Warn("Retry decision without error code",
			"kind", "missing_error_code", "attempt", attempt, "will_retry", false)
		return false
	}

	if nonRetryableCodes[code] {
		p.logger.Debug("Retry decision",
			"kind", "non_retryable", "error_code", code, "attempt", attempt, "will_retry", false)
		return false
	}

	if limit, ok := p.limits[code]; ok {
		willRetry := attempt < limit
		p.logger.Debug("Retry decision",
			"kind", "retryable", "error_code", code, "attempt", attempt,
			"limit", limit, "will_retry", willRetry)
		return willRetry
	}

	p.logger.Debug("Retry decision",
		"kind", "unknown", "error_code", code, "attempt", attempt, "will_retry", false)
	return false
}

// ComputeBackoff returns a capped exponential backoff for the given 1-based
// attempt index. Delay computation is separate from the retry decision.
func ComputeBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := 1 << uint(attempt-1)
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}
