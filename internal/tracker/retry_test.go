package tracker

import (
	"testing"
	"time"

	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

func TestDecideRetryNonRetryableCodes(t *testing.T) {
	policy := NewRetryPolicy(3, logger.NewNop())

	codes := []string{
		ErrCodeHTTP401, ErrCodeHTTP403, ErrCodeHTTP404, ErrCodeHTTP4xx,
		ErrCodeMalformedPDF, ErrCodeSiteStructure,
		SkipDiskFull, SkipInvalidToken, SkipCsvMiss, SkipWorklistFiltered,
		SkipSeenHistory, SkipAlreadyDownloaded, SkipInRunDup, SkipExistsOK,
		SkipClickTimeout,
	}

	for _, code := range codes {
		for _, attempt := range []int{1, 2, 100} {
			if policy.DecideRetry(code, attempt) {
				t.Errorf("DecideRetry(%q, %d) = true, want false", code, attempt)
			}
		}
	}
}

func TestDecideRetryBoundedForRetryableCodes(t *testing.T) {
	policy := NewRetryPolicy(3, logger.NewNop())

	tests := []struct {
		name    string
		code    string
		attempt int
		want    bool
	}{
		{"Network first attempt", ErrCodeNetwork, 1, true},
		{"Network second attempt", ErrCodeNetwork, 2, true},
		{"Network at limit", ErrCodeNetwork, 3, false},
		{"Network past limit", ErrCodeNetwork, 4, false},
		{"5xx below limit", ErrCodeHTTP5xx, 2, true},
		{"Rate limit below limit", ErrCodeBoxRateLimit, 1, true},
		{"Generic download error below limit", ErrCodeDownload, 2, true},
		{"Generic download error at limit", ErrCodeDownload, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.DecideRetry(tt.code, tt.attempt); got != tt.want {
				t.Errorf("DecideRetry(%q, %d) = %v, want %v", tt.code, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDecideRetryMissingOrUnknownCode(t *testing.T) {
	policy := NewRetryPolicy(3, logger.NewNop())

	if policy.DecideRetry("", 1) {
		t.Error("Missing error code must never retry")
	}
	if policy.DecideRetry("   ", 1) {
		t.Error("Blank error code must never retry")
	}
	if policy.DecideRetry("some_new_code", 1) {
		t.Error("Codes without a defined policy must not retry")
	}
}

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{0, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := ComputeBackoff(tt.attempt); got != tt.want {
			t.Errorf("ComputeBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
