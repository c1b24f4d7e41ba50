package ingest

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9]+`)
	digitsRe     = regexp.MustCompile(`[^0-9]`)
	tokenSplitRe = regexp.MustCompile(`[|,;/\\\s]+`)
)

// NormalizeActionToken normalizes a raw Actions token to an uppercase
// alphanumeric string, the primary de-duplication key for cases.
func NormalizeActionToken(raw string) string {
	token := html.UnescapeString(raw)
	if unquoted, err := url.QueryUnescape(strings.ReplaceAll(token, "+", " ")); err == nil {
		token = unquoted
	}
	token = strings.ReplaceAll(token, "\u00a0", " ")
	token = strings.TrimSpace(whitespaceRe.ReplaceAllString(token, " "))
	if token == "" {
		return ""
	}
	token = strings.ToUpper(token)
	return nonAlnumRe.ReplaceAllString(token, "")
}

// SplitActionTokens splits a raw Actions cell into normalized tokens. Cells
// may carry several tokens separated by punctuation or whitespace.
func SplitActionTokens(raw string) []string {
	var tokens []string
	for _, piece := range tokenSplitRe.Split(raw, -1) {
		if norm := NormalizeActionToken(piece); norm != "" {
			tokens = append(tokens, norm)
		}
	}
	return tokens
}

var judgmentDateFormats = []string{
	"2006-01-02",
	"2006-Jan-02",
	"02/01/2006",
	"02-Jan-2006",
}

// ParseJudgmentDate returns a normalized judgment date in YYYY-MM-DD format
// when possible. Unparseable values are returned as-is so no upstream data
// is silently lost.
func ParseJudgmentDate(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}

	for _, format := range judgmentDateFormats {
		if parsed, err := time.Parse(format, candidate); err == nil {
			return parsed.Format("2006-01-02")
		}
	}

	digits := digitsRe.ReplaceAllString(candidate, "")
	if len(digits) >= 8 {
		return digits[:4] + "-" + digits[4:6] + "-" + digits[6:8]
	}

	return candidate
}
