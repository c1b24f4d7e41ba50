package ingest

import "strings"

// Logical sources persisted in cases.source and run params. These are stable
// identifiers; changing them requires a migration path for existing DBs.
const (
	SourceUnreportedJudgments = "unreported_judgments"
	SourcePublicRegisters     = "public_registers"

	DefaultSource = SourceUnreportedJudgments
)

// AllSources lists every known logical source.
var AllSources = []string{SourceUnreportedJudgments, SourcePublicRegisters}

// NormalizeSource maps a raw source string onto a known logical source,
// falling back to the default for unrecognized values.
func NormalizeSource(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	for _, s := range AllSources {
		if cleaned == s {
			return s
		}
	}
	return DefaultSource
}
