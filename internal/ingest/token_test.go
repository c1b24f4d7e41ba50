package ingest

import (
	"reflect"
	"testing"
)

func TestNormalizeActionToken(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"Plain token", "ACT001", "ACT001"},
		{"Lowercase", "act001", "ACT001"},
		{"Surrounding whitespace", "  ACT001  ", "ACT001"},
		{"Punctuation stripped", "ACT-001/2023", "ACT0012023"},
		{"URL encoded", "ACT%2D001", "ACT001"},
		{"HTML entity", "ACT&amp;001", "ACT001"},
		{"Plus as space", "ACT+001", "ACT001"},
		{"Non-breaking space", "ACT 001", "ACT001"},
		{"Empty", "", ""},
		{"Only punctuation", "-/-", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeActionToken(tt.raw); got != tt.want {
				t.Errorf("NormalizeActionToken(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSplitActionTokens(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"Single token", "ACT001", []string{"ACT001"}},
		{"Pipe separated", "ACT001|ACT002", []string{"ACT001", "ACT002"}},
		{"Mixed separators", "ACT001, ACT002;ACT003", []string{"ACT001", "ACT002", "ACT003"}},
		{"Empty pieces dropped", "ACT001||", []string{"ACT001"}},
		{"Empty input", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitActionTokens(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitActionTokens(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseJudgmentDate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"ISO format", "2023-04-18", "2023-04-18"},
		{"Month name", "2023-Apr-18", "2023-04-18"},
		{"Slash format", "18/04/2023", "2023-04-18"},
		{"Dash month format", "18-Apr-2023", "2023-04-18"},
		{"Digits fallback", "20230418T000000", "2023-04-18"},
		{"Unparseable left as-is", "sometime in April", "sometime in April"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseJudgmentDate(tt.raw); got != tt.want {
				t.Errorf("ParseJudgmentDate(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeSource(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"unreported_judgments", SourceUnreportedJudgments},
		{"public_registers", SourcePublicRegisters},
		{"  Public_Registers ", SourcePublicRegisters},
		{"", SourceUnreportedJudgments},
		{"bogus", SourceUnreportedJudgments},
	}

	for _, tt := range tests {
		if got := NormalizeSource(tt.raw); got != tt.want {
			t.Errorf("NormalizeSource(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
