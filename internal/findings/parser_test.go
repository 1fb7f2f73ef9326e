package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineRules(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		severity string
		ftype    string
		title    string
	}{
		{"critical", "CRITICAL: hardcoded admin password in config.py", SeverityCritical, TypeSecurity, "hardcoded admin password in config.py"},
		{"vulnerability", "VULNERABILITY: SQL injection in search handler", SeverityHigh, TypeSecurity, "SQL injection in search handler"},
		{"secret found", "SECRET FOUND: AWS access key in .env", SeverityCritical, TypeSecurity, "AWS access key in .env"},
		{"secret detected", "secret detected: github token in ci.yml", SeverityCritical, TypeSecurity, "github token in ci.yml"},
		{"cve", "dependency lodash affected by CVE-2021-23337", SeverityHigh, TypeSecurity, "dependency lodash affected by CVE-2021-23337"},
		{"finding", "FINDING: missing rate limit on login endpoint", SeverityMedium, TypeSecurity, "missing rate limit on login endpoint"},
		{"warning", "WARNING: deprecated API usage in utils.go", SeverityLow, TypeQuality, "deprecated API usage in utils.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ParseLine(tt.line, "task-1", "devsecops")
			require.NotNil(t, f)
			assert.Equal(t, tt.severity, f.Severity)
			assert.Equal(t, tt.ftype, f.Type)
			assert.Equal(t, tt.title, f.Title)
			assert.Equal(t, "open", f.Status)
			assert.Equal(t, "devsecops", f.Agent)
			assert.Empty(t, f.File)
			assert.Empty(t, f.Remediation)
		})
	}
}

func TestParseLineFirstMatchWins(t *testing.T) {
	// CRITICAL rule sits before WARNING, so a line carrying both markers
	// classifies as critical.
	f := ParseLine("CRITICAL: WARNING: both markers present", "task-1", "tester")
	require.NotNil(t, f)
	assert.Equal(t, SeverityCritical, f.Severity)
}

func TestParseLineNoMatch(t *testing.T) {
	assert.Nil(t, ParseLine("all tests passed", "task-1", "tester"))
	assert.Nil(t, ParseLine("", "task-1", "tester"))
}

func TestStoreRecordAndList(t *testing.T) {
	s := NewStore()
	f := ParseLine("FINDING: weak hashing", "task-9", "devsecops")
	require.NotNil(t, f)
	s.Record(f)

	listed := s.ListByTask("task-9")
	require.Len(t, listed, 1)
	assert.Equal(t, f.ID, listed[0].ID)
	assert.NotEmpty(t, listed[0].ID)
	assert.False(t, listed[0].CreatedAt.IsZero())

	assert.Empty(t, s.ListByTask("task-other"))
}
