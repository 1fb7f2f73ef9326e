package findings

import (
	"regexp"
	"strings"
)

// Rules are ordered; the first match wins. CRITICAL outranks VULNERABILITY
// outranks SECRET, so a line carrying several markers classifies by the
// highest-priority one.
var rules = []struct {
	pattern  *regexp.Regexp
	severity string
	ftype    string
}{
	{regexp.MustCompile(`(?i)CRITICAL:\s*(.+)`), SeverityCritical, TypeSecurity},
	{regexp.MustCompile(`(?i)VULNERABILITY:\s*(.+)`), SeverityHigh, TypeSecurity},
	{regexp.MustCompile(`(?i)SECRET\s+(?:FOUND|DETECTED):\s*(.+)`), SeverityCritical, TypeSecurity},
	{regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`), SeverityHigh, TypeSecurity},
	{regexp.MustCompile(`(?i)FINDING:\s*(.+)`), SeverityMedium, TypeSecurity},
	{regexp.MustCompile(`(?i)WARNING:\s*(.+)`), SeverityLow, TypeQuality},
}

// ParseLine attempts to detect a finding in line. Returns nil when the line
// matches no rule. The detecting agent's role is recorded on the finding;
// file, line number, and remediation stay empty at this layer.
func ParseLine(line, taskID, agentRole string) *Finding {
	for _, rule := range rules {
		m := rule.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(line)
		if len(m) > 1 && m[1] != "" {
			title = strings.TrimSpace(m[1])
		}
		return &Finding{
			TaskID:      taskID,
			Type:        rule.ftype,
			Severity:    rule.severity,
			Status:      "open",
			Title:       title,
			Description: strings.TrimSpace(line),
			Agent:       agentRole,
		}
	}
	return nil
}
