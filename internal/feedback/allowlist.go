package feedback

import "strings"

// sourceRule is the implicit-signal allowlist for one advisory source:
// the tool names whose calls are even eligible to count, and the
// keywords one of those calls' arguments must contain to count as
// "acted on". Both checks are required: keyword-only matching is a known
// failure mode that inflates acted-on rates.
type sourceRule struct {
	ToolNames []string
	Keywords  []string
}

// defaultSourceRules covers the advisory sources the SOP pattern table
// and common memory categories produce. Unlisted sources fall back to
// deriveFallbackRule.
var defaultSourceRules = map[string]sourceRule{
	"deployment runbook":        {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"rollback", "preflight", "canary"}},
	"release runbook":           {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"checklist", "release"}},
	"force push safety":         {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"--force-with-lease", "backup-branch"}},
	"database operations":       {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"pg_dump", "backup", "--dry-run"}},
	"migration guide":           {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"migrate", "rollback"}},
	"service restart":           {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"drain", "healthcheck"}},
	"privileged command safety": {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"sudo -l", "confirm"}},
	"destructive filesystem ops": {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"--dry-run", "trash", "backup"}},
	"financial operation safety": {ToolNames: []string{"exec", "write_file"}, Keywords: []string{"confirm", "approval", "dry-run"}},
	"database":     {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"backup", "pg_dump", "--dry-run"}},
	"deployment":   {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"rollback", "canary"}},
	"infrastructure": {ToolNames: []string{"exec", "run_command"}, Keywords: []string{"terraform plan", "dry-run"}},
	"security":     {ToolNames: []string{"exec", "write_file"}, Keywords: []string{"rotate", "revoke"}},
}

// ruleFor looks up the allowlist for an advisory source, falling back to
// a generic rule derived from the source name itself when the table has
// no specific entry.
func ruleFor(source string) sourceRule {
	if r, ok := defaultSourceRules[strings.ToLower(source)]; ok {
		return r
	}
	return deriveFallbackRule(source)
}

// deriveFallbackRule builds a permissive-but-still-scoped rule for a
// source with no table entry: the source's own words as keywords, and
// the generic tool set that can plausibly act on any advisory.
func deriveFallbackRule(source string) sourceRule {
	words := strings.FieldsFunc(strings.ToLower(source), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	return sourceRule{
		ToolNames: []string{"exec", "run_command", "write_file"},
		Keywords:  words,
	}
}
