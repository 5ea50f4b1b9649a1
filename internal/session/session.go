// Package session classifies the identifier an agent runtime attaches to a
// tool call or a setOverride request as interactive (a human is present and
// watching) or non-interactive (a pipeline stage, subagent, or other
// unattended context).
package session

import "regexp"

// nonInteractivePatterns match a session identifier that indicates no human
// is directly watching the session: pipeline stages, spawned subagents,
// isolated/background workers, and cron-triggered runs. This is the sole
// mechanism preventing an agent from granting itself a privileged override
// by invoking the grant path from within a subordinate session it spawned.
var nonInteractivePatterns = regexp.MustCompile(`(?i)(pipeline|subagent|sub-agent|isolated|background|bg-|cron|scheduled)`)

// IsInteractive reports whether sessionID names an interactive session. An
// empty or unrecognized identifier is treated as interactive by default —
// the non-interactive patterns are a denylist, not an allowlist, so an
// unfamiliar session type doesn't lose legitimate operator access.
func IsInteractive(sessionID string) bool {
	return !nonInteractivePatterns.MatchString(sessionID)
}
