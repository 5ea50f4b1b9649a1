package outcome

import (
	"regexp"

	"github.com/cortexgate/cortex/internal/model"
)

// significantPatterns indicate a correction serious enough to treat the
// preceding action as having caused real damage.
var significantPatterns = regexp.MustCompile(`(?i)\b(broke|broken|crashed|critical|revert(ed)?|disaster|corrupted)\b|\blost\s+data\b`)

// minorPatterns indicate an ordinary "that's not what I meant" correction.
// Deliberately narrower than a generic negation check: a bare "no" on its
// own is far too common in normal conversation to treat as a trust signal,
// so it is not a member of this set.
var minorPatterns = regexp.MustCompile(`(?i)\b(wrong|not\s+right|undo|redo|incorrect)\b|\bfix\s+that\b|\bbad\s+move\b`)

// Classify maps a human correction message to the resolved outcome it should
// produce, and whether any correction pattern matched at all. Significant
// patterns are checked first: a message naming both ("that broke prod,
// undo it") is the kind of incident the significant outcome value exists
// for.
func classifyCorrection(message string) (model.Outcome, bool) {
	switch {
	case significantPatterns.MatchString(message):
		return model.OutcomeCorrectedSignificant, true
	case minorPatterns.MatchString(message):
		return model.OutcomeCorrectedMinor, true
	default:
		return "", false
	}
}
