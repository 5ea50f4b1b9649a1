package enforcement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cortexgate/cortex/internal/knowledge"
)

const (
	renderedSOPTruncate    = 1000
	renderedMemoryTruncate = 200
	truncationMarker       = "\n...[truncated]"
	maxRenderedSOPs        = 3
	maxMemoriesPerCategory = 5
)

// renderInput bundles everything the payload renderer needs, kept
// separate from enforcement.Outcome so rendering stays a pure function of
// its inputs, easy to test without constructing a full Engine.
type renderInput struct {
	ToolName    string
	RiskLevel   string
	ProjectPath string
	ServiceType string
	HostTarget  string
	CommandType string
	Keywords    []string
	ElapsedMS   int64
	SOPs        []knowledge.SOPMatch
	Memories    []knowledge.MemoryRecord
	Acknowledge bool
}

// render produces the deterministically formatted knowledge payload:
// header, SOP listing, memory listing grouped by category, context
// section, instruction footer, truncated to maxLength.
func render(in renderInput, maxLength int) string {
	var b strings.Builder

	sourceCount := len(in.SOPs) + len(in.Memories)
	fmt.Fprintf(&b, "Tool: %s | Risk: %s | Sources: %d\n\n", in.ToolName, in.RiskLevel, sourceCount)

	if len(in.SOPs) > 0 {
		b.WriteString("Relevant SOPs:\n")
		top := in.SOPs
		if len(top) > maxRenderedSOPs {
			top = top[:maxRenderedSOPs]
		}
		for _, s := range top {
			fmt.Fprintf(&b, "- %s (%s)\n%s\n\n", s.Label, s.Path, truncate(s.Content, renderedSOPTruncate))
		}
	}

	if len(in.Memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, cat := range sortedCategories(in.Memories) {
			b.WriteString(cat + ":\n")
			for _, m := range topByConfidence(in.Memories, cat, maxMemoriesPerCategory) {
				fmt.Fprintf(&b, "- [%.2f] %s\n", m.Confidence, truncate(m.Content, renderedMemoryTruncate))
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Context: project=%s service=%s host=%s command=%s keywords=%s lookup=%dms\n",
		valueOr(in.ProjectPath, "-"), valueOr(in.ServiceType, "-"), valueOr(in.HostTarget, "-"),
		valueOr(in.CommandType, "-"), strings.Join(in.Keywords, ","), in.ElapsedMS)

	if in.Acknowledge {
		b.WriteString("\nThis action is on hold pending acknowledgment of the above before retrying.\n")
	} else {
		b.WriteString("\nThis is informational context for the impending action; no acknowledgment required.\n")
	}

	return truncate(b.String(), maxLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationMarker
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func sortedCategories(memories []knowledge.MemoryRecord) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, m := range memories {
		if !seen[m.Category] {
			seen[m.Category] = true
			cats = append(cats, m.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

func topByConfidence(memories []knowledge.MemoryRecord, category string, limit int) []knowledge.MemoryRecord {
	var matched []knowledge.MemoryRecord
	for _, m := range memories {
		if m.Category == category {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Confidence > matched[j].Confidence })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
