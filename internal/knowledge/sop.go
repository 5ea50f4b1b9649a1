package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// sopCacheTTL is the TTL applied to cached SOP file loads.
const sopCacheTTL = 30 * time.Minute

// sopRule is one row of the ordered pattern table: a regex matched
// case-insensitively against the JSON-serialized params, mapped to a SOP
// file, a display label, a priority used to order matches, and the
// section names to extract from the file.
type sopRule struct {
	Pattern  *regexp.Regexp
	FilePath string
	Label    string
	Priority int
	Sections []string
}

// sopFallbackChars is the length of the fallback excerpt when none of a
// rule's named sections are found in the file.
const sopFallbackChars = 1500

// sopContentTruncate is the per-SOP truncation applied by the Enforcement
// Engine when rendering a knowledge payload.
const sopContentTruncate = 1000

// defaultSOPRules is the ordered pattern table: service keywords, fleet
// hosts, git verbs, database terms, and deploy/release keywords, each
// routed to a runbook.
var defaultSOPRules = []sopRule{
	{regexp.MustCompile(`(?i)\bdeploy(ment)?\b`), "deploy.md", "Deployment Runbook", 90, []string{"Pre-flight", "Rollback"}},
	{regexp.MustCompile(`(?i)\brelease\b`), "release.md", "Release Runbook", 85, []string{"Checklist"}},
	{regexp.MustCompile(`(?i)\bgit\s+push\s+--force|\bforce-push\b`), "git-force-push.md", "Force Push Safety", 95, []string{"Before you force-push"}},
	{regexp.MustCompile(`(?i)\bgit\s+rebase\b`), "git-rebase.md", "Rebase Guide", 60, nil},
	{regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`), "git-reset.md", "Hard Reset Safety", 80, nil},
	{regexp.MustCompile(`(?i)\bpostgres|postgresql|mysql|database\b`), "database-ops.md", "Database Operations", 80, []string{"Backup first", "Migrations"}},
	{regexp.MustCompile(`(?i)\bmigration\b`), "migrations.md", "Migration Guide", 75, nil},
	{regexp.MustCompile(`(?i)\bsystemctl\s+(stop|restart)\b|\bservice\s+restart\b`), "service-restart.md", "Service Restart", 70, []string{"Impact"}},
	{regexp.MustCompile(`(?i)\bsudo\b`), "privileged-commands.md", "Privileged Command Safety", 65, nil},
	{regexp.MustCompile(`(?i)\bdocker\b`), "docker-ops.md", "Docker Operations", 50, nil},
	{regexp.MustCompile(`(?i)\bkubernetes|k8s|kubectl\b`), "k8s-ops.md", "Kubernetes Operations", 55, []string{"Rollback"}},
	{regexp.MustCompile(`(?i)\bredis\b`), "cache-ops.md", "Cache Operations", 40, nil},
	{regexp.MustCompile(`(?i)\bnginx|apache\b`), "webserver-ops.md", "Web Server Operations", 45, nil},
	{regexp.MustCompile(`(?i)\bssh\s+\S+@`), "remote-access.md", "Remote Access Safety", 55, nil},
	{regexp.MustCompile(`(?i)\brm\s+-rf\b|\bmkfs\b`), "destructive-fs.md", "Destructive Filesystem Ops", 100, []string{"Before you run this"}},
	{regexp.MustCompile(`(?i)\biptables|ufw|firewall\b`), "network-ops.md", "Network Configuration", 60, nil},
	{regexp.MustCompile(`(?i)\bfinancial|payment|stripe|augur\b`), "financial-ops.md", "Financial Operation Safety", 95, []string{"Confirmation required"}},
}

var markdownHeadingPattern = regexp.MustCompile(`(?m)^##\s+(.+)$`)
var keyBlockPattern = regexp.MustCompile(`(?mi)^([A-Za-z0-9_ ]+):\s*$`)

// SOPMatch is one SOP document whose pattern matched the invocation.
type SOPMatch struct {
	Label    string
	Path     string
	Content  string
	Priority int
	Pattern  string
}

// sopMatcher loads SOP files from baseDir, with a TTL cache, honoring
// defaultSOPRules unless rules are overridden for testing.
type sopMatcher struct {
	baseDir string
	rules   []sopRule
	cache   *ttlCache[string]
}

func newSOPMatcher(baseDir string, rules []sopRule) *sopMatcher {
	if rules == nil {
		rules = defaultSOPRules
	}
	return &sopMatcher{baseDir: baseDir, rules: rules, cache: newTTLCache[string](sopCacheTTL)}
}

func (m *sopMatcher) Close() { m.cache.Close() }

// Match returns every SOP whose pattern matches paramsJSON, sorted by
// priority descending. A missing or unreadable SOP file is skipped, not an
// error: logged at debug, entry skipped.
func (m *sopMatcher) Match(paramsJSON string) []SOPMatch {
	var matches []SOPMatch
	for _, rule := range m.rules {
		if !rule.Pattern.MatchString(paramsJSON) {
			continue
		}
		content, err := m.load(rule.FilePath)
		if err != nil {
			continue
		}
		extracted := extractSections(content, rule.Sections)
		matches = append(matches, SOPMatch{
			Label:    rule.Label,
			Path:     rule.FilePath,
			Content:  extracted,
			Priority: rule.Priority,
			Pattern:  rule.Pattern.String(),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Priority > matches[j].Priority })
	return matches
}

func (m *sopMatcher) load(relPath string) (string, error) {
	if cached, ok := m.cache.Get(relPath); ok {
		return cached, nil
	}
	full := filepath.Join(m.baseDir, relPath)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("knowledge: read sop %q: %w", relPath, err)
	}
	content := string(data)
	m.cache.Set(relPath, content)
	return content, nil
}

// extractSections pulls named sections out of content, honoring both
// Markdown headings (## Section) and key-block style (Section: at column
// 0). If none of the requested sections are found, falls back to the
// first sopFallbackChars characters.
func extractSections(content string, sections []string) string {
	if len(sections) == 0 {
		return firstN(content, sopFallbackChars)
	}

	var found []string
	for _, name := range sections {
		if s, ok := extractMarkdownSection(content, name); ok {
			found = append(found, s)
			continue
		}
		if s, ok := extractKeyBlock(content, name); ok {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return firstN(content, sopFallbackChars)
	}
	return strings.Join(found, "\n\n")
}

func extractMarkdownSection(content, name string) (string, bool) {
	locs := markdownHeadingPattern.FindAllStringSubmatchIndex(content, -1)
	for i, loc := range locs {
		heading := strings.TrimSpace(content[loc[2]:loc[3]])
		if !strings.EqualFold(heading, name) {
			continue
		}
		start := loc[1]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		return strings.TrimSpace(content[start:end]), true
	}
	return "", false
}

func extractKeyBlock(content, name string) (string, bool) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if !strings.HasSuffix(trimmed, ":") {
			continue
		}
		key := strings.TrimSuffix(trimmed, ":")
		if !strings.EqualFold(strings.TrimSpace(key), name) {
			continue
		}
		var body []string
		for j := i + 1; j < len(lines); j++ {
			if isKeyBlockHeader(lines[j]) {
				break
			}
			body = append(body, lines[j])
		}
		return strings.TrimSpace(strings.Join(body, "\n")), true
	}
	return "", false
}

// isKeyBlockHeader reports whether line is a new "Section:" header at
// column 0, marking the end of the previous key-block's body.
func isKeyBlockHeader(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	return keyBlockPattern.MatchString(line)
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
