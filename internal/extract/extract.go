// Package extract derives contextual features from a raw tool invocation,
// shared by Knowledge Discovery and (as a non-authoritative hint) the
// Enforcement Engine's risk display. It never influences the Classifier's
// tier decision.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// Context is the bag of features derived from one tool invocation.
type Context struct {
	Keywords    []string
	ProjectPath string
	WorkingDir  string
	HostTarget  string
	URLHost     string
	ServiceType string
	CommandType string
	RiskLevel   string // low | medium | high | critical
}

var (
	projectPathPattern = regexp.MustCompile(`/Projects/([^/\s]+)`)
	ipv4Pattern         = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	sshTargetPattern    = regexp.MustCompile(`\bssh\s+(?:-\S+\s+)*([\w.\-]+@[\w.\-]+)`)
	subCommandTools     = map[string]bool{"git": true, "docker": true, "npm": true, "ssh": true}
)

// serviceKeywords maps a lowercase keyword to a normalized service type.
var serviceKeywords = map[string]string{
	"flux":      "comfyui",
	"comfyui":   "comfyui",
	"postgres":  "database",
	"postgresql": "database",
	"mysql":     "database",
	"sqlite":    "database",
	"redis":     "cache",
	"nginx":     "webserver",
	"apache":    "webserver",
	"docker":    "container",
	"kubernetes": "orchestration",
	"k8s":       "orchestration",
}

// riskLadder is checked in order, highest severity first; the first
// matching pattern determines the risk hint.
var riskLadder = []struct {
	pattern *regexp.Regexp
	level   string
}{
	{regexp.MustCompile(`(?i)\brm\s+-rf\b|\bmkfs\b|\bdd\s+if=.*of=/dev/`), "critical"},
	{regexp.MustCompile(`(?i)--force\b|\bpush\s+--force|\bpublish\b|\bsudo\b|\bsystemctl\s+(stop|restart)\b`), "high"},
	{regexp.MustCompile(`(?i)\biptables\b|\bufw\b|\bnetwork\b.*\b(up|down|reset)\b`), "medium"},
}

// Extract derives a Context from a tool invocation. Best-effort: URL
// parsing and other soft failures are swallowed, never surfaced as errors.
func Extract(toolName string, params map[string]any) Context {
	command := str(params, "command")
	action := str(params, "action")
	channel := str(params, "channel")
	path := firstNonEmpty(str(params, "path"), str(params, "file"), str(params, "target"))

	ctx := Context{
		WorkingDir:  firstNonEmpty(str(params, "workdir"), str(params, "cwd")),
		CommandType: primaryVerb(command),
		RiskLevel:   riskLevel(command),
	}

	ctx.Keywords = keywords(toolName, command, action, channel)

	if m := projectPathPattern.FindStringSubmatch(pathFields(params)); m != nil {
		ctx.ProjectPath = m[1]
	}

	ctx.HostTarget = hostTarget(command, params)

	if u := str(params, "targetUrl"); u != "" {
		if parsed, err := url.Parse(u); err == nil {
			ctx.URLHost = parsed.Hostname()
		}
	}

	ctx.ServiceType = serviceType(ctx.Keywords)
	_ = path

	return ctx
}

func str(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func pathFields(params map[string]any) string {
	var b strings.Builder
	for _, key := range []string{"path", "file", "target", "command", "workdir", "cwd"} {
		b.WriteString(str(params, key))
		b.WriteString(" ")
	}
	return b.String()
}

func primaryVerb(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func keywords(toolName, command, action, channel string) []string {
	var kws []string
	seen := map[string]bool{}
	add := func(k string) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		kws = append(kws, k)
	}

	fields := strings.Fields(command)
	if len(fields) > 0 {
		add(fields[0])
		if subCommandTools[strings.ToLower(fields[0])] && len(fields) > 1 {
			add(fields[1])
		}
	}
	add(action)
	add(channel)
	if len(kws) == 0 {
		add(toolName)
	}
	return kws
}

func hostTarget(command string, params map[string]any) string {
	if node := str(params, "node"); node != "" {
		return node
	}
	if m := sshTargetPattern.FindStringSubmatch(command); m != nil {
		return m[1]
	}
	if ip := ipv4Pattern.FindString(command); ip != "" {
		return ip
	}
	return ""
}

func serviceType(keywords []string) string {
	for _, k := range keywords {
		if svc, ok := serviceKeywords[k]; ok {
			return svc
		}
	}
	return ""
}

func riskLevel(command string) string {
	for _, rung := range riskLadder {
		if rung.pattern.MatchString(command) {
			return rung.level
		}
	}
	return "low"
}
