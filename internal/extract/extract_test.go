package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywordsFromGit(t *testing.T) {
	ctx := Extract("exec", map[string]any{"command": "git push --force origin main"})
	assert.Contains(t, ctx.Keywords, "git")
	assert.Contains(t, ctx.Keywords, "push")
	assert.Equal(t, "high", ctx.RiskLevel)
}

func TestExtractProjectPath(t *testing.T) {
	ctx := Extract("read_file", map[string]any{"path": "/Projects/cortex/README.md"})
	assert.Equal(t, "cortex", ctx.ProjectPath)
}

func TestExtractHostFromIP(t *testing.T) {
	ctx := Extract("exec", map[string]any{"command": "ping -c1 10.0.0.5"})
	assert.Equal(t, "10.0.0.5", ctx.HostTarget)
}

func TestExtractHostFromSSH(t *testing.T) {
	ctx := Extract("exec", map[string]any{"command": "ssh deploy@fleet-01.internal uptime"})
	assert.Equal(t, "deploy@fleet-01.internal", ctx.HostTarget)
}

func TestExtractURLHost(t *testing.T) {
	ctx := Extract("web_search", map[string]any{"targetUrl": "https://example.com/path"})
	assert.Equal(t, "example.com", ctx.URLHost)
}

func TestExtractURLHostFailureSwallowed(t *testing.T) {
	ctx := Extract("web_search", map[string]any{"targetUrl": "://not a url"})
	assert.Equal(t, "", ctx.URLHost)
}

func TestExtractServiceType(t *testing.T) {
	ctx := Extract("exec", map[string]any{"command": "docker exec -it postgres psql"})
	assert.Equal(t, "container", ctx.ServiceType)
}

func TestExtractRiskCritical(t *testing.T) {
	ctx := Extract("exec", map[string]any{"command": "rm -rf /var/data"})
	assert.Equal(t, "critical", ctx.RiskLevel)
}

func TestExtractRiskLowDefault(t *testing.T) {
	ctx := Extract("exec", map[string]any{"command": "echo hello"})
	assert.Equal(t, "low", ctx.RiskLevel)
}

func TestExtractFallsBackToToolName(t *testing.T) {
	ctx := Extract("cortex_query", map[string]any{})
	assert.Equal(t, []string{"cortex_query"}, ctx.Keywords)
}
