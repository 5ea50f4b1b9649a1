package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexgate/cortex/internal/config"
	"github.com/cortexgate/cortex/internal/core"
	"github.com/cortexgate/cortex/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tc := testutil.MustStartDB()
	t.Cleanup(tc.Cleanup)

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{EnforcementLevel: "advisory", MaxLookupMS: 200}
	c, err := core.New(cfg, db, testutil.TestLogger(), core.Deps{})
	require.NoError(t, err)

	return New(c, testutil.TestLogger(), "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("result had no TextContent")
	return ""
}

func TestHandleCheck_PersistsDecisionAndReturnsVerdict(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCheck(context.Background(), toolRequest("cortex_check", map[string]any{
		"tool_name":   "read_file",
		"params_json": `{"path": "/tmp/foo.txt"}`,
		"session_id":  "interactive-session",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "check should succeed: %s", parseToolText(t, result))

	var resp core.CheckResult
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.NotEmpty(t, resp.DecisionID)
}

func TestHandleCheck_MissingToolName(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCheck(context.Background(), toolRequest("cortex_check", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCheck_InvalidParamsJSON(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCheck(context.Background(), toolRequest("cortex_check", map[string]any{
		"tool_name":   "read_file",
		"params_json": "not json",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSetOverride_ThenListActiveAndRevokeAll(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSetOverride(context.Background(), toolRequest("cortex_set_override", map[string]any{
		"category":          "write_file",
		"type":              "granted",
		"reason":            "testing",
		"caller_session_id": "interactive-session",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "set override should succeed: %s", parseToolText(t, result))

	listResult, err := s.handleListActive(context.Background(), toolRequest("cortex_list_active", nil))
	require.NoError(t, err)
	assert.Contains(t, parseToolText(t, listResult), "write_file")

	revokeResult, err := s.handleRevokeAll(context.Background(), toolRequest("cortex_revoke_all", nil))
	require.NoError(t, err)
	assert.Contains(t, parseToolText(t, revokeResult), "write_file")
}

func TestHandleSetOverride_RejectsNonInteractiveCaller(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSetOverride(context.Background(), toolRequest("cortex_set_override", map[string]any{
		"category":          "write_file",
		"type":              "granted",
		"reason":            "testing",
		"caller_session_id": "pipeline-run-42",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecordToolError_ResolvesPendingDecision(t *testing.T) {
	s := newTestServer(t)

	checkResult, err := s.handleCheck(context.Background(), toolRequest("cortex_check", map[string]any{
		"tool_name":   "read_file",
		"params_json": `{"path": "/tmp/out.txt"}`,
		"session_id":  "interactive-session",
	}))
	require.NoError(t, err)
	var resp core.CheckResult
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, checkResult)), &resp))

	result, err := s.handleRecordToolError(context.Background(), toolRequest("cortex_record_tool_error", map[string]any{
		"decision_id": resp.DecisionID,
		"message":     "connection refused",
	}))
	require.NoError(t, err)
	assert.Contains(t, parseToolText(t, result), "true")
}

func TestHandleGenerateReport_RendersNonEmptyText(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGenerateReport(context.Background(), toolRequest("cortex_generate_report", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, parseToolText(t, result))
}
