package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexgate/cortex/internal/core"
	"github.com/cortexgate/cortex/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_check",
			mcplib.WithDescription(`Classify and gate an impending tool call before it runs.

WHEN TO USE: BEFORE calling any tool. Pass the tool name and its arguments
as a JSON object. The response carries a verdict (pass/pause/block), the
resolved tier and category, and an advisory payload when SOPs or prior
memory apply to this call.

If the verdict is "block", do not call the tool. If "pause", wait for a
human to confirm via cortex's separate confirmation channel before
proceeding.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("tool_name",
				mcplib.Description("Name of the tool about to be called, e.g. write_file, deploy, gateway_action."),
				mcplib.Required(),
			),
			mcplib.WithString("params_json",
				mcplib.Description(`The tool's arguments, JSON-encoded as an object. Defaults to "{}".`),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Session identifier. Interactive sessions are held to the same gate as any other call; only setOverride/revokeAll require one."),
			),
			mcplib.WithString("bypass_token",
				mcplib.Description("Optional emergency bypass token issued out-of-band."),
			),
			mcplib.WithString("idempotency_key",
				mcplib.Description("Optional key for retry safety. Same key replays the original verdict instead of re-running the gate."),
			),
		),
		s.handleCheck,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_resolve_outcome",
			mcplib.WithDescription(`Resolve a pending decision's outcome directly.

outcome must be one of: pass, corrected_minor, corrected_significant,
tool_error_internal, tool_error_external, denied.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("decision_id", mcplib.Description("Decision ID returned by cortex_check."), mcplib.Required()),
			mcplib.WithString("outcome", mcplib.Description("One of: pass, corrected_minor, corrected_significant, tool_error_internal, tool_error_external, denied."), mcplib.Required()),
			mcplib.WithString("source", mcplib.Description("Where this resolution came from, e.g. agent, human, sweep.")),
			mcplib.WithString("correction_message", mcplib.Description("Optional human correction text, stored alongside the resolution.")),
		),
		s.handleResolveOutcome,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_record_correction",
			mcplib.WithDescription(`Log a human correction message. If its severity pattern matches, resolves
the most recent eligible pending decision in the same category.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("text", mcplib.Description("The human's correction message, verbatim."), mcplib.Required()),
			mcplib.WithString("category", mcplib.Description("Optional category to scope the match to, e.g. write_file, deploy.")),
		),
		s.handleRecordCorrection,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_record_tool_error",
			mcplib.WithDescription(`Resolve a decision whose tool call failed. internal=true means the
failure was caused by the agent's own action (bad arguments, logic
error); internal=false means an external fault (network, third-party
outage).`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("decision_id", mcplib.Description("Decision ID returned by cortex_check."), mcplib.Required()),
			mcplib.WithString("internal", mcplib.Description(`"true" or "false". Defaults to "false".`)),
			mcplib.WithString("message", mcplib.Description("Error message from the failed tool call.")),
		),
		s.handleRecordToolError,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_confirm_pause",
			mcplib.WithDescription("Approve or deny a pending pause confirmation, on behalf of a human."),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("confirmation_id", mcplib.Description("Confirmation ID attached to the paused decision."), mcplib.Required()),
			mcplib.WithString("approved", mcplib.Description(`"true" or "false".`), mcplib.Required()),
		),
		s.handleConfirmPause,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_set_override",
			mcplib.WithDescription(`Grant or revoke a category-wide autonomy override. Only callable from an
interactive session — rejected if caller_session_id names a pipeline,
subagent, or other non-interactive caller.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("category", mcplib.Description("Category to override, e.g. write_file, deploy, financial_stripe."), mcplib.Required()),
			mcplib.WithString("type", mcplib.Description(`"granted" or "revoked".`), mcplib.Required()),
			mcplib.WithString("reason", mcplib.Description("Why this override is being granted or revoked."), mcplib.Required()),
			mcplib.WithString("caller_session_id", mcplib.Description("The interactive session granting this override."), mcplib.Required()),
			mcplib.WithString("expires_in", mcplib.Description(`Optional duration string, e.g. "2h". Empty means no expiry.`)),
		),
		s.handleSetOverride,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_revoke_all",
			mcplib.WithDescription("Emergency lockdown: deactivates every currently active override."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleRevokeAll,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_list_active",
			mcplib.WithDescription("List every currently active, non-expired override."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListActive,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_generate_report",
			mcplib.WithDescription(`Render the trust score report as plain text. Pass period="weekly" for the
weekly digest; omit or pass "standard" for the current-state report.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("period", mcplib.Description(`"standard" (default) or "weekly".`)),
		),
		s.handleGenerateReport,
	)
}

func (s *Server) handleCheck(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	toolName := request.GetString("tool_name", "")
	if toolName == "" {
		return errorResult("tool_name is required"), nil
	}

	paramsJSON := request.GetString("params_json", "{}")
	var params map[string]any
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return errorResult(fmt.Sprintf("params_json is not valid JSON: %v", err)), nil
		}
	}

	result, err := s.core.Check(ctx, core.CheckRequest{
		ToolName:       toolName,
		Params:         params,
		SessionID:      request.GetString("session_id", ""),
		BypassToken:    request.GetString("bypass_token", ""),
		IdempotencyKey: request.GetString("idempotency_key", ""),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("check failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(result, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleResolveOutcome(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	decisionID := request.GetString("decision_id", "")
	outcomeStr := request.GetString("outcome", "")
	if decisionID == "" || outcomeStr == "" {
		return errorResult("decision_id and outcome are required"), nil
	}

	resolved, err := s.core.ResolveOutcome(ctx, decisionID, model.Outcome(outcomeStr),
		request.GetString("source", "agent"), request.GetString("correction_message", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("resolve outcome failed: %v", err)), nil
	}
	return textResult(fmt.Sprintf(`{"resolved": %t}`, resolved)), nil
}

func (s *Server) handleRecordCorrection(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return errorResult("text is required"), nil
	}

	var category *model.Category
	if c := request.GetString("category", ""); c != "" {
		cat := model.Category(c)
		category = &cat
	}

	resolved, err := s.core.RecordCorrection(ctx, text, category)
	if err != nil {
		return errorResult(fmt.Sprintf("record correction failed: %v", err)), nil
	}
	return textResult(fmt.Sprintf(`{"resolved": %t}`, resolved)), nil
}

func (s *Server) handleRecordToolError(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	decisionID := request.GetString("decision_id", "")
	if decisionID == "" {
		return errorResult("decision_id is required"), nil
	}
	internal := request.GetString("internal", "false") == "true"

	resolved, err := s.core.RecordToolError(ctx, decisionID, internal, request.GetString("message", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("record tool error failed: %v", err)), nil
	}
	return textResult(fmt.Sprintf(`{"resolved": %t}`, resolved)), nil
}

func (s *Server) handleConfirmPause(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	confirmationID := request.GetString("confirmation_id", "")
	approvedStr := request.GetString("approved", "")
	if confirmationID == "" || approvedStr == "" {
		return errorResult("confirmation_id and approved are required"), nil
	}

	if err := s.core.ConfirmPause(ctx, confirmationID, approvedStr == "true"); err != nil {
		return errorResult(fmt.Sprintf("confirm pause failed: %v", err)), nil
	}
	return textResult(`{"ok": true}`), nil
}

func (s *Server) handleSetOverride(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	category := request.GetString("category", "")
	typ := request.GetString("type", "")
	reason := request.GetString("reason", "")
	callerSessionID := request.GetString("caller_session_id", "")
	if category == "" || typ == "" || reason == "" || callerSessionID == "" {
		return errorResult("category, type, reason, and caller_session_id are required"), nil
	}

	override, err := s.core.SetOverride(ctx, model.Category(category), model.OverrideType(typ),
		reason, callerSessionID, request.GetString("expires_in", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("set override failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(override, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleRevokeAll(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	categories, err := s.core.RevokeAll(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("revoke all failed: %v", err)), nil
	}
	resultData, _ := json.MarshalIndent(categories, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleListActive(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	overrides, err := s.core.ListActive(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("list active failed: %v", err)), nil
	}
	resultData, _ := json.MarshalIndent(overrides, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleGenerateReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var (
		report string
		err    error
	)
	if request.GetString("period", "standard") == "weekly" {
		report, err = s.core.WeeklyReport(ctx)
	} else {
		report, err = s.core.GenerateReport(ctx)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("generate report failed: %v", err)), nil
	}
	return textResult(report), nil
}
