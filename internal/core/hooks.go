package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cortexgate/cortex/internal/classifier"
	"github.com/cortexgate/cortex/internal/enforcement"
	"github.com/cortexgate/cortex/internal/extract"
	"github.com/cortexgate/cortex/internal/knowledge"
	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/outcome"
	"github.com/cortexgate/cortex/internal/override"
)

// CheckRequest is the input to Check: one agent tool invocation about to
// run. BypassToken is optional and only ever honored when an emergency
// bypass token was previously issued via IssueBypassToken.
type CheckRequest struct {
	ToolName    string
	Params      map[string]any
	SessionID   string
	BypassToken string
	// IdempotencyKey, if non-empty, makes Check safe to retry: a repeated
	// call with the same key and tool name replays the first call's
	// CheckResult instead of re-running the gate.
	IdempotencyKey string
}

// CheckResult is the combined verdict Check returns: the Trust Gate's
// pass/pause/block decision plus whatever the Enforcement Engine attached
// on top of it (an advisory or acknowledgment-required knowledge payload).
type CheckResult struct {
	DecisionID      string
	Result          model.GateResult
	Reason          string
	Tier            model.Tier
	Category        model.Category
	Score           float64
	Threshold       float64
	OverrideActive  bool
	KnowledgeBlock  bool   // true when Enforcement requires acknowledgment before proceeding
	BypassActive    bool
	CooldownActive  bool
	EnforcementTier enforcement.Level
	Advisory        string // rendered knowledge payload, empty if none attached
}

// Check runs the full per-tool-call pipeline: context extraction,
// classification + trust-gate verdict + decision persistence, knowledge
// discovery, and enforcement — gate and knowledge discovery both run
// downstream of classify/extract, with enforcement downstream of both.
// When req.IdempotencyKey is set, a duplicate call returns the first
// call's result without re-running any of it.
func (c *Core) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if req.IdempotencyKey != "" {
		return c.checkIdempotent(ctx, req)
	}
	return c.check(ctx, req)
}

func (c *Core) checkIdempotent(ctx context.Context, req CheckRequest) (CheckResult, error) {
	lookup, err := c.db.BeginIdempotency(ctx, req.IdempotencyKey, req.ToolName, c.now())
	if err != nil {
		return CheckResult{}, fmt.Errorf("core: check: idempotency: %w", err)
	}
	if lookup.Completed {
		var replay CheckResult
		if err := json.Unmarshal(lookup.ResponseJSON, &replay); err != nil {
			return CheckResult{}, fmt.Errorf("core: check: idempotency replay: %w", err)
		}
		return replay, nil
	}

	result, err := c.check(ctx, req)
	if err != nil {
		if clearErr := c.db.ClearInProgressIdempotency(ctx, req.IdempotencyKey); clearErr != nil {
			c.logger.Warn("core: clear in-progress idempotency key failed", "error", clearErr)
		}
		return CheckResult{}, err
	}
	if err := c.db.CompleteIdempotency(ctx, req.IdempotencyKey, result.DecisionID, result); err != nil {
		c.logger.Warn("core: complete idempotency record failed", "error", err)
	}
	return result, nil
}

func (c *Core) check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	params := classifier.Params(req.Params)
	extractCtx := extract.Extract(req.ToolName, req.Params)

	gateResult, err := c.gate.Check(ctx, req.ToolName, params, req.SessionID)
	if err != nil {
		return CheckResult{
			Result:   gateResult.Result,
			Reason:   gateResult.Reason,
			Tier:     gateResult.Tier,
			Category: gateResult.Category,
		}, fmt.Errorf("core: check: gate: %w", err)
	}

	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		paramsJSON = []byte("{}")
	}
	knowledgeResult := c.discovery.Discover(ctx, extractCtx.Keywords, string(gateResult.Category), string(paramsJSON))
	enforcementOutcome := c.enforcer.Enforce(req.ToolName, extractCtx, knowledgeResult, req.BypassToken)

	result := CheckResult{
		DecisionID:      gateResult.DecisionID,
		Result:          gateResult.Result,
		Reason:          gateResult.Reason,
		Tier:            gateResult.Tier,
		Category:        gateResult.Category,
		Score:           gateResult.Score,
		Threshold:       gateResult.Threshold,
		OverrideActive:  gateResult.OverrideActive,
		KnowledgeBlock:  enforcementOutcome.Blocked,
		BypassActive:    enforcementOutcome.BypassActive,
		CooldownActive:  enforcementOutcome.CooldownActive,
		EnforcementTier: enforcementOutcome.EffectiveLevel,
		Advisory:        enforcementOutcome.Payload,
	}

	if enforcementOutcome.Payload != "" {
		deliveryID, dErr := c.feedback.Deliver(ctx, string(gateResult.Category), advisoryType(knowledgeResult))
		if dErr != nil {
			c.logger.Warn("core: feedback delivery record failed", "error", dErr)
		} else {
			c.logger.Debug("core: advisory delivered", "delivery_id", deliveryID, "decision_id", gateResult.DecisionID)
		}
	}

	if result.KnowledgeBlock {
		c.notify(
			fmt.Sprintf("knowledge acknowledgment required: %s", req.ToolName),
			enforcementOutcome.Payload,
		)
	}

	return result, nil
}

// advisoryType labels a delivered advisory by its dominant source, used
// only as the Feedback Tracker's (source, advisory_type) key — "sop" when
// any SOP matched, "memory" otherwise.
func advisoryType(r knowledge.Result) string {
	if len(r.SOPs) > 0 {
		return "sop"
	}
	return "memory"
}

// ObserveToolCall forwards a just-executed tool call to the Feedback
// Tracker's implicit-signal path. Callers that run Check and then
// actually execute the tool should call this afterward so advisories the
// agent clearly acted on get credited.
func (c *Core) ObserveToolCall(ctx context.Context, toolName, argsJSON string) (int, error) {
	return c.feedback.ObserveToolCall(ctx, toolName, argsJSON)
}

// ObserveUserText forwards the agent's next user-facing response to the
// Feedback Tracker's explicit-signal path.
func (c *Core) ObserveUserText(ctx context.Context, text string) (int, error) {
	return c.feedback.ObserveUserText(ctx, text)
}

// ResolveOutcome is the raw three-argument resolution the Outcome
// Collector's background sweep also drives, exposed directly for a caller
// that already knows the outcome it wants to record (e.g. a CI pipeline
// reporting a deploy it made failed). Returns false, nil if the decision
// was already resolved.
func (c *Core) ResolveOutcome(ctx context.Context, decisionID string, outcomeVal model.Outcome, source, correctionMessage string) (bool, error) {
	since := c.now()
	resolved, err := c.db.ResolveOutcome(ctx, decisionID, outcomeVal, source, correctionMessage, since)
	if err != nil {
		return false, fmt.Errorf("core: resolve outcome: %w", err)
	}
	if resolved {
		c.notifyMilestones(ctx, since)
	}
	return resolved, nil
}

// RecordCorrection forwards a conversational correction to the Outcome
// Collector. category, when non-nil, scopes the lookback to decisions in
// that category only.
func (c *Core) RecordCorrection(ctx context.Context, text string, category *model.Category) (bool, error) {
	since := c.now()
	resolved, err := c.outcome.RecordCorrection(ctx, text, category)
	if err != nil {
		return false, fmt.Errorf("core: record correction: %w", err)
	}
	if resolved {
		c.notifyMilestones(ctx, since)
	}
	return resolved, nil
}

// RecordToolError forwards a tool-execution failure callback to the
// Outcome Collector.
func (c *Core) RecordToolError(ctx context.Context, decisionID string, internal bool, message string) (bool, error) {
	since := c.now()
	resolved, err := c.outcome.RecordToolError(ctx, decisionID, !internal)
	if err != nil {
		return false, fmt.Errorf("core: record tool error: %w", err)
	}
	if resolved {
		c.notifyMilestones(ctx, since)
	}
	if message != "" {
		c.logger.Info("core: tool error recorded", "decision_id", decisionID, "internal", internal, "message", message)
	}
	return resolved, nil
}

// ConfirmPause resolves a pending `pause` confirmation via the
// administrator's explicit approve/deny decision.
func (c *Core) ConfirmPause(ctx context.Context, confirmationID string, approved bool) error {
	since := c.now()
	if err := c.outcome.ConfirmPause(ctx, confirmationID, approved); err != nil {
		if err == outcome.ErrConfirmationAlreadyResolved {
			return err
		}
		return fmt.Errorf("core: confirm pause: %w", err)
	}
	c.notifyMilestones(ctx, since)
	return nil
}

// SetOverride grants or revokes a category-wide override on behalf of
// callerSessionID.
func (c *Core) SetOverride(ctx context.Context, category model.Category, typ model.OverrideType, reason, callerSessionID, expiresIn string) (model.TrustOverride, error) {
	since := c.now()
	o, err := c.overrides.SetOverride(ctx, category, typ, reason, callerSessionID, expiresIn)
	if err != nil {
		if err == override.ErrSelfEscalation || err == override.ErrRateLimited {
			return model.TrustOverride{}, err
		}
		return model.TrustOverride{}, fmt.Errorf("core: set override: %w", err)
	}
	c.notifyMilestones(ctx, since)
	return o, nil
}

// RevokeAll deactivates every active override, for emergency lockdown.
func (c *Core) RevokeAll(ctx context.Context) ([]model.Category, error) {
	since := c.now()
	categories, err := c.overrides.RevokeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: revoke all: %w", err)
	}
	c.notifyMilestones(ctx, since)
	return categories, nil
}

// ListActive returns every currently active, non-expired override.
func (c *Core) ListActive(ctx context.Context) ([]model.TrustOverride, error) {
	out, err := c.overrides.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: list active: %w", err)
	}
	return out, nil
}

// IssueBypassToken activates a short-lived emergency bypass token via the
// administrative out-of-band channel — never reachable from Check itself.
func (c *Core) IssueBypassToken(token string) {
	c.enforcer.IssueBypassToken(token)
}

// GenerateReport renders the Reporter's standard report as plain text.
func (c *Core) GenerateReport(ctx context.Context) (string, error) {
	report, err := c.report.Standard(ctx)
	if err != nil {
		return "", fmt.Errorf("core: generate report: %w", err)
	}
	return report.Render(), nil
}

// WeeklyReport renders the Reporter's weekly digest as plain text.
func (c *Core) WeeklyReport(ctx context.Context) (string, error) {
	report, err := c.report.Weekly(ctx)
	if err != nil {
		return "", fmt.Errorf("core: weekly report: %w", err)
	}
	return report.Render(), nil
}
