// Package enforcement implements the Enforcement Engine: it combines the
// Trust Gate's verdict with a Knowledge Discovery result into one of four
// outcomes — silently allow, allow with advisory injection, block pending
// review, or allow under emergency bypass.
package enforcement

import (
	"time"

	"github.com/cortexgate/cortex/internal/extract"
	"github.com/cortexgate/cortex/internal/knowledge"
)

// Outcome is the structured result of one Enforce call.
type Outcome struct {
	Allow           bool
	Blocked         bool
	BypassActive    bool
	CooldownActive  bool
	EffectiveLevel  Level
	Payload         string // empty unless an injection was attached
}

// Engine owns the process-scoped cooldown map and bypass token set, and
// applies the four-outcome enforcement decision procedure.
type Engine struct {
	level     Level
	cooldown  time.Duration
	maxLength int

	cooldowns *cooldownStore
	bypass    *bypassTokens
	now       func() time.Time
}

// New constructs an Engine. now defaults to time.Now if nil.
func New(level Level, cooldown time.Duration, maxKnowledgeLength int, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		level:     level,
		cooldown:  cooldown,
		maxLength: maxKnowledgeLength,
		cooldowns: newCooldownStore(),
		bypass:    newBypassTokens(),
		now:       now,
	}
}

// IssueBypassToken activates a short-lived (1h) emergency bypass token,
// invoked from the administrative CLI's out-of-band channel.
func (e *Engine) IssueBypassToken(token string) {
	e.bypass.Issue(token, e.now())
}

// Reset clears the cooldown map and bypass token set. Test isolation hook;
// production code should let these live for the process lifetime.
func (e *Engine) Reset() {
	e.cooldowns.Reset()
	e.bypass.Reset()
}

// Enforce applies the four-outcome decision procedure: allow, inject
// knowledge, block pending confirmation, or block outright.
func (e *Engine) Enforce(toolName string, ctx extract.Context, result knowledge.Result, bypassToken string) Outcome {
	if e.level == LevelDisabled {
		return Outcome{Allow: true, EffectiveLevel: LevelDisabled}
	}

	if e.bypass.Active(bypassToken, e.now()) {
		return Outcome{Allow: true, BypassActive: true, EffectiveLevel: e.level}
	}

	sopLabels := make([]string, len(result.SOPs))
	for i, s := range result.SOPs {
		sopLabels[i] = s.Label
	}
	memCategories := make([]string, 0, len(result.Memories))
	seen := make(map[string]bool)
	for _, m := range result.Memories {
		if !seen[m.Category] {
			seen[m.Category] = true
			memCategories = append(memCategories, m.Category)
		}
	}

	key := cooldownKey(toolName, ctx.ProjectPath, ctx.ServiceType, sopLabels, memCategories)
	now := e.now()
	if e.cooldowns.Active(key, now, e.cooldown) {
		return Outcome{Allow: true, CooldownActive: true, EffectiveLevel: e.level}
	}

	if len(result.SOPs) == 0 && len(result.Memories) == 0 {
		return Outcome{Allow: true, EffectiveLevel: e.level}
	}

	effective := e.effectiveLevel(result, memCategories)

	switch effective {
	case LevelAdvisory:
		payload := render(renderInput{
			ToolName: toolName, RiskLevel: ctx.RiskLevel, ProjectPath: ctx.ProjectPath,
			ServiceType: ctx.ServiceType, HostTarget: ctx.HostTarget, CommandType: ctx.CommandType,
			Keywords: ctx.Keywords, ElapsedMS: result.ElapsedMS, SOPs: result.SOPs, Memories: result.Memories,
			Acknowledge: false,
		}, e.maxLength)
		return Outcome{Allow: true, EffectiveLevel: effective, Payload: payload}
	case LevelCategory, LevelStrict:
		payload := render(renderInput{
			ToolName: toolName, RiskLevel: ctx.RiskLevel, ProjectPath: ctx.ProjectPath,
			ServiceType: ctx.ServiceType, HostTarget: ctx.HostTarget, CommandType: ctx.CommandType,
			Keywords: ctx.Keywords, ElapsedMS: result.ElapsedMS, SOPs: result.SOPs, Memories: result.Memories,
			Acknowledge: true,
		}, e.maxLength)
		e.cooldowns.Record(key, now)
		return Outcome{Allow: false, Blocked: true, EffectiveLevel: effective, Payload: payload}
	default:
		return Outcome{Allow: true, EffectiveLevel: effective}
	}
}

// effectiveLevel resolves the level actually applied: when the global level
// is "category", take the maximum per-category level across every memory
// category present, with the presence of any SOP promoting advisory to
// category. Otherwise the effective level is just the configured global
// level.
func (e *Engine) effectiveLevel(result knowledge.Result, memCategories []string) Level {
	if e.level != LevelCategory {
		return e.level
	}

	// Step 4 already guarantees at least one SOP or memory is present by
	// the time this runs, so the baseline is advisory (something was
	// found) and per-category levels or SOP presence only ever raise it.
	effective := LevelAdvisory
	for _, cat := range memCategories {
		effective = maxLevel(effective, levelForCategory(cat))
	}
	if len(result.SOPs) > 0 && effective == LevelAdvisory {
		effective = LevelCategory
	}
	return effective
}
