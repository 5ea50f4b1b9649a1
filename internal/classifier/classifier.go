// Package classifier maps a tool invocation to a risk tier and category.
//
// Classify is a pure function: identical (tool, params) always yields an
// identical result, and it performs no I/O. The rule table is matched in
// order, first hit wins, with tier-4 financial patterns screened before any
// other rule so a compound command cannot smuggle a financial action past a
// read-only shortcut.
package classifier

import (
	"regexp"
	"strings"

	"github.com/cortexgate/cortex/internal/model"
)

// Params is the untyped, string-keyed bag of primitive tool arguments
// crossing the agent-runtime boundary. Tool-specific shapes are projected
// out of it here and in internal/extract, never carried as a typed struct
// across that boundary.
type Params map[string]any

// Result is the outcome of a single classification.
type Result struct {
	Tier     model.Tier
	Category model.Category
}

// rule is one entry in the ordered table. A nil matcher field means "don't
// constrain on this field" — every non-nil field present on the rule must
// match for the rule to fire.
type rule struct {
	tool     string         // exact tool name match, empty = any
	action   *regexp.Regexp // matches params["action"]
	command  *regexp.Regexp // matches params["command"]
	path     *regexp.Regexp // matches params["path"]
	result   Result
}

func str(p Params, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// readOnlyCommandPrefixes is the allowlist of clearly-observational exec
// prefixes that may promote a tier-2 default to tier 1. Checked only after
// the tier-4 screen below finds nothing.
var readOnlyCommandPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`^\s*ls\b`),
	regexp.MustCompile(`^\s*cat\b`),
	regexp.MustCompile(`^\s*grep\b`),
	regexp.MustCompile(`^\s*head\b`),
	regexp.MustCompile(`^\s*tail\b`),
	regexp.MustCompile(`^\s*pwd\b`),
	regexp.MustCompile(`^\s*echo\b`),
	regexp.MustCompile(`^\s*git\s+(status|log|diff|show|branch)\b`),
	regexp.MustCompile(`^\s*ps\b`),
	regexp.MustCompile(`^\s*df\b`),
	regexp.MustCompile(`^\s*whoami\b`),
}

// tier4CommandPatterns are screened first and unanchored — they must match
// anywhere in the command string, including after a `&&` or `;` separator,
// so "ls && augur trade --live" still routes to tier 4.
var tier4CommandPatterns = []struct {
	pattern  *regexp.Regexp
	category model.Category
}{
	{regexp.MustCompile(`(?i)\baugur\s+trade\b`), model.CategoryFinancialAugur},
	{regexp.MustCompile(`(?i)\b(crypto|coinbase|binance)\s*(trade|transfer|withdraw)\b`), model.CategoryFinancialCrypto},
	{regexp.MustCompile(`(?i)\bstripe\s+(charge|payout|transfer)\b`), model.CategoryFinancialStripe},
}

// rules is the ordered, non-financial rule table. Tier-4 screening happens
// separately in Classify before this table is consulted.
var rules = []rule{
	{tool: "read_file", result: Result{model.Tier1, model.CategoryReadFile}},
	{tool: "exec_status", result: Result{model.Tier1, model.CategoryExecStatus}},
	{tool: "cortex_query", result: Result{model.Tier1, model.CategoryCortexQuery}},
	{tool: "web_search", result: Result{model.Tier1, model.CategoryWebSearch}},
	{tool: "synapse_read", result: Result{model.Tier1, model.CategorySynapseRead}},

	{tool: "write_file", result: Result{model.Tier2, model.CategoryWriteFile}},
	{tool: "cortex_write", result: Result{model.Tier2, model.CategoryCortexWrite}},
	{tool: "synapse_send", result: Result{model.Tier2, model.CategorySynapseSend}},
	{tool: "cron_create", result: Result{model.Tier2, model.CategoryCronCreate}},
	{tool: "session_spawn", result: Result{model.Tier2, model.CategorySessionSpawn}},

	{tool: "exec", action: regexp.MustCompile(`(?i)^restart$`), result: Result{model.Tier3, model.CategoryServiceRestart}},
	{command: regexp.MustCompile(`(?i)\bsystemctl\s+(restart|stop)\b`), result: Result{model.Tier3, model.CategoryServiceRestart}},
	{command: regexp.MustCompile(`(?i)\bservice\s+\S+\s+(restart|stop)\b`), result: Result{model.Tier3, model.CategoryServiceRestart}},
	{path: regexp.MustCompile(`(?i)(config|\.env|settings)`), tool: "write_file", result: Result{model.Tier3, model.CategoryConfigChange}},
	{command: regexp.MustCompile(`(?i)\bgateway\b`), result: Result{model.Tier3, model.CategoryGatewayAction}},
	{command: regexp.MustCompile(`(?i)\bcron(tab)?\s+(-e|edit|remove|-r)\b`), result: Result{model.Tier3, model.CategoryCronModify}},
	{command: regexp.MustCompile(`(?i)\b(deploy|kubectl\s+apply|docker\s+(push|deploy))\b`), result: Result{model.Tier3, model.CategoryDeploy}},
}

// Classify maps a tool invocation to (tier, category). Deterministic, no I/O.
func Classify(toolName string, params Params) Result {
	command := str(params, "command")

	// Tier-4 screen runs first and unanchored against the full command,
	// before any read-only shortcut can fire. This is the sole defense
	// against "ls && augur trade --live"-style compound bypass.
	for _, t4 := range tier4CommandPatterns {
		if t4.pattern.MatchString(command) {
			return Result{model.Tier4, t4.category}
		}
	}
	if toolName == "financial_augur" || strings.Contains(strings.ToLower(toolName), "augur_trade") {
		return Result{model.Tier4, model.CategoryFinancialAugur}
	}

	if toolName == "exec" {
		for _, prefix := range readOnlyCommandPrefixes {
			if prefix.MatchString(command) {
				return Result{model.Tier1, model.CategoryExecStatus}
			}
		}
	}

	for _, r := range rules {
		if r.tool != "" && r.tool != toolName {
			continue
		}
		if r.action != nil && !r.action.MatchString(str(params, "action")) {
			continue
		}
		if r.command != nil && !r.command.MatchString(command) {
			continue
		}
		if r.path != nil && !r.path.MatchString(str(params, "path")) {
			continue
		}
		return r.result
	}

	// Conservative default: no rule matched.
	return Result{model.Tier2, model.CategoryWriteFile}
}
