// Package gate implements the Trust Gate: the single synchronous entry
// point that turns a tool invocation into a pass/pause/block verdict and
// persists the Decision that records it.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cortexgate/cortex/internal/classifier"
	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/redact"
	"github.com/cortexgate/cortex/internal/storage"
)

// Reason strings attached to a Result.
const (
	ReasonExplicitGrantOverride  = "explicit_grant_override"
	ReasonExplicitRevokeOverride = "explicit_revoke_override"
	ReasonFinancialHardcap       = "financial_hardcap"
	ReasonScoreAboveThreshold    = "score_above_threshold"
	ReasonScoreBetweenFloorAndThreshold = "score_between_floor_and_threshold"
	ReasonScoreBelowFloor        = "score_below_floor"
	ReasonStoreUnavailable       = "store_unavailable"
)

// Result is the structured verdict returned by Check.
type Result struct {
	DecisionID     string
	Result         model.GateResult
	Reason         string
	Tier           model.Tier
	Category       model.Category
	Score          float64
	Threshold      float64
	OverrideActive bool
}

// Overrides is the subset of storage.DB the Gate needs to look up active
// overrides — satisfied by *storage.DB.
type Overrides interface {
	ActiveOverride(ctx context.Context, category model.Category, now time.Time) (model.TrustOverride, error)
}

// Scores is the subset of storage.DB the Gate needs to read trust scores.
type Scores interface {
	GetTrustScore(ctx context.Context, category model.Category) (model.TrustScore, error)
}

// Decisions is the subset of storage.DB the Gate needs to persist a Decision.
type Decisions interface {
	CreateDecision(ctx context.Context, d model.Decision, pending *model.PendingOutcome, confirmation *model.PendingConfirmation) error
}

// Gate wires the Classifier, override/score lookups, and Decision
// persistence into a single synchronous check() contract.
type Gate struct {
	overrides Overrides
	scores    Scores
	decisions Decisions
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Gate. now defaults to time.Now if nil, letting tests
// inject a fake clock instead of racing on time.Sleep.
func New(overrides Overrides, scores Scores, decisions Decisions, logger *slog.Logger, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{overrides: overrides, scores: scores, decisions: decisions, logger: logger, now: now}
}

// Check runs the six-step contract: classify, check overrides, apply the
// tier-4 hardcap, compare score against threshold/floor, persist the
// Decision (plus a PendingOutcome on pass), and return the structured
// result. Never panics: any store failure downgrades to a conservative
// tier-2 block rather than propagating a crash up the hot path.
func (g *Gate) Check(ctx context.Context, toolName string, params classifier.Params, sessionID string) (Result, error) {
	cls := classifier.Classify(toolName, params)
	now := g.now()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		paramsJSON = []byte("{}")
	}
	paramsHash := redact.ParamsHash(toolName, string(paramsJSON))
	paramsSummary := redact.Truncate(redact.Sanitize(string(paramsJSON)), 250)

	override, overrideErr := g.overrides.ActiveOverride(ctx, cls.Category, now)
	hasOverride := false
	if overrideErr == nil {
		hasOverride = true
	} else if !errors.Is(overrideErr, storage.ErrNotFound) {
		g.logger.Error("gate: store unavailable", "error", overrideErr, "category", cls.Category)
		return Result{
			Result: model.ResultBlock, Reason: ReasonStoreUnavailable,
			Tier: cls.Tier, Category: cls.Category,
		}, fmt.Errorf("gate: check: read active override: %w", overrideErr)
	}

	var result model.GateResult
	var reason string
	var score float64
	threshold := model.TierThreshold[cls.Tier]

	switch {
	case hasOverride && override.Type == model.OverrideGranted:
		result = model.ResultPass
		reason = ReasonExplicitGrantOverride
	case hasOverride && override.Type == model.OverrideRevoked:
		result = model.ResultBlock
		reason = ReasonExplicitRevokeOverride
	case cls.Tier == model.Tier4:
		result = model.ResultPause
		reason = ReasonFinancialHardcap
	default:
		ts, err := g.scores.GetTrustScore(ctx, cls.Category)
		if err == storage.ErrNotFound {
			score = model.DefaultInitialScore[cls.Tier]
		} else if err != nil {
			g.logger.Error("gate: store unavailable", "error", err, "category", cls.Category)
			return Result{
				Result: model.ResultBlock, Reason: ReasonStoreUnavailable,
				Tier: model.Tier2, Category: cls.Category,
			}, fmt.Errorf("gate: check: read trust score: %w", err)
		} else {
			score = ts.CurrentScore
		}
		floor := model.TierFloor[cls.Tier]
		switch {
		case score >= threshold:
			result, reason = model.ResultPass, ReasonScoreAboveThreshold
		case score >= floor:
			result, reason = model.ResultPause, ReasonScoreBetweenFloorAndThreshold
		default:
			result, reason = model.ResultBlock, ReasonScoreBelowFloor
		}
	}

	// outcome starts 'pending' for every verdict, not just pass. A pause
	// decision resolves later through its PendingConfirmation (approved ->
	// pass, denied -> denied_by_matthew); a block decision has nothing that
	// will ever execute, so nothing will ever resolve it, and it is left
	// pending indefinitely — the Score Updater's rule that a pending outcome
	// never moves the score makes that the correct inert state rather than
	// a gap to patch.
	d := model.Decision{
		DecisionID:      uuid.NewString(),
		Timestamp:       now,
		SessionID:       sessionID,
		ToolName:        toolName,
		ParamsHash:      paramsHash,
		ParamsSummary:   paramsSummary,
		Tier:            cls.Tier,
		Category:        cls.Category,
		GateDecision:    result,
		ScoreAtDecision: score,
		OverrideActive:  hasOverride,
		Outcome:         model.OutcomePending,
	}

	var pending *model.PendingOutcome
	var confirmation *model.PendingConfirmation
	switch result {
	case model.ResultPass:
		window := model.FeedbackWindow[cls.Tier]
		pending = &model.PendingOutcome{
			DecisionID:              d.DecisionID,
			FeedbackWindowExpiresAt: now.Add(window),
			CreatedAt:               now,
		}
	case model.ResultPause:
		confirmation = &model.PendingConfirmation{
			ConfirmationID: uuid.NewString(),
			DecisionID:     d.DecisionID,
			ToolName:       toolName,
			ParamsJSON:     string(paramsJSON),
			Summary:        paramsSummary,
			Score:          score,
			Threshold:      threshold,
			Category:       cls.Category,
			ExpiresAt:      now.Add(model.DefaultConfirmationTTL),
		}
	}

	if err := g.decisions.CreateDecision(ctx, d, pending, confirmation); err != nil {
		g.logger.Error("gate: failed to persist decision", "error", err)
		return Result{
			Result: model.ResultBlock, Reason: ReasonStoreUnavailable,
			Tier: cls.Tier, Category: cls.Category,
		}, fmt.Errorf("gate: check: create decision: %w", err)
	}

	return Result{
		DecisionID:     d.DecisionID,
		Result:         result,
		Reason:         reason,
		Tier:           cls.Tier,
		Category:       cls.Category,
		Score:          score,
		Threshold:      threshold,
		OverrideActive: hasOverride,
	}, nil
}
