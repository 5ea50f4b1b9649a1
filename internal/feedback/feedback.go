// Package feedback implements the Feedback Tracker & Pattern Promoter:
// it watches whether delivered knowledge advisories get acted on, tunes
// their delivery frequency down when they don't, and promotes a
// repeatedly-acted-on pattern into a synthetic memory atom.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexgate/cortex/internal/knowledge"
	"github.com/cortexgate/cortex/internal/model"
)

// defaultWindow is how long a delivery waits for an implicit or explicit
// signal before the sweeper resolves it as not-acted-on.
const defaultWindow = 10 * time.Minute

const (
	rateIncrement              = 0.1
	rateDecrement              = 0.05
	rateFloor                  = 0.2
	minObservationsForFloor    = 5
	promotionRateThreshold     = 0.3
	minActedOnCountForPromote  = 3
	minAtomConfidence          = 0.5
	maxAtomConfidence          = 0.7
)

// acknowledgmentPhrases are the explicit-signal substrings checked
// case-insensitively against the user's next response text.
var acknowledgmentPhrases = []string{
	"got it", "understood", "will do", "noted", "acknowledged",
	"thanks for the heads up", "good call", "makes sense",
}

// Store is the subset of storage.DB the Feedback Tracker needs.
type Store interface {
	RecordDelivery(ctx context.Context, d model.AdvisoryDelivery) error
	OpenDeliveries(ctx context.Context, now time.Time) ([]model.AdvisoryDelivery, error)
	ExpiredDeliveries(ctx context.Context, now time.Time) ([]model.AdvisoryDelivery, error)
	ResolveDelivery(ctx context.Context, deliveryID string, actedOn bool, resolvedAt time.Time) error
	GetActionRate(ctx context.Context, source, advisoryType string) (model.ActionRate, error)
	UpsertActionRate(ctx context.Context, r model.ActionRate) error
}

// Tracker wires the delivery/resolution lifecycle to the per-source
// action rate and, eventually, to a promoted causal atom.
type Tracker struct {
	store  Store
	atoms  knowledge.AtomWriter
	logger *slog.Logger
	now    func() time.Time
	window time.Duration
}

func New(store Store, atoms knowledge.AtomWriter, logger *slog.Logger, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, atoms: atoms, logger: logger, now: now, window: defaultWindow}
}

// Deliver records that an advisory was just rendered to the agent, opening
// its feedback window.
func (t *Tracker) Deliver(ctx context.Context, source, advisoryType string) (string, error) {
	d := model.AdvisoryDelivery{
		DeliveryID:      uuid.NewString(),
		Source:          source,
		AdvisoryType:    advisoryType,
		DeliveredAt:     t.now(),
		WindowExpiresAt: t.now().Add(t.window),
	}
	if err := t.store.RecordDelivery(ctx, d); err != nil {
		return "", fmt.Errorf("feedback: record delivery: %w", err)
	}
	return d.DeliveryID, nil
}

// ObserveToolCall checks every open delivery's allowlist against a tool
// call the agent just made, resolving any match as acted-on. Returns the
// number of deliveries resolved by this call.
func (t *Tracker) ObserveToolCall(ctx context.Context, toolName, argsJSON string) (int, error) {
	open, err := t.store.OpenDeliveries(ctx, t.now())
	if err != nil {
		return 0, fmt.Errorf("feedback: load open deliveries: %w", err)
	}
	lowerArgs := strings.ToLower(argsJSON)
	lowerTool := strings.ToLower(toolName)

	resolved := 0
	for _, d := range open {
		rule := ruleFor(d.Source)
		if !toolInSet(lowerTool, rule.ToolNames) {
			continue
		}
		if !anyKeyword(lowerArgs, rule.Keywords) {
			continue
		}
		if err := t.resolve(ctx, d, true); err != nil {
			t.logger.Warn("feedback: resolve acted-on delivery failed", "delivery_id", d.DeliveryID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// ObserveUserText checks the user's response text for an acknowledgment
// phrase, resolving every currently open delivery as acted-on when found.
// Unlike the implicit path this isn't source-scoped: an explicit "got it"
// in the same turn plausibly answers whatever was just shown.
func (t *Tracker) ObserveUserText(ctx context.Context, text string) (int, error) {
	lower := strings.ToLower(text)
	if !anyKeyword(lower, acknowledgmentPhrases) {
		return 0, nil
	}
	open, err := t.store.OpenDeliveries(ctx, t.now())
	if err != nil {
		return 0, fmt.Errorf("feedback: load open deliveries: %w", err)
	}
	resolved := 0
	for _, d := range open {
		if err := t.resolve(ctx, d, true); err != nil {
			t.logger.Warn("feedback: resolve acknowledged delivery failed", "delivery_id", d.DeliveryID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// SweepExpired resolves every delivery whose window elapsed with no
// signal as not-acted-on, decrementing its source's rate.
func (t *Tracker) SweepExpired(ctx context.Context) (int, error) {
	expired, err := t.store.ExpiredDeliveries(ctx, t.now())
	if err != nil {
		return 0, fmt.Errorf("feedback: load expired deliveries: %w", err)
	}
	swept := 0
	for _, d := range expired {
		if err := t.resolve(ctx, d, false); err != nil {
			t.logger.Warn("feedback: resolve expired delivery failed", "delivery_id", d.DeliveryID, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (t *Tracker) resolve(ctx context.Context, d model.AdvisoryDelivery, actedOn bool) error {
	if err := t.store.ResolveDelivery(ctx, d.DeliveryID, actedOn, t.now()); err != nil {
		return err
	}
	return t.bumpRate(ctx, d.Source, d.AdvisoryType, actedOn)
}

func (t *Tracker) bumpRate(ctx context.Context, source, advisoryType string, actedOn bool) error {
	rate, err := t.store.GetActionRate(ctx, source, advisoryType)
	if err != nil {
		return fmt.Errorf("feedback: load action rate: %w", err)
	}
	rate.ObservationCount++
	if actedOn {
		rate.ActedOnCount++
		rate.Rate = clamp01(rate.Rate + rateIncrement)
	} else {
		rate.Rate = clamp01(rate.Rate - rateDecrement)
	}
	if rate.ObservationCount >= minObservationsForFloor && rate.Rate < rateFloor {
		rate.FrequencyMultiplier /= 2
	}
	rate.LastUpdated = t.now()
	if err := t.store.UpsertActionRate(ctx, rate); err != nil {
		return fmt.Errorf("feedback: save action rate: %w", err)
	}

	if actedOn && rate.ActedOnCount >= minActedOnCountForPromote && rate.Rate > promotionRateThreshold {
		if err := t.maybePromote(ctx, source, advisoryType, rate); err != nil {
			t.logger.Warn("feedback: pattern promotion failed", "source", source, "advisory_type", advisoryType, "error", err)
		}
	}
	return nil
}

// maybePromote writes a synthetic causal atom once a source+type pair has
// proven itself repeatedly acted-on, unless the memory store already
// holds something similar.
func (t *Tracker) maybePromote(ctx context.Context, source, advisoryType string, rate model.ActionRate) error {
	if t.atoms == nil {
		return nil
	}
	has, err := t.atoms.HasSimilarAtom(ctx, source, advisoryType)
	if err != nil {
		return fmt.Errorf("check existing atom: %w", err)
	}
	if has {
		return nil
	}
	atom := knowledge.CausalAtom{
		Subject:      source,
		Action:       fmt.Sprintf("acted on %s advisory", advisoryType),
		Outcome:      "agent followed the guidance",
		Consequences: fmt.Sprintf("acted-on rate %.2f across %d observations", rate.Rate, rate.ObservationCount),
		Category:     advisoryType,
		Source:       "synthetic",
		Confidence:   confidenceFromRate(rate.Rate),
	}
	if err := t.atoms.CreateCausalAtom(ctx, atom); err != nil {
		return fmt.Errorf("create causal atom: %w", err)
	}
	return nil
}

// confidenceFromRate maps an acted-on rate above the promotion threshold
// onto the [0.5, 0.7) low-confidence band, scaling linearly so a
// rate just past the threshold starts near 0.5 and a saturated rate
// approaches 0.7 without reaching the certainty a human-authored atom
// would carry.
func confidenceFromRate(rate float64) float64 {
	span := 1.0 - promotionRateThreshold
	frac := (rate - promotionRateThreshold) / span
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return minAtomConfidence + frac*(maxAtomConfidence-minAtomConfidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toolInSet(tool string, set []string) bool {
	for _, s := range set {
		if strings.ToLower(s) == tool {
			return true
		}
	}
	return false
}

func anyKeyword(haystack string, keywords []string) bool {
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
