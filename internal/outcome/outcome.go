// Package outcome implements the Outcome Collector: the three entry paths
// (sweep, correction text, tool-error callback, and pause confirmation) that
// all converge on the storage layer's single atomic resolveOutcome
// transaction.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

// ErrConfirmationAlreadyResolved is returned when a pause confirmation has
// already been approved or denied.
var ErrConfirmationAlreadyResolved = errors.New("outcome: confirmation already resolved")

// Store is the subset of storage.DB the Outcome Collector depends on.
type Store interface {
	ResolveOutcome(ctx context.Context, decisionID string, outcome model.Outcome, source, correctionMessage string, now time.Time) (bool, error)
	MostRecentPendingDecision(ctx context.Context, since time.Time, category *model.Category) (model.Decision, error)
	ExpiredPendingOutcomes(ctx context.Context, now time.Time) ([]model.PendingOutcome, error)
	GetPendingConfirmation(ctx context.Context, confirmationID string) (model.PendingConfirmation, error)
	ResolvePendingConfirmation(ctx context.Context, confirmationID, resolution string, resolvedAt time.Time) error
	UnresolvedPendingConfirmations(ctx context.Context, now time.Time) ([]model.PendingConfirmation, error)
}

// Collector wraps the storage layer's resolveOutcome transaction with the
// three entry paths a decision's outcome can be resolved through: sweep
// expiry, correction signal, and tool error callback.
type Collector struct {
	store            Store
	logger           *slog.Logger
	correctionWindow time.Duration
	now              func() time.Time
}

// New constructs a Collector. correctionWindow bounds how far back a
// conversational correction may reach to bind itself to a pending decision
// (default: 30 minutes). now defaults to time.Now if nil.
func New(store Store, logger *slog.Logger, correctionWindow time.Duration, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{store: store, logger: logger, correctionWindow: correctionWindow, now: now}
}

// SweepExpired resolves every PendingOutcome whose feedback window has
// elapsed to `pass`, source `feedback_window_expired` — the mechanism by
// which unremarkable actions earn trust over time. Returns the count
// resolved; a single decision's failure is logged and does not stop the
// rest of the batch.
func (c *Collector) SweepExpired(ctx context.Context) (int, error) {
	now := c.now()
	expired, err := c.store.ExpiredPendingOutcomes(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("outcome: sweep: list expired: %w", err)
	}

	resolvedCount := 0
	for _, p := range expired {
		resolved, err := c.store.ResolveOutcome(ctx, p.DecisionID, model.OutcomePass, "feedback_window_expired", "", now)
		if err != nil {
			c.logger.Error("outcome: sweep: resolve failed", "decision_id", p.DecisionID, "error", err)
			continue
		}
		if resolved {
			resolvedCount++
		}
	}
	return resolvedCount, nil
}

// RecordCorrection classifies a human-provided message's severity and, if a
// pattern matched, resolves the most recent pending decision within the
// correction window (optionally scoped to category) with the detected
// outcome. Returns false with no error if no correction pattern matched, or
// if no eligible pending decision was found — both are normal outcomes, not
// failures.
func (c *Collector) RecordCorrection(ctx context.Context, message string, category *model.Category) (bool, error) {
	outcomeVal, matched := classifyCorrection(message)
	if !matched {
		return false, nil
	}

	now := c.now()
	since := now.Add(-c.correctionWindow)
	d, err := c.store.MostRecentPendingDecision(ctx, since, category)
	if err != nil {
		return false, nil
	}

	resolved, err := c.store.ResolveOutcome(ctx, d.DecisionID, outcomeVal, "correction", message, now)
	if err != nil {
		return false, fmt.Errorf("outcome: record correction: %w", err)
	}
	return resolved, nil
}

// RecordToolError resolves a pending decision whose tool call failed.
// external distinguishes a failure in an external dependency (network,
// third-party API) from a failure inside the agent runtime itself.
func (c *Collector) RecordToolError(ctx context.Context, decisionID string, external bool) (bool, error) {
	outcomeVal := model.OutcomeToolErrorHelios
	if external {
		outcomeVal = model.OutcomeToolErrorExternal
	}
	resolved, err := c.store.ResolveOutcome(ctx, decisionID, outcomeVal, "tool_error_callback", "", c.now())
	if err != nil {
		return false, fmt.Errorf("outcome: record tool error: %w", err)
	}
	return resolved, nil
}

// ConfirmPause resolves a `pause` decision's PendingConfirmation via the
// separate human-intervention entry point: approval resolves the
// underlying Decision to `pass`, denial to `denied_by_matthew`.
// Either way the confirmation row itself is marked resolved so it stops
// being surfaced by reporter calls.
func (c *Collector) ConfirmPause(ctx context.Context, confirmationID string, approved bool) error {
	confirmation, err := c.store.GetPendingConfirmation(ctx, confirmationID)
	if err != nil {
		return fmt.Errorf("outcome: confirm pause: %w", err)
	}
	if confirmation.Resolved {
		return ErrConfirmationAlreadyResolved
	}

	now := c.now()
	resolution := "denied"
	decisionOutcome := model.OutcomeDeniedByMatthew
	if approved {
		resolution = "approved"
		decisionOutcome = model.OutcomePass
	}

	if err := c.store.ResolvePendingConfirmation(ctx, confirmationID, resolution, now); err != nil {
		return fmt.Errorf("outcome: confirm pause: resolve confirmation: %w", err)
	}
	if _, err := c.store.ResolveOutcome(ctx, confirmation.DecisionID, decisionOutcome, "human_confirmation", "", now); err != nil {
		return fmt.Errorf("outcome: confirm pause: resolve decision: %w", err)
	}
	return nil
}

// UnresolvedConfirmations returns every PendingConfirmation still open,
// including ones past their TTL — resolution past TTL still requires an
// explicit human act; TTL only changes how it's surfaced.
func (c *Collector) UnresolvedConfirmations(ctx context.Context) ([]model.PendingConfirmation, error) {
	// The zero Time sorts before every real expires_at, so the storage
	// layer's "> now" filter degrades to "unresolved, any expiry" here.
	confirmations, err := c.store.UnresolvedPendingConfirmations(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("outcome: unresolved confirmations: %w", err)
	}
	return confirmations, nil
}
