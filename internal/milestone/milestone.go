// Package milestone detects threshold crossings on a score change and
// produces the Milestone record the Outcome Collector persists.
package milestone

import (
	"time"

	"github.com/cortexgate/cortex/internal/model"
	"github.com/google/uuid"
)

// Detect compares oldScore/newScore against the category's tier threshold
// and floor and returns a Milestone if a crossing occurred, or nil if not.
// firstAutoApprove indicates this is the category's first-ever pass
// resolution with a score that now clears the threshold. now is the
// caller's already-fetched clock value, not re-read here, so milestone
// timestamps stay deterministic under an injected fake clock.
func Detect(category model.Category, tier model.Tier, oldScore, newScore float64, firstAutoApprove bool, trigger string, now time.Time) *model.Milestone {
	threshold := model.TierThreshold[tier]
	floor := model.TierFloor[tier]

	var mType model.MilestoneType
	switch {
	case firstAutoApprove && newScore >= threshold:
		mType = model.MilestoneFirstAutoApprove
	case oldScore < threshold && newScore >= threshold:
		mType = model.MilestoneTierPromotion
	case oldScore >= threshold && newScore < threshold:
		mType = model.MilestoneTierDemotion
	case oldScore >= floor && newScore < floor:
		mType = model.MilestoneBlocked
	default:
		return nil
	}

	old := oldScore
	return &model.Milestone{
		MilestoneID: uuid.NewString(),
		Timestamp:   now,
		Category:    category,
		Type:        mType,
		OldScore:    &old,
		NewScore:    newScore,
		Trigger:     trigger,
	}
}

// ForOverride builds the milestone emitted when the Override Manager grants
// or revokes a category override. now is the caller's already-injected
// clock value, kept deterministic the same way Detect's is.
func ForOverride(category model.Category, granted bool, currentScore float64, trigger string, now time.Time) *model.Milestone {
	mType := model.MilestoneOverrideRevoked
	if granted {
		mType = model.MilestoneOverrideGranted
	}
	return &model.Milestone{
		MilestoneID: uuid.NewString(),
		Timestamp:   now,
		Category:    category,
		Type:        mType,
		NewScore:    currentScore,
		Trigger:     trigger,
	}
}
