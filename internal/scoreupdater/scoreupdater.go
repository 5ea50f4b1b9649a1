// Package scoreupdater computes the EWMA trust-score step given an outcome.
package scoreupdater

import "github.com/cortexgate/cortex/internal/model"

// Update computes the new trust score for a single resolved outcome.
// new = clamp(alpha*normalized + (1-alpha)*old, 0, 1), where normalized
// maps the outcome's [-1,+1] value onto [0,1]. A pending outcome or a
// zero alpha (tier 4) leaves the score unchanged.
func Update(oldScore float64, outcome model.Outcome, alpha float64) float64 {
	if outcome == model.OutcomePending || alpha == 0 {
		return oldScore
	}
	value, known := model.OutcomeValue[outcome]
	if !known {
		return oldScore
	}
	normalized := (value + 1) / 2
	newScore := alpha*normalized + (1-alpha)*oldScore
	return clamp(newScore, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
