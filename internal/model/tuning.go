package model

import (
	"math"
	"time"
)

// TierThreshold is the score at or above which the gate passes autonomously.
// Tier 4's is +Inf: the gate never reaches this comparison for tier 4
// anyway (the hardcap short-circuits first), but no score could clear it.
var TierThreshold = map[Tier]float64{
	Tier1: 0.5,
	Tier2: 0.7,
	Tier3: 0.85,
	Tier4: math.Inf(1),
}

// TierFloor is the score below which the gate blocks outright.
var TierFloor = map[Tier]float64{
	Tier1: 0.2,
	Tier2: 0.4,
	Tier3: 0.6,
	Tier4: math.Inf(1),
}

// DefaultEWMAAlpha is the smoothing factor applied per tier. Tier 4 is 0:
// its score never moves regardless of outcome.
var DefaultEWMAAlpha = map[Tier]float64{
	Tier1: 0.08,
	Tier2: 0.10,
	Tier3: 0.15,
	Tier4: 0.00,
}

// DefaultInitialScore seeds a category's trust_scores row at bootstrap.
var DefaultInitialScore = map[Tier]float64{
	Tier1: 0.75,
	Tier2: 0.65,
	Tier3: 0.55,
	Tier4: 0.00,
}

// FeedbackWindow is how long a `pass` decision waits for an adverse signal
// before the sweeper resolves it to `pass` by default.
var FeedbackWindow = map[Tier]time.Duration{
	Tier1: 30 * time.Minute,
	Tier2: 30 * time.Minute,
	Tier3: 60 * time.Minute,
	Tier4: 60 * time.Minute,
}

// OutcomeValue maps a resolved outcome to the [-1,+1] signal the Score
// Updater normalizes into [0,1] before blending into the EWMA.
var OutcomeValue = map[Outcome]float64{
	OutcomePass:                 1.0,
	OutcomeCorrectedMinor:       -0.5,
	OutcomeCorrectedSignificant: -1.0,
	OutcomeToolErrorHelios:      -0.3,
	OutcomeToolErrorExternal:    0.0,
	OutcomeDeniedByMatthew:      -0.2,
}

// DefaultCorrectionWindow bounds how far back a conversational correction
// may reach to bind itself to a pending decision.
const DefaultCorrectionWindow = 30 * time.Minute

// DefaultConfirmationTTL is how long a PendingConfirmation stays open before
// it is surfaced as expired on reporter calls.
const DefaultConfirmationTTL = 10 * time.Minute
