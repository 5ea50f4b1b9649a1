// Package model defines the entities persisted by the trust core: decisions,
// trust scores, overrides, milestones, and the two pending-resolution tables.
package model

import "time"

// Tier is an ordinal risk category from 1 (read-only) to 4 (irreversible, financial).
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
	Tier4 Tier = 4
)

// Category is a fine-grained action class within a tier.
type Category string

const (
	CategoryReadFile     Category = "read_file"
	CategoryExecStatus   Category = "exec_status"
	CategoryCortexQuery  Category = "cortex_query"
	CategoryWebSearch    Category = "web_search"
	CategorySynapseRead  Category = "synapse_read"
	CategoryWriteFile    Category = "write_file"
	CategoryCortexWrite  Category = "cortex_write"
	CategorySynapseSend  Category = "synapse_send"
	CategoryCronCreate   Category = "cron_create"
	CategorySessionSpawn Category = "session_spawn"
	CategoryServiceRestart Category = "service_restart"
	CategoryConfigChange Category = "config_change"
	CategoryGatewayAction Category = "gateway_action"
	CategoryCronModify   Category = "cron_modify"
	CategoryDeploy       Category = "deploy"
	CategoryFinancialAugur  Category = "financial_augur"
	CategoryFinancialCrypto Category = "financial_crypto"
	CategoryFinancialStripe Category = "financial_stripe"
)

// AllCategories enumerates the closed category set with its fixed tier,
// in the order the Migration & Persistence bootstrap seeds trust_scores.
var AllCategories = []struct {
	Category Category
	Tier     Tier
}{
	{CategoryReadFile, Tier1},
	{CategoryExecStatus, Tier1},
	{CategoryCortexQuery, Tier1},
	{CategoryWebSearch, Tier1},
	{CategorySynapseRead, Tier1},
	{CategoryWriteFile, Tier2},
	{CategoryCortexWrite, Tier2},
	{CategorySynapseSend, Tier2},
	{CategoryCronCreate, Tier2},
	{CategorySessionSpawn, Tier2},
	{CategoryServiceRestart, Tier3},
	{CategoryConfigChange, Tier3},
	{CategoryGatewayAction, Tier3},
	{CategoryCronModify, Tier3},
	{CategoryDeploy, Tier3},
	{CategoryFinancialAugur, Tier4},
	{CategoryFinancialCrypto, Tier4},
	{CategoryFinancialStripe, Tier4},
}

// GateResult is the synchronous verdict the Trust Gate returns for a check.
type GateResult string

const (
	ResultPass  GateResult = "pass"
	ResultPause GateResult = "pause"
	ResultBlock GateResult = "block"
)

// Outcome is the eventual resolution of a Decision that started as `pass`,
// or the terminal state recorded by the Gate for decisions that never pass.
type Outcome string

const (
	OutcomePending               Outcome = "pending"
	OutcomePass                  Outcome = "pass"
	OutcomeCorrectedMinor        Outcome = "corrected_minor"
	OutcomeCorrectedSignificant  Outcome = "corrected_significant"
	OutcomeToolErrorHelios       Outcome = "tool_error_helios"
	OutcomeToolErrorExternal     Outcome = "tool_error_external"
	OutcomeDeniedByMatthew       Outcome = "denied_by_matthew"
)

// OverrideType distinguishes a category grant from a category revocation.
type OverrideType string

const (
	OverrideGranted OverrideType = "granted"
	OverrideRevoked OverrideType = "revoked"
)

// MilestoneType is the kind of observable event on a score trajectory.
type MilestoneType string

const (
	MilestoneFirstAutoApprove MilestoneType = "first_auto_approve"
	MilestoneTierPromotion    MilestoneType = "tier_promotion"
	MilestoneTierDemotion     MilestoneType = "tier_demotion"
	MilestoneBlocked          MilestoneType = "blocked"
	MilestoneOverrideGranted  MilestoneType = "override_granted"
	MilestoneOverrideRevoked  MilestoneType = "override_revoked"
)

// Decision is a single gate verdict, immutable once its outcome resolves.
type Decision struct {
	DecisionID        string
	Timestamp         time.Time
	SessionID         string
	ToolName          string
	ParamsHash        string
	ParamsSummary     string
	Tier              Tier
	Category          Category
	GateDecision      GateResult
	ScoreAtDecision    float64
	OverrideActive    bool
	Outcome           Outcome
	OutcomeSource     string
	OutcomeResolvedAt *time.Time
	CorrectionMessage string
}

// TrustScore is the single per-category EWMA state row.
type TrustScore struct {
	Category         Category
	Tier             Tier
	CurrentScore     float64
	EWMAAlpha        float64
	DecisionCount    int64
	DecisionsLast30d int64
	LastUpdated      time.Time
	InitialScore     float64
}

// TrustOverride is a category-level grant or revocation record.
type TrustOverride struct {
	OverrideID string
	Category   Category
	Type       OverrideType
	Reason     string
	GrantedBy  string
	GrantedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	Active     bool
}

// Milestone is an append-only record of a threshold crossing or override event.
type Milestone struct {
	MilestoneID string
	Timestamp   time.Time
	Category    Category
	Type        MilestoneType
	OldScore    *float64
	NewScore    float64
	Trigger     string
}

// PendingOutcome tracks a `pass` decision awaiting resolution by sweep,
// correction, or tool-error callback. Exists 1:1 with a pending Decision.
type PendingOutcome struct {
	DecisionID             string
	FeedbackWindowExpiresAt time.Time
	CreatedAt              time.Time
}

// PendingConfirmation tracks a `pause` decision awaiting human resolution.
type PendingConfirmation struct {
	ConfirmationID string
	DecisionID     string
	ToolName       string
	ParamsJSON     string
	Summary        string
	Score          float64
	Threshold      float64
	Category       Category
	ExpiresAt      time.Time
	Resolved       bool
	Resolution     string
	ResolvedAt     *time.Time
}

// AdvisoryDelivery tracks one rendered knowledge advisory awaiting an
// implicit or explicit feedback signal within its observation window.
type AdvisoryDelivery struct {
	DeliveryID      string
	Source          string
	AdvisoryType    string
	DeliveredAt     time.Time
	WindowExpiresAt time.Time
	Resolved        bool
	ActedOn         bool
	ResolvedAt      *time.Time
}

// ActionRate is the per-(source, advisory_type) running acted-on rate the
// Feedback Tracker maintains, plus the delivery-frequency multiplier that
// gets halved once the rate proves itself persistently low.
type ActionRate struct {
	Source              string
	AdvisoryType        string
	Rate                float64
	ObservationCount    int64
	ActedOnCount        int64
	FrequencyMultiplier float64
	LastUpdated         time.Time
}
