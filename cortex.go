package cortex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/cortexgate/cortex/internal/config"
	"github.com/cortexgate/cortex/internal/core"
	"github.com/cortexgate/cortex/internal/knowledge"
	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/session"
	"github.com/cortexgate/cortex/internal/storage"
	"github.com/cortexgate/cortex/migrations"
)

// App is the public handle onto a running trust-core engine. Construct one
// with New, start it with Run, and drive the Agent Hook Surface through
// its methods.
type App struct {
	core    *core.Core
	logger  *slog.Logger
	version string
}

// New constructs an App: loads a .env file if present, loads configuration
// from the environment, applies option overrides, connects to storage,
// runs migrations, bootstraps trust scores, and wires every subsystem. It
// does not start any background goroutine — call Run for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	// Load .env file if present; non-fatal, production deployments won't
	// have one.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cortex: load config: %w", err)
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.privateKey != "" {
		cfg.JWTPrivateKeyPath = o.privateKey
	}
	if o.publicKey != "" {
		cfg.JWTPublicKeyPath = o.publicKey
	}
	if o.sessionTTL > 0 {
		cfg.SessionTokenTTL = o.sessionTTL
	}

	logger.Info("cortex starting", "version", version, "enforcement_level", cfg.EnforcementLevel)

	ctx := context.Background()
	db, err := storage.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("cortex: storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cortex: migrations: %w", err)
	}
	if missing, err := db.VerifyBootstrap(ctx, time.Now().UTC()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cortex: bootstrap verify: %w", err)
	} else if len(missing) > 0 {
		logger.Info("cortex: bootstrapped missing trust score categories", "count", len(missing))
	}

	var sessions *session.Manager
	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		sessions, err = session.NewManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.SessionTokenTTL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cortex: session manager: %w", err)
		}
	}

	deps := core.Deps{
		Sessions: sessions,
		Now:      o.now,
	}
	if o.memoryStore != nil {
		deps.MemoryStore = memoryStoreAdapter{o.memoryStore}
	}
	if o.atomWriter != nil {
		deps.AtomWriter = atomWriterAdapter{o.atomWriter}
	}
	if o.messaging != nil {
		deps.Messaging = messagingAdapter{o.messaging}
	}

	c, err := core.New(cfg, db, logger, deps)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cortex: core: %w", err)
	}

	return &App{core: c, logger: logger, version: version}, nil
}

// Core exposes the underlying wired engine for callers that need direct
// access beyond the Agent Hook Surface, such as mounting it behind a
// transport (internal/mcp, a CLI).
func (a *App) Core() *core.Core {
	return a.core
}

// Run starts every background loop (outcome sweeper, feedback sweep,
// idempotency cleanup) and blocks until ctx is cancelled, then shuts down
// automatically. Callers should not call Shutdown separately after Run
// returns.
func (a *App) Run(ctx context.Context) error {
	return a.core.Run(ctx)
}

// Shutdown stops every background loop and closes the storage pool. Only
// needed if the caller is not using Run's automatic shutdown.
func (a *App) Shutdown(ctx context.Context) error {
	return a.core.Shutdown(ctx)
}

// Check runs the per-tool-call pipeline: classification, trust-gate
// verdict, knowledge discovery, and enforcement.
func (a *App) Check(ctx context.Context, req CheckRequest) (CheckResponse, error) {
	result, err := a.core.Check(ctx, core.CheckRequest{
		ToolName:       req.ToolName,
		Params:         req.Params,
		SessionID:      req.SessionID,
		BypassToken:    req.BypassToken,
		IdempotencyKey: req.IdempotencyKey,
	})
	resp := CheckResponse{
		DecisionID:      result.DecisionID,
		Result:          GateResult(result.Result),
		Reason:          result.Reason,
		Tier:            int(result.Tier),
		Category:        Category(result.Category),
		Score:           result.Score,
		Threshold:       result.Threshold,
		OverrideActive:  result.OverrideActive,
		KnowledgeBlock:  result.KnowledgeBlock,
		BypassActive:    result.BypassActive,
		CooldownActive:  result.CooldownActive,
		EnforcementTier: string(result.EnforcementTier),
		Advisory:        result.Advisory,
	}
	if err != nil {
		return resp, fmt.Errorf("cortex: check: %w", err)
	}
	return resp, nil
}

// ObserveToolCall forwards a just-executed tool call to the Feedback
// Tracker's implicit-signal path. Call this after actually running the
// tool a Check call allowed, so advisories the agent acted on get
// credited.
func (a *App) ObserveToolCall(ctx context.Context, toolName, argsJSON string) (int, error) {
	return a.core.ObserveToolCall(ctx, toolName, argsJSON)
}

// ObserveUserText forwards the agent's next user-facing response to the
// Feedback Tracker's explicit-signal path.
func (a *App) ObserveUserText(ctx context.Context, text string) (int, error) {
	return a.core.ObserveUserText(ctx, text)
}

// ResolveOutcome records a decision's resolved outcome directly.
func (a *App) ResolveOutcome(ctx context.Context, decisionID string, outcome Outcome, source, message string) (bool, error) {
	resolved, err := a.core.ResolveOutcome(ctx, decisionID, toModelOutcome(outcome), source, message)
	if err != nil {
		return false, fmt.Errorf("cortex: resolve outcome: %w", err)
	}
	return resolved, nil
}

// RecordCorrection classifies a human-provided message's severity and, if
// a pattern matched, resolves the most recent eligible pending decision.
func (a *App) RecordCorrection(ctx context.Context, text string, category *Category) (bool, error) {
	var modelCategory *model.Category
	if category != nil {
		c := model.Category(*category)
		modelCategory = &c
	}
	resolved, err := a.core.RecordCorrection(ctx, text, modelCategory)
	if err != nil {
		return false, fmt.Errorf("cortex: record correction: %w", err)
	}
	return resolved, nil
}

// RecordToolError resolves a pending decision whose tool call failed.
func (a *App) RecordToolError(ctx context.Context, decisionID string, internal bool, message string) (bool, error) {
	resolved, err := a.core.RecordToolError(ctx, decisionID, internal, message)
	if err != nil {
		return false, fmt.Errorf("cortex: record tool error: %w", err)
	}
	return resolved, nil
}

// ConfirmPause resolves a pending `pause` confirmation via an
// administrator's explicit approve/deny decision.
func (a *App) ConfirmPause(ctx context.Context, confirmationID string, approved bool) error {
	if err := a.core.ConfirmPause(ctx, confirmationID, approved); err != nil {
		return fmt.Errorf("cortex: confirm pause: %w", err)
	}
	return nil
}

// SetOverride grants or revokes a category-wide override on behalf of
// callerSessionID. Returns an error if callerSessionID names a
// non-interactive session or the category has hit its grant rate limit.
func (a *App) SetOverride(ctx context.Context, category Category, typ OverrideType, reason, callerSessionID, expiresIn string) (Override, error) {
	o, err := a.core.SetOverride(ctx, model.Category(category), model.OverrideType(typ), reason, callerSessionID, expiresIn)
	if err != nil {
		return Override{}, fmt.Errorf("cortex: set override: %w", err)
	}
	return fromModelOverride(o), nil
}

// RevokeAll deactivates every active override, for emergency lockdown.
func (a *App) RevokeAll(ctx context.Context) ([]Category, error) {
	categories, err := a.core.RevokeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("cortex: revoke all: %w", err)
	}
	out := make([]Category, len(categories))
	for i, c := range categories {
		out[i] = Category(c)
	}
	return out, nil
}

// ListActive returns every currently active, non-expired override.
func (a *App) ListActive(ctx context.Context) ([]Override, error) {
	overrides, err := a.core.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("cortex: list active: %w", err)
	}
	out := make([]Override, len(overrides))
	for i, o := range overrides {
		out[i] = fromModelOverride(o)
	}
	return out, nil
}

// IssueBypassToken activates a short-lived emergency bypass token via an
// out-of-band administrative channel.
func (a *App) IssueBypassToken(token string) {
	a.core.IssueBypassToken(token)
}

// GenerateReport renders the standard trust report as plain text.
func (a *App) GenerateReport(ctx context.Context) (string, error) {
	report, err := a.core.GenerateReport(ctx)
	if err != nil {
		return "", fmt.Errorf("cortex: generate report: %w", err)
	}
	return report, nil
}

// WeeklyReport renders the weekly trust digest as plain text.
func (a *App) WeeklyReport(ctx context.Context) (string, error) {
	report, err := a.core.WeeklyReport(ctx)
	if err != nil {
		return "", fmt.Errorf("cortex: weekly report: %w", err)
	}
	return report, nil
}

func fromModelOverride(o model.TrustOverride) Override {
	return Override{
		OverrideID: o.OverrideID,
		Category:   Category(o.Category),
		Type:       OverrideType(o.Type),
		Reason:     o.Reason,
		GrantedBy:  o.GrantedBy,
		GrantedAt:  o.GrantedAt,
		ExpiresAt:  o.ExpiresAt,
		Active:     o.Active,
	}
}

func toModelOutcome(o Outcome) model.Outcome {
	switch o {
	case OutcomeToolErrorInternal:
		return model.OutcomeToolErrorHelios
	case OutcomeDenied:
		return model.OutcomeDeniedByMatthew
	default:
		return model.Outcome(o)
	}
}

// memoryStoreAdapter converts a public MemoryStore into the internal
// knowledge.MemoryStore Discovery depends on, letting an external
// consumer implement against public types only.
type memoryStoreAdapter struct{ MemoryStore }

func (a memoryStoreAdapter) Query(ctx context.Context, keywords []string, categoryFilter string, confidenceThreshold float64, limit int) ([]knowledge.MemoryRecord, error) {
	records, err := a.MemoryStore.Query(ctx, keywords, categoryFilter, confidenceThreshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]knowledge.MemoryRecord, len(records))
	for i, r := range records {
		out[i] = knowledge.MemoryRecord{
			ID: r.ID, Content: r.Content, Confidence: r.Confidence,
			Category: r.Category, LastAccessed: r.LastAccessed, AccessCount: r.AccessCount,
		}
	}
	return out, nil
}

// atomWriterAdapter converts a public AtomWriter into the internal
// knowledge.AtomWriter the Feedback Tracker depends on.
type atomWriterAdapter struct{ AtomWriter }

func (a atomWriterAdapter) HasSimilarAtom(ctx context.Context, subject, action string) (bool, error) {
	return a.AtomWriter.HasSimilarAtom(ctx, subject, action)
}

func (a atomWriterAdapter) CreateCausalAtom(ctx context.Context, atom knowledge.CausalAtom) error {
	return a.AtomWriter.CreateCausalAtom(ctx, CausalAtom{
		Subject: atom.Subject, Action: atom.Action, Outcome: atom.Outcome,
		Consequences: atom.Consequences, Category: atom.Category,
		Source: atom.Source, Confidence: atom.Confidence,
	})
}

// messagingAdapter converts a public MessagingSink into internal
// core.MessagingSink.
type messagingAdapter struct{ MessagingSink }

var _ core.MessagingSink = messagingAdapter{}
