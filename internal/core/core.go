// Package core wires every trust-core subsystem (gate, outcome collector,
// override manager, knowledge discovery, enforcement engine, reporter,
// feedback tracker) into one object and owns the background loops that
// keep persisted state converging without a request driving them. The
// root cortex package is a thin public wrapper around Core; nothing in
// internal/* imports it back.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexgate/cortex/internal/config"
	"github.com/cortexgate/cortex/internal/enforcement"
	"github.com/cortexgate/cortex/internal/feedback"
	"github.com/cortexgate/cortex/internal/gate"
	"github.com/cortexgate/cortex/internal/knowledge"
	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/outcome"
	"github.com/cortexgate/cortex/internal/override"
	"github.com/cortexgate/cortex/internal/ratelimit"
	"github.com/cortexgate/cortex/internal/reporter"
	"github.com/cortexgate/cortex/internal/session"
	"github.com/cortexgate/cortex/internal/storage"
)

// MessagingSink is the opaque send-message sink the external Messaging
// collaborator implements. It is used only to emit milestone
// summaries and critical confirmation requests — never on the gate's hot
// path, so every call site here fires it from a detached goroutine.
type MessagingSink interface {
	Send(ctx context.Context, subject, body string) error
}

// Deps collects the optional extension points New needs beyond cfg/db/
// logger. A nil field disables that extension point rather than failing
// construction.
type Deps struct {
	MemoryStore knowledge.MemoryStore
	AtomWriter  knowledge.AtomWriter
	Messaging   MessagingSink
	Sessions    *session.Manager
	Now         func() time.Time
}

// Core is the fully wired trust-core engine.
type Core struct {
	cfg    config.Config
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time

	gate      *gate.Gate
	outcome   *outcome.Collector
	sweeper   *outcome.Sweeper
	overrides *override.Manager
	discovery *knowledge.Discovery
	enforcer  *enforcement.Engine
	report    *reporter.Reporter
	feedback  *feedback.Tracker
	sessions  *session.Manager
	messaging MessagingSink

	running    bool
	runningMu  sync.Mutex
	cancelLoop context.CancelFunc
	loopsDone  chan struct{}
}

// New constructs every subsystem against db and returns a Core ready for
// Run. It does not start any background goroutine itself.
func New(cfg config.Config, db *storage.DB, logger *slog.Logger, deps Deps) (*Core, error) {
	if db == nil {
		return nil, errors.New("core: db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	applyFeedbackWindowOverrides(cfg)

	g := gate.New(db, db, db, logger, now)

	correctionWindow := cfg.CorrectionWindow
	if correctionWindow <= 0 {
		correctionWindow = model.DefaultCorrectionWindow
	}
	oc := outcome.New(db, logger, correctionWindow, now)

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	sw := outcome.NewSweeper(oc, logger, sweepInterval)

	limiter := overrideLimiter(cfg)
	om := override.New(db, limiter, logger, now)

	maxLookup := time.Duration(cfg.MaxLookupMS) * time.Millisecond
	if maxLookup <= 0 {
		maxLookup = 500 * time.Millisecond
	}
	disc := knowledge.New(cfg.SOPBaseDir, deps.MemoryStore, maxLookup, logger)

	level := enforcement.Level(cfg.EnforcementLevel)
	if level == "" {
		level = enforcement.LevelAdvisory
	}
	eng := enforcement.New(level, cfg.EnforcementCooldown, cfg.MaxKnowledgeLength, now)

	rep := reporter.New(db, db, db, db, oc, now)
	fb := feedback.New(db, deps.AtomWriter, logger, now)

	return &Core{
		cfg: cfg, db: db, logger: logger, now: now,
		gate: g, outcome: oc, sweeper: sw, overrides: om,
		discovery: disc, enforcer: eng, report: rep, feedback: fb,
		sessions: deps.Sessions, messaging: deps.Messaging,
		loopsDone: make(chan struct{}),
	}, nil
}

// overrideLimiter builds the per-category grant limiter described by
// cfg.OverrideGrantsPerHour. A non-positive value disables throttling
// entirely rather than constructing a limiter that always allows anyway,
// saving a goroutine the memory limiter would otherwise spin up.
func overrideLimiter(cfg config.Config) ratelimit.Limiter {
	if cfg.OverrideGrantsPerHour <= 0 {
		return ratelimit.NoopLimiter{}
	}
	ratePerSecond := float64(cfg.OverrideGrantsPerHour) / time.Hour.Seconds()
	return ratelimit.NewMemoryLimiter(ratePerSecond, cfg.OverrideGrantsPerHour)
}

// applyFeedbackWindowOverrides folds the two config-level overrides into
// model.FeedbackWindow's per-tier defaults before anything reads them.
// Zero means "use the built-in default", matching config.Load's contract
// for every other tuning override.
func applyFeedbackWindowOverrides(cfg config.Config) {
	if cfg.FeedbackWindowTier12 > 0 {
		model.FeedbackWindow[model.Tier1] = cfg.FeedbackWindowTier12
		model.FeedbackWindow[model.Tier2] = cfg.FeedbackWindowTier12
	}
	if cfg.FeedbackWindowTier34 > 0 {
		model.FeedbackWindow[model.Tier3] = cfg.FeedbackWindowTier34
		model.FeedbackWindow[model.Tier4] = cfg.FeedbackWindowTier34
	}
}

// Run starts the outcome sweeper and every background loop, then blocks
// until ctx is cancelled. On return it calls Shutdown automatically —
// callers should not call Shutdown separately after Run returns.
func (c *Core) Run(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return errors.New("core: already running")
	}
	c.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelLoop = cancel
	c.runningMu.Unlock()

	c.sweeper.Start(loopCtx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.idempotencyCleanupLoop(loopCtx) }()
	go func() { defer wg.Done(); c.feedbackSweepLoop(loopCtx) }()
	go func() {
		wg.Wait()
		close(c.loopsDone)
	}()

	<-ctx.Done()
	return c.Shutdown(context.Background())
}

// Shutdown stops the sweeper and every background loop, waits for them to
// drain, then closes the storage pool. Safe to call once; a second call
// is a no-op beyond closing the pool again, matching storage.DB.Close's
// own idempotence.
func (c *Core) Shutdown(ctx context.Context) error {
	c.logger.Info("core: shutting down")

	c.runningMu.Lock()
	cancel := c.cancelLoop
	c.runningMu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.sweeper.Stop(ctx)

	select {
	case <-c.loopsDone:
	case <-ctx.Done():
		c.logger.Warn("core: background loops did not drain before shutdown context expired")
	case <-time.After(10 * time.Second):
		c.logger.Warn("core: background loops did not drain within 10s, continuing shutdown")
	}

	if err := c.db.Close(); err != nil {
		c.logger.Error("core: storage close error", "error", err)
		return fmt.Errorf("core: shutdown: %w", err)
	}
	c.logger.Info("core: stopped")
	return nil
}

// idempotencyCleanupLoop periodically deletes completed idempotency keys
// older than their TTL.
func (c *Core) idempotencyCleanupLoop(ctx context.Context) {
	interval := c.cfg.IdempotencyCleanupEvery
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ttl := c.cfg.IdempotencyCompletedTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			deleted, err := c.db.CleanupIdempotencyKeys(opCtx, ttl, c.now())
			cancel()
			if err != nil {
				c.logger.Warn("core: idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				c.logger.Info("core: idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// feedbackSweepLoop periodically resolves advisory deliveries whose
// observation window elapsed with no signal, on the same cadence as the
// outcome sweeper since both degrade gracefully to "check again next
// tick" on failure.
func (c *Core) feedbackSweepLoop(ctx context.Context) {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := c.feedback.SweepExpired(opCtx)
			cancel()
			if err != nil {
				c.logger.Error("core: feedback sweep failed", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Info("core: feedback sweep resolved expired deliveries", "count", n)
			}
		}
	}
}

// notify fires subject/body at the messaging sink from a detached
// goroutine with its own bounded timeout, so a slow or unavailable sink
// never delays the caller of the hook that triggered it.
func (c *Core) notify(subject, body string) {
	if c.messaging == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.messaging.Send(ctx, subject, body); err != nil {
			c.logger.Warn("core: messaging sink send failed", "subject", subject, "error", err)
		}
	}()
}

// notifyMilestones looks up milestones recorded at or after since and
// forwards each as a messaging summary. Called after any operation that
// may have produced one (override grant/revoke, outcome resolution) so
// the sink stays a pure side effect of already-committed state rather
// than a parameter threaded through every write path.
func (c *Core) notifyMilestones(ctx context.Context, since time.Time) {
	if c.messaging == nil {
		return
	}
	milestones, err := c.db.MilestonesSince(ctx, since)
	if err != nil {
		c.logger.Warn("core: milestone lookup for messaging failed", "error", err)
		return
	}
	for _, m := range milestones {
		c.notify(
			fmt.Sprintf("trust milestone: %s", m.Type),
			fmt.Sprintf("category=%s type=%s old_score=%v new_score=%.3f trigger=%s",
				m.Category, m.Type, m.OldScore, m.NewScore, m.Trigger),
		)
	}
}
