// Package override implements the Override Manager: the entry point that
// grants or revokes a category-wide override, gated on the caller session
// being interactive so an agent cannot escalate its own privileges from a
// subordinate session it spawned.
package override

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cortexgate/cortex/internal/milestone"
	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/ratelimit"
	"github.com/cortexgate/cortex/internal/session"
	"github.com/cortexgate/cortex/internal/storage"
)

// ErrSelfEscalation is returned when caller_session_id names a
// non-interactive session. No state change occurs.
var ErrSelfEscalation = fmt.Errorf("override: caller session is not interactive")

// ErrRateLimited is returned when a category has exceeded its grant quota
// for the current window.
var ErrRateLimited = fmt.Errorf("override: category grant rate limit exceeded")

// Store is the subset of storage.DB the Override Manager needs.
type Store interface {
	SetOverride(ctx context.Context, category model.Category, typ model.OverrideType, reason, grantedBy string, expiresAt *time.Time, now time.Time) (model.TrustOverride, error)
	RevokeAllOverrides(ctx context.Context, now time.Time) ([]model.Category, error)
	ListActiveOverrides(ctx context.Context, now time.Time) ([]model.TrustOverride, error)
	GetTrustScore(ctx context.Context, category model.Category) (model.TrustScore, error)
	InsertMilestone(ctx context.Context, m model.Milestone) error
}

// Manager wires session classification, per-category grant throttling, and
// storage to implement setOverride/revokeAll/listActive.
type Manager struct {
	store   Store
	limiter ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Manager. now defaults to time.Now if nil. limiter
// defaults to ratelimit.NoopLimiter{} if nil, which disables throttling.
func New(store Store, limiter ratelimit.Limiter, logger *slog.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &Manager{store: store, limiter: limiter, logger: logger, now: now}
}

var durationPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseExpiresIn parses a duration string of the form Nm, Nh, or Nd into a
// time.Duration. An empty string means no expiry (ok=false).
func ParseExpiresIn(expiresIn string) (time.Duration, bool, error) {
	if expiresIn == "" {
		return 0, false, nil
	}
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(expiresIn))
	if m == nil {
		return 0, false, fmt.Errorf("override: invalid expires_in %q, want Nm/Nh/Nd", expiresIn)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, fmt.Errorf("override: invalid expires_in %q: %w", expiresIn, err)
	}
	var unit time.Duration
	switch m[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, true, nil
}

// SetOverride grants or revokes a category-wide override on behalf of
// callerSessionID, per spec's four-step contract: reject non-interactive
// callers, deactivate prior overrides, insert the new row, and record a
// milestone with the current trust score.
func (m *Manager) SetOverride(ctx context.Context, category model.Category, typ model.OverrideType, reason, callerSessionID, expiresIn string) (model.TrustOverride, error) {
	if !session.IsInteractive(callerSessionID) {
		m.logger.Warn("override: self-escalation attempt blocked", "session_id", callerSessionID, "category", category)
		return model.TrustOverride{}, ErrSelfEscalation
	}

	allowed, err := m.limiter.Allow(ctx, string(category))
	if err != nil {
		return model.TrustOverride{}, fmt.Errorf("override: rate limiter: %w", err)
	}
	if !allowed {
		return model.TrustOverride{}, ErrRateLimited
	}

	now := m.now()
	var expiresAt *time.Time
	if d, ok, err := ParseExpiresIn(expiresIn); err != nil {
		return model.TrustOverride{}, err
	} else if ok {
		t := now.Add(d)
		expiresAt = &t
	}

	o, err := m.store.SetOverride(ctx, category, typ, reason, callerSessionID, expiresAt, now)
	if err != nil {
		return model.TrustOverride{}, fmt.Errorf("override: set override: %w", err)
	}

	m.recordMilestone(ctx, category, typ == model.OverrideGranted, "setOverride")

	return o, nil
}

// RevokeAll deactivates every active override, used for emergency lockdown.
// A revocation milestone is recorded per affected category.
func (m *Manager) RevokeAll(ctx context.Context) ([]model.Category, error) {
	now := m.now()
	categories, err := m.store.RevokeAllOverrides(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("override: revoke all: %w", err)
	}
	for _, c := range categories {
		m.recordMilestone(ctx, c, false, "revokeAll")
	}
	return categories, nil
}

// ListActive returns every active, non-expired override.
func (m *Manager) ListActive(ctx context.Context) ([]model.TrustOverride, error) {
	out, err := m.store.ListActiveOverrides(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("override: list active: %w", err)
	}
	return out, nil
}

// recordMilestone looks up the category's current trust score and emits an
// override_granted/override_revoked milestone. A failure to read the score
// or write the milestone is logged, not propagated: the override itself
// has already been committed and must not be rolled back over a
// best-effort observability write.
func (m *Manager) recordMilestone(ctx context.Context, category model.Category, granted bool, trigger string) {
	ts, err := m.store.GetTrustScore(ctx, category)
	if err != nil {
		m.logger.Error("override: read trust score for milestone", "error", err, "category", category)
		return
	}
	ms := milestone.ForOverride(category, granted, ts.CurrentScore, trigger, m.now())
	if err := m.store.InsertMilestone(ctx, *ms); err != nil {
		m.logger.Error("override: insert milestone", "error", err, "category", category)
	}
}
