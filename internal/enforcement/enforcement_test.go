package enforcement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexgate/cortex/internal/extract"
	"github.com/cortexgate/cortex/internal/knowledge"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleResult() knowledge.Result {
	return knowledge.Result{
		SOPs:     []knowledge.SOPMatch{{Label: "Docker Ops", Path: "docker-ops.md", Content: "be careful", Priority: 50}},
		Memories: nil,
	}
}

func TestEnforce_DisabledAllowsSilently(t *testing.T) {
	e := New(LevelDisabled, time.Minute, 4000, fixedClock(time.Now()))
	out := e.Enforce("exec", extract.Context{}, sampleResult(), "")
	assert.True(t, out.Allow)
	assert.Empty(t, out.Payload)
}

func TestEnforce_NoKnowledgeAllowsSilently(t *testing.T) {
	e := New(LevelStrict, time.Minute, 4000, fixedClock(time.Now()))
	out := e.Enforce("exec", extract.Context{}, knowledge.Result{}, "")
	assert.True(t, out.Allow)
	assert.False(t, out.Blocked)
}

func TestEnforce_AdvisoryAllowsWithPayload(t *testing.T) {
	e := New(LevelAdvisory, time.Minute, 4000, fixedClock(time.Now()))
	out := e.Enforce("exec", extract.Context{CommandType: "docker"}, sampleResult(), "")
	assert.True(t, out.Allow)
	assert.False(t, out.Blocked)
	assert.Contains(t, out.Payload, "Docker Ops")
	assert.Contains(t, out.Payload, "no acknowledgment required")
}

func TestEnforce_StrictBlocksWithPayload(t *testing.T) {
	e := New(LevelStrict, time.Minute, 4000, fixedClock(time.Now()))
	out := e.Enforce("exec", extract.Context{CommandType: "docker"}, sampleResult(), "")
	assert.False(t, out.Allow)
	assert.True(t, out.Blocked)
	assert.Contains(t, out.Payload, "pending acknowledgment")
}

func TestEnforce_BypassTokenAllowsSilently(t *testing.T) {
	now := time.Now()
	e := New(LevelStrict, time.Minute, 4000, fixedClock(now))
	e.IssueBypassToken("incident-42")

	out := e.Enforce("exec", extract.Context{}, sampleResult(), "incident-42")
	assert.True(t, out.Allow)
	assert.True(t, out.BypassActive)
	assert.Empty(t, out.Payload)
}

func TestEnforce_ExpiredBypassTokenDoesNotApply(t *testing.T) {
	base := time.Now()
	var now time.Time
	e := New(LevelStrict, time.Minute, 4000, func() time.Time { return now })

	now = base
	e.IssueBypassToken("tok")
	now = base.Add(2 * time.Hour)

	out := e.Enforce("exec", extract.Context{}, sampleResult(), "tok")
	assert.True(t, out.Blocked)
}

// S6 — cooldown: two identical calls in succession yield exactly one
// injection; the second allows silently with cooldownActive=true.
func TestEnforce_CooldownSuppressesSecondInjection(t *testing.T) {
	base := time.Now()
	var now time.Time
	now = base
	e := New(LevelStrict, 60*time.Second, 4000, func() time.Time { return now })

	first := e.Enforce("exec", extract.Context{CommandType: "docker compose up"}, sampleResult(), "")
	require.True(t, first.Blocked)
	assert.False(t, first.CooldownActive)

	now = base.Add(10 * time.Second)
	second := e.Enforce("exec", extract.Context{CommandType: "docker compose up"}, sampleResult(), "")
	assert.True(t, second.Allow)
	assert.True(t, second.CooldownActive)
	assert.False(t, second.Blocked)
}

func TestEnforce_CooldownExpiresAfterWindow(t *testing.T) {
	base := time.Now()
	var now time.Time
	now = base
	e := New(LevelStrict, 60*time.Second, 4000, func() time.Time { return now })

	e.Enforce("exec", extract.Context{}, sampleResult(), "")
	now = base.Add(61 * time.Second)
	second := e.Enforce("exec", extract.Context{}, sampleResult(), "")
	assert.True(t, second.Blocked)
	assert.False(t, second.CooldownActive)
}

func TestEnforce_CategoryLevel_PromotesBySOPPresence(t *testing.T) {
	e := New(LevelCategory, time.Minute, 4000, fixedClock(time.Now()))
	// No memories, only an SOP: baseline advisory promoted to category.
	out := e.Enforce("exec", extract.Context{}, sampleResult(), "")
	assert.True(t, out.Blocked)
	assert.Equal(t, LevelCategory, out.EffectiveLevel)
}

func TestEnforce_CategoryLevel_FinancialMemoryEscalatesToStrict(t *testing.T) {
	e := New(LevelCategory, time.Minute, 4000, fixedClock(time.Now()))
	result := knowledge.Result{Memories: []knowledge.MemoryRecord{{ID: "m1", Category: "financial", Confidence: 0.9}}}
	out := e.Enforce("exec", extract.Context{}, result, "")
	assert.True(t, out.Blocked)
	assert.Equal(t, LevelStrict, out.EffectiveLevel)
}

func TestEnforce_ResetClearsCooldownAndBypass(t *testing.T) {
	base := time.Now()
	e := New(LevelStrict, time.Minute, 4000, fixedClock(base))
	e.Enforce("exec", extract.Context{}, sampleResult(), "")
	e.IssueBypassToken("tok")

	e.Reset()

	out := e.Enforce("exec", extract.Context{}, sampleResult(), "")
	assert.False(t, out.CooldownActive)
	assert.True(t, out.Blocked)

	out2 := e.Enforce("exec", extract.Context{}, sampleResult(), "tok")
	assert.False(t, out2.BypassActive)
}
