package outcome

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexgate/cortex/internal/model"
)

type fakeStore struct {
	resolveCalls []resolveCall
	resolveErr   error
	resolveRet   bool

	expired    []model.PendingOutcome
	expiredErr error

	mostRecent    model.Decision
	mostRecentErr error

	confirmation    model.PendingConfirmation
	confirmationErr error

	resolveConfirmationErr error
	resolvedConfirmationID string
	resolvedResolution     string

	unresolved []model.PendingConfirmation
}

type resolveCall struct {
	decisionID string
	outcome    model.Outcome
	source     string
	message    string
}

func (f *fakeStore) ResolveOutcome(ctx context.Context, decisionID string, outcomeVal model.Outcome, source, correctionMessage string, now time.Time) (bool, error) {
	f.resolveCalls = append(f.resolveCalls, resolveCall{decisionID, outcomeVal, source, correctionMessage})
	if f.resolveErr != nil {
		return false, f.resolveErr
	}
	return f.resolveRet, nil
}

func (f *fakeStore) MostRecentPendingDecision(ctx context.Context, since time.Time, category *model.Category) (model.Decision, error) {
	if f.mostRecentErr != nil {
		return model.Decision{}, f.mostRecentErr
	}
	return f.mostRecent, nil
}

func (f *fakeStore) ExpiredPendingOutcomes(ctx context.Context, now time.Time) ([]model.PendingOutcome, error) {
	return f.expired, f.expiredErr
}

func (f *fakeStore) GetPendingConfirmation(ctx context.Context, confirmationID string) (model.PendingConfirmation, error) {
	if f.confirmationErr != nil {
		return model.PendingConfirmation{}, f.confirmationErr
	}
	return f.confirmation, nil
}

func (f *fakeStore) ResolvePendingConfirmation(ctx context.Context, confirmationID, resolution string, resolvedAt time.Time) error {
	f.resolvedConfirmationID = confirmationID
	f.resolvedResolution = resolution
	return f.resolveConfirmationErr
}

func (f *fakeStore) UnresolvedPendingConfirmations(ctx context.Context, now time.Time) ([]model.PendingConfirmation, error) {
	return f.unresolved, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweepExpired_ResolvesEachAsPass(t *testing.T) {
	store := &fakeStore{
		expired: []model.PendingOutcome{
			{DecisionID: "d1"}, {DecisionID: "d2"},
		},
		resolveRet: true,
	}
	c := New(store, testLogger(), 30*time.Minute, nil)

	n, err := c.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.resolveCalls, 2)
	assert.Equal(t, model.OutcomePass, store.resolveCalls[0].outcome)
	assert.Equal(t, "feedback_window_expired", store.resolveCalls[0].source)
}

func TestSweepExpired_PerDecisionFailureDoesNotStopBatch(t *testing.T) {
	store := &fakeStore{
		expired:    []model.PendingOutcome{{DecisionID: "d1"}},
		resolveErr: errors.New("locked"),
	}
	c := New(store, testLogger(), 30*time.Minute, nil)

	n, err := c.SweepExpired(context.Background())
	require.NoError(t, err, "a single decision's resolve failure must not fail the whole sweep")
	assert.Equal(t, 0, n)
}

func TestRecordCorrection_SignificantResolvesMostRecentPending(t *testing.T) {
	store := &fakeStore{
		mostRecent: model.Decision{DecisionID: "d1"},
		resolveRet: true,
	}
	c := New(store, testLogger(), 30*time.Minute, nil)

	resolved, err := c.RecordCorrection(context.Background(), "that broke production, revert", nil)
	require.NoError(t, err)
	assert.True(t, resolved)
	require.Len(t, store.resolveCalls, 1)
	assert.Equal(t, model.OutcomeCorrectedSignificant, store.resolveCalls[0].outcome)
	assert.Equal(t, "correction", store.resolveCalls[0].source)
}

func TestRecordCorrection_NoPatternMatchIsNotAnError(t *testing.T) {
	store := &fakeStore{}
	c := New(store, testLogger(), 30*time.Minute, nil)

	resolved, err := c.RecordCorrection(context.Background(), "thanks, looks good", nil)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Empty(t, store.resolveCalls)
}

func TestRecordCorrection_NoEligiblePendingDecisionIsNotAnError(t *testing.T) {
	store := &fakeStore{mostRecentErr: errors.New("not found")}
	c := New(store, testLogger(), 30*time.Minute, nil)

	resolved, err := c.RecordCorrection(context.Background(), "that broke production", nil)
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestRecordToolError_Helios(t *testing.T) {
	store := &fakeStore{resolveRet: true}
	c := New(store, testLogger(), 30*time.Minute, nil)

	resolved, err := c.RecordToolError(context.Background(), "d1", false)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, model.OutcomeToolErrorHelios, store.resolveCalls[0].outcome)
}

func TestRecordToolError_External(t *testing.T) {
	store := &fakeStore{resolveRet: true}
	c := New(store, testLogger(), 30*time.Minute, nil)

	_, err := c.RecordToolError(context.Background(), "d1", true)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeToolErrorExternal, store.resolveCalls[0].outcome)
}

func TestConfirmPause_ApprovedResolvesToPass(t *testing.T) {
	store := &fakeStore{
		confirmation: model.PendingConfirmation{ConfirmationID: "c1", DecisionID: "d1"},
		resolveRet:   true,
	}
	c := New(store, testLogger(), 30*time.Minute, nil)

	err := c.ConfirmPause(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.Equal(t, "c1", store.resolvedConfirmationID)
	assert.Equal(t, "approved", store.resolvedResolution)
	require.Len(t, store.resolveCalls, 1)
	assert.Equal(t, "d1", store.resolveCalls[0].decisionID)
	assert.Equal(t, model.OutcomePass, store.resolveCalls[0].outcome)
	assert.Equal(t, "human_confirmation", store.resolveCalls[0].source)
}

func TestConfirmPause_DeniedResolvesToDeniedByMatthew(t *testing.T) {
	store := &fakeStore{
		confirmation: model.PendingConfirmation{ConfirmationID: "c1", DecisionID: "d1"},
		resolveRet:   true,
	}
	c := New(store, testLogger(), 30*time.Minute, nil)

	err := c.ConfirmPause(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.Equal(t, "denied", store.resolvedResolution)
	assert.Equal(t, model.OutcomeDeniedByMatthew, store.resolveCalls[0].outcome)
}

func TestConfirmPause_AlreadyResolvedErrors(t *testing.T) {
	store := &fakeStore{
		confirmation: model.PendingConfirmation{ConfirmationID: "c1", DecisionID: "d1", Resolved: true},
	}
	c := New(store, testLogger(), 30*time.Minute, nil)

	err := c.ConfirmPause(context.Background(), "c1", true)
	assert.ErrorIs(t, err, ErrConfirmationAlreadyResolved)
	assert.Empty(t, store.resolveCalls)
}
