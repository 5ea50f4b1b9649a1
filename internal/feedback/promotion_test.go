package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexgate/cortex/internal/knowledge"
	"github.com/cortexgate/cortex/internal/model"
)

type fakeAtoms struct {
	hasSimilar bool
	created    []knowledge.CausalAtom
}

func (f *fakeAtoms) HasSimilarAtom(ctx context.Context, subject, action string) (bool, error) {
	return f.hasSimilar, nil
}

func (f *fakeAtoms) CreateCausalAtom(ctx context.Context, atom knowledge.CausalAtom) error {
	f.created = append(f.created, atom)
	return nil
}

func TestMaybePromote_CreatesAtomAfterThresholdActedOnObservations(t *testing.T) {
	store := newFakeStore()
	store.rates["database|memory"] = model.ActionRate{
		Source: "database", AdvisoryType: "memory",
		Rate: 0.5, ActedOnCount: minActedOnCountForPromote - 1, ObservationCount: 4, FrequencyMultiplier: 1,
	}
	atoms := &fakeAtoms{}
	tr := New(store, atoms, testLogger(), fixedNow(time.Now()))

	_, err := tr.Deliver(context.Background(), "database", "memory")
	require.NoError(t, err)
	n, err := tr.ObserveToolCall(context.Background(), "exec", `{"cmd":"pg_dump backup"}`)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, atoms.created, 1)
	atom := atoms.created[0]
	assert.Equal(t, "database", atom.Subject)
	assert.Equal(t, "synthetic", atom.Source)
	assert.GreaterOrEqual(t, atom.Confidence, minAtomConfidence)
	assert.Less(t, atom.Confidence, maxAtomConfidence+1e-9)
}

func TestMaybePromote_SkipsWhenSimilarAtomAlreadyExists(t *testing.T) {
	store := newFakeStore()
	store.rates["database|memory"] = model.ActionRate{
		Source: "database", AdvisoryType: "memory",
		Rate: 0.5, ActedOnCount: minActedOnCountForPromote - 1, ObservationCount: 4, FrequencyMultiplier: 1,
	}
	atoms := &fakeAtoms{hasSimilar: true}
	tr := New(store, atoms, testLogger(), fixedNow(time.Now()))

	_, _ = tr.Deliver(context.Background(), "database", "memory")
	_, err := tr.ObserveToolCall(context.Background(), "exec", `{"cmd":"pg_dump backup"}`)
	require.NoError(t, err)

	assert.Empty(t, atoms.created)
}

func TestMaybePromote_BelowActedOnThresholdDoesNotCreateAtom(t *testing.T) {
	store := newFakeStore()
	atoms := &fakeAtoms{}
	tr := New(store, atoms, testLogger(), fixedNow(time.Now()))

	_, _ = tr.Deliver(context.Background(), "database", "memory")
	_, err := tr.ObserveToolCall(context.Background(), "exec", `{"cmd":"pg_dump backup"}`)
	require.NoError(t, err)

	assert.Empty(t, atoms.created)
}
