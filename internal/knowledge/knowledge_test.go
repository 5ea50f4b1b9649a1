package knowledge

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeMemoryStore struct {
	records []MemoryRecord
	err     error
	block   bool // if true, blocks until ctx is done and returns ctx.Err()
}

func (f *fakeMemoryStore) Query(ctx context.Context, keywords []string, category string, threshold float64, limit int) ([]MemoryRecord, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func TestDiscover_SOPOnlyWhenMemoryStoreNil(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/deploy.md", []byte("## Pre-flight\ncheck things\n"), 0o600))

	d := New(dir, nil, 100*time.Millisecond, testLogger())
	defer d.Close()

	res := d.Discover(context.Background(), []string{"deploy"}, "", `{"command":"deploy service"}`)
	require.Len(t, res.SOPs, 1)
	assert.Equal(t, "Deployment Runbook", res.SOPs[0].Label)
	assert.Empty(t, res.Memories)
	assert.False(t, res.MemoryTimedOut)
}

func TestDiscover_CombinesSOPsAndMemories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/database-ops.md", []byte("content"), 0o600))

	store := &fakeMemoryStore{records: []MemoryRecord{{ID: "m1", Content: "past incident", Confidence: 0.9, Category: "database"}}}
	d := New(dir, store, 100*time.Millisecond, testLogger())
	defer d.Close()

	res := d.Discover(context.Background(), []string{"postgres"}, "database", `{"command":"psql postgres"}`)
	require.Len(t, res.SOPs, 1)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "m1", res.Memories[0].ID)
	assert.False(t, res.MemoryTimedOut)
}

// testable property 14: with the memory store stubbed to never return,
// Discover completes within maxLookup + epsilon and falls back to
// SOPs-only.
func TestDiscover_TimeoutFallsBackToSOPsOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/deploy.md", []byte("content"), 0o600))

	store := &fakeMemoryStore{block: true}
	maxLookup := 30 * time.Millisecond
	d := New(dir, store, maxLookup, testLogger())
	defer d.Close()

	start := time.Now()
	res := d.Discover(context.Background(), []string{"deploy"}, "", `{"command":"deploy"}`)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, maxLookup+200*time.Millisecond)
	assert.True(t, res.MemoryTimedOut)
	assert.Empty(t, res.Memories)
	require.Len(t, res.SOPs, 1)
}

func TestDiscover_MemoryStoreErrorYieldsEmptyMemories(t *testing.T) {
	dir := t.TempDir()
	store := &fakeMemoryStore{err: context.DeadlineExceeded}
	d := New(dir, store, 100*time.Millisecond, testLogger())
	defer d.Close()

	res := d.Discover(context.Background(), []string{"x"}, "", `{}`)
	assert.True(t, res.MemoryErrored)
	assert.Empty(t, res.Memories)
}

func TestDiscover_NeverErrorsOnMissingSOPFiles(t *testing.T) {
	dir := t.TempDir() // empty: every rule's file load will fail
	d := New(dir, nil, 50*time.Millisecond, testLogger())
	defer d.Close()

	res := d.Discover(context.Background(), nil, "", `{"command":"deploy to prod"}`)
	assert.Empty(t, res.SOPs)
	assert.GreaterOrEqual(t, res.ElapsedMS, int64(0))
}

func TestDiscover_MemoryResultsAreCached(t *testing.T) {
	dir := t.TempDir()
	store := &fakeMemoryStore{records: []MemoryRecord{{ID: "m1", Confidence: 0.8}}}
	d := New(dir, store, 100*time.Millisecond, testLogger())
	defer d.Close()

	res1 := d.Discover(context.Background(), []string{"a"}, "cat", `{}`)
	store.records = nil // mutate underlying store; cache should still serve the old result
	res2 := d.Discover(context.Background(), []string{"a"}, "cat", `{}`)

	assert.Equal(t, res1.Memories, res2.Memories)
	require.Len(t, res2.Memories, 1)
}
