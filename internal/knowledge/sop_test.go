package knowledge

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSOPMatcher_MatchesAndSortsByPriority(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/deploy.md", []byte("## Pre-flight\ncheck\n## Rollback\nsteps\n"), 0o600))
	require.NoError(t, os.WriteFile(dir+"/release.md", []byte("## Checklist\nsteps\n"), 0o600))

	m := newSOPMatcher(dir, nil)
	defer m.Close()

	matches := m.Match(`{"command":"deploy the release"}`)
	require.Len(t, matches, 2)
	// deploy.md (priority 90) must sort ahead of release.md (priority 85).
	assert.Equal(t, "Deployment Runbook", matches[0].Label)
	assert.Equal(t, "Release Runbook", matches[1].Label)
}

func TestSOPMatcher_SkipsMissingFile(t *testing.T) {
	dir := t.TempDir() // deploy.md does not exist
	m := newSOPMatcher(dir, nil)
	defer m.Close()

	matches := m.Match(`{"command":"deploy now"}`)
	assert.Empty(t, matches)
}

func TestSOPMatcher_CachesFileContent(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/deploy.md"
	require.NoError(t, os.WriteFile(path, []byte("## Pre-flight\nfirst\n"), 0o600))

	m := newSOPMatcher(dir, nil)
	defer m.Close()

	first := m.Match(`{"command":"deploy"}`)
	require.Len(t, first, 1)

	require.NoError(t, os.WriteFile(path, []byte("## Pre-flight\nsecond\n"), 0o600))
	second := m.Match(`{"command":"deploy"}`)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Content, second[0].Content, "cached content should not reflect the rewritten file")
}

func TestExtractSections_MarkdownHeading(t *testing.T) {
	content := "intro\n## Pre-flight\ncheck disk space\ncheck backups\n## Rollback\nrevert steps\n"
	got := extractSections(content, []string{"Pre-flight"})
	assert.Contains(t, got, "check disk space")
	assert.NotContains(t, got, "revert steps")
}

func TestExtractSections_KeyBlock(t *testing.T) {
	content := "Summary:\none line\nBackup first:\ntake a snapshot\nrun pg_dump\nMigrations:\napply forward only\n"
	got := extractSections(content, []string{"Backup first"})
	assert.Contains(t, got, "take a snapshot")
	assert.Contains(t, got, "run pg_dump")
	assert.NotContains(t, got, "apply forward only")
}

func TestExtractSections_FallsBackWhenSectionMissing(t *testing.T) {
	content := "no headings here, just a long paragraph of runbook prose. "
	got := extractSections(content, []string{"Nonexistent"})
	assert.Equal(t, content, got)
}

func TestExtractSections_NoSectionsRequestedUsesFallback(t *testing.T) {
	long := make([]byte, sopFallbackChars+500)
	for i := range long {
		long[i] = 'a'
	}
	got := extractSections(string(long), nil)
	assert.Len(t, got, sopFallbackChars)
}
