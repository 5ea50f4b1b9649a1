package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m, err := NewManager("", "", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.Issue("sess-user-alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-user-alice", claims.SessionID)
	assert.True(t, claims.Interactive)
}

func TestIssueNonInteractiveSession(t *testing.T) {
	m, err := NewManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := m.Issue("pipeline-task-042")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.False(t, claims.Interactive)
}

func TestValidateRejectsTokenFromDifferentKeyPair(t *testing.T) {
	m1, err := NewManager("", "", time.Hour)
	require.NoError(t, err)
	m2, err := NewManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := m1.Issue("sess-1")
	require.NoError(t, err)

	_, err = m2.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m, err := NewManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := m.Issue("sess-1")
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.Error(t, err)
}
