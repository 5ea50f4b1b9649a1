package enforcement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBypassTokens_ActiveBeforeExpiry(t *testing.T) {
	b := newBypassTokens()
	now := time.Now()
	b.Issue("tok", now)
	assert.True(t, b.Active("tok", now.Add(30*time.Minute)))
}

func TestBypassTokens_ExpiresAfterOneHour(t *testing.T) {
	b := newBypassTokens()
	now := time.Now()
	b.Issue("tok", now)
	assert.False(t, b.Active("tok", now.Add(61*time.Minute)))
}

func TestBypassTokens_EmptyTokenNeverActive(t *testing.T) {
	b := newBypassTokens()
	b.Issue("", time.Now())
	assert.False(t, b.Active("", time.Now()))
}

func TestBypassTokens_UnknownTokenNotActive(t *testing.T) {
	b := newBypassTokens()
	assert.False(t, b.Active("nope", time.Now()))
}
