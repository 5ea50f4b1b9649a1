package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_SetAndGet(t *testing.T) {
	c := newTTLCache[string](time.Minute)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v")
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTTLCache_ExpiresEntries(t *testing.T) {
	c := newTTLCache[string](time.Millisecond)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "entry should have expired")
}

func TestTTLCache_CloseIsIdempotent(t *testing.T) {
	c := newTTLCache[int](time.Minute)
	c.Close()
	assert.NotPanics(t, func() { c.Close() })
}
