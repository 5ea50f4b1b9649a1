package enforcement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownKey_OrderIndependentForLabelsAndCategories(t *testing.T) {
	k1 := cooldownKey("exec", "proj", "database", []string{"B", "A"}, []string{"y", "x"})
	k2 := cooldownKey("exec", "proj", "database", []string{"A", "B"}, []string{"x", "y"})
	assert.Equal(t, k1, k2)
}

func TestCooldownKey_DiffersOnToolName(t *testing.T) {
	k1 := cooldownKey("exec", "proj", "database", nil, nil)
	k2 := cooldownKey("deploy", "proj", "database", nil, nil)
	assert.NotEqual(t, k1, k2)
}

func TestCooldownStore_ActiveWithinWindow(t *testing.T) {
	c := newCooldownStore()
	now := time.Now()
	c.Record("k", now)
	assert.True(t, c.Active("k", now.Add(5*time.Second), 10*time.Second))
	assert.False(t, c.Active("k", now.Add(20*time.Second), 10*time.Second))
}

func TestCooldownStore_PrunesOldestHalfWhenFull(t *testing.T) {
	c := newCooldownStore()
	base := time.Now()
	for i := 0; i < maxCooldownEntries; i++ {
		c.Record(string(rune(i)), base.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, maxCooldownEntries, len(c.entries))

	c.Record("overflow", base.Add(time.Duration(maxCooldownEntries)*time.Second))
	assert.LessOrEqual(t, len(c.entries), maxCooldownEntries/2+2)
}
