package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleFor_KnownSourceReturnsTableEntry(t *testing.T) {
	r := ruleFor("Database Operations")
	assert.Contains(t, r.Keywords, "backup")
	assert.Contains(t, r.ToolNames, "exec")
}

func TestRuleFor_UnknownSourceDerivesFallback(t *testing.T) {
	r := ruleFor("custom_unlisted_source")
	assert.Contains(t, r.Keywords, "custom")
	assert.Contains(t, r.Keywords, "unlisted")
	assert.NotEmpty(t, r.ToolNames)
}

func TestRuleFor_IsCaseInsensitive(t *testing.T) {
	r1 := ruleFor("database")
	r2 := ruleFor("DATABASE")
	assert.Equal(t, r1, r2)
}
