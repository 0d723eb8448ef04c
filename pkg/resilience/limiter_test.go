package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPerOperation(t *testing.T) {
	l := NewLimiter(map[string]Limit{
		"charge": {Events: 2, Per: time.Minute},
		"refund": {Events: 1, Per: time.Minute},
	})

	assert.True(t, l.Allow("charge"))
	assert.True(t, l.Allow("charge"))
	assert.False(t, l.Allow("charge"))

	assert.True(t, l.Allow("refund"))
	assert.False(t, l.Allow("refund"))

	for range 100 {
		assert.True(t, l.Allow("status"))
	}
}

func TestLimiterRefills(t *testing.T) {
	l := NewLimiter(map[string]Limit{"charge": {Events: 1, Per: 20 * time.Millisecond}})
	assert.True(t, l.Allow("charge"))
	assert.False(t, l.Allow("charge"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow("charge"))
}
