package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicy_GrowsExponentiallyAndCapsAtMax(t *testing.T) {
	p := backoffPolicy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 0}

	d1, ok := p.delay(1)
	require.True(t, ok)
	assert.GreaterOrEqual(t, d1, 50*time.Millisecond)
	assert.LessOrEqual(t, d1, 100*time.Millisecond)

	d5, ok := p.delay(5)
	require.True(t, ok)
	assert.LessOrEqual(t, d5, time.Second)
}

func TestBackoffPolicy_StopsAtMaxAttempts(t *testing.T) {
	p := backoffPolicy{Initial: 10 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 3}

	_, ok := p.delay(3)
	assert.True(t, ok)

	_, ok = p.delay(4)
	assert.False(t, ok)
}

func TestBackoffPolicy_UnboundedWhenMaxAttemptsZero(t *testing.T) {
	p := backoffPolicy{Initial: time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 0}

	_, ok := p.delay(1000)
	assert.True(t, ok)
}
