package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiasCalculator_ClassifiesAskDepletionRecoveryAsBullish(t *testing.T) {
	var events []BiasEvent
	bc := NewBias(DefaultConfig(), func(e BiasEvent) { events = append(events, e) })

	bc.handleScore(Score{Value: 0.2, DepletedSide: sideAsk, RecoveredSide: sideAsk})

	require.Len(t, events, 1)
	assert.Equal(t, Bullish, events[0].Direction)
	assert.InDelta(t, 0.2, events[0].MR, 1e-9)
}

func TestBiasCalculator_ClassifiesBidDepletionRecoveryAsBearish(t *testing.T) {
	var events []BiasEvent
	bc := NewBias(DefaultConfig(), func(e BiasEvent) { events = append(events, e) })

	bc.handleScore(Score{Value: 0.2, DepletedSide: sideBid, RecoveredSide: sideBid})

	require.Len(t, events, 1)
	assert.Equal(t, Bearish, events[0].Direction)
}

func TestBiasCalculator_HysteresisKeepsClassifyingUntilMRRises(t *testing.T) {
	var events []BiasEvent
	bc := NewBias(DefaultConfig(), func(e BiasEvent) { events = append(events, e) })

	// MR = score.Value = 0.2, below the 0.30 activation threshold.
	bc.handleScore(Score{Value: 0.2, DepletedSide: sideAsk, RecoveredSide: sideAsk})
	assert.True(t, bc.active)

	// A score with MR between the two thresholds (0.40) must still
	// classify, since MR has not yet risen to the 0.50 deactivation bar.
	bc.handleScore(Score{Value: 0.4, DepletedSide: sideAsk, RecoveredSide: sideAsk})
	assert.True(t, bc.active)
	require.Len(t, events, 2)
	assert.Equal(t, Bullish, events[1].Direction)

	// MR = 0.6, past the deactivation threshold: bias goes inactive and
	// further scores classify Neutral until MR drops again.
	bc.handleScore(Score{Value: 0.6, DepletedSide: sideAsk, RecoveredSide: sideAsk})
	assert.False(t, bc.active)
	require.Len(t, events, 3)
	assert.Equal(t, Neutral, events[2].Direction)
}

func TestClassify_DirectionRequiresSameSideRecovery(t *testing.T) {
	assert.Equal(t, Neutral, classify(sideAsk, sideBid))
	assert.Equal(t, Neutral, classify(sideBid, sideAsk))
	assert.Equal(t, Neutral, classify(sideAsk, ""))
	assert.Equal(t, Bullish, classify(sideAsk, sideBoth))
	assert.Equal(t, Bearish, classify(sideBid, sideBoth))
}
