package vpin

import (
	"testing"

	"github.com/marketpulse/resilience/internal/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func trade(symbol string, size float64, isBuy bool) marketdata.Trade {
	return marketdata.Trade{Symbol: symbol, Size: size, IsBuy: boolPtr(isBuy)}
}

// Property 14: balanced alternating flow keeps VPIN at 0; one-sided
// flow through a full bucket drives it to 1 with is_new_bucket=true.
func TestCalculator_AlternatingTradesStayBalanced(t *testing.T) {
	var readings []Reading
	c := New(100, func(r Reading) { readings = append(readings, r) })

	for i := 0; i < 10; i++ {
		c.OnTrade(trade("BTCUSDT", 10, true))
		c.OnTrade(trade("BTCUSDT", 10, false))
	}

	require.NotEmpty(t, readings)
	for _, r := range readings {
		assert.InDelta(t, 0.0, r.Value, 1e-9)
	}
}

func TestCalculator_OneSidedFlowFillsBucketAtOne(t *testing.T) {
	var readings []Reading
	c := New(100, func(r Reading) { readings = append(readings, r) })

	for i := 0; i < 10; i++ {
		c.OnTrade(trade("BTCUSDT", 10, true))
	}

	last := readings[len(readings)-1]
	assert.True(t, last.IsNewBucket)
	assert.InDelta(t, 1.0, last.Value, 1e-9)
}

func TestCalculator_UnknownSideTradesAreDropped(t *testing.T) {
	var readings []Reading
	c := New(100, func(r Reading) { readings = append(readings, r) })

	c.OnTrade(marketdata.Trade{Symbol: "BTCUSDT", Size: 50})

	assert.Empty(t, readings)
	assert.Equal(t, 0.0, c.BucketVolume())
}

// Property 15: overflow handoff. Bucket at 95 buys, a buy of size 12
// emits is_new_bucket=true with VPIN=1 and seeds the next bucket with
// buy=7, bucket_volume=7.
func TestCalculator_OverflowHandoffSeedsNextBucket(t *testing.T) {
	var readings []Reading
	c := New(100, func(r Reading) { readings = append(readings, r) })

	c.OnTrade(trade("BTCUSDT", 95, true))
	readings = nil

	c.OnTrade(trade("BTCUSDT", 12, true))

	require.Len(t, readings, 1)
	assert.True(t, readings[0].IsNewBucket)
	assert.InDelta(t, 1.0, readings[0].Value, 1e-9)

	buy, sell := c.Volumes()
	assert.InDelta(t, 7.0, buy, 1e-9)
	assert.InDelta(t, 0.0, sell, 1e-9)
	assert.InDelta(t, 7.0, c.BucketVolume(), 1e-9)
}
