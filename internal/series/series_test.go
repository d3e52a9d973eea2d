package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property 16: adjacent points in the same window fold under the
// configured policy; a point outside the window starts a fresh bucket.
func TestSeries_RunningMeanFoldsWithinWindowAndResetsAcross(t *testing.T) {
	s, err := New("resilience_score", 16, Window1s, RunningMean)
	require.NoError(t, err)

	p1 := s.Publish("BTCUSDT", 0, PublishInput{Value: 0.2})
	assert.True(t, p1.IsNewBucket)
	assert.InDelta(t, 0.2, p1.Value, 1e-9)

	p2 := s.Publish("BTCUSDT", int64(500e6), PublishInput{Value: 0.6})
	assert.False(t, p2.IsNewBucket)
	assert.InDelta(t, 0.4, p2.Value, 1e-9)

	p3 := s.Publish("BTCUSDT", int64(2*1e9), PublishInput{Value: 1.0})
	assert.True(t, p3.IsNewBucket)
	assert.InDelta(t, 1.0, p3.Value, 1e-9)
}

func TestSeries_LastPolicyOverwritesWithinWindow(t *testing.T) {
	s, err := New("vpin", 16, Window1s, Last)
	require.NoError(t, err)

	s.Publish("BTCUSDT", 0, PublishInput{Value: 0.1})
	p := s.Publish("BTCUSDT", int64(100e6), PublishInput{Value: 0.9})

	assert.False(t, p.IsNewBucket)
	assert.InDelta(t, 0.9, p.Value, 1e-9)
}

// Property 17: passthrough-with-new-bucket-flag ignores the time
// window entirely, but the emitted IsNewBucket flag must mirror the
// producer's own flag (VPIN's bucket-fill/overflow signal) rather than
// always reading true.
func TestSeries_PassthroughRespectsProducerNewBucketFlag(t *testing.T) {
	s, err := New("vpin", 16, Window5s, PassthroughNewBucket)
	require.NoError(t, err)

	interim := s.Publish("BTCUSDT", 0, PublishInput{Value: 0.5, NewBucket: false})
	boundary := s.Publish("BTCUSDT", int64(10e6), PublishInput{Value: 1.0, NewBucket: true})

	assert.False(t, interim.IsNewBucket)
	assert.True(t, boundary.IsNewBucket)
	assert.InDelta(t, 1.0, boundary.Value, 1e-9)
}

func TestSeries_SymbolsAggregateIndependently(t *testing.T) {
	s, err := New("resilience_score", 16, Window1s, RunningMean)
	require.NoError(t, err)

	s.Publish("BTCUSDT", 0, PublishInput{Value: 0.2})
	p := s.Publish("ETHUSDT", 0, PublishInput{Value: 0.8})

	assert.True(t, p.IsNewBucket, "a different symbol starts its own bucket")
	assert.InDelta(t, 0.8, p.Value, 1e-9)
}

func TestSeries_PublishThreadsMidPriceAndHints(t *testing.T) {
	s, err := New("resilience_score", 16, Window1s, Last)
	require.NoError(t, err)

	p := s.Publish("BTCUSDT", 0, PublishInput{
		Value: 0.4, MidPrice: 100.005, HaveMidPrice: true,
		FormatHint: "percent", ColorHint: "#00ff00",
	})

	assert.InDelta(t, 100.005, p.MidPrice, 1e-9)
	assert.True(t, p.HaveMidPrice)
	assert.Equal(t, "percent", p.FormatHint)
	assert.Equal(t, "#00ff00", p.ColorHint)
}
