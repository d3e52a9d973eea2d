package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSnapshot() *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Symbol:       "BTCUSDT",
		ProviderID:   "binance",
		ProviderName: "Binance",
		Sequence:     42,
		LastUpdated:  123,
		Bids: []Level{
			{Price: 100, Size: 1, IsBid: true},
			{Price: 99, Size: 2, IsBid: true},
			{Price: 98, Size: 3, IsBid: true},
		},
		Asks: []Level{
			{Price: 101, Size: 1.5},
			{Price: 102, Size: 2.5},
		},
	}
}

// Property 6: snapshot -> to_mutable -> to_snapshot round-trips every
// field, and mutating/clearing the mutable copy afterwards does not
// alter the original snapshot.
func TestSnapshot_RoundTripsThroughMutableCopy(t *testing.T) {
	original := newTestSnapshot()
	pool := NewLevelArrayPool()

	mutable := original.ToMutable()
	roundTripped := mutable.ToSnapshot(pool)

	assert.Equal(t, original.Symbol, roundTripped.Symbol)
	assert.Equal(t, original.ProviderID, roundTripped.ProviderID)
	assert.Equal(t, original.ProviderName, roundTripped.ProviderName)
	assert.Equal(t, original.Sequence, roundTripped.Sequence)
	assert.Equal(t, original.LastUpdated, roundTripped.LastUpdated)
	assert.Equal(t, original.Bids, roundTripped.Bids)
	assert.Equal(t, original.Asks, roundTripped.Asks)

	for i := range mutable.Bids {
		mutable.Bids[i] = Level{}
	}
	mutable.Symbol = "CLEARED"

	assert.Equal(t, "BTCUSDT", original.Symbol)
	assert.Equal(t, float64(100), original.Bids[0].Price)
}

// Property 7: bids are non-ascending by price; asks are non-descending.
func TestSnapshot_LevelOrderingInvariant(t *testing.T) {
	s := newTestSnapshot()

	for i := 1; i < len(s.Bids); i++ {
		assert.GreaterOrEqual(t, s.Bids[i-1].Price, s.Bids[i].Price)
	}
	for i := 1; i < len(s.Asks); i++ {
		assert.LessOrEqual(t, s.Asks[i-1].Price, s.Asks[i].Price)
	}
}

// Property 8: total_bid_volume equals the sum of bids[i].size.
func TestSnapshot_TotalBidVolumeSumsLevels(t *testing.T) {
	s := newTestSnapshot()
	assert.Equal(t, 6.0, s.TotalBidVolume())
	assert.Equal(t, 4.0, s.TotalAskVolume())
}

func TestSnapshot_BestLevelsAndDerivedMetrics(t *testing.T) {
	s := newTestSnapshot()

	bb, ok := s.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bb.Price)

	ba, ok := s.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 101.0, ba.Price)

	mid, ok := s.MidPrice()
	require.True(t, ok)
	assert.Equal(t, 100.5, mid)

	spread, ok := s.Spread()
	require.True(t, ok)
	assert.Equal(t, 1.0, spread)
}

func TestSnapshot_EmptySideIsLegal(t *testing.T) {
	s := &OrderBookSnapshot{Symbol: "EMPTY"}

	_, ok := s.BestBid()
	assert.False(t, ok)
	_, ok = s.BestAsk()
	assert.False(t, ok)
	_, ok = s.MidPrice()
	assert.False(t, ok)
	assert.Equal(t, 0.0, s.TotalBidVolume())
}

func TestLevelArrayPool_RentReturnsZeroLengthWithCapacity(t *testing.T) {
	pool := NewLevelArrayPool()

	levels := pool.Rent(5)
	assert.Len(t, levels, 0)
	assert.GreaterOrEqual(t, cap(levels), 5)

	levels = append(levels, Level{Price: 1}, Level{Price: 2})
	pool.Return(levels, true)

	again := pool.Rent(5)
	assert.Len(t, again, 0)
}
