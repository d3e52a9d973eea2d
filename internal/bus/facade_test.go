package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishRegistersSymbolAndIncrementsTotalPublished(t *testing.T) {
	b, err := NewBus(8)
	require.NoError(t, err)

	b.Publish(&OrderBookSnapshot{Symbol: "BTCUSDT"})
	b.Publish(&OrderBookSnapshot{Symbol: "ETHUSDT"})
	b.Publish(&OrderBookSnapshot{Symbol: "BTCUSDT"})

	assert.Equal(t, int64(3), b.TotalPublished())
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, b.Symbols())
}

func TestBus_ImmutableAndMutableSubscriptionsCoexist(t *testing.T) {
	b, err := NewBus(8)
	require.NoError(t, err)

	imm, err := b.SubscribeImmutable("viewer")
	require.NoError(t, err)
	defer imm.Close()

	mut, err := b.SubscribeMutable("editor")
	require.NoError(t, err)
	defer mut.Close()

	assert.Equal(t, int64(1), b.ImmutableSubscriberCount())
	assert.Equal(t, int64(1), b.MutableSubscriberCount())

	snap := &OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   []Level{{Price: 100, Size: 1}},
		Asks:   []Level{{Price: 101, Size: 1}},
	}
	b.Publish(snap)

	gotImm, _, ok := imm.TryRead()
	require.True(t, ok)
	assert.Same(t, snap, gotImm)

	gotMut, _, ok := mut.TryRead()
	require.True(t, ok)
	require.NotNil(t, gotMut)
	assert.Equal(t, "BTCUSDT", gotMut.Symbol)
	gotMut.Bids[0].Price = 999
	assert.Equal(t, 100.0, snap.Bids[0].Price, "mutable copy must not alias the original snapshot")
}

func TestBus_ResetClearsCountersAndSubscribers(t *testing.T) {
	b, err := NewBus(8)
	require.NoError(t, err)

	_, err = b.SubscribeImmutable("a")
	require.NoError(t, err)
	b.Publish(&OrderBookSnapshot{Symbol: "BTCUSDT"})

	b.Reset()

	assert.Equal(t, int64(0), b.TotalPublished())
	assert.Equal(t, int64(0), b.ImmutableSubscriberCount())
	assert.Empty(t, b.Symbols())
	assert.Equal(t, int64(-1), b.Metrics().ProducerSequence)

	_, err = b.SubscribeImmutable("a")
	require.NoError(t, err, "name must be reusable after reset")
}

func TestBus_ImmutableSubscriptionCloseDecrementsCount(t *testing.T) {
	b, err := NewBus(8)
	require.NoError(t, err)

	sub, err := b.SubscribeImmutable("x")
	require.NoError(t, err)
	sub.Close()

	assert.Equal(t, int64(0), b.ImmutableSubscriberCount())
}
