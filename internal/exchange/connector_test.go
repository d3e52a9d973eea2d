package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateConnected:  "connected",
		StateFailing:    "failing",
		StateBackingOff: "backing_off",
		StateDead:       "dead",
		State(99):       "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestBinanceConnector_BuildsCombinedStreamURL(t *testing.T) {
	c := NewBinanceConnector(BinanceConfig{
		WSBaseURL: "wss://stream.binance.com:9443",
		Symbols:   []string{"BTCUSDT", "ethusdt"},
	}, Sink{}, nil)

	got := c.buildURL()
	assert.Contains(t, got, "stream.binance.com:9443/stream?streams=")
	assert.Contains(t, got, "btcusdt%40depth20%40100ms")
	assert.Contains(t, got, "ethusdt%40trade")
}

func TestBinanceConnector_InitialStateIsIdle(t *testing.T) {
	c := NewBinanceConnector(BinanceConfig{Symbols: []string{"BTCUSDT"}}, Sink{}, nil)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "binance", c.ID())
}
