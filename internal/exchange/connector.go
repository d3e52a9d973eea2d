// Package exchange defines the market data connector capability and a
// reference Binance implementation: a websocket client that decodes
// depth/trade streams into the bus's snapshot and trade wire types and
// reconnects with exponential backoff when the connection drops.
package exchange

import (
	"context"

	"github.com/marketpulse/resilience/internal/bus"
	"github.com/marketpulse/resilience/internal/marketdata"
)

// Connector is the capability every market data source implements:
// connect, stream snapshots and trades onto the bus/watchdog, and shut
// down cleanly.
type Connector interface {
	// ID identifies the connector instance, used as marketdata.Trade's
	// and bus.OrderBookSnapshot's ProviderID.
	ID() string
	// Start begins connecting and streaming; it returns once the first
	// connection attempt has been dispatched, not once data is flowing.
	Start(ctx context.Context) error
	// Stop requests a clean shutdown and waits for the run loop to exit.
	Stop(ctx context.Context) error
	// State reports the connector's current reconnection state.
	State() State
}

// State is one stage of a connector's reconnection state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailing
	StateBackingOff
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailing:
		return "failing"
	case StateBackingOff:
		return "backing_off"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Sink is where a connector publishes what it decodes off the wire.
type Sink struct {
	Bus     *bus.Bus
	Trades  func(marketdata.Trade)
	Touch   func(providerID, symbol string, status marketdata.ProviderStatusKind)
}
