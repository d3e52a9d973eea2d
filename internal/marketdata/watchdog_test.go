package marketdata

import (
	"testing"
	"time"

	"github.com/marketpulse/resilience/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatchdog(t *testing.T) (*Watchdog, *bus.Bus, *[]NotificationKind) {
	t.Helper()
	b, err := bus.NewBus(8)
	require.NoError(t, err)

	var notifications []NotificationKind
	wd := New(b, 30*time.Second, time.Second, func(kind NotificationKind, providerID string) {
		notifications = append(notifications, kind)
	})
	return wd, b, &notifications
}

// Property 9: a provider that goes silent for longer than StaleAfter is
// marked stale exactly once (edge triggered), and an empty-book cleanup
// snapshot is published for each known symbol on that provider.
func TestWatchdog_StaleTransitionIsEdgeTriggeredAndPublishesCleanupSnapshots(t *testing.T) {
	wd, b, notifications := newTestWatchdog(t)

	frozen := time.Now()
	wd.nowFn = func() time.Time { return frozen }

	wd.Touch("binance", "BTCUSDT", StatusConnected)
	wd.Touch("binance", "ETHUSDT", StatusConnected)

	before := b.TotalPublished()

	wd.nowFn = func() time.Time { return frozen.Add(31 * time.Second) }
	wd.Sweep()

	assert.Equal(t, before+2, b.TotalPublished(), "one cleanup snapshot per known symbol")
	assert.Equal(t, []NotificationKind{NotificationProviderStale}, *notifications)
	assert.ElementsMatch(t, []string{"binance"}, wd.StaleProviders())

	status, ok := wd.Status("binance")
	require.True(t, ok)
	assert.Equal(t, StatusConnectedWithWarnings, status.Status)

	// A second sweep while still stale and silent must not re-notify or
	// republish (edge triggered, at most one transition per episode).
	beforeSecond := b.TotalPublished()
	wd.Sweep()
	assert.Equal(t, beforeSecond, b.TotalPublished())
	assert.Len(t, *notifications, 1)
}

func TestWatchdog_RecoveryClearsStaleFlagOnNewUpdate(t *testing.T) {
	wd, _, notifications := newTestWatchdog(t)

	frozen := time.Now()
	wd.nowFn = func() time.Time { return frozen }
	wd.Touch("binance", "BTCUSDT", StatusConnected)

	wd.nowFn = func() time.Time { return frozen.Add(31 * time.Second) }
	wd.Sweep()
	require.ElementsMatch(t, []string{"binance"}, wd.StaleProviders())

	wd.nowFn = func() time.Time { return frozen.Add(32 * time.Second) }
	wd.Touch("binance", "BTCUSDT", StatusConnected)

	assert.Empty(t, wd.StaleProviders())
	assert.Equal(t, []NotificationKind{NotificationProviderStale, NotificationProviderRecovered}, *notifications)
}

func TestWatchdog_TerminalStatusIsNeverSwept(t *testing.T) {
	wd, b, notifications := newTestWatchdog(t)

	frozen := time.Now()
	wd.nowFn = func() time.Time { return frozen }
	wd.Touch("binance", "BTCUSDT", StatusDisconnectedFailed)

	before := b.TotalPublished()
	wd.nowFn = func() time.Time { return frozen.Add(time.Hour) }
	wd.Sweep()

	assert.Equal(t, before, b.TotalPublished())
	assert.Empty(t, *notifications)
	assert.Empty(t, wd.StaleProviders())
}

func TestWatchdog_StatusReportsUnknownProvider(t *testing.T) {
	wd, _, _ := newTestWatchdog(t)
	_, ok := wd.Status("unknown")
	assert.False(t, ok)
}
