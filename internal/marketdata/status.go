package marketdata

// ProviderStatusKind enumerates the lifecycle states a provider
// connection can be in, mirrored from the exchange connector's
// reconnection state machine.
type ProviderStatusKind string

const (
	StatusConnecting            ProviderStatusKind = "CONNECTING"
	StatusConnected             ProviderStatusKind = "CONNECTED"
	StatusConnectedWithWarnings ProviderStatusKind = "CONNECTED_WITH_WARNINGS"
	StatusDisconnected          ProviderStatusKind = "DISCONNECTED"
	StatusDisconnectedFailed    ProviderStatusKind = "DISCONNECTED_FAILED"
)

// Terminal reports whether the status will never transition again
// without an explicit reconnect, i.e. the watchdog should stop polling it.
func (s ProviderStatusKind) Terminal() bool {
	return s == StatusDisconnectedFailed
}

// ProviderStatus is the watchdog's public view of one provider connection.
type ProviderStatus struct {
	ProviderID  string
	Status      ProviderStatusKind
	LastUpdated int64
}
