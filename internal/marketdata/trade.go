// Package marketdata defines the trade/provider-status wire types shared
// between the exchange connector and the resilience/VPIN calculators, and
// the provider heartbeat watchdog that detects stalled providers.
package marketdata

// Trade is a single executed trade observed for one (provider, symbol).
// IsBuy is nil when the aggressor side could not be determined from the
// wire message; VPIN drops such trades but the resilience calculator
// still timestamps them for its shock-anchor window.
type Trade struct {
	Symbol     string
	ProviderID string
	Timestamp  int64
	Price      float64
	Size       float64
	IsBuy      *bool
}

// Side returns the trade's aggressor side and whether one was known.
func (t Trade) Side() (buy bool, known bool) {
	if t.IsBuy == nil {
		return false, false
	}
	return *t.IsBuy, true
}
