package marketdata

import (
	"sync"
	"time"

	"github.com/marketpulse/resilience/internal/bus"
)

// NotificationKind distinguishes the two durable events the watchdog
// can raise, matching the observability audit logger's notification kinds.
type NotificationKind string

const (
	NotificationProviderStale    NotificationKind = "ProviderStale"
	NotificationProviderRecovered NotificationKind = "ProviderRecovered"
)

// Notify receives a watchdog notification for a provider. Implementations
// typically forward it to the audit logger and the metrics provider.
type Notify func(kind NotificationKind, providerID string)

type providerState struct {
	lastUpdated time.Time
	status      ProviderStatusKind
	symbols     map[string]struct{}
	stale       bool
}

// Watchdog holds a mapping of provider_id to its last-seen heartbeat and
// status, plus the set of providers currently flagged stale. A timer
// fires every CheckInterval; any tracked provider whose status is not
// terminal and whose last update predates StaleAfter is transitioned,
// edge-triggered so at most one stale notification fires per episode.
type Watchdog struct {
	mu        sync.Mutex
	providers map[string]*providerState

	bus           *bus.Bus
	staleAfter    time.Duration
	checkInterval time.Duration
	notify        Notify
	nowFn         func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Watchdog publishing empty-book cleanup snapshots onto
// b and invoking notify on stale/recovery transitions.
func New(b *bus.Bus, staleAfter, checkInterval time.Duration, notify Notify) *Watchdog {
	return &Watchdog{
		providers:     make(map[string]*providerState),
		bus:           b,
		staleAfter:    staleAfter,
		checkInterval: checkInterval,
		notify:        notify,
		nowFn:         time.Now,
	}
}

// Touch records a heartbeat for providerID/symbol at the current time,
// transitioning it to status and clearing any stale flag if one was set
// and a new update has since arrived.
func (w *Watchdog) Touch(providerID, symbol string, status ProviderStatusKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ps, ok := w.providers[providerID]
	if !ok {
		ps = &providerState{symbols: make(map[string]struct{})}
		w.providers[providerID] = ps
	}
	ps.lastUpdated = w.nowFn()
	ps.status = status
	ps.symbols[symbol] = struct{}{}

	if ps.stale {
		ps.stale = false
		if w.notify != nil {
			w.notify(NotificationProviderRecovered, providerID)
		}
	}
}

// Status returns the current view of a tracked provider.
func (w *Watchdog) Status(providerID string) (ProviderStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ps, ok := w.providers[providerID]
	if !ok {
		return ProviderStatus{}, false
	}
	return ProviderStatus{
		ProviderID:  providerID,
		Status:      ps.status,
		LastUpdated: ps.lastUpdated.UnixMilli(),
	}, true
}

// StaleProviders returns the provider IDs currently flagged stale.
func (w *Watchdog) StaleProviders() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0)
	for id, ps := range w.providers {
		if ps.stale {
			out = append(out, id)
		}
	}
	return out
}

// Start launches the watchdog timer goroutine. Stop must be called to
// release it.
func (w *Watchdog) Start() {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run()
}

// Stop halts the timer goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watchdog) run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep checks every tracked provider once; exported as Sweep for tests
// that want to drive the watchdog deterministically without waiting on
// the real timer.
func (w *Watchdog) Sweep() { w.sweep() }

func (w *Watchdog) sweep() {
	now := w.nowFn()

	w.mu.Lock()
	type toMark struct {
		providerID string
		symbols    []string
	}
	var marks []toMark

	for id, ps := range w.providers {
		if ps.status.Terminal() || ps.stale {
			continue
		}
		if now.Sub(ps.lastUpdated) < w.staleAfter {
			continue
		}
		ps.stale = true
		ps.status = StatusConnectedWithWarnings
		symbols := make([]string, 0, len(ps.symbols))
		for s := range ps.symbols {
			symbols = append(symbols, s)
		}
		marks = append(marks, toMark{providerID: id, symbols: symbols})
	}
	w.mu.Unlock()

	for _, m := range marks {
		if w.notify != nil {
			w.notify(NotificationProviderStale, m.providerID)
		}
		for _, symbol := range m.symbols {
			// Bids/Asks left nil (both sides empty) and LastUpdated left
			// at the zero value to stand in for "null" so downstream
			// views clear the book on this cleanup snapshot. Routed
			// through the mutable-book/pool path like every other
			// producer rather than built directly.
			mutable := &bus.MutableOrderBook{
				Symbol:       symbol,
				ProviderID:   m.providerID,
				ProviderName: m.providerID,
				LastUpdated:  0,
			}
			w.bus.Publish(mutable.ToSnapshot(w.bus.Pool()))
		}
	}
}
