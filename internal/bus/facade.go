package bus

import (
	"sync"
	"sync/atomic"
)

// Bus is the façade over a RingBuffer of order-book snapshots. It adds
// a symbol registry, two subscription shapes (immutable zero-copy and
// mutable-copy), and test-facing counters on top of the raw ring
// buffer primitives.
type Bus struct {
	ring *RingBuffer[*OrderBookSnapshot]
	pool *LevelArrayPool

	symbolsMu  sync.RWMutex
	symbols    map[string]struct{}
	maxSymbols int

	totalPublished atomic.Int64
	immutableCount atomic.Int64
	mutableCount   atomic.Int64
}

// NewBus constructs a Bus backed by a ring buffer of the given capacity.
func NewBus(capacity int64) (*Bus, error) {
	ring, err := New[*OrderBookSnapshot](capacity)
	if err != nil {
		return nil, err
	}
	return &Bus{
		ring:    ring,
		pool:    NewLevelArrayPool(),
		symbols: make(map[string]struct{}),
	}, nil
}

// Pool returns the snapshot array pool so connectors can rent level
// slices before constructing a snapshot.
func (b *Bus) Pool() *LevelArrayPool { return b.pool }

// SetMaxSymbols caps how many distinct symbols the registry will track;
// zero (the default) leaves it unbounded. Publishing a snapshot for a
// symbol beyond the cap still broadcasts it, it just never joins the
// Symbols() registry.
func (b *Bus) SetMaxSymbols(n int) {
	b.symbolsMu.Lock()
	defer b.symbolsMu.Unlock()
	b.maxSymbols = n
}

// Publish registers the snapshot's symbol and broadcasts it to every
// subscriber. It never blocks and never fails.
func (b *Bus) Publish(snapshot *OrderBookSnapshot) int64 {
	b.registerSymbol(snapshot.Symbol)
	seq := b.ring.Publish(snapshot)
	b.totalPublished.Add(1)
	return seq
}

func (b *Bus) registerSymbol(symbol string) {
	b.symbolsMu.RLock()
	_, known := b.symbols[symbol]
	b.symbolsMu.RUnlock()
	if known {
		return
	}
	b.symbolsMu.Lock()
	defer b.symbolsMu.Unlock()
	if _, known := b.symbols[symbol]; known {
		return
	}
	if b.maxSymbols > 0 && len(b.symbols) >= b.maxSymbols {
		return
	}
	b.symbols[symbol] = struct{}{}
}

// Symbols returns every symbol observed so far, in no particular order.
func (b *Bus) Symbols() []string {
	b.symbolsMu.RLock()
	defer b.symbolsMu.RUnlock()
	out := make([]string, 0, len(b.symbols))
	for s := range b.symbols {
		out = append(out, s)
	}
	return out
}

// TotalPublished returns the running count of successful publishes.
func (b *Bus) TotalPublished() int64 { return b.totalPublished.Load() }

// ImmutableSubscriberCount returns how many zero-copy subscriptions are active.
func (b *Bus) ImmutableSubscriberCount() int64 { return b.immutableCount.Load() }

// MutableSubscriberCount returns how many mutable-copy subscriptions are active.
func (b *Bus) MutableSubscriberCount() int64 { return b.mutableCount.Load() }

// Metrics delegates to the underlying ring buffer's metrics snapshot.
func (b *Bus) Metrics() Metrics { return b.ring.Metrics() }

// ImmutableSubscription delivers the zero-copy snapshot as published.
type ImmutableSubscription struct {
	cursor *Cursor
	bus    *Bus
}

// SubscribeImmutable registers a zero-copy subscription under name.
func (b *Bus) SubscribeImmutable(name string) (*ImmutableSubscription, error) {
	cur, err := b.ring.Subscribe(name)
	if err != nil {
		return nil, err
	}
	b.immutableCount.Add(1)
	return &ImmutableSubscription{cursor: cur, bus: b}, nil
}

// TryRead advances the subscription by one snapshot, if one is available.
func (s *ImmutableSubscription) TryRead() (*OrderBookSnapshot, int64, bool) {
	return s.bus.ring.TryRead(s.cursor)
}

// Cursor exposes the underlying cursor for metrics and cancellation.
func (s *ImmutableSubscription) Cursor() *Cursor { return s.cursor }

// Wait parks until a new snapshot is published or cancelled returns true.
func (s *ImmutableSubscription) Wait(cancelled func() bool) { s.bus.ring.Wait(cancelled) }

// Close unsubscribes this subscription from the bus.
func (s *ImmutableSubscription) Close() {
	if s.bus.ring.Unsubscribe(s.cursor.Name()) {
		s.bus.immutableCount.Add(-1)
	}
}

// MutableSubscription synthesises an independently owned order book
// copy at dispatch time via ToMutable, for legacy consumers that need
// to write through their own view.
type MutableSubscription struct {
	cursor *Cursor
	bus    *Bus
}

// SubscribeMutable registers a mutable-copy subscription under name.
func (b *Bus) SubscribeMutable(name string) (*MutableSubscription, error) {
	cur, err := b.ring.Subscribe(name)
	if err != nil {
		return nil, err
	}
	b.mutableCount.Add(1)
	return &MutableSubscription{cursor: cur, bus: b}, nil
}

// TryRead advances the subscription by one snapshot, returning an
// independently owned copy.
func (s *MutableSubscription) TryRead() (*MutableOrderBook, int64, bool) {
	snap, seq, ok := s.bus.ring.TryRead(s.cursor)
	if !ok {
		return nil, 0, false
	}
	return snap.ToMutable(), seq, true
}

// Cursor exposes the underlying cursor for metrics and cancellation.
func (s *MutableSubscription) Cursor() *Cursor { return s.cursor }

// Wait parks until a new snapshot is published or cancelled returns true.
func (s *MutableSubscription) Wait(cancelled func() bool) { s.bus.ring.Wait(cancelled) }

// Close unsubscribes this subscription from the bus.
func (s *MutableSubscription) Close() {
	if s.bus.ring.Unsubscribe(s.cursor.Name()) {
		s.bus.mutableCount.Add(-1)
	}
}

// Reset unsubscribes every consumer, clears the ring, and zeroes every
// counter. It exists for test isolation.
func (b *Bus) Reset() {
	b.ring.Reset()
	b.totalPublished.Store(0)
	b.immutableCount.Store(0)
	b.mutableCount.Store(0)
	b.symbolsMu.Lock()
	b.symbols = make(map[string]struct{})
	b.symbolsMu.Unlock()
}

// Close shuts the underlying ring buffer down.
func (b *Bus) Close() { b.ring.Close() }
