package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Level is one price level of an order book. Prices and sizes are
// finite, non-negative IEEE-754 doubles. An empty side of a book is
// legal and is used by the stale-provider cleanup path.
type Level struct {
	Price          float64
	Size           float64
	IsBid          bool
	CumulativeSize float64
	EntryID        uuid.UUID
}

// OrderBookSnapshot is an immutable, read-only view of one provider's
// order book for one symbol at one sequence number. It is constructed
// once and handed across goroutines read-only; mutation must go
// through ToMutable.
type OrderBookSnapshot struct {
	Symbol       string
	ProviderID   string
	ProviderName string
	Sequence     int64
	LastUpdated  int64 // unix nanos; zero means "unset" (cleanup snapshots)
	Bids         []Level
	Asks         []Level
}

// BestBid returns the highest bid level, or the zero Level and false
// if the book's bid side is empty.
func (s *OrderBookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level, or the zero Level and false
// if the book's ask side is empty.
func (s *OrderBookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns the arithmetic mean of best bid and best ask. It
// returns (0, false) unless both sides are non-empty.
func (s *OrderBookSnapshot) MidPrice() (float64, bool) {
	bb, okBid := s.BestBid()
	ba, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bb.Price + ba.Price) / 2, true
}

// Spread returns best ask minus best bid. It returns (0, false) unless
// both sides are non-empty.
func (s *OrderBookSnapshot) Spread() (float64, bool) {
	bb, okBid := s.BestBid()
	ba, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ba.Price - bb.Price, true
}

// TotalBidVolume sums size across every bid level.
func (s *OrderBookSnapshot) TotalBidVolume() float64 {
	var total float64
	for _, l := range s.Bids {
		total += l.Size
	}
	return total
}

// TotalAskVolume sums size across every ask level.
func (s *OrderBookSnapshot) TotalAskVolume() float64 {
	var total float64
	for _, l := range s.Asks {
		total += l.Size
	}
	return total
}

// MutableOrderBook is an independently owned, freshly allocated copy
// of a snapshot's levels. It is the only supported way to obtain a
// writable view; the struct carries plain slices rather than
// pool-backed ones so callers can mutate freely without returning
// anything to the pool.
type MutableOrderBook struct {
	Symbol       string
	ProviderID   string
	ProviderName string
	Sequence     int64
	LastUpdated  int64
	Bids         []Level
	Asks         []Level
}

// ToMutable allocates a freshly owned copy of the snapshot's levels.
func (s *OrderBookSnapshot) ToMutable() *MutableOrderBook {
	m := &MutableOrderBook{
		Symbol:       s.Symbol,
		ProviderID:   s.ProviderID,
		ProviderName: s.ProviderName,
		Sequence:     s.Sequence,
		LastUpdated:  s.LastUpdated,
		Bids:         make([]Level, len(s.Bids)),
		Asks:         make([]Level, len(s.Asks)),
	}
	copy(m.Bids, s.Bids)
	copy(m.Asks, s.Asks)
	return m
}

// ToSnapshot rents pool arrays and copies this mutable book's levels
// back into a fresh immutable snapshot.
func (m *MutableOrderBook) ToSnapshot(pool *LevelArrayPool) *OrderBookSnapshot {
	bids := pool.Rent(len(m.Bids))
	asks := pool.Rent(len(m.Asks))
	bids = append(bids[:0], m.Bids...)
	asks = append(asks[:0], m.Asks...)
	return &OrderBookSnapshot{
		Symbol:       m.Symbol,
		ProviderID:   m.ProviderID,
		ProviderName: m.ProviderName,
		Sequence:     m.Sequence,
		LastUpdated:  m.LastUpdated,
		Bids:         bids,
		Asks:         asks,
	}
}

// sizeBucket rounds a requested length up to the nearest power of two
// bucket so the pool can serve many lengths from a small number of
// sync.Pool instances, the same bucketing strategy the teacher used
// for its fixed-size object pools elsewhere in internal/hft.
func sizeBucket(minLen int) int {
	if minLen <= 0 {
		return 1
	}
	bucket := 1
	for bucket < minLen {
		bucket <<= 1
	}
	return bucket
}

// LevelArrayPool is a process-wide typed array pool keyed by size
// bucket, used to avoid allocating a fresh []Level on every snapshot
// construction on the hot publish path.
type LevelArrayPool struct {
	mu      sync.Mutex
	buckets map[int]*sync.Pool
}

// NewLevelArrayPool constructs an empty pool; buckets are created
// lazily on first Rent of a given size.
func NewLevelArrayPool() *LevelArrayPool {
	return &LevelArrayPool{buckets: make(map[int]*sync.Pool)}
}

// Rent returns a []Level with capacity >= minLen and length 0. Callers
// must call Return when done; they must not retain the slice after
// returning it.
func (p *LevelArrayPool) Rent(minLen int) []Level {
	bucket := sizeBucket(minLen)
	pool := p.poolFor(bucket)
	v := pool.Get()
	if v == nil {
		return make([]Level, 0, bucket)
	}
	return v.([]Level)[:0]
}

// Return gives a rented slice back to its bucket pool. clear, when
// true, zeroes the slice's contents first so stale Level values
// (including EntryID) cannot leak to the next renter.
func (p *LevelArrayPool) Return(levels []Level, clear bool) {
	bucket := sizeBucket(cap(levels))
	if clear {
		for i := range levels[:cap(levels)] {
			levels[:cap(levels)][i] = Level{}
		}
	}
	p.poolFor(bucket).Put(levels[:0])
}

func (p *LevelArrayPool) poolFor(bucket int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.buckets[bucket]
	if !ok {
		pool = &sync.Pool{New: func() interface{} {
			return make([]Level, 0, bucket)
		}}
		p.buckets[bucket] = pool
	}
	return pool
}
