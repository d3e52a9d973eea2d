// Package bus implements the lock-free single-producer/multiple-consumer
// ring buffer that carries order-book snapshots and derived series points
// between the exchange connector and the market-microstructure studies.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// cacheLineSize is the padding target used to keep the producer
// sequence counter off the same cache line as consumer cursors.
const cacheLineSize = 64

// paddedSeq holds a single atomic counter padded out to a full cache
// line, matching the layout the teacher's LockFreeRingBuffer used for
// its write/read indices.
type paddedSeq struct {
	v atomic.Int64
	_ [cacheLineSize - 8]byte
}

// Cursor is a consumer's exclusively-owned read position into a
// RingBuffer. The bus retains only a reference to it for metrics and
// wake-ups; all state mutation happens from the owning consumer's
// dispatch goroutine plus the lapping logic inside TryRead.
type Cursor struct {
	name             string
	currentSeq       atomic.Int64
	messagesConsumed atomic.Int64
	messagesLost     atomic.Int64
	cancelled        atomic.Bool
}

// Name returns the cursor's registered consumer name.
func (c *Cursor) Name() string { return c.name }

// CurrentSequence returns the last sequence number this cursor read.
func (c *Cursor) CurrentSequence() int64 { return c.currentSeq.Load() }

// MessagesConsumed returns the running count of messages this cursor read.
func (c *Cursor) MessagesConsumed() int64 { return c.messagesConsumed.Load() }

// MessagesLost returns the running count of messages this cursor was
// lapped past.
func (c *Cursor) MessagesLost() int64 { return c.messagesLost.Load() }

// Cancel requests that the dispatch loop owning this cursor stop at
// its next iteration and unsubscribe cleanly.
func (c *Cursor) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (c *Cursor) Cancelled() bool { return c.cancelled.Load() }

// HealthStatus classifies a consumer's lag relative to buffer capacity.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// ConsumerMetrics is a point-in-time snapshot of one consumer's position.
type ConsumerMetrics struct {
	Name             string
	CurrentSequence  int64
	Lag              int64
	MessagesConsumed int64
	MessagesLost     int64
	Health           HealthStatus
}

// Metrics is a point-in-time snapshot of the whole buffer.
type Metrics struct {
	BufferSize       int64
	ProducerSequence int64
	Consumers        []ConsumerMetrics
}

// RingBuffer is a fixed-capacity, power-of-two-sized SPMC broadcast
// channel. Publish never blocks and never fails; a consumer lapped by
// the producer skips ahead to the oldest still-valid slot and has the
// skipped count added to its messages-lost total rather than waiting.
type RingBuffer[T any] struct {
	capacity int64
	mask     int64
	slots    []atomic.Pointer[T]

	producerSeq paddedSeq

	waitMu sync.Mutex
	waitC  *sync.Cond

	consumersMu sync.RWMutex
	consumers   map[string]*Cursor

	closed atomic.Bool
}

// New constructs a RingBuffer with the given capacity, which must be a
// positive power of two.
func New[T any](capacity int64) (*RingBuffer[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidBufferSize
	}
	rb := &RingBuffer[T]{
		capacity:  capacity,
		mask:      capacity - 1,
		slots:     make([]atomic.Pointer[T], capacity),
		consumers: make(map[string]*Cursor),
	}
	rb.producerSeq.v.Store(-1)
	rb.waitC = sync.NewCond(&rb.waitMu)
	return rb, nil
}

// Capacity returns the buffer's fixed slot count.
func (rb *RingBuffer[T]) Capacity() int64 { return rb.capacity }

// ProducerSequence returns the current producer sequence (acquire load).
func (rb *RingBuffer[T]) ProducerSequence() int64 { return rb.producerSeq.v.Load() }

// Publish writes msg into the next slot and advances the producer
// sequence. It never blocks and never fails; if every consumer has
// fallen behind, the slot previously occupying that index is simply
// overwritten and dropped.
func (rb *RingBuffer[T]) Publish(msg T) int64 {
	next := rb.producerSeq.v.Load() + 1
	rb.slots[next&rb.mask].Store(&msg)
	rb.producerSeq.v.Store(next)
	rb.signal()
	return next
}

func (rb *RingBuffer[T]) signal() {
	rb.waitMu.Lock()
	rb.waitC.Broadcast()
	rb.waitMu.Unlock()
}

// Subscribe registers a new cursor starting at "now" (the current
// producer sequence), not at buffer history. Names must be unique per
// buffer.
func (rb *RingBuffer[T]) Subscribe(name string) (*Cursor, error) {
	rb.consumersMu.Lock()
	defer rb.consumersMu.Unlock()

	if _, exists := rb.consumers[name]; exists {
		return nil, ErrDuplicateConsumer
	}

	cur := &Cursor{name: name}
	cur.currentSeq.Store(rb.producerSeq.v.Load())
	rb.consumers[name] = cur
	return cur, nil
}

// Unsubscribe removes a cursor from the registry. It reports false if
// the name was not registered.
func (rb *RingBuffer[T]) Unsubscribe(name string) bool {
	rb.consumersMu.Lock()
	defer rb.consumersMu.Unlock()

	if _, exists := rb.consumers[name]; !exists {
		return false
	}
	delete(rb.consumers, name)
	return true
}

// TryRead attempts to advance cur by one message. It returns
// (zero, 0, false) when the cursor has caught up to the producer. When
// the cursor has fallen more than capacity messages behind, it skips
// ahead to the oldest still-valid slot, records the skipped count onto
// messages_lost, and proceeds to read that slot in the same call —
// matching the "first read message's sequence equals M−N" drain
// behaviour rather than silently discarding the oldest valid message
// as a stricter reading of the lapping formula would.
func (rb *RingBuffer[T]) TryRead(cur *Cursor) (T, int64, bool) {
	var zero T
	for {
		p := rb.producerSeq.v.Load()
		c := cur.currentSeq.Load()
		if p <= c {
			return zero, 0, false
		}

		next := c + 1
		if p-next >= rb.capacity {
			newC := p - rb.capacity
			skipped := newC - c
			cur.currentSeq.Store(newC)
			cur.messagesLost.Add(skipped)
			continue
		}

		msg := rb.slots[next&rb.mask].Load()
		cur.currentSeq.Store(next)
		cur.messagesConsumed.Add(1)
		return *msg, next, true
	}
}

// parkSafetyNet bounds how long Wait can sleep before it re-checks the
// caller's cancellation predicate on its own, independent of Publish's
// broadcast — a per-consumer Cancel has no reason to know about this
// buffer's condition variable, so without this a cancelled consumer
// parked here would wait for the next publish to notice.
const parkSafetyNet = 50 * time.Millisecond

// Wait parks the calling goroutine until Publish signals, the safety
// net timer fires, or the provided cancel check already returns true.
// It is meant to be called only after a bounded spin through TryRead
// has found nothing to read.
func (rb *RingBuffer[T]) Wait(cancelled func() bool) {
	rb.waitMu.Lock()
	defer rb.waitMu.Unlock()
	if cancelled() {
		return
	}
	timer := time.AfterFunc(parkSafetyNet, func() {
		rb.waitMu.Lock()
		rb.waitC.Broadcast()
		rb.waitMu.Unlock()
	})
	defer timer.Stop()
	rb.waitC.Wait()
}

// Metrics returns a point-in-time snapshot of the buffer and every
// registered consumer's lag and health classification.
func (rb *RingBuffer[T]) Metrics() Metrics {
	p := rb.producerSeq.v.Load()

	rb.consumersMu.RLock()
	defer rb.consumersMu.RUnlock()

	out := Metrics{
		BufferSize:       rb.capacity,
		ProducerSequence: p,
		Consumers:        make([]ConsumerMetrics, 0, len(rb.consumers)),
	}

	for _, cur := range rb.consumers {
		c := cur.currentSeq.Load()
		lag := p - c
		out.Consumers = append(out.Consumers, ConsumerMetrics{
			Name:             cur.name,
			CurrentSequence:  c,
			Lag:              lag,
			MessagesConsumed: cur.messagesConsumed.Load(),
			MessagesLost:     cur.messagesLost.Load(),
			Health:           classifyHealth(lag, rb.capacity),
		})
	}

	return out
}

func classifyHealth(lag, capacity int64) HealthStatus {
	if capacity <= 0 {
		return HealthHealthy
	}
	ratio := float64(lag) / float64(capacity)
	switch {
	case ratio >= 0.9:
		return HealthCritical
	case ratio >= 0.5:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Reset unsubscribes every consumer, clears every slot and rewinds the
// producer sequence. It exists for test isolation.
func (rb *RingBuffer[T]) Reset() {
	rb.consumersMu.Lock()
	rb.consumers = make(map[string]*Cursor)
	rb.consumersMu.Unlock()

	for i := range rb.slots {
		rb.slots[i].Store(nil)
	}
	rb.producerSeq.v.Store(-1)
}

// Close marks the buffer closed and wakes every goroutine parked in
// Wait. Run does not consult Closed: dispatch loops exit on context
// cancellation or cursor Cancel.
func (rb *RingBuffer[T]) Close() {
	rb.closed.Store(true)
	rb.signal()
}

// Closed reports whether Close has been called.
func (rb *RingBuffer[T]) Closed() bool { return rb.closed.Load() }
