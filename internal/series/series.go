package series

import (
	"sync"

	"github.com/marketpulse/resilience/internal/bus"
)

// Series is one named study's output stream: a ring buffer of
// StudyPoint carrying the aggregated value, fronted by per-symbol
// aggregation state keyed on the configured window and policy.
type Series struct {
	name   string
	window Window
	policy Policy
	ring   *bus.RingBuffer[StudyPoint]

	mu    sync.Mutex
	state map[string]*aggState
}

// New constructs a Series backed by a ring buffer of the given
// capacity, aggregating adjacent points per symbol under window/policy.
func New(name string, capacity int64, window Window, policy Policy) (*Series, error) {
	ring, err := bus.New[StudyPoint](capacity)
	if err != nil {
		return nil, err
	}
	return &Series{
		name:   name,
		window: window,
		policy: policy,
		ring:   ring,
		state:  make(map[string]*aggState),
	}, nil
}

// Name returns the study name this series was constructed with.
func (s *Series) Name() string { return s.name }

// PublishInput carries everything Publish needs beyond the symbol and
// bucketing timestamp.
type PublishInput struct {
	Value float64
	// NewBucket is the producer's own signal that this value starts a
	// fresh bucket (e.g. VPIN's bucket-fill/overflow flag); only
	// consulted under the PassthroughNewBucket policy.
	NewBucket    bool
	MidPrice     float64
	HaveMidPrice bool
	FormatHint   string
	ColorHint    string
}

// Publish folds in.Value into the current window bucket for symbol
// under this series' policy and broadcasts the resulting StudyPoint.
func (s *Series) Publish(symbol string, timestampNanos int64, in PublishInput) StudyPoint {
	bucket := s.window.bucket(timestampNanos)

	s.mu.Lock()
	st, ok := s.state[symbol]
	if !ok {
		st = &aggState{}
		s.state[symbol] = st
	}
	merged, isNew := s.policy.apply(st, bucket, in.Value, in.NewBucket)
	s.mu.Unlock()

	point := StudyPoint{
		Symbol:       symbol,
		StudyName:    s.name,
		Timestamp:    timestampNanos,
		Value:        merged,
		MidPrice:     in.MidPrice,
		HaveMidPrice: in.HaveMidPrice,
		FormatHint:   in.FormatHint,
		ColorHint:    in.ColorHint,
		IsNewBucket:  isNew,
	}
	s.ring.Publish(point)
	return point
}

// Subscribe registers a consumer under name.
func (s *Series) Subscribe(name string) (*bus.Cursor, error) {
	return s.ring.Subscribe(name)
}

// TryRead advances the given cursor by one point, if one is available.
func (s *Series) TryRead(cur *bus.Cursor) (StudyPoint, int64, bool) {
	return s.ring.TryRead(cur)
}

// Wait parks until a new point is published or cancelled returns true.
func (s *Series) Wait(cancelled func() bool) { s.ring.Wait(cancelled) }

// Unsubscribe removes a consumer previously registered with Subscribe.
func (s *Series) Unsubscribe(name string) bool { return s.ring.Unsubscribe(name) }

// Metrics delegates to the underlying ring buffer's metrics snapshot.
func (s *Series) Metrics() bus.Metrics { return s.ring.Metrics() }

// Close shuts the underlying ring buffer down.
func (s *Series) Close() { s.ring.Close() }
