package bus

import "errors"

// Sentinel error kinds surfaced by the bus, per the core's error
// handling design: the producer path is infallible, consumer failures
// are isolated, and only durable conditions propagate as errors.
var (
	// ErrDuplicateConsumer is returned by Subscribe when a consumer
	// name is already registered on this bus.
	ErrDuplicateConsumer = errors.New("bus: duplicate consumer name")

	// ErrInvalidBufferSize is returned by construction when the
	// requested capacity is not a positive power of two.
	ErrInvalidBufferSize = errors.New("bus: buffer capacity must be a positive power of two")

	// ErrConsumerNotFound names the unknown-consumer condition.
	// Unsubscribe reports an unknown name by returning false; no
	// function in this package returns this error.
	ErrConsumerNotFound = errors.New("bus: consumer not found")

	// ErrClosed names the closed-buffer condition. No function in this
	// package returns it: Publish, Subscribe and TryRead keep working
	// after Close.
	ErrClosed = errors.New("bus: closed")

	// ErrShutdownGraceExpired is returned by Group.Shutdown when
	// dispatch goroutines have not all exited within the grace period.
	ErrShutdownGraceExpired = errors.New("bus: dispatch goroutines did not exit within the shutdown grace period")
)

// ConsumerOverrun describes a consumer whose cursor was lapped by the
// producer. TryRead does not construct it: a lap never fails Publish,
// it only increments the cursor's messages_lost counter, which is
// surfaced via Metrics().
type ConsumerOverrun struct {
	Consumer string
	Skipped  int64
}

func (e *ConsumerOverrun) Error() string {
	return "bus: consumer " + e.Consumer + " overrun, lost messages"
}

// CallbackFailure wraps a panic or error recovered from inside a
// consumer callback. The dispatch loop logs it and the cursor still
// advances; it is never returned to the producer.
type CallbackFailure struct {
	Consumer string
	Cause    error
}

func (e *CallbackFailure) Error() string {
	return "bus: callback failure in consumer " + e.Consumer + ": " + e.Cause.Error()
}

func (e *CallbackFailure) Unwrap() error { return e.Cause }
