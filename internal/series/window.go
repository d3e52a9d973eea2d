package series

import "time"

// Window is one of the aggregation window granularities a study point
// stream can be bucketed by. None means every point starts its own
// bucket; Daily aligns to UTC calendar-day boundaries rather than a
// fixed duration.
type Window int

const (
	WindowNone Window = iota
	Window1ms
	Window10ms
	Window100ms
	Window500ms
	Window1s
	Window3s
	Window5s
	WindowDaily
)

// Duration returns the window's fixed duration, and false for WindowNone
// and WindowDaily, which are not fixed-duration windows.
func (w Window) Duration() (time.Duration, bool) {
	switch w {
	case Window1ms:
		return time.Millisecond, true
	case Window10ms:
		return 10 * time.Millisecond, true
	case Window100ms:
		return 100 * time.Millisecond, true
	case Window500ms:
		return 500 * time.Millisecond, true
	case Window1s:
		return time.Second, true
	case Window3s:
		return 3 * time.Second, true
	case Window5s:
		return 5 * time.Second, true
	default:
		return 0, false
	}
}

// bucket returns an identifier for the window instance that timestamp
// (unix nanoseconds) falls into. Two timestamps bucket equal if and
// only if they are considered "adjacent" under this window.
func (w Window) bucket(timestampNanos int64) int64 {
	switch w {
	case WindowNone:
		return timestampNanos
	case WindowDaily:
		return time.Unix(0, timestampNanos).UTC().Truncate(24 * time.Hour).UnixNano()
	default:
		d, ok := w.Duration()
		if !ok {
			return timestampNanos
		}
		return timestampNanos / int64(d)
	}
}
