package exchange

import (
	"math/rand"
	"time"
)

// backoffPolicy computes the iterative reconnect delay sequence. The
// teacher's WebSocketManager.reconnectConnection grows its reconnect
// delay linearly (attempt count in seconds) and gives up past a fixed
// attempt count; this replaces that with exponential backoff capped at
// MaxBackoff, jitter that scales each delay to a random 50–100% of
// its capped value, and an attempt ceiling that moves the
// connector to StateDead rather than silently stopping.
type backoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxAttempts int
}

// delay returns the backoff duration for the given attempt number
// (1-indexed) and whether the attempt ceiling has been reached.
func (b backoffPolicy) delay(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if d > float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	jittered := d * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered), true
}
