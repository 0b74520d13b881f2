package chat

import "time"

// ReconnectBudget bounds automatic reconnection. Attempts is reset on every
// successful open.
type ReconnectBudget struct {
	Attempts    int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Exhausted reports whether no automatic attempt is left.
func (b ReconnectBudget) Exhausted() bool { return b.Attempts >= b.MaxAttempts }

// Delay is BaseDelay * 2^attempt capped at MaxDelay.
func (b ReconnectBudget) Delay(attempt int) time.Duration {
	d := b.BaseDelay
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			break
		}
		d *= 2
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// next consumes one attempt and returns the wait before it.
func (b *ReconnectBudget) next() (time.Duration, bool) {
	if b.Exhausted() {
		return 0, false
	}
	d := b.Delay(b.Attempts)
	b.Attempts++
	return d, true
}

func (b *ReconnectBudget) reset() { b.Attempts = 0 }
