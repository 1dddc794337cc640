package webhook

import "time"

// backoffBase and backoffCap are the default exponential-backoff parameters:
// delay = min(base*2^(attempts-1), cap), with no jitter — deliveries must land on
// the exact doubling schedule (60s, 120s, 240s, 480s, 960s) so dead-letter
// timing is reproducible in tests.
const (
	defaultBackoffBaseSeconds = 60
	defaultBackoffCapSeconds  = 86400
)

// Backoff computes the delay before the next retry, given the number of
// attempts already made (1-indexed: attempts==1 after the first failure).
type Backoff struct {
	BaseSeconds int64
	CapSeconds  int64
}

func NewBackoff(baseSeconds, capSeconds int64) Backoff {
	if baseSeconds <= 0 {
		baseSeconds = defaultBackoffBaseSeconds
	}
	if capSeconds <= 0 {
		capSeconds = defaultBackoffCapSeconds
	}
	return Backoff{BaseSeconds: baseSeconds, CapSeconds: capSeconds}
}

// Delay returns min(base*2^(attempts-1), cap) seconds, as a duration, for
// the given 1-indexed attempt count (attempts==1 after the first failure).
// This is what produces the exact doubling schedule 60s, 120s, 240s, 480s,
// 960s for attempts 1..5 with the default base of 60.
func (b Backoff) Delay(attempts int) time.Duration {
	exponent := attempts - 1
	if exponent < 0 {
		exponent = 0
	}
	factor := int64(1)
	if exponent > 0 {
		if exponent > 20 {
			// 2^20 * 60s already exceeds any sane cap; avoid overflow.
			factor = 1 << 20
		} else {
			factor = 1 << uint(exponent)
		}
	}
	seconds := b.BaseSeconds * factor
	if seconds > b.CapSeconds {
		seconds = b.CapSeconds
	}
	return time.Duration(seconds) * time.Second
}
