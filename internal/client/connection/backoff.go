package connection

import "time"

const (
	backoffBase = 500 * time.Millisecond
	maxJitter   = 0.3
)

// Backoff = min(maxBackoff, 500ms*2^attempt) * (1+jitter), jitter в [0, 0.3)
func Backoff(attempt int, maxBackoff time.Duration, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= maxJitter {
		jitter = maxJitter - 1e-9
	}

	d := maxBackoff
	// дальше сдвиг переполняется
	if attempt < 34 {
		if exp := backoffBase << attempt; exp < maxBackoff {
			d = exp
		}
	}

	return time.Duration(float64(d) * (1 + jitter))
}
