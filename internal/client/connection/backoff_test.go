package connection

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		max     time.Duration
		jitter  float64
		want    time.Duration
	}{
		{"first attempt", 0, 15 * time.Second, 0, 500 * time.Millisecond},
		{"doubles", 3, 15 * time.Second, 0, 4 * time.Second},
		{"capped", 6, 15 * time.Second, 0, 15 * time.Second},
		{"jitter scales up", 1, 15 * time.Second, 0.25, 1250 * time.Millisecond},
		{"negative attempt", -3, 15 * time.Second, 0, 500 * time.Millisecond},
		{"negative jitter", 0, 15 * time.Second, -1, 500 * time.Millisecond},
		{"huge attempt", 1000, 15 * time.Second, 0, 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.attempt, tt.max, tt.jitter))
		})
	}
}

func TestBackoff_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("delay stays within [base, base*1.3)", prop.ForAll(
		func(attempt int, maxMs int64, jitter float64) bool {
			maxBackoff := time.Duration(maxMs) * time.Millisecond
			base := maxBackoff
			if exp := backoffBase << attempt; exp < maxBackoff {
				base = exp
			}

			d := Backoff(attempt, maxBackoff, jitter)

			return d >= base && float64(d) < float64(base)*1.3
		},
		gen.IntRange(0, 30),
		gen.Int64Range(500, 60_000),
		gen.Float64Range(0, 0.2999),
	))

	properties.Property("monotonic in attempt without jitter", prop.ForAll(
		func(attempt int) bool {
			return Backoff(attempt, 15*time.Second, 0) <= Backoff(attempt+1, 15*time.Second, 0)
		},
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
