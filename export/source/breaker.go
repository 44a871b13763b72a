package source

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerAdapter wraps another adapter with a circuit breaker so a
// flapping data store fails new exports fast instead of tying up
// scheduler slots on doomed fetches.
type BreakerAdapter struct {
	inner   Adapter
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerAdapter wraps inner with breaker defaults: the circuit opens
// after 5 consecutive fetch failures and probes again after 30 seconds.
func NewBreakerAdapter(name string, inner Adapter) *BreakerAdapter {
	return &BreakerAdapter{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Fetch forwards through the breaker.
func (a *BreakerAdapter) Fetch(ctx context.Context, q Query) (Cursor, error) {
	result, err := a.breaker.Execute(func() (any, error) {
		return a.inner.Fetch(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return result.(Cursor), nil
}
