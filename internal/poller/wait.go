package poller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// BackOffFactory builds a fresh [backoff.BackOff] for one session.
// Each session owns its backoff; they are never shared.
type BackOffFactory func() backoff.BackOff

// ConstantBackOff returns a factory producing a fixed wait of interval.
func ConstantBackOff(interval time.Duration) BackOffFactory {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(interval)
	}
}

// ExponentialBackOff returns a factory whose waits start at interval and grow
// by multiplier up to maxInterval. Jitter is disabled so no wait is shorter
// than interval, and there is no elapsed-time cap: the attempt budget is
// the only thing that ends a session.
func ExponentialBackOff(interval time.Duration, multiplier float64, maxInterval time.Duration) BackOffFactory {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = interval
		b.Multiplier = multiplier
		b.MaxInterval = maxInterval
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// Sleep waits for d on a timer that is released on every exit path.
// It returns false if ctx was cancelled first. A non-positive d returns
// immediately, reporting whether ctx is still live.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
