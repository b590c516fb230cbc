// internal/queue/backoff.go
package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear returns min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential returns min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter returns a random delay in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(Exponential(e).Delay(attempt))
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
	BackoffJitter      = "jitter"
)

// maxBackoff caps growing strategies.
const maxBackoff = time.Hour

// BackoffPolicy is the retry policy stored with each job.
type BackoffPolicy struct {
	Type  string
	Delay time.Duration
}

func ExponentialBackoff(delay time.Duration) BackoffPolicy {
	return BackoffPolicy{Type: BackoffExponential, Delay: delay}
}

// Strategy builds the delay strategy for the policy. Unknown types are exponential.
func (p BackoffPolicy) Strategy() Strategy {
	switch p.Type {
	case BackoffFixed:
		return Constant{Interval: p.Delay}
	case BackoffLinear:
		return Linear{Initial: p.Delay, Max: maxBackoff}
	case BackoffJitter:
		return ExponentialWithJitter{Initial: p.Delay, Max: maxBackoff}
	default:
		return Exponential{Initial: p.Delay, Max: maxBackoff}
	}
}
