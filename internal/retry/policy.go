// Package retry decides whether a failed stage attempt is requeued with
// backoff or terminates the job.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"slowjams/internal/config"
	"slowjams/internal/services"
)

// Policy computes backoff delays and enforces the per-stage attempt ceiling.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// FromConfig builds a Policy from the retry configuration section.
func FromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   time.Duration(cfg.InitialDelaySec * float64(time.Second)),
		MaxDelay:       time.Duration(cfg.MaxDelaySec * float64(time.Second)),
		JitterFraction: cfg.JitterFraction,
	}
}

// Decision is the outcome of classifying one stage failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide maps a stage error and the attempt count already consumed to a
// retry-with-backoff or terminate decision. Non-retryable failures bypass
// backoff entirely; reaching the ceiling forces termination regardless of
// retryability. Cancellation is never retried (services.IsRetryable).
func (p Policy) Decide(stageErr error, attempts int) Decision {
	if !services.IsRetryable(stageErr) {
		return Decision{}
	}
	if attempts >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempts)}
}

// Backoff returns the delay before attempt+1, exponential in the attempt
// count with a jitter component and a configured cap.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := float64(p.InitialDelay) * math.Pow(2, float64(attempts-1))
	capped := math.Min(base, float64(p.MaxDelay))
	if p.JitterFraction > 0 {
		// Jitter in [1-f, 1+f) spreads retries from bursty failures.
		factor := 1 + p.JitterFraction*(2*rand.Float64()-1)
		capped *= factor
	}
	if maxDelay := float64(p.MaxDelay); capped > maxDelay {
		capped = maxDelay
	}
	if capped < 0 {
		capped = 0
	}
	return time.Duration(capped)
}
