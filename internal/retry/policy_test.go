package retry

import (
	"context"
	"testing"
	"time"

	"slowjams/internal/config"
	"slowjams/internal/services"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		JitterFraction: 0,
	}
}

func TestDecideRetriesTransientBelowCeiling(t *testing.T) {
	p := testPolicy()
	err := services.Wrap(services.ErrTransient, "acquire", "fetch", "", nil)

	d := p.Decide(err, 1)
	if !d.Retry || d.Delay != 2*time.Second {
		t.Fatalf("attempt 1 decision = %+v", d)
	}
	d = p.Decide(err, 2)
	if !d.Retry || d.Delay != 4*time.Second {
		t.Fatalf("attempt 2 decision = %+v", d)
	}
}

func TestDecideTerminatesAtCeiling(t *testing.T) {
	p := testPolicy()
	err := services.Wrap(services.ErrTransient, "acquire", "fetch", "", nil)
	if d := p.Decide(err, 3); d.Retry {
		t.Fatalf("ceiling must terminate: %+v", d)
	}
}

func TestDecideFatalBypassesBackoff(t *testing.T) {
	p := testPolicy()
	err := services.Wrap(services.ErrNotFound, "acquire", "fetch", "", nil)
	if d := p.Decide(err, 1); d.Retry || d.Delay != 0 {
		t.Fatalf("fatal failure must not retry: %+v", d)
	}
}

func TestDecideCancellationNeverRetries(t *testing.T) {
	p := testPolicy()
	if d := p.Decide(context.Canceled, 1); d.Retry {
		t.Fatalf("cancellation must not retry: %+v", d)
	}
}

func TestDecideStageDeadlineFailsImmediately(t *testing.T) {
	p := testPolicy()
	if details := services.Details(context.DeadlineExceeded); details.Kind != services.KindTimeout {
		t.Fatalf("deadline classifies as %q, want %q", details.Kind, services.KindTimeout)
	}
	if d := p.Decide(context.DeadlineExceeded, 1); d.Retry {
		t.Fatalf("blown stage deadline must terminate, not retry: %+v", d)
	}
}

func TestBackoffExponentialWithCap(t *testing.T) {
	p := testPolicy()
	if got := p.Backoff(1); got != 2*time.Second {
		t.Fatalf("Backoff(1) = %v", got)
	}
	if got := p.Backoff(4); got != 16*time.Second {
		t.Fatalf("Backoff(4) = %v", got)
	}
	if got := p.Backoff(20); got != 60*time.Second {
		t.Fatalf("Backoff(20) should cap at max delay, got %v", got)
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	p := testPolicy()
	p.JitterFraction = 0.25
	for i := 0; i < 200; i++ {
		got := p.Backoff(2)
		if got < 3*time.Second || got > 5*time.Second {
			t.Fatalf("jittered Backoff(2) = %v outside [3s, 5s]", got)
		}
	}
	for i := 0; i < 200; i++ {
		if got := p.Backoff(20); got > p.MaxDelay {
			t.Fatalf("jitter must not exceed cap: %v", got)
		}
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.Retry{
		MaxAttempts:     5,
		InitialDelaySec: 0.5,
		MaxDelaySec:     30,
		JitterFraction:  0.1,
	})
	if p.MaxAttempts != 5 || p.InitialDelay != 500*time.Millisecond || p.MaxDelay != 30*time.Second {
		t.Fatalf("FromConfig = %+v", p)
	}
}
