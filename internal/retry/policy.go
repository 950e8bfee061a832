// Package retry holds the backoff policy applied to failed collaborator
// calls. The policy is a pure function of the attempt number and the
// error; it never sleeps itself.
package retry

import (
	"math/rand"
	"time"

	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/config"
)

// Policy computes retry eligibility and backoff delay for one
// collaborator type.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the delay randomized in both directions,
	// e.g. 0.2 spreads a 10s delay across 8-12s.
	Jitter float64

	// rand source, swappable in tests
	randFloat func() float64
}

// FromSettings builds a Policy from config with the standard jitter.
func FromSettings(s config.RetrySettings) Policy {
	return Policy{
		MaxAttempts: s.MaxAttempts,
		BaseDelay:   time.Duration(s.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(s.MaxDelayMs) * time.Millisecond,
		Jitter:      0.2,
	}
}

// ShouldRetry reports whether a call that just failed its attempt-th try
// (1-based) should be retried, and after what delay. Permanent errors
// never retry regardless of attempt count.
func (p Policy) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if client.IsPermanent(err) {
		return false, 0
	}
	if attempt >= p.MaxAttempts {
		return false, 0
	}
	return true, p.delay(attempt)
}

// delay doubles from the base per attempt, capped, with jitter to avoid
// a thundering herd against the collaborator.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter > 0 {
		rf := p.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		// spread across [d*(1-jitter), d*(1+jitter)]
		factor := 1 + p.Jitter*(2*rf()-1)
		d = time.Duration(float64(d) * factor)
	}
	return d
}
