package backoff

import (
	"context"
	"time"
)

// Policy bounds a retry loop: delays start at InitialDelay, multiply by
// Multiplier per attempt, and are capped at MaxDelay. The loop stops at
// MaxAttempts or when Deadline of wall-clock time has elapsed, whichever
// comes first.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Deadline     time.Duration
}

// DefaultPolicy mirrors the OCR service defaults: 1s initial, doubled per
// attempt, capped at 60s, at most 5 attempts inside a 5 minute window.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Deadline:     5 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Deadline <= 0 {
		p.Deadline = d.Deadline
	}
	return p
}

// Retrier runs operations under a Policy. The sleep and now hooks exist so
// tests can drive the loop with a fake clock.
type Retrier struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func New(policy Policy) *Retrier {
	return &Retrier{
		policy: policy.withDefaults(),
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// Retry invokes op until it succeeds, returns a non-retryable error, or the
// policy bounds are exhausted. The last observed error is returned.
func (r *Retrier) Retry(ctx context.Context, retryable func(error) bool, op func(context.Context) error) error {
	p := r.policy
	deadline := r.now().Add(p.Deadline)
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if r.now().Add(delay).After(deadline) {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
