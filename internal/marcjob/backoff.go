package marcjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/folio-import/internal/api"
)

// RetryPolicy holds the timing of every retry loop of a job.
type RetryPolicy struct {
	// InitialTimeout is the request timeout of the first attempt and the wait
	// after the first transient failure.
	InitialTimeout time.Duration
	// Factor multiplies the timeout after each transient failure.
	Factor float64
	// MaxTimeout caps the timeout. A retry that would exceed it is a JobError.
	MaxTimeout time.Duration
	// FixedDelay is the wait between retries of cancel and submit timeouts.
	FixedDelay time.Duration
	// MaxSummaryRetries bounds the retries of the summary fetch.
	MaxSummaryRetries int

	// Timer replaces the wall clock for waits. Nil uses real time.
	Timer retry.Timer
}

// DefaultRetryPolicy returns the policy used against production gateways.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialTimeout:    5 * time.Second,
		Factor:            1.5,
		MaxTimeout:        25320 * time.Millisecond,
		FixedDelay:        250 * time.Millisecond,
		MaxSummaryRetries: 2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.InitialTimeout <= 0 {
		p.InitialTimeout = d.InitialTimeout
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxTimeout < p.InitialTimeout {
		p.MaxTimeout = d.MaxTimeout
		if p.MaxTimeout < p.InitialTimeout {
			p.MaxTimeout = p.InitialTimeout
		}
	}
	if p.FixedDelay <= 0 {
		p.FixedDelay = d.FixedDelay
	}
	if p.MaxSummaryRetries < 0 {
		p.MaxSummaryRetries = 0
	}
	if p.Timer == nil {
		p.Timer = wallClock{}
	}
	return p
}

// Timeouts returns the request timeout of every attempt the escalating loop
// makes before giving up.
func (p RetryPolicy) Timeouts() []time.Duration {
	p = p.withDefaults()
	var out []time.Duration
	for t := p.InitialTimeout; t <= p.MaxTimeout; t = p.next(t) {
		out = append(out, t)
	}
	return out
}

func (p RetryPolicy) next(t time.Duration) time.Duration {
	return time.Duration(float64(t) * p.Factor)
}

// escalate runs fn until it succeeds, fails permanently or the timeout would
// pass MaxTimeout. Each attempt gets a longer request timeout and the wait
// before an attempt equals the timeout of the failed one.
func (p RetryPolicy) escalate(ctx context.Context, logger *slog.Logger, op string, allowUnauthorized bool, fn func(timeout time.Duration) error) error {
	p = p.withDefaults()
	timeout := p.InitialTimeout
	var wait time.Duration

	return retry.Do(
		func() error {
			err := fn(timeout)
			if err == nil {
				return nil
			}
			if !api.IsTransient(err, allowUnauthorized) {
				return retry.Unrecoverable(err)
			}
			wait = timeout
			next := p.next(timeout)
			if next > p.MaxTimeout {
				return retry.Unrecoverable(fmt.Errorf("%s: retry timeout would exceed %s: %w", op, p.MaxTimeout, err))
			}
			timeout = next
			return err
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.LastErrorOnly(true),
		retry.DelayType(func(uint, error, *retry.Config) time.Duration { return wait }),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("transient server error, retrying",
				"op", op, "attempt", n+1, "wait", wait, "next_timeout", timeout, "error", err)
		}),
		retry.WithTimer(p.Timer),
	)
}

// persist retries fn at FixedDelay for as long as it times out.
func (p RetryPolicy) persist(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	p = p.withDefaults()
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(api.IsTimeout),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(p.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("connection error, retrying", "op", op, "attempt", n+1, "error", err)
		}),
		retry.WithTimer(p.Timer),
	)
}

// sleep waits d on the policy timer or until ctx is done.
func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-p.withDefaults().Timer.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type wallClock struct{}

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
