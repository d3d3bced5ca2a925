package entity

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CheckFunc is one readiness probe. It must be safe to call repeatedly:
// no side effects beyond refreshing observed state. False means "keep
// waiting"; an error means the condition can never self-resolve and the
// loop aborts immediately.
type CheckFunc func(ctx context.Context) (bool, error)

// Poller drives the caller-side readiness loop: wait the initial delay,
// then probe up to Attempts times with Period between probes, stopping
// on the first true. Exhausting every attempt yields a readiness
// timeout, never a provider error.
type Poller struct {
	// Period is the delay between attempts.
	Period time.Duration

	// InitialDelay is the delay before the first attempt.
	InitialDelay time.Duration

	// Attempts bounds the number of probes.
	Attempts int

	// Logger reports per-attempt progress.
	Logger zerolog.Logger
}

// NewPoller builds a poller from a declared readiness policy.
func NewPoller(r Readiness, logger zerolog.Logger) *Poller {
	return &Poller{
		Period:       r.Period(),
		InitialDelay: r.InitialDelay(),
		Attempts:     r.Attempts,
		Logger:       logger.With().Str("component", "readiness-poller").Logger(),
	}
}

// Wait runs the loop against check. It returns nil when the resource
// became ready, the probe's error when the probe aborted, a readiness
// timeout after exhausting attempts, or the context error on
// cancellation.
func (p *Poller) Wait(ctx context.Context, check CheckFunc) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	if err := sleep(ctx, p.InitialDelay); err != nil {
		return err
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ready, err := check(ctx)
		if err != nil {
			p.Logger.Error().Int("attempt", attempt).Err(err).Msg("Readiness probe aborted")
			return err
		}
		if ready {
			p.Logger.Debug().Int("attempt", attempt).Msg("Resource ready")
			return nil
		}
		p.Logger.Debug().Int("attempt", attempt).Int("attempts", attempts).Msg("Resource not ready")

		if attempt < attempts {
			if err := sleep(ctx, p.Period); err != nil {
				return err
			}
		}
	}

	return NewReadinessTimeout(attempts)
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
