// Package retry layers retry-with-backoff over llm.Client calls. Clients never
// retry on their own; this package retries rate-limit and transient failures,
// honoring the vendor's retry-after hint when one was given.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRetries is the default maximum number of retries
	DefaultMaxRetries = 5
	// DefaultMaxElapsedTime is the default maximum elapsed time for backoff
	DefaultMaxElapsedTime = 5 * time.Minute
	// DefaultMaxInterval is the default maximum interval for backoff
	DefaultMaxInterval = time.Minute
	// DefaultInitialInterval is the default initial delay for exponential backoff
	DefaultInitialInterval = time.Second
	// StandardMultiplier is the multiplier for standard exponential backoff
	StandardMultiplier = 2.0
	// StandardRandomizationFactor is the randomization factor for standard exponential backoff
	StandardRandomizationFactor = 0.2
)

// Callback is called before each retry with the delay about to be waited.
type Callback func(operation llm.Operation, delay time.Duration, attempt int, err error)

// Policy configures retries. The zero value retries nothing.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration

	OnRetry Callback
}

// DefaultPolicy returns the standard exponential policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
	}
}

// NewBackOff creates the backoff schedule for one call.
func (p Policy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = StandardMultiplier
	eb.RandomizationFactor = StandardRandomizationFactor
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsedTime
	eb.Reset()
	return backoff.WithMaxRetries(eb, p.MaxRetries)
}

// Do runs fn until it succeeds, fails with an error that is not retryable, or
// the policy is exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, logger zerolog.Logger, op llm.Operation, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.WithContext(p.NewBackOff(), ctx)
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || !llm.IsRetryableError(err) {
			return v, err
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			logger.Error().Err(err).Int("attempts", attempt).Str("operation", string(op)).Msg("retries exhausted")
			return v, err
		}
		if hint := llm.ExtractRetryAfter(err); hint != nil {
			delay = *hint
			if p.MaxInterval > 0 && delay > p.MaxInterval {
				delay = p.MaxInterval
			}
		}

		logger.Warn().
			Err(err).
			Str("operation", string(op)).
			Int("attempt", attempt).
			Uint64("max_retries", p.MaxRetries).
			Dur("next_delay", delay).
			Msg("retryable provider error, retrying after delay")
		if p.OnRetry != nil {
			p.OnRetry(op, delay, attempt, err)
		}

		if waitErr := wait(ctx, delay); waitErr != nil {
			return v, llm.Normalize(providerOf(err), waitErr)
		}
	}
}

func providerOf(err error) string {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr.Provider
	}
	return ""
}

// wait waits for the specified delay, respecting context cancellation
func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
