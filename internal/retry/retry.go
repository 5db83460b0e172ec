// Package retry wraps external calls with bounded exponential backoff.
// Every network dependency (JIRA REST, embedding API, completion API) goes
// through [Do] so the retry policy lives in exactly one place. Errors marked
// with [Permanent] stop the retry loop immediately — used for failures that
// cannot succeed on a second attempt (rejected credentials, content-policy
// refusals, malformed requests).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts is the total attempt budget (first try + retries)
	// used by callers that do not configure their own.
	DefaultMaxAttempts = 4

	// initialInterval is the delay before the first retry. Subsequent delays
	// grow exponentially with jitter, capped at maxInterval.
	initialInterval = 500 * time.Millisecond

	// maxInterval caps the delay between attempts so a long retry budget
	// does not stall the CLI for minutes.
	maxInterval = 10 * time.Second
)

// Do runs op with bounded exponential backoff. maxAttempts is the total
// number of attempts (values < 1 fall back to DefaultMaxAttempts). The loop
// stops early when ctx is cancelled or op returns a [Permanent] error.
// The error from the final attempt is returned unwrapped of retry machinery,
// so callers can errors.Is/As against their own sentinels.
func Do(ctx context.Context, maxAttempts int, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	// Attempt count, not wall clock, bounds the loop.
	b.MaxElapsedTime = 0

	//nolint:gosec // maxAttempts is validated positive above
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}

// Permanent marks err as non-retryable. Do returns it immediately, unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
