package util

import (
	"fmt"
	"time"
)

// sleep is swapped out in tests to observe backoff timing
var sleep = time.Sleep

// RetryLinear executes op up to maxAttempts times, waiting step×attempt
// between tries (0.1s, 0.2s, 0.3s... for step=100ms). Only errors for
// which retryable returns true are retried; anything else fails on the
// first occurrence. The final error after exhausting all attempts is
// returned wrapped.
func RetryLinear(maxAttempts int, step time.Duration, retryable func(error) bool, op func() error, operationName string) error {
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil {
			if attempt > 1 {
				DebugLog("Retry: %s succeeded on attempt %d/%d", operationName, attempt, maxAttempts)
			}
			return nil
		}

		if retryable != nil && !retryable(err) {
			DebugLog("Retry: %s failed with non-retryable error: %v", operationName, err)
			return err
		}

		if attempt == maxAttempts {
			break
		}

		wait := step * time.Duration(attempt)
		DebugLog("Retry: %s failed (attempt %d/%d), retrying in %v: %v",
			operationName, attempt, maxAttempts, wait, err)
		sleep(wait)
	}

	WarnLog("Retry: %s failed after %d attempts: %v", operationName, maxAttempts, err)
	return fmt.Errorf("max retries exceeded (%d attempts): %w", maxAttempts, err)
}
