// Package retry provides a policy-driven retry driver.
//
// A Policy maps a failed attempt to a Decision: retry or not, and how long to
// wait first. Backoff, the default policy, classifies errors with Classify:
// transient failures back off exponentially, malformed output is retried
// at once, and everything else stops immediately.
//
//	policy := retry.NewBackoff(retry.Config{MaxAttempts: 3, BaseDelay: 30 * time.Second})
//	resp, attempts, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
//	    return client.Call(ctx)
//	})
package retry
