// Package retry runs operations under a bounded exponential-backoff policy.
//
// Failures are classified by [Kind]. Producers tag errors with [Mark]; a
// [Policy] retries only the kinds it lists and propagates everything else
// immediately. Untagged errors and context cancellation are never retried.
//
// # Usage
//
//	policy := retry.DownloadPolicy()
//	policy.OnRetry = func(a retry.Attempt) {
//	    log.WithField("attempt", a.Number).Warnf("retrying in %s: %v", a.Wait, a.Err)
//	}
//	err := policy.Do(ctx, func(ctx context.Context) error {
//	    return retry.Mark(retry.Network, fetch(ctx))
//	})
//
// The wait before retry n is Unit * Base^n, capped at MaxBackoff.
package retry
