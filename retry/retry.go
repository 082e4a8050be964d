// Package retry holds the backoff schedule shared by the ledger client and
// the document store.
package retry

import (
	"context"
	"time"
)

// Backoff doubles wait for every failure after the first, counting at most
// maxFailures of them.
func Backoff(wait time.Duration, failures, maxFailures uint64) time.Duration {
	power := min(failures, maxFailures)
	for power > 1 {
		wait *= 2
		power--
	}
	return wait
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
