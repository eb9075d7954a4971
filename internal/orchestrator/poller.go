package orchestrator

import (
	"context"
	"time"
)

// WaitUntilReady calls probe up to maxAttempts times, sleeping interval
// between attempts. It returns true on the first successful probe and
// false once the budget is exhausted or the context ends. The probe is
// expected to absorb transport failures and report them as not-ready.
func WaitUntilReady(ctx context.Context, probe func(context.Context) bool, maxAttempts int, interval time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if probe(ctx) {
			return true
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return false
}
