package tail

import (
	"context"
	"time"
)

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first. It
// reports whether the sleep completed normally (false means ctx ended it).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
