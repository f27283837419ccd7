package usecase

import (
	"context"
	"time"
)

// sleepCtx waits for d or until the context is cancelled, so shutdown never
// hangs on a pending backoff or verification delay.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
