package llm

import (
	"context"
	"fmt"
	"time"
)

// pollUntil calls check every interval until it reports done, returns an
// error, or timeout elapses. The first check runs after one interval.
func pollUntil(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %w", ErrRunTimeout, timeout, ctx.Err())
		case <-ticker.C:
		}

		done, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w after %s: %w", ErrRunTimeout, timeout, err)
			}
			return err
		}
		if done {
			return nil
		}
	}
}
