package login

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 200 * time.Millisecond
)

// ErrTimeout is wrapped by Poll when the deadline passes first.
var ErrTimeout = errors.New("timed out")

// CheckFunc reports whether the awaited condition holds. An error means
// "not yet" and is only surfaced if the deadline passes.
type CheckFunc func(ctx context.Context) (bool, error)

// Poll calls check immediately and then every interval until it reports
// true, timeout elapses, or ctx is done. The ctx passed to check carries the
// deadline so a single slow check cannot overrun it.
func Poll(ctx context.Context, timeout, interval time.Duration, check CheckFunc) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := check(pollCtx)
		if err == nil && ok {
			return nil
		}
		if err != nil && pollCtx.Err() == nil {
			lastErr = err
		}
		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			if lastErr != nil {
				return fmt.Errorf("%w after %s (last error: %v)", ErrTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}
