package testutil

import (
	"context"
	"fmt"
	"time"
)

// Poll checks condition every interval until it holds, timeout passes, or
// ctx ends.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("timeout waiting for condition (threshold: %v)", timeout)
	}
	return err
}

// WaitForState samples getter every interval until predicate accepts a
// value, which it returns. Snapshots published by the execution goroutine
// are the usual getter:
//
//	vars, err := WaitForState(ctx, r.Vars, func(v map[string]any) bool {
//		return v["score"] == int64(7)
//	}, HandlerSettleTimeout, PollingInterval)
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		state := getter()
		if predicate(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-deadline.C:
			var zero T
			return zero, fmt.Errorf("timeout waiting for %T state (threshold: %v)", zero, timeout)
		case <-ticker.C:
		}
	}
}
