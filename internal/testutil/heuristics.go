// Package testutil documents the timing constants shared by tests of the
// runner and its hosts.
package testutil

import "time"

// PollingInterval is the default interval between condition checks in Poll
// and WaitForState.
//
// Rationale:
//   - 10ms keeps tests responsive without spinning
//   - The runner's own waits are sliced at 250ms by default, so a finer
//     interval gains nothing
//
// Usage:
//
//	Poll(ctx, condition, timeout, PollingInterval)
//	WaitForState(ctx, getter, predicate, timeout, PollingInterval)
const PollingInterval = 10 * time.Millisecond

// HandlerSettleTimeout bounds how long a test waits for queued handlers to
// run on the execution goroutine.
//
// Rationale:
//   - Handlers in tests are a few statements, so anything near this bound
//     is a hang, not slowness
//   - Race-detector builds on loaded CI machines run goja several times
//     slower than normal builds
//
// Usage:
//
//	require.NoError(t, Poll(ctx, cond, HandlerSettleTimeout, PollingInterval))
const HandlerSettleTimeout = 5 * time.Second

// FastExitGrace, FastCancelWait and FastJoinWait are the teardown budgets
// tests pass to the runner so that a stuck handler is given up on quickly.
//
// Rationale:
//   - The defaults add up to about a second for an unstoppable handler
//   - Interrupting goja takes effect at the next instruction, well inside
//     20ms
const (
	FastExitGrace  = 50 * time.Millisecond
	FastCancelWait = 20 * time.Millisecond
	FastJoinWait   = 10 * time.Millisecond
)
