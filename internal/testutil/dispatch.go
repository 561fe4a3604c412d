package testutil

import (
	"context"
	"testing"

	"github.com/joeycumines/cardrunner/internal/mainthread"
)

// PumpMainThread runs d on its own goroutine, standing in for the host's
// main loop, until the test ends. Cleanups registered after this call run
// while the dispatcher is still being pumped.
func PumpMainThread(t testing.TB, d *mainthread.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("main thread dispatcher: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}
