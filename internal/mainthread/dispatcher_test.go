package mainthread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/cardrunner/internal/goroutineid"
)

// pump runs d on a dedicated goroutine until the test ends.
func pump(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}

func TestPost_FIFO(t *testing.T) {
	d := New(nil)
	var got []int
	for i := range 5 {
		require.True(t, d.Post(func() { got = append(got, i) }))
	}
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, 5, d.RunPending())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, d.RunPending())
}

func TestRunPending_DefersNestedPosts(t *testing.T) {
	d := New(nil)
	var got []string
	d.Post(func() {
		got = append(got, "outer")
		d.Post(func() { got = append(got, "inner") })
	})
	require.Equal(t, 1, d.RunPending())
	assert.Equal(t, []string{"outer"}, got)
	require.Equal(t, 1, d.RunPending())
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestCall_RunsOnMainGoroutine(t *testing.T) {
	d := New(nil)
	mainID := make(chan int64, 1)
	d.Post(func() { mainID <- goroutineid.Get() })
	pump(t, d)
	want := <-mainID

	v, err := d.Call(context.Background(), func() any { return goroutineid.Get() })
	require.NoError(t, err)
	assert.Equal(t, want, v)
}

func TestCall_InlineOnMainGoroutine(t *testing.T) {
	d := New(nil)
	d.Bind()
	v, err := d.Call(context.Background(), func() any { return 42 })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Zero(t, d.Len(), "inline calls must not be queued")
}

func TestCall_ContextCancelled(t *testing.T) {
	d := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = d.Call(ctx, func() any { return nil })
	}()
	require.Eventually(t, func() bool { return d.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_Closed(t *testing.T) {
	d := New(nil)
	errs := make(chan error, 1)
	go func() {
		_, err := d.Call(context.Background(), func() any { return nil })
		errs <- err
	}()
	require.Eventually(t, func() bool { return d.Len() == 1 }, time.Second, time.Millisecond)
	d.Close()
	assert.ErrorIs(t, <-errs, ErrClosed)

	_, err := d.Call(context.Background(), func() any { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, d.Post(func() {}))
}

func TestCall_PanicIsRecovered(t *testing.T) {
	d := New(nil)
	pump(t, d)
	_, err := d.Call(context.Background(), func() any { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	v, err := d.Call(context.Background(), func() any { return "still alive" })
	require.NoError(t, err)
	assert.Equal(t, "still alive", v)
}

func TestRunPending_IgnoresForeignGoroutine(t *testing.T) {
	d := New(nil)
	d.Bind()
	d.Post(func() {})
	ran := make(chan int)
	go func() { ran <- d.RunPending() }()
	assert.Equal(t, 0, <-ran)
	assert.Equal(t, 1, d.RunPending())
}
