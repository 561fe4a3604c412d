// Package mainthread is the bridge onto the host's main goroutine: the one
// goroutine allowed to touch native UI state. Work reaches it in two ways,
// fire-and-forget (Post) and rendezvous (Call). Either way it runs on the
// main goroutine in FIFO order whenever the host pumps the Dispatcher.
package mainthread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joeycumines/cardrunner/internal/goroutineid"
)

// ErrClosed is returned by Call once the Dispatcher is closed.
var ErrClosed = errors.New("mainthread: dispatcher closed")

// Dispatcher queues callbacks for the main goroutine. The queue is
// unbounded so Post never blocks the producer.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	// signal holds at most one pending wake-up.
	signal chan struct{}
	done   chan struct{}

	owner  goroutineid.Owner
	logger *slog.Logger
}

// New returns an open Dispatcher. A nil logger discards.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Bind makes the calling goroutine the main goroutine.
func (d *Dispatcher) Bind() {
	d.owner.Claim()
}

// OnMainThread reports whether the caller is the bound main goroutine.
func (d *Dispatcher) OnMainThread() bool {
	return d.owner.IsCurrent()
}

// Post queues fn and returns immediately. It reports false, dropping fn, if
// the Dispatcher is closed.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return true
}

type reply struct {
	value any
	err   error
}

// Call runs fn on the main goroutine and waits for its result. Called from
// the main goroutine itself, fn runs inline, since queueing it would
// deadlock. Call gives up with ctx.Err() or ErrClosed if ctx ends or the
// Dispatcher closes first; fn may still run later in that case, its result
// discarded.
func (d *Dispatcher) Call(ctx context.Context, fn func() any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.OnMainThread() {
		r := d.invoke(fn)
		return r.value, r.err
	}
	slot := make(chan reply, 1)
	if !d.Post(func() { slot <- d.invoke(fn) }) {
		return nil, ErrClosed
	}
	select {
	case r := <-slot:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrClosed
	}
}

func (d *Dispatcher) invoke(fn func() any) (r reply) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("main thread callback panicked", "panic", fmt.Sprint(p))
			r = reply{err: fmt.Errorf("mainthread: callback panicked: %v", p)}
		}
	}()
	return reply{value: fn()}
}

// RunPending runs every callback queued so far, in order, and returns how
// many ran. Callbacks queued while it runs wait for the next call. It does
// nothing if a main goroutine is bound and the caller is not it.
func (d *Dispatcher) RunPending() int {
	if d.owner.Claimed() && !d.owner.IsCurrent() {
		return 0
	}
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, fn := range batch {
		d.invoke(func() any {
			fn()
			return nil
		})
	}
	return len(batch)
}

// Len returns the number of queued callbacks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Wait returns a channel that receives after a Post. A receive may be
// spurious; callers should follow it with RunPending.
func (d *Dispatcher) Wait() <-chan struct{} {
	return d.signal
}

// Run binds the calling goroutine and pumps callbacks until ctx ends or the
// Dispatcher is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Bind()
	for {
		d.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			d.RunPending()
			return nil
		case <-d.signal:
		}
	}
}

// Close rejects further posts and releases pending Calls. Queued callbacks
// are kept for a final RunPending.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
}

// Done is closed by Close.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}
