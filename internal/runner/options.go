package runner

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joeycumines/cardrunner/internal/mainthread"
)

// Defaults for the teardown and wait budgets.
const (
	DefaultDrainBudget   = 4
	DefaultCancelRetries = 4
	DefaultCancelWait    = 200 * time.Millisecond
	DefaultJoinWait      = 50 * time.Millisecond
	DefaultExitGrace     = 200 * time.Millisecond
	DefaultWaitSlice     = 250 * time.Millisecond
)

type global struct {
	name  string
	value any
}

type options struct {
	drainBudget   int
	cancelRetries int
	cancelWait    time.Duration
	joinWait      time.Duration
	exitGrace     time.Duration
	waitSlice     time.Duration

	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
	audio  Audio
	disp   *mainthread.Dispatcher

	errorSink  func(ErrorRecord)
	onFinished func([]ErrorRecord)
	onVars     func(map[string]any)
	globals    []global
}

func defaultOptions() options {
	return options{
		drainBudget:   DefaultDrainBudget,
		cancelRetries: DefaultCancelRetries,
		cancelWait:    DefaultCancelWait,
		joinWait:      DefaultJoinWait,
		exitGrace:     DefaultExitGrace,
		waitSlice:     DefaultWaitSlice,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
	}
}

// Option configures a Runner.
type Option func(*options)

// WithDrainBudget sets how many tasks still run after a stop is requested.
func WithDrainBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.drainBudget = n
		}
	}
}

// WithCancelRetries sets how many times teardown interrupts script code
// before giving up on the execution goroutine.
func WithCancelRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cancelRetries = n
		}
	}
}

func WithCancelWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cancelWait = d
		}
	}
}

func WithJoinWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.joinWait = d
		}
	}
}

// WithExitGrace sets how long teardown waits for exit handlers before it
// starts interrupting.
func WithExitGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.exitGrace = d
		}
	}
}

// WithWaitSlice bounds each sleep inside wait(), and so how quickly a
// waiting handler notices a stop.
func WithWaitSlice(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.waitSlice = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStdout sets where console output and echoed results go.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithStderr sets where error messages are echoed.
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

func WithAudio(a Audio) Option {
	return func(o *options) { o.audio = a }
}

// WithDispatcher shares the host's main-thread dispatcher. Without one the
// runner creates its own, which the host must pump.
func WithDispatcher(d *mainthread.Dispatcher) Option {
	return func(o *options) { o.disp = d }
}

// WithErrorSink is called on the execution goroutine each time a record is
// created or its count changes.
func WithErrorSink(fn func(ErrorRecord)) Option {
	return func(o *options) { o.errorSink = fn }
}

// WithOnFinished is called once teardown completes, with the final error
// list.
func WithOnFinished(fn func([]ErrorRecord)) Option {
	return func(o *options) { o.onFinished = fn }
}

// WithOnVars receives variable snapshots on the main goroutine while
// snapshots are enabled.
func WithOnVars(fn func(map[string]any)) Option {
	return func(o *options) { o.onVars = fn }
}

// WithGlobal adds a host-provided built-in. Go functions are wrapped by the
// runtime.
func WithGlobal(name string, value any) Option {
	return func(o *options) { o.globals = append(o.globals, global{name, value}) }
}
