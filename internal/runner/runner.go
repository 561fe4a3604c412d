// Package runner executes user-authored event handlers on a dedicated
// execution goroutine, next to a single-threaded host.
//
// All script code and every change to the script environment happen on the
// execution goroutine, which consumes a FIFO of typed tasks. Host events
// arrive on the main goroutine and are queued; a handler that triggers
// another handler runs it inline instead. Built-ins that need the host hop
// to the main goroutine through a mainthread.Dispatcher, either waiting for
// the result or not.
//
// Usage:
//
//	r, err := runner.New(doc, host, runner.WithDispatcher(disp))
//	if err != nil { ... }
//	r.SetupPage(doc.Pages()[0])
//	r.RunHandler(doc.Pages()[0], "on_show_card", nil, nil)
//	...
//	_ = r.Stop() // from the main goroutine
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/joeycumines/cardrunner/internal/goroutineid"
	"github.com/joeycumines/cardrunner/internal/mainthread"
)

// Runner owns the script runtime, its environment, and the execution
// goroutine.
type Runner struct {
	id     string
	doc    Document
	host   Host
	opts   options
	logger *slog.Logger
	disp   *mainthread.Dispatcher
	stdout io.Writer
	stderr io.Writer

	// Owned by the execution goroutine.
	vm           *goja.Runtime
	env          *Environment
	sentinel     *goja.Object
	valueError   goja.Value
	rewriter     *Rewriter
	programs     *programCache
	funcDefs     map[string]origin
	sources      map[string]origin
	lastPeriodic map[Object]time.Time
	sounds       map[string]Sound
	pageIndex    int
	didSetup     bool
	interrupted  bool
	stuck        *frame
	started      time.Time

	queue    *taskQueue
	exec     goroutineid.Owner
	loopDone chan struct{}
	done     chan struct{}

	stopOnce   sync.Once
	stopping   atomic.Bool
	stopCtx    context.Context
	cancelStop context.CancelFunc

	framesMu sync.Mutex
	frames   []frame

	suppressPointer atomic.Bool
	periodicBacklog atomic.Int64
	snapshots       atomic.Bool

	keys    keyState
	timers  timerSet
	errors  errorList
	returns chan any

	varsMu sync.Mutex
	vars   map[string]any
}

// frame is one active handler invocation.
type frame struct {
	obj     Object
	handler string
	page    Page
}

// New builds the runtime for doc and starts the execution goroutine. A nil
// host is replaced by NopHost.
func New(doc Document, host Host, opts ...Option) (*Runner, error) {
	if doc == nil || len(doc.Pages()) == 0 {
		return nil, errors.New("runner: document has no pages")
	}
	if host == nil {
		host = NopHost{}
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("run", id)
	if o.audio == nil {
		o.audio = FileAudio{}
	}
	disp := o.disp
	if disp == nil {
		disp = mainthread.New(logger)
	}

	r := &Runner{
		id:           id,
		doc:          doc,
		host:         host,
		opts:         o,
		logger:       logger,
		disp:         disp,
		stdout:       o.stdout,
		stderr:       o.stderr,
		rewriter:     NewRewriter(),
		programs:     newProgramCache(),
		funcDefs:     make(map[string]origin),
		sources:      make(map[string]origin),
		lastPeriodic: make(map[Object]time.Time),
		sounds:       make(map[string]Sound),
		started:      time.Now(),
		queue:        newTaskQueue(),
		loopDone:     make(chan struct{}),
		done:         make(chan struct{}),
		returns:      make(chan any, 1),
	}
	r.keys.init()
	r.stopCtx, r.cancelStop = context.WithCancel(context.Background())
	if err := r.initRuntime(); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	go r.loop()
	logger.Info("runner started", "pages", len(doc.Pages()))
	return r, nil
}

// RunID identifies this run in the diagnostic stream.
func (r *Runner) RunID() string { return r.id }

// BuiltinNames lists the names every handler sees, sorted.
func (r *Runner) BuiltinNames() []string { return r.env.names() }

// Document returns the document being run.
func (r *Runner) Document() Document { return r.doc }

func (r *Runner) onExecThread() bool { return r.exec.IsCurrent() }

func (r *Runner) isStopping() bool { return r.stopping.Load() }

// loop is the execution goroutine. It exits on a Wake after a stop, when
// the drain budget runs out, when script code was interrupted, or when the
// queue is closed.
func (r *Runner) loop() {
	defer close(r.loopDone)
	r.exec.Claim()
	defer r.exec.Release()

	countdown := r.opts.drainBudget
	for {
		t, ok := r.queue.pop()
		if !ok {
			return
		}
		exitHandler := false
		switch t.kind {
		case TaskWake:
			if r.isStopping() {
				return
			}
			r.post(r.host.Redraw)
		case TaskSetupPage:
			r.setupPage(t.page)
		case TaskRunHandler:
			r.invoke(t.call)
			exitHandler = t.call.name == "on_exit_stack"
			if t.call.name == "on_periodic" {
				r.periodicBacklog.Add(-1)
			}
		case TaskRunFunction:
			r.runFunction(t.fn, t.args)
		case TaskRunCode:
			r.runCode(t.code)
		case TaskCancelGesture:
			r.suppressPointer.Store(false)
		case TaskMainCallback:
			r.post(t.callback)
		default:
			r.logger.Error("unknown task", "kind", t.kind)
		}

		if r.interrupted {
			r.recordInterrupted()
			return
		}
		if r.isStopping() {
			countdown--
		}
		if countdown <= 0 && !exitHandler {
			return
		}
	}
}

func (r *Runner) recordInterrupted() {
	f := r.stuck
	if f == nil {
		r.logger.Warn("script interrupted outside a handler")
		return
	}
	msg := fmt.Sprintf("Exited while %s was still running.  Maybe you have a long or infinite loop?",
		HandlerPath(f.obj, f.handler, f.page))
	r.addRecord(ErrorRecord{
		Page:    pageName(f.page),
		Object:  f.obj.Name(),
		Handler: f.handler,
		Line:    0,
		Message: msg,
	})
}

func (r *Runner) post(fn func()) {
	if !r.disp.Post(fn) {
		r.logger.Debug("main thread dispatcher closed, dropping callback")
	}
}

// call runs fn on the main goroutine and waits for the result. It returns
// nil if the runner stops first.
func (r *Runner) call(fn func() any) any {
	v, err := r.disp.Call(r.stopCtx, fn)
	if err != nil {
		r.logger.Debug("main thread call abandoned", "error", err)
		return nil
	}
	return v
}

func (r *Runner) pushFrame(f frame) {
	r.framesMu.Lock()
	r.frames = append(r.frames, f)
	r.framesMu.Unlock()
}

func (r *Runner) popFrame() {
	r.framesMu.Lock()
	r.frames = r.frames[:len(r.frames)-1]
	r.framesMu.Unlock()
}

func (r *Runner) topFrame() (frame, bool) {
	r.framesMu.Lock()
	defer r.framesMu.Unlock()
	if len(r.frames) == 0 {
		return frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// Depth is the number of handler invocations in progress.
func (r *Runner) Depth() int {
	r.framesMu.Lock()
	defer r.framesMu.Unlock()
	return len(r.frames)
}

// IsRunningHandler reports whether a handler is executing.
func (r *Runner) IsRunningHandler() bool { return r.Depth() > 0 }

// SetupPage rebinds the environment to page. Called from a handler it
// happens immediately; otherwise it is queued ahead of any later handler.
func (r *Runner) SetupPage(page Page) {
	if r.onExecThread() {
		r.setupPage(page)
		return
	}
	r.queue.push(task{kind: TaskSetupPage, page: page})
}

func (r *Runner) setupPage(page Page) {
	r.env.bind("card", page.Proxy())
	r.env.bind("stack", r.doc.Proxy())
	for _, k := range r.env.pageKeys {
		r.env.unbind(k)
	}
	r.env.pageKeys = r.env.pageKeys[:0]
	for _, obj := range page.Children() {
		name := obj.Name()
		if name == "" || r.env.isBuiltin(name) {
			r.logger.Warn("object name hides a built-in, not bound", "object", name, "page", page.Name())
			continue
		}
		r.env.bind(name, obj.Proxy())
		r.env.pageKeys = append(r.env.pageKeys, name)
	}
	r.env.page = page
	r.pageIndex = r.indexOf(page)
	r.didSetup = true
}

func (r *Runner) indexOf(page Page) int {
	for i, p := range r.doc.Pages() {
		if p == page {
			return i
		}
	}
	return -1
}

// RunHandler runs the named handler of obj. It reports false, without
// effect, if the handler is empty or a key event has no key name. From the
// main goroutine the handler is queued and RunHandler returns at once; from
// a running handler it runs to completion before RunHandler returns.
func (r *Runner) RunHandler(obj Object, name string, ev *Event, arg any) bool {
	src := strings.TrimSpace(obj.Handler(name))
	if src == "" {
		return false
	}
	c := &handlerCall{obj: obj, name: name, source: src, arg: arg}
	switch {
	case ev != nil && strings.HasPrefix(name, "on_mouse"):
		var p Point
		if ev.Pointer != nil {
			p = *ev.Pointer
		} else if !r.onExecThread() {
			p = r.host.MousePosition()
		} else if v, ok := r.call(func() any { return r.host.MousePosition() }).(Point); ok {
			p = v
		}
		c.mousePos = &p
	case arg != nil && name == "on_key_hold":
		c.keyName, _ = arg.(string)
	case ev != nil && strings.HasPrefix(name, "on_key"):
		c.keyName = KeyName(*ev)
		if c.keyName == "" {
			return false
		}
	}

	if r.onExecThread() {
		r.invoke(c)
		return true
	}
	if name == "on_periodic" {
		r.periodicBacklog.Add(1)
	}
	if !r.queue.push(task{kind: TaskRunHandler, call: c}) {
		if name == "on_periodic" {
			r.periodicBacklog.Add(-1)
		}
		return false
	}
	return true
}

// EnqueueFunction queues a call of a script function.
func (r *Runner) EnqueueFunction(fn goja.Value, args ...goja.Value) bool {
	return r.queue.push(task{kind: TaskRunFunction, fn: fn, args: args})
}

// EnqueueCode queues a console snippet.
func (r *Runner) EnqueueCode(code string) bool {
	return r.queue.push(task{kind: TaskRunCode, code: code})
}

// EnqueueRefresh queues a Wake, asking for a redraw after the work already
// queued.
func (r *Runner) EnqueueRefresh() bool {
	return r.queue.push(task{kind: TaskWake})
}

// AddCallbackToMain queues fn to run on the main goroutine once the tasks
// queued before it have run.
func (r *Runner) AddCallbackToMain(fn func()) bool {
	return r.queue.push(task{kind: TaskMainCallback, callback: fn})
}

// CancelGesture queues the reset of the suppress-pointer latch.
func (r *Runner) CancelGesture() bool {
	return r.queue.push(task{kind: TaskCancelGesture})
}

// DidSuppressPointer reports whether a handler asked for the current
// pointer gesture to be ignored.
func (r *Runner) DidSuppressPointer() bool { return r.suppressPointer.Load() }

// PeriodicBacklog counts queued on_periodic handlers. Hosts skip ticks
// while it is non-zero.
func (r *Runner) PeriodicBacklog() int { return int(r.periodicBacklog.Load()) }

// Errors returns a copy of the error list.
func (r *Runner) Errors() []ErrorRecord { return r.errors.snapshot() }

// DeliverReturn hands the result of a nested document to the pending
// run_stack call.
func (r *Runner) DeliverReturn(v any) {
	select {
	case r.returns <- v:
	default:
		r.logger.Warn("no run_stack call waiting for a result")
	}
}

// SetVarSnapshots turns the variable snapshot taken after each handler on
// or off.
func (r *Runner) SetVarSnapshots(enabled bool) { r.snapshots.Store(enabled) }

// Vars returns the latest variable snapshot.
func (r *Runner) Vars() map[string]any {
	r.varsMu.Lock()
	defer r.varsMu.Unlock()
	out := make(map[string]any, len(r.vars))
	for k, v := range r.vars {
		out[k] = v
	}
	return out
}

func (r *Runner) updateVars() {
	if !r.snapshots.Load() {
		return
	}
	snap := r.env.Snapshot()
	r.varsMu.Lock()
	r.vars = snap
	r.varsMu.Unlock()
	if fn := r.opts.onVars; fn != nil {
		r.post(func() { fn(snap) })
	}
}

// AddSyntaxErrors seeds records found by a static check, keyed by handler
// path: "page.handler" or "page.object.handler".
func (r *Runner) AddSyntaxErrors(issues map[string]SyntaxIssue) {
	for path, issue := range issues {
		obj, handler, ok := r.resolvePath(path)
		if !ok {
			r.logger.Warn("syntax error for unknown handler", "path", path)
			continue
		}
		r.addRecord(ErrorRecord{
			Page:    pageName(obj.Page()),
			Object:  obj.Name(),
			Handler: handler,
			Line:    issue.Line,
			Message: fmt.Sprintf("SyntaxError in %s, line %d: %s", HandlerPath(obj, handler, nil), issue.Line, issue.Message),
		})
	}
}

func (r *Runner) resolvePath(path string) (Object, string, bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil, "", false
	}
	handler := parts[len(parts)-1]
	for _, p := range r.doc.Pages() {
		if p.Name() != parts[0] {
			continue
		}
		if len(parts) == 2 {
			return p, handler, true
		}
		for _, c := range p.Children() {
			if c.Name() == parts[len(parts)-2] {
				return c, handler, true
			}
		}
	}
	return nil, "", false
}

// addRecord stores a failure, mirrors it to the diagnostic stream and
// stderr, and notifies the error sink.
func (r *Runner) addRecord(rec ErrorRecord) {
	stored, ok := r.errors.add(rec)
	if !ok {
		return
	}
	r.logger.Error("handler error",
		"page", stored.Page,
		"object", stored.Object,
		"handler", stored.Handler,
		"line", stored.Line,
		"count", stored.Count,
		"message", stored.Message,
	)
	fmt.Fprintln(r.stderr, stored.Message)
	if r.opts.errorSink != nil {
		r.opts.errorSink(stored)
	}
}

func (r *Runner) report(f *failure, page Page) {
	r.addRecord(ErrorRecord{
		Page:    pageName(page),
		Object:  f.obj.Name(),
		Handler: f.handler,
		Line:    f.line,
		Message: f.message(),
	})
}

// Done is closed when teardown has finished.
func (r *Runner) Done() <-chan struct{} { return r.done }
