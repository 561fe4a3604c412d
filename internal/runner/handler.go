package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// OutcomeKind classifies how an invocation ended.
type OutcomeKind int

const (
	// Skipped means the invocation did not run at all.
	Skipped OutcomeKind = iota
	Completed
	// EarlyReturn means the code ended with a top-level return.
	EarlyReturn
	Failed
	// Interrupted means teardown aborted the code.
	Interrupted
)

func (k OutcomeKind) String() string {
	switch k {
	case Skipped:
		return "Skipped"
	case Completed:
		return "Completed"
	case EarlyReturn:
		return "EarlyReturn"
	case Failed:
		return "Failed"
	case Interrupted:
		return "Interrupted"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of running one handler, function or snippet.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func isPointerHandler(name string) bool {
	switch name {
	case "on_mouse_press", "on_mouse_move", "on_mouse_release":
		return true
	}
	return false
}

// invoke runs a handler on the execution goroutine, restoring every name it
// binds before returning, however the code ends.
func (r *Runner) invoke(c *handlerCall) Outcome {
	if !r.didSetup {
		return Outcome{Kind: Skipped}
	}
	if isPointerHandler(c.name) && r.suppressPointer.Load() {
		return Outcome{Kind: Skipped}
	}

	page := c.obj.Page()
	r.pushFrame(frame{obj: c.obj, handler: c.name, page: page})
	saved := r.bindEvent(c)
	defer func() {
		r.popFrame()
		for i := len(saved) - 1; i >= 0; i-- {
			r.env.restore(saved[i])
		}
		r.updateVars()
	}()

	src := r.rewriter.Rewrite(c.source)
	name := sourceName(c.obj, c.name)
	r.sources[name] = origin{obj: c.obj, handler: c.name}

	prg, issue := r.programs.compile(name, src)
	if issue != nil {
		f := &failure{
			class:   "SyntaxError",
			detail:  issue.Message,
			obj:     original(c.obj),
			handler: c.name,
			line:    issue.Line,
		}
		r.report(f, page)
		return Outcome{Kind: Failed, Err: errors.New(f.message())}
	}

	base := len(r.vm.CaptureCallStack(0, nil))
	before := r.env.functions()
	_, err := r.runSafely(func() (goja.Value, error) { return r.vm.RunProgram(prg) })
	r.scrapeFuncDefs(before, c.obj, c.name)
	return r.classify(err, base, c, page)
}

// runSafely runs fn, turning a Go panic that escaped a built-in into an
// error.
func (r *Runner) runSafely(fn func() (goja.Value, error)) (v goja.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("built-in panicked", "panic", fmt.Sprint(p))
			err = fmt.Errorf("runner: panic in script call: %v", p)
		}
	}()
	return fn()
}

// classify turns the error from running user code into an Outcome,
// reporting real failures.
func (r *Runner) classify(err error, base int, c *handlerCall, page Page) Outcome {
	if err == nil {
		return Outcome{Kind: Completed}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if !r.interrupted {
			r.interrupted = true
			if f, ok := r.topFrame(); ok {
				r.stuck = &f
			}
		}
		return Outcome{Kind: Interrupted, Err: err}
	}
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		r.logger.Error("script failed", "error", err)
		return Outcome{Kind: Failed, Err: err}
	}
	if v, ok := ex.Value().(*goja.Object); ok && v == r.sentinel {
		return Outcome{Kind: EarlyReturn}
	}
	f := r.symbolicate(ex, base, c)
	if f == nil {
		class, detail := describe(ex)
		r.logger.Error("script error", "class", class, "detail", detail)
		return Outcome{Kind: Failed, Err: err}
	}
	if page == nil {
		page = f.obj.Page()
	}
	r.report(f, page)
	return Outcome{Kind: Failed, Err: errors.New(f.message())}
}

// bindEvent shadows self and the handler's event parameters, returning the
// prior bindings in the order they were made.
func (r *Runner) bindEvent(c *handlerCall) []binding {
	saved := []binding{r.env.shadow("self", c.obj.Proxy())}
	bind := func(name string, v any) {
		saved = append(saved, r.env.shadow(name, v))
	}

	switch c.name {
	case "on_message":
		if c.arg != nil {
			bind("message", c.arg)
		}
	case "on_done_loading":
		if d, ok := c.arg.(DoneLoading); ok {
			bind("URL", d.URL)
			bind("did_load", d.DidLoad)
		}
	case "on_card_stock_link":
		bind("message", c.arg)
	case "on_selection_changed":
		bind("is_selected", c.arg)
	case "on_resize":
		bind("is_initial", c.arg)
	case "on_periodic":
		now := time.Now()
		last, ok := r.lastPeriodic[c.obj]
		if !ok {
			last = r.started
		}
		r.lastPeriodic[c.obj] = now
		bind("elapsed_time", now.Sub(last).Seconds())
	}

	if c.mousePos != nil && strings.HasPrefix(c.name, "on_mouse") {
		bind("mouse_pos", *c.mousePos)
	}
	if c.keyName != "" && strings.HasPrefix(c.name, "on_key") {
		bind("key_name", c.keyName)
	}
	if c.arg != nil && c.name == "on_key_hold" {
		bind("elapsed_time", r.keys.holdElapsed(c.keyName))
	}
	if b, ok := c.arg.(Bounce); ok && c.name == "on_bounce" {
		bind("other_object", b.Other)
		bind("edge", b.Edge)
	}
	return saved
}
