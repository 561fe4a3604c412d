package runner

import (
	"fmt"
	"time"
)

// Stop tears the runner down from the main goroutine. Exit handlers get a
// short grace period, then running script code is interrupted a bounded
// number of times. A handler that still will not yield is recorded and its
// goroutine abandoned. Stop returns once teardown is complete; later calls
// return immediately.
func (r *Runner) Stop() error {
	if r.onExecThread() {
		return ErrNotMainThread
	}
	r.stopOnce.Do(r.stop)
	return nil
}

func (r *Runner) stop() {
	r.logger.Info("runner stopping")
	r.stopping.Store(true)
	r.cancelStop()
	if n := r.timers.stop(); n > 0 {
		r.logger.Debug("cancelled pending timers", "count", n)
	}

	for _, page := range r.doc.Pages() {
		r.RunHandler(page, "on_exit_stack", nil, nil)
	}
	// release a run_stack call waiting on a nested document
	select {
	case r.returns <- nil:
	default:
	}
	r.queue.push(task{kind: TaskWake})

	r.waitAndYield(r.opts.exitGrace)
	for i := 0; i < r.opts.cancelRetries && !r.loopFinished(); i++ {
		r.logger.Debug("interrupting script code", "attempt", i+1)
		r.vm.Interrupt(ErrStopped)
		r.waitAndYield(r.opts.cancelWait)
		r.join(r.opts.joinWait)
	}

	if !r.loopFinished() {
		if f, ok := r.topFrame(); ok {
			r.addRecord(ErrorRecord{
				Page:    pageName(f.page),
				Object:  f.obj.Name(),
				Handler: f.handler,
				Line:    1,
				Message: fmt.Sprintf("Exited while %s was still running, and could not be stopped.  Maybe you have a long or infinite loop?",
					HandlerPath(f.obj, f.handler, f.page)),
			})
		}
		r.logger.Warn("execution goroutine did not stop, abandoning it")
	}

	r.queue.close()
	r.opts.audio.StopAll()
	hits, misses := r.rewriter.Stats()
	r.logger.Debug("rewrite cache", "hits", hits, "misses", misses)
	if r.loopFinished() {
		clear(r.sounds)
		r.programs.reset()
		r.rewriter.Reset()
	}
	r.errors.seal()
	records := r.Errors()
	if r.opts.onFinished != nil {
		r.opts.onFinished(records)
	}
	r.logger.Info("runner stopped", "errors", len(records))
	close(r.done)
}

func (r *Runner) loopFinished() bool {
	select {
	case <-r.loopDone:
		return true
	default:
		return false
	}
}

// waitAndYield waits up to d for the execution goroutine to finish, running
// main-thread callbacks meanwhile so a handler blocked on the host can make
// progress.
func (r *Runner) waitAndYield(d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		r.disp.RunPending()
		select {
		case <-r.loopDone:
			return
		case <-deadline.C:
			return
		case <-r.disp.Wait():
		}
	}
}

func (r *Runner) join(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.loopDone:
	case <-t.C:
	}
}
