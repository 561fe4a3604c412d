package runner

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// consoleSource names console snippets in stack traces. It lacks the
// handler prefix, so its frames are never attributed to an object.
const consoleSource = "console"

// runFunction calls a script function on behalf of the main goroutine, such
// as an expired timer. A function defined by a handler runs with that
// handler's page bound and its object as self.
func (r *Runner) runFunction(fn goja.Value, args []goja.Value) Outcome {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		r.logger.Warn("queued value is not a function", "value", fmt.Sprint(fn))
		return Outcome{Kind: Skipped}
	}
	defer r.updateVars()

	var name string
	if obj, ok := fn.(*goja.Object); ok {
		if n := obj.Get("name"); n != nil {
			name = n.String()
		}
	}

	if def, known := r.funcDefs[name]; known {
		prevPage := r.env.page
		if page := def.obj.Page(); page != nil && page != prevPage {
			r.setupPage(page)
			if prevPage != nil {
				defer r.setupPage(prevPage)
			}
		}
		self := r.env.shadow("self", def.obj.Proxy())
		defer r.env.restore(self)
	}

	base := len(r.vm.CaptureCallStack(0, nil))
	_, err := r.runSafely(func() (goja.Value, error) {
		return callable(goja.Undefined(), args...)
	})
	return r.classify(err, base, nil, nil)
}

// runCode evaluates a console snippet: as an expression first, echoing a
// non-null result, and as statements if it does not parse as one. Failures
// are echoed to stderr and never recorded.
func (r *Runner) runCode(code string) Outcome {
	defer r.updateVars()

	prg, isExpr := r.compileSnippet(code)
	if prg == nil {
		return Outcome{Kind: Failed}
	}
	v, err := r.runSafely(func() (goja.Value, error) { return r.vm.RunProgram(prg) })
	if err == nil {
		if isExpr && v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			r.echo(v)
		}
		return Outcome{Kind: Completed}
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		r.interrupted = true
		return Outcome{Kind: Interrupted, Err: err}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v, ok := ex.Value().(*goja.Object); ok && v == r.sentinel {
			return Outcome{Kind: EarlyReturn}
		}
		class, detail := describe(ex)
		fmt.Fprintf(r.stderr, "%s: %s\n", class, detail)
		r.logger.Warn("console error", "class", class, "detail", detail)
	} else {
		fmt.Fprintln(r.stderr, err)
	}
	return Outcome{Kind: Failed, Err: err}
}

func (r *Runner) compileSnippet(code string) (*goja.Program, bool) {
	if ast, err := parser.ParseFile(nil, consoleSource, "("+code+"\n)", 0); err == nil {
		if prg, err := goja.CompileAST(ast, false); err == nil {
			return prg, true
		}
	}
	prg, issue := compileSource(consoleSource, code)
	if issue != nil {
		fmt.Fprintf(r.stderr, "SyntaxError: %s\n", issue.Message)
		r.logger.Warn("console syntax error", "line", issue.Line, "detail", issue.Message)
		return nil, false
	}
	return prg, false
}

func (r *Runner) echo(v goja.Value) {
	if s, ok := v.Export().(string); ok {
		fmt.Fprintf(r.stdout, "'%s'\n", s)
		return
	}
	fmt.Fprintln(r.stdout, v.String())
}
