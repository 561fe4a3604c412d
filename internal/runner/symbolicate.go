package runner

import (
	"strings"

	"github.com/dop251/goja"
)

// sourcePrefix starts the name of every compiled handler, which is how user
// frames are told apart from natives and console code in a stack.
const sourcePrefix = "handler:"

// origin is the handler a piece of user code came from.
type origin struct {
	obj     Object
	handler string
}

func sourceName(obj Object, handler string) string {
	p := obj.Page()
	if p == nil || obj.Kind() == KindPage {
		return sourcePrefix + obj.Name() + "." + handler
	}
	return sourcePrefix + p.Name() + "/" + obj.Name() + "." + handler
}

// describe extracts the class and message of a thrown value.
func describe(ex *goja.Exception) (class, detail string) {
	v := ex.Value()
	if obj, ok := v.(*goja.Object); ok {
		class = "Error"
		if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
			class = n.String()
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			return class, m.String()
		}
		return class, v.String()
	}
	if v == nil {
		return "Error", ex.Error()
	}
	return "Error", v.String()
}

// userFrames returns the frames of ex raised by handler code within the
// current invocation, outermost first. base is the number of frames that
// were already on the stack when the invocation began.
func userFrames(ex *goja.Exception, base int) []goja.StackFrame {
	stack := ex.Stack()
	if base > 0 && base <= len(stack) {
		stack = stack[:len(stack)-base]
	}
	var out []goja.StackFrame
	for i := len(stack) - 1; i >= 0; i-- {
		if strings.HasPrefix(stack[i].SrcName(), sourcePrefix) {
			out = append(out, stack[i])
		}
	}
	return out
}

// symbolicate attributes a runtime failure. With handler set, the outermost
// user frame is that handler's top-level code; every deeper frame is a
// function, attributed to where it was defined. Without a handler every
// frame is a function frame, and the result has no owner if none of them
// could be resolved.
func (r *Runner) symbolicate(ex *goja.Exception, base int, call *handlerCall) *failure {
	f := &failure{}
	f.class, f.detail = describe(ex)

	frames := userFrames(ex, base)
	if call != nil {
		f.obj, f.handler = original(call.obj), call.name
	}
	for i, fr := range frames {
		line := fr.Position().Line
		if i == 0 && call != nil {
			f.line = line
			f.crumbs = append(f.crumbs, crumb{name: call.name, line: line})
			continue
		}
		name := fr.FuncName()
		if o, ok := r.resolveFrame(name, fr.SrcName()); ok {
			f.obj, f.handler, f.line = original(o.obj), o.handler, line
		}
		f.crumbs = append(f.crumbs, crumb{name: name, line: line})
	}
	if f.obj == nil {
		return nil
	}
	return f
}

// resolveFrame finds the handler that defined a function: by name through
// the function registry, then by the source the frame was compiled from.
func (r *Runner) resolveFrame(funcName, srcName string) (origin, bool) {
	if o, ok := r.funcDefs[funcName]; ok {
		return o, true
	}
	o, ok := r.sources[srcName]
	return o, ok
}

// scrapeFuncDefs records each function that appeared or changed among the
// environment's names since before.
func (r *Runner) scrapeFuncDefs(before map[string]goja.Value, obj Object, handler string) {
	for name, v := range r.env.functions() {
		if old, ok := before[name]; ok && old.SameAs(v) {
			continue
		}
		r.funcDefs[name] = origin{obj: obj, handler: handler}
	}
}
