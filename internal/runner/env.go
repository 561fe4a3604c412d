package runner

import (
	"log/slog"
	"slices"

	"github.com/dop251/goja"
)

// Environment is the set of names visible to handler code: the global
// object of the runtime. Only the execution goroutine touches it.
type Environment struct {
	vm     *goja.Runtime
	global *goja.Object
	logger *slog.Logger

	// builtins are fixed at construction and never shadowed by page
	// objects or reported in snapshots.
	builtins map[string]struct{}
	// pageKeys are the object names bound by the last page setup.
	pageKeys []string
	page     Page
}

// binding records what a name held before it was shadowed.
type binding struct {
	name    string
	value   goja.Value
	present bool
}

func newEnvironment(vm *goja.Runtime, logger *slog.Logger) *Environment {
	return &Environment{
		vm:       vm,
		global:   vm.GlobalObject(),
		logger:   logger,
		builtins: make(map[string]struct{}),
	}
}

// sealBuiltins marks every name bound so far as a built-in.
func (e *Environment) sealBuiltins() {
	for _, k := range e.global.Keys() {
		e.builtins[k] = struct{}{}
	}
}

func (e *Environment) isBuiltin(name string) bool {
	_, ok := e.builtins[name]
	return ok
}

// names returns the built-in names, sorted.
func (e *Environment) names() []string {
	out := make([]string, 0, len(e.builtins))
	for k := range e.builtins {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (e *Environment) lookup(name string) (goja.Value, bool) {
	v := e.global.Get(name)
	return v, v != nil
}

func (e *Environment) bind(name string, v any) {
	if err := e.global.Set(name, e.value(v)); err != nil {
		e.logger.Warn("failed to bind name", "name", name, "error", err)
	}
}

// unbind removes name. Names declared with var cannot be deleted and are
// set to undefined instead.
func (e *Environment) unbind(name string) {
	if err := e.global.Delete(name); err != nil {
		_ = e.global.Set(name, goja.Undefined())
	}
}

// shadow binds v to name and returns what it replaced.
func (e *Environment) shadow(name string, v any) binding {
	old, ok := e.lookup(name)
	e.bind(name, v)
	return binding{name: name, value: old, present: ok}
}

// restore puts back a binding saved by shadow, removing the name if it was
// absent before.
func (e *Environment) restore(b binding) {
	if b.present {
		e.bind(b.name, b.value)
		return
	}
	e.unbind(b.name)
}

func (e *Environment) value(v any) goja.Value {
	switch v := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return v
	default:
		return e.vm.ToValue(v)
	}
}

// functions returns the function-valued user names.
func (e *Environment) functions() map[string]goja.Value {
	out := make(map[string]goja.Value)
	for _, k := range e.global.Keys() {
		if e.isBuiltin(k) {
			continue
		}
		v := e.global.Get(k)
		if _, ok := goja.AssertFunction(v); ok {
			out[k] = v
		}
	}
	return out
}

// Snapshot copies the user-visible names, leaving out built-ins. Functions
// are summarised by name.
func (e *Environment) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, k := range e.global.Keys() {
		if e.isBuiltin(k) {
			continue
		}
		v := e.global.Get(k)
		if v == nil {
			continue
		}
		if _, ok := goja.AssertFunction(v); ok {
			out[k] = "function " + k + "()"
			continue
		}
		out[k] = v.Export()
	}
	return out
}
