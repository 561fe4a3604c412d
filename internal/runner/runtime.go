package runner

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// prelude defines the error class built-ins raise for bad values.
const prelude = `globalThis.ValueError = class ValueError extends Error {
	constructor(message) {
		super(message);
		this.name = "ValueError";
	}
};`

// consolePrinter sends script console output to the runner's writers and
// the diagnostic stream.
type consolePrinter struct {
	r *Runner
}

func (p consolePrinter) Log(s string) {
	fmt.Fprintln(p.r.stdout, s)
	p.r.logger.Info("console.log", "message", s)
}

func (p consolePrinter) Warn(s string) {
	fmt.Fprintln(p.r.stderr, s)
	p.r.logger.Warn("console.warn", "message", s)
}

func (p consolePrinter) Error(s string) {
	fmt.Fprintln(p.r.stderr, s)
	p.r.logger.Error("console.error", "message", s)
}

// initRuntime creates the script runtime and installs every built-in.
// Names bound here are excluded from variable snapshots and never hidden by
// page objects.
func (r *Runner) initRuntime() error {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{r}))
	registry.Enable(vm)
	console.Enable(vm)

	r.vm = vm
	r.env = newEnvironment(vm, r.logger)

	if _, err := vm.RunString(prelude); err != nil {
		return fmt.Errorf("installing prelude: %w", err)
	}
	r.valueError = vm.Get("ValueError")

	r.sentinel = vm.NewObject()
	if err := vm.GlobalObject().DefineDataProperty(returnSignal, r.sentinel,
		goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return fmt.Errorf("defining return signal: %w", err)
	}

	r.installBuiltins()
	for _, g := range r.opts.globals {
		if err := vm.Set(g.name, g.value); err != nil {
			return fmt.Errorf("binding global %q: %w", g.name, err)
		}
	}
	r.env.sealBuiltins()
	return nil
}
