package host

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// compileUntil compiles a stop condition. Names the document has not
// defined yet evaluate to nil.
func compileUntil(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("host: compiling until condition: %w", err)
	}
	return prog, nil
}

func evalUntil(prog *vm.Program, vars map[string]any) (bool, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := expr.Run(prog, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("until condition returned %T", out)
	}
	return b, nil
}
