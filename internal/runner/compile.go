package runner

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// SyntaxIssue is a compile failure at a 1-based line of a handler.
type SyntaxIssue struct {
	Line    int
	Message string
}

// compileSource parses and compiles src in sloppy mode, naming it srcName in
// stack traces.
func compileSource(srcName, src string) (*goja.Program, *SyntaxIssue) {
	ast, err := parser.ParseFile(nil, srcName, src, 0)
	if err != nil {
		return nil, syntaxIssue(err)
	}
	prg, err := goja.CompileAST(ast, false)
	if err != nil {
		return nil, syntaxIssue(err)
	}
	return prg, nil
}

func syntaxIssue(err error) *SyntaxIssue {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &SyntaxIssue{Line: list[0].Position.Line, Message: list[0].Message}
	}
	var pe *parser.Error
	if errors.As(err, &pe) {
		return &SyntaxIssue{Line: pe.Position.Line, Message: pe.Message}
	}
	var ce *goja.CompilerSyntaxError
	if errors.As(err, &ce) {
		line := 1
		if ce.File != nil {
			line = ce.File.Position(ce.Offset).Line
		}
		return &SyntaxIssue{Line: line, Message: ce.Message}
	}
	return &SyntaxIssue{Line: 1, Message: err.Error()}
}

// CheckHandler reports whether src, as a handler body, compiles.
func CheckHandler(src string) *SyntaxIssue {
	_, issue := compileSource("check", NewRewriter().Rewrite(src))
	return issue
}

// programCache holds compiled handlers keyed by source name and rewritten
// text.
type programCache struct {
	programs map[programKey]*goja.Program
}

type programKey struct {
	name, src string
}

func newProgramCache() *programCache {
	return &programCache{programs: make(map[programKey]*goja.Program)}
}

func (c *programCache) compile(name, src string) (*goja.Program, *SyntaxIssue) {
	key := programKey{name, src}
	if prg, ok := c.programs[key]; ok {
		return prg, nil
	}
	prg, issue := compileSource(name, src)
	if issue == nil {
		c.programs[key] = prg
	}
	return prg, issue
}

func (c *programCache) reset() {
	clear(c.programs)
}
