package command

import (
	"errors"
	"fmt"
	"io"

	"github.com/joeycumines/cardrunner/internal/document"
	"github.com/joeycumines/cardrunner/internal/runner"
)

// ErrSyntax is returned by check when a handler does not compile.
var ErrSyntax = errors.New("document has syntax errors")

type syntaxProblem struct {
	obj     runner.Object
	handler string
	issue   runner.SyntaxIssue
}

func (p syntaxProblem) message() string {
	return fmt.Sprintf("SyntaxError in %s, line %d: %s", runner.HandlerPath(p.obj, p.handler, nil), p.issue.Line, p.issue.Message)
}

// checkDocument compiles every handler of doc, returning the failures in
// document order and the number of handlers checked.
func checkDocument(doc *document.Document) ([]syntaxProblem, int) {
	var (
		problems []syntaxProblem
		checked  int
	)
	doc.EachHandler(func(obj runner.Object, handler, src string) {
		checked++
		if issue := runner.CheckHandler(src); issue != nil {
			problems = append(problems, syntaxProblem{obj: obj, handler: handler, issue: *issue})
		}
	})
	return problems, checked
}

func issueMap(problems []syntaxProblem) map[string]runner.SyntaxIssue {
	if len(problems) == 0 {
		return nil
	}
	m := make(map[string]runner.SyntaxIssue, len(problems))
	for _, p := range problems {
		m[document.HandlerKey(p.obj, p.handler)] = p.issue
	}
	return m
}

// CheckCommand compiles every handler of a document without running it.
type CheckCommand struct {
	*BaseCommand
}

func NewCheckCommand() *CheckCommand {
	return &CheckCommand{
		BaseCommand: NewBaseCommand("check", "Report handlers that do not compile", "check <document.yaml>..."),
	}
}

func (c *CheckCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "check: no document given")
		return errors.New("missing document")
	}
	failed := false
	for _, path := range args {
		doc, err := document.Load(path)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			failed = true
			continue
		}
		problems, checked := checkDocument(doc)
		for _, p := range problems {
			fmt.Fprintf(stdout, "%s: %s\n", path, p.message())
		}
		fmt.Fprintf(stdout, "%s: %d handler(s) checked, %d syntax error(s)\n", path, checked, len(problems))
		if len(problems) > 0 {
			failed = true
		}
	}
	if failed {
		return ErrSyntax
	}
	return nil
}
