// Package console is the developer console: a line REPL whose input runs as
// ad-hoc code in the document on display.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/joeycumines/go-prompt"
	istrings "github.com/joeycumines/go-prompt/strings"

	"github.com/joeycumines/cardrunner/internal/diag"
	"github.com/joeycumines/cardrunner/internal/runner"
)

// Target is what the console drives.
type Target interface {
	EnqueueCode(code string) bool
	Vars() map[string]any
	Errors() []runner.ErrorRecord
	BuiltinNames() []string
}

// DefaultPrefix is the prompt shown when none is configured.
const DefaultPrefix = ">>> "

// Options configures a Console.
type Options struct {
	// Out receives command output. Defaults to stdout.
	Out         io.Writer
	Prefix      string
	HistoryFile string
	Logger      *slog.Logger
	// Diagnostics backs the .log command.
	Diagnostics *diag.RingHandler
}

type Console struct {
	target  Target
	out     io.Writer
	prefix  string
	history string
	logger  *slog.Logger
	ring    *diag.RingHandler
	closed  atomic.Bool
}

var commands = []prompt.Suggest{
	{Text: ".vars", Description: "Show the variables of the running document"},
	{Text: ".errors", Description: "Show the errors recorded so far"},
	{Text: ".log", Description: "Show recent diagnostics, or those matching the rest of the line"},
	{Text: ".help", Description: "Show console commands"},
	{Text: ".exit", Description: "Close the console and stop the run"},
}

func New(target Target, opts Options) *Console {
	c := &Console{
		target:  target,
		out:     opts.Out,
		prefix:  opts.Prefix,
		history: opts.HistoryFile,
		logger:  opts.Logger,
		ring:    opts.Diagnostics,
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Run reads lines from the terminal until .exit, or until ctx ends and the
// next line is entered.
func (c *Console) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { c.closed.Store(true) })
	defer stop()

	opts := []prompt.Option{
		prompt.WithPrefix(c.prefix),
		prompt.WithCompleter(c.complete),
		prompt.WithExitChecker(func(in string, breakline bool) bool {
			return breakline && c.closed.Load()
		}),
	}
	if history := loadHistory(c.history); len(history) > 0 {
		opts = append(opts, prompt.WithHistory(history))
	}
	p := prompt.New(func(line string) {
		if !c.Execute(line) {
			c.closed.Store(true)
		}
	}, opts...)
	c.logger.Debug("console started")
	p.Run()
	c.logger.Debug("console closed")
}

// Execute handles one line of input, reporting false once the console
// should close.
func (c *Console) Execute(line string) bool {
	line = strings.TrimSpace(line)
	if cmd, query, _ := strings.Cut(line, " "); cmd == ".log" {
		c.printLog(strings.TrimSpace(query))
		return true
	}
	switch line {
	case "":
		return true
	case ".exit":
		return false
	case ".vars":
		c.printVars()
	case ".errors":
		c.printErrors()
	case ".help":
		for _, s := range commands {
			fmt.Fprintf(c.out, "%-8s %s\n", s.Text, s.Description)
		}
	default:
		if err := appendHistory(c.history, line); err != nil {
			c.logger.Warn("saving console history", "error", err)
		}
		if !c.target.EnqueueCode(line) {
			fmt.Fprintln(c.out, "nothing is running")
		}
	}
	return true
}

func (c *Console) printVars() {
	vars := c.target.Vars()
	if len(vars) == 0 {
		fmt.Fprintln(c.out, "no variables")
		return
	}
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		fmt.Fprintf(c.out, "%s = %s\n", name, formatValue(vars[name]))
	}
}

func (c *Console) printErrors() {
	records := c.target.Errors()
	if len(records) == 0 {
		fmt.Fprintln(c.out, "no errors")
		return
	}
	for _, rec := range records {
		if rec.Count > 1 {
			fmt.Fprintf(c.out, "%s (x%d)\n", rec.Message, rec.Count)
			continue
		}
		fmt.Fprintln(c.out, rec.Message)
	}
}

// logTail is how many entries .log shows without a query.
const logTail = 20

func (c *Console) printLog(query string) {
	if c.ring == nil {
		fmt.Fprintln(c.out, "no diagnostics")
		return
	}
	entries := c.ring.Recent(logTail)
	if query != "" {
		entries = c.ring.Search(query)
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%s %-5s %s", e.Time.Format("15:04:05.000"), e.Level, e.Message)
		for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
			fmt.Fprintf(c.out, " %s=%s", k, e.Attrs[k])
		}
		fmt.Fprintln(c.out)
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + v + "'"
	}
	return fmt.Sprint(v)
}

func (c *Console) complete(d prompt.Document) ([]prompt.Suggest, istrings.RuneNumber, istrings.RuneNumber) {
	before := d.TextBeforeCursor()
	suggestions, start := c.Suggest(before)
	end := len([]rune(before))
	return suggestions, istrings.RuneNumber(start), istrings.RuneNumber(end)
}

// Suggest completes the word ending at the cursor: console commands at the
// start of a line, otherwise variable and built-in names. It also returns
// the rune offset where the word starts.
func (c *Console) Suggest(before string) ([]prompt.Suggest, int) {
	runes := []rune(before)
	start := len(runes)
	for start > 0 && isIdentRune(runes[start-1]) {
		start--
	}
	word := string(runes[start:])

	if strings.HasPrefix(strings.TrimSpace(before), ".") && !strings.ContainsAny(strings.TrimSpace(before), " (") {
		trimmed := strings.TrimSpace(before)
		var out []prompt.Suggest
		for _, s := range commands {
			if strings.HasPrefix(s.Text, trimmed) {
				out = append(out, s)
			}
		}
		return out, len(runes) - len([]rune(trimmed))
	}
	if word == "" {
		return nil, start
	}

	names := make(map[string]string)
	for _, name := range c.target.BuiltinNames() {
		names[name] = "built-in"
	}
	for name := range c.target.Vars() {
		if _, ok := names[name]; !ok {
			names[name] = "variable"
		}
	}
	var out []prompt.Suggest
	for _, name := range slices.Sorted(maps.Keys(names)) {
		if strings.HasPrefix(name, word) && name != word {
			out = append(out, prompt.Suggest{Text: name, Description: names[name]})
		}
	}
	return out, start
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
