// Package host runs documents without a window. It owns the main goroutine:
// it pumps the dispatcher, drives periodic handlers on a ticker, replays
// scripted input, and answers dialogs from a line reader.
package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/joeycumines/cardrunner/internal/document"
	"github.com/joeycumines/cardrunner/internal/mainthread"
	"github.com/joeycumines/cardrunner/internal/runner"
)

// DefaultTickInterval is the on_periodic interval.
const DefaultTickInterval = 30 * time.Millisecond

// Reason says why Run returned.
type Reason string

const (
	ReasonQuit     Reason = "quit"
	ReasonUntil    Reason = "until"
	ReasonDeadline Reason = "deadline"
	ReasonCanceled Reason = "canceled"
)

// Options configures a Loop.
type Options struct {
	// Out receives page changes, alerts and questions. Defaults to stdout.
	Out io.Writer
	// Answers supplies one line per dialog. Without it, alerts need no
	// answer, questions are answered yes and text prompts take their
	// default.
	Answers io.Reader
	Logger  *slog.Logger
	// RunnerOptions apply to every runner the loop starts.
	RunnerOptions []runner.Option
	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
	// StartPage is the 0-based page shown first.
	StartPage int
	Events    []ReplayEvent
	// Until stops the run once it evaluates true against the variables of
	// the top-level document.
	Until string
	// For, if positive, bounds the run.
	For time.Duration
	// VarSnapshots keeps Vars current. It is implied by Until.
	VarSnapshots bool
	// Load opens nested documents. Defaults to document.Load.
	Load func(path string) (*document.Document, error)
	// SyntaxErrors seeds the top-level document's error list with the
	// results of a static check, keyed as document.HandlerKey.
	SyntaxErrors map[string]runner.SyntaxIssue
}

// Result describes a finished run.
type Result struct {
	Reason Reason
	// Errors is the final error list of the top-level document.
	Errors []runner.ErrorRecord
}

// Loop is the headless host's main loop.
type Loop struct {
	doc     *document.Document
	opts    Options
	out     io.Writer
	answers *bufio.Reader
	logger  *slog.Logger
	disp    *mainthread.Dispatcher
	load    func(string) (*document.Document, error)
	until   *vm.Program

	mu       sync.Mutex
	sessions []*Session

	quit     chan struct{}
	quitOnce sync.Once
	reason   Reason

	// Main goroutine only.
	mouse        runner.Point
	mousePressed bool
	final        []runner.ErrorRecord

	redraws atomic.Int64
}

// NewLoop prepares a run of doc. Nothing starts until Run.
func NewLoop(doc *document.Document, opts Options) (*Loop, error) {
	if doc == nil {
		return nil, errors.New("host: nil document")
	}
	if _, ok := doc.PageAt(opts.StartPage); !ok {
		return nil, fmt.Errorf("host: no page %d in %q", opts.StartPage+1, doc.Name())
	}
	l := &Loop{
		doc:    doc,
		opts:   opts,
		out:    opts.Out,
		logger: opts.Logger,
		load:   opts.Load,
		quit:   make(chan struct{}),
	}
	if l.out == nil {
		l.out = os.Stdout
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.load == nil {
		l.load = document.Load
	}
	if opts.Answers != nil {
		l.answers = bufio.NewReader(opts.Answers)
	}
	if opts.TickInterval <= 0 {
		l.opts.TickInterval = DefaultTickInterval
	}
	if strings.TrimSpace(opts.Until) != "" {
		prog, err := compileUntil(opts.Until)
		if err != nil {
			return nil, err
		}
		l.until = prog
		l.opts.VarSnapshots = true
	}
	l.disp = mainthread.New(l.logger)
	return l, nil
}

// Run starts the document on the calling goroutine, which becomes the main
// goroutine, and serves it until the document quits, the Until condition
// holds, the For budget runs out, or ctx ends. Every session is stopped
// before Run returns.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	l.disp.Bind()
	defer l.disp.Close()

	if _, err := l.start(l.doc, l.opts.StartPage, nil, nil); err != nil {
		return Result{}, err
	}

	ticker := time.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if l.opts.For > 0 {
		t := time.NewTimer(l.opts.For)
		defer t.Stop()
		deadline = t.C
	}
	rp := newReplayer(l.opts.Events)
	defer rp.stop()

	for {
		l.disp.RunPending()
		select {
		case <-l.quit:
		case <-ctx.Done():
			l.requestQuit(ReasonCanceled)
		case <-deadline:
			l.requestQuit(ReasonDeadline)
		case <-ticker.C:
			l.tick()
		case <-rp.ready():
			for _, ev := range rp.due() {
				l.fire(ev)
			}
		case <-l.disp.Wait():
		}
		select {
		case <-l.quit:
			l.shutdown()
			return Result{Reason: l.reason, Errors: l.final}, nil
		default:
		}
	}
}

// start runs a document in a new session on top of the stack: every page
// is set up and sent on_setup, then the start page is shown.
func (l *Loop) start(doc *document.Document, pageIndex int, parent *Session, setup any) (*Session, error) {
	s := &Session{loop: l, doc: doc, parent: parent, page: pageIndex}
	opts := slices.Clone(l.opts.RunnerOptions)
	opts = append(opts,
		runner.WithDispatcher(l.disp),
		runner.WithLogger(l.logger.With("document", doc.Name())),
		runner.WithAudio(runner.FileAudio{Dir: dirOf(doc)}),
		runner.WithErrorSink(func(runner.ErrorRecord) { s.errorEvents.Add(1) }),
	)
	if parent == nil {
		opts = append(opts,
			runner.WithOnVars(l.onVars),
			runner.WithOnFinished(func(records []runner.ErrorRecord) { l.final = records }),
		)
	}
	if setup != nil {
		doc.SetSetupValue(setup)
	}
	r, err := runner.New(doc, s, opts...)
	if err != nil {
		return nil, err
	}
	s.runner = r
	if parent == nil && len(l.opts.SyntaxErrors) > 0 {
		r.AddSyntaxErrors(l.opts.SyntaxErrors)
	}
	if l.opts.VarSnapshots {
		r.SetVarSnapshots(true)
	}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	if parent != nil {
		// key-up events go to the child from here on
		parent.runner.ClearPressedKeys()
	}

	for _, p := range doc.Pages() {
		r.SetupPage(p)
		r.RunHandler(p, "on_setup", nil, nil)
		for _, c := range p.Children() {
			r.RunHandler(c, "on_setup", nil, nil)
		}
	}
	page := s.currentPage()
	r.SetupPage(page)
	l.show(s)
	r.RunHandler(page, "on_show_card", nil, nil)
	l.logger.Info("document started", "document", doc.Name(), "run", r.RunID(), "page", page.Name(), "nested", parent != nil)
	return s, nil
}

func dirOf(doc *document.Document) string {
	if doc.Path() == "" {
		return ""
	}
	return filepath.Dir(doc.Path())
}

// finish stops a nested session and hands result to the run_stack call
// that started it.
func (l *Loop) finish(s *Session, result any) {
	if s.ended {
		return
	}
	s.ended = true
	_ = s.runner.Stop()
	l.mu.Lock()
	if i := slices.Index(l.sessions, s); i >= 0 {
		l.sessions = slices.Delete(l.sessions, i, i+1)
	}
	l.mu.Unlock()
	l.logger.Info("document returned", "document", s.doc.Name(), "error_events", s.errorEvents.Load())
	if s.parent != nil {
		l.show(s.parent)
		s.parent.runner.DeliverReturn(result)
	}
}

// shutdown stops every session, innermost first.
func (l *Loop) shutdown() {
	l.mu.Lock()
	sessions := slices.Clone(l.sessions)
	l.mu.Unlock()
	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		if s.ended {
			continue
		}
		s.ended = true
		_ = s.runner.Stop()
	}
	l.mu.Lock()
	l.sessions = nil
	l.mu.Unlock()
	l.logger.Info("run finished", "reason", string(l.reason), "redraws", l.Redraws())
}

func (l *Loop) top() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sessions) == 0 {
		return nil
	}
	return l.sessions[len(l.sessions)-1]
}

func (l *Loop) show(s *Session) {
	page := s.currentPage()
	fmt.Fprintf(l.out, "[%s] card %d/%d: %s\n", s.doc.Name(), s.page+1, len(s.doc.Pages()), page.Name())
}

// tick sends on_periodic to the page on display and its live objects, then
// on_key_hold for every held key. A tick is skipped while earlier periodic
// handlers are still queued.
func (l *Loop) tick() {
	s := l.top()
	if s == nil {
		return
	}
	r := s.runner
	if r.PeriodicBacklog() > 0 {
		return
	}
	page := s.currentPage()
	r.RunHandler(page, "on_periodic", nil, nil)
	for _, c := range page.Children() {
		if !c.Deleted() {
			r.RunHandler(c, "on_periodic", nil, nil)
		}
	}
	for _, key := range r.PressedKeys() {
		r.RunHandler(page, "on_key_hold", nil, key)
	}
}

func (l *Loop) requestQuit(reason Reason) {
	l.quitOnce.Do(func() {
		l.reason = reason
		close(l.quit)
	})
}

// Quit ends the run. It may be called from any goroutine.
func (l *Loop) Quit() { l.requestQuit(ReasonQuit) }

func (l *Loop) readAnswer() (string, bool) {
	if l.answers == nil {
		return "", false
	}
	line, err := l.answers.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func (l *Loop) onVars(vars map[string]any) {
	if l.until == nil {
		return
	}
	ok, err := evalUntil(l.until, vars)
	if err != nil {
		l.logger.Debug("until condition failed", "error", err)
		return
	}
	if ok {
		l.requestQuit(ReasonUntil)
	}
}

// Redraws counts redraw requests from every session.
func (l *Loop) Redraws() int64 { return l.redraws.Load() }

// Current returns the innermost running session, or nil.
func (l *Loop) Current() *Session { return l.top() }

// EnqueueCode runs a console snippet in the innermost session.
func (l *Loop) EnqueueCode(code string) bool {
	s := l.top()
	return s != nil && s.runner.EnqueueCode(code)
}

// Vars returns the innermost session's latest variable snapshot.
func (l *Loop) Vars() map[string]any {
	if s := l.top(); s != nil {
		return s.runner.Vars()
	}
	return nil
}

// Errors returns the innermost session's error list.
func (l *Loop) Errors() []runner.ErrorRecord {
	if s := l.top(); s != nil {
		return s.runner.Errors()
	}
	return nil
}

// BuiltinNames lists the names every handler sees.
func (l *Loop) BuiltinNames() []string {
	if s := l.top(); s != nil {
		return s.runner.BuiltinNames()
	}
	return nil
}
