package host

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joeycumines/cardrunner/internal/document"
	"github.com/joeycumines/cardrunner/internal/runner"
)

// Session is one running document. Sessions nest: run_stack starts a child
// whose result is handed back to its parent when it returns.
type Session struct {
	loop   *Loop
	doc    *document.Document
	runner *runner.Runner
	parent *Session
	page   int
	ended  bool

	// errorEvents counts record creations and repeats.
	errorEvents atomic.Int64
}

var _ runner.Host = (*Session)(nil)

// Runner returns the session's runner.
func (s *Session) Runner() *runner.Runner { return s.runner }

// Document returns the document the session runs.
func (s *Session) Document() *document.Document { return s.doc }

// ErrorEvents is how many times a handler error was recorded or repeated.
func (s *Session) ErrorEvents() int64 { return s.errorEvents.Load() }

// PageIndex is the 0-based index of the page on display.
func (s *Session) PageIndex() int { return s.page }

func (s *Session) currentPage() *document.Page {
	p, _ := s.doc.PageAt(s.page)
	return p
}

func (s *Session) Redraw() { s.loop.redraws.Add(1) }

func (s *Session) ShowPage(index int) {
	s.page = index
	s.loop.show(s)
}

func (s *Session) Alert(message string) {
	fmt.Fprintf(s.loop.out, "[alert] %s\n", message)
	s.loop.readAnswer()
}

func (s *Session) AskYesNo(message string) (yes, ok bool) {
	fmt.Fprintf(s.loop.out, "[ask] %s (y/n) ", message)
	line, ok := s.loop.readAnswer()
	if !ok {
		if s.loop.answers == nil {
			fmt.Fprintln(s.loop.out, "y")
			return true, true
		}
		fmt.Fprintln(s.loop.out)
		return false, false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, true
	}
	return false, true
}

func (s *Session) AskText(message, def string) (string, bool) {
	fmt.Fprintf(s.loop.out, "[ask] %s [%s] ", message, def)
	line, ok := s.loop.readAnswer()
	if !ok {
		if s.loop.answers == nil {
			fmt.Fprintln(s.loop.out, def)
			return def, true
		}
		fmt.Fprintln(s.loop.out)
		return "", false
	}
	if line == "" {
		return def, true
	}
	return line, true
}

func (s *Session) MousePosition() runner.Point { return s.loop.mouse }

func (s *Session) MousePressed() bool { return s.loop.mousePressed }

func (s *Session) ClearFocus() {}

func (s *Session) OpenURL(url string) {
	fmt.Fprintf(s.loop.out, "[open] %s\n", url)
}

// Paste returns nothing; a headless host has no clipboard.
func (s *Session) Paste() []runner.Object {
	s.loop.logger.Debug("paste ignored, no clipboard")
	return nil
}

// Quit ends a nested document as if it returned nothing, and the whole run
// otherwise.
func (s *Session) Quit() {
	if s.parent != nil {
		s.loop.finish(s, nil)
		return
	}
	s.loop.requestQuit(ReasonQuit)
}

func (s *Session) RunDocument(path string, pageIndex int, setup any) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(s.doc.Path()), path)
	}
	doc, err := s.loop.load(path)
	if err != nil {
		s.loop.logger.Warn("run_stack failed", "path", path, "error", err)
		return false
	}
	if _, ok := doc.PageAt(pageIndex); !ok {
		pageIndex = 0
	}
	if _, err := s.loop.start(doc, pageIndex, s, setup); err != nil {
		s.loop.logger.Warn("run_stack failed", "path", path, "error", err)
		return false
	}
	return true
}

// ReturnFromDocument schedules the end of a nested session. The runner is
// stopped from a later callback, since this one is answering a call from
// its execution goroutine.
func (s *Session) ReturnFromDocument(result any) bool {
	if s.parent == nil {
		return false
	}
	s.loop.disp.Post(func() { s.loop.finish(s, result) })
	return true
}
