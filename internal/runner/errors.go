package runner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrStopped is the interrupt value used to abort script code during
	// teardown.
	ErrStopped = errors.New("runner: stopped")
	// ErrNotMainThread is returned by Stop when called from the execution
	// goroutine, which it would have to wait for.
	ErrNotMainThread = errors.New("runner: Stop called from the execution goroutine")
)

// ErrorRecord is one distinct user-visible failure. Records are keyed by
// Message; a repeat increments Count.
type ErrorRecord struct {
	Page    string `json:"page" yaml:"page"`
	Object  string `json:"object" yaml:"object"`
	Handler string `json:"handler" yaml:"handler"`
	Line    int    `json:"line" yaml:"line"`
	Message string `json:"message" yaml:"message"`
	Count   int    `json:"count" yaml:"count"`
}

// errorList deduplicates records. It is sealed at teardown, after which
// nothing is added.
type errorList struct {
	mu      sync.Mutex
	records []*ErrorRecord
	sealed  bool
}

// add records one occurrence of rec.Message and returns the updated record.
func (l *errorList) add(rec ErrorRecord) (ErrorRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return ErrorRecord{}, false
	}
	for _, r := range l.records {
		if r.Message == rec.Message {
			r.Count++
			return *r, true
		}
	}
	if rec.Count <= 0 {
		rec.Count = 1
	}
	stored := rec
	l.records = append(l.records, &stored)
	return stored, true
}

func (l *errorList) snapshot() []ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorRecord, len(l.records))
	for i, r := range l.records {
		out[i] = *r
	}
	return out
}

func (l *errorList) seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// HandlerPath names a handler for messages: "page.on_x()" for pages and
// "obj.on_x() on card 'page'" for everything else.
func HandlerPath(obj Object, handler string, page Page) string {
	if obj.Kind() == KindPage {
		return fmt.Sprintf("%s.%s()", obj.Name(), handler)
	}
	if page == nil {
		page = obj.Page()
	}
	pageName := ""
	if page != nil {
		pageName = page.Name()
	}
	return fmt.Sprintf("%s.%s() on card '%s'", obj.Name(), handler, pageName)
}

// crumb is one user frame in a failure's trail.
type crumb struct {
	name string
	line int
}

// failure is a symbolicated error, ready to become a record.
type failure struct {
	class   string
	detail  string
	obj     Object
	handler string
	line    int
	crumbs  []crumb
}

func (f *failure) message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s in %s, line %d: %s", f.class, HandlerPath(f.obj, f.handler, nil), f.line, f.detail)
	if len(f.crumbs) > 1 {
		parts := make([]string, len(f.crumbs))
		for i, c := range f.crumbs {
			parts[i] = fmt.Sprintf("%s():%d", c.name, c.line)
		}
		fmt.Fprintf(&b, " (from %s)", strings.Join(parts, " => "))
	}
	return b.String()
}

// original resolves clones to the object they were cloned from.
func original(obj Object) Object {
	for {
		c, ok := obj.(interface{ ClonedFrom() Object })
		if !ok {
			return obj
		}
		from := c.ClonedFrom()
		if from == nil {
			return obj
		}
		obj = from
	}
}

func pageName(p Page) string {
	if p == nil {
		return ""
	}
	return p.Name()
}
