// Package document is the in-memory model a runner executes: an ordered list
// of pages, each owning a tree of named objects that carry handler source.
//
// Every type here satisfies the matching runner interface. Scripts see
// objects through *ObjectProxy values, whose exported fields and methods are
// reachable by their lower-case names.
package document

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/cardrunner/internal/runner"
)

// KindStack is the Kind of the document proxy.
const KindStack = "stack"

// Object is a named entity on a page.
type Object struct {
	name     string
	kind     string
	handlers map[string]string
	page     *Page
	children []*Object
	proxy    *ObjectProxy
	deleted  atomic.Bool
	// origin is the object this one was cloned from.
	origin *Object
}

var _ runner.Object = (*Object)(nil)

func (o *Object) Name() string { return o.name }

func (o *Object) Kind() string { return o.kind }

func (o *Object) Handler(name string) string { return o.handlers[name] }

// HandlerNames returns the names of the handlers with source, sorted.
func (o *Object) HandlerNames() []string {
	names := make([]string, 0, len(o.handlers))
	for name, src := range o.handlers {
		if src != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (o *Object) Proxy() any { return o.proxy }

func (o *Object) Deleted() bool { return o.deleted.Load() }

func (o *Object) Page() runner.Page {
	if o.page == nil {
		return nil
	}
	return o.page
}

// ClonedFrom returns the object this was cloned from, or nil.
func (o *Object) ClonedFrom() runner.Object {
	if o.origin == nil {
		return nil
	}
	return o.origin
}

// Page is a top-level object that owns other objects.
type Page struct {
	Object

	mu      sync.Mutex
	objects []*Object
}

var _ runner.Page = (*Page)(nil)

func (p *Page) Page() runner.Page { return p }

// Children returns every object on the page, depth first. Clones made while
// the page runs are included.
func (p *Page) Children() []runner.Object {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []runner.Object
	var walk func([]*Object)
	walk = func(objs []*Object) {
		for _, o := range objs {
			out = append(out, o)
			walk(o.children)
		}
	}
	walk(p.objects)
	return out
}

// Find returns the object named name, searching depth first.
func (p *Page) Find(name string) (*Object, bool) {
	for _, o := range p.Children() {
		if o.Name() == name {
			return o.(*Object), true
		}
	}
	return nil, false
}

// clone copies o, without its children, under a name unused on the page.
func (p *Page) clone(o *Object) *Object {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := o
	for root.origin != nil {
		root = root.origin
	}
	taken := make(map[string]bool)
	var mark func([]*Object)
	mark = func(objs []*Object) {
		for _, c := range objs {
			taken[c.name] = true
			mark(c.children)
		}
	}
	mark(p.objects)
	name := ""
	for n := 2; ; n++ {
		name = fmt.Sprintf("%s_%d", root.name, n)
		if !taken[name] {
			break
		}
	}

	c := &Object{
		name:     name,
		kind:     o.kind,
		handlers: o.handlers,
		page:     p,
		origin:   root,
	}
	c.proxy = newProxy(c, name, o.kind, o.proxy.snapshot())
	p.objects = append(p.objects, c)
	return c
}

// Document is an ordered list of pages.
type Document struct {
	name  string
	path  string
	pages []*Page
	proxy *ObjectProxy
}

var _ runner.Document = (*Document)(nil)

func (d *Document) Name() string { return d.name }

// Path is the file the document was loaded from, if any.
func (d *Document) Path() string { return d.path }

func (d *Document) Pages() []runner.Page {
	out := make([]runner.Page, len(d.pages))
	for i, p := range d.pages {
		out[i] = p
	}
	return out
}

func (d *Document) Proxy() any { return d.proxy }

// PageAt returns the page at a 0-based index.
func (d *Document) PageAt(i int) (*Page, bool) {
	if i < 0 || i >= len(d.pages) {
		return nil, false
	}
	return d.pages[i], true
}

// PageNamed returns the page called name and its index.
func (d *Document) PageNamed(name string) (*Page, int, bool) {
	for i, p := range d.pages {
		if p.name == name {
			return p, i, true
		}
	}
	return nil, -1, false
}

// SetSetupValue exposes the value passed to run_stack as
// stack.properties.setup_value.
func (d *Document) SetSetupValue(v any) {
	d.proxy.Set("setup_value", v)
}

// HandlerKey is the key of a handler in static check results: "page.handler"
// for pages, "page.object.handler" otherwise.
func HandlerKey(obj runner.Object, handler string) string {
	if obj.Kind() == runner.KindPage {
		return obj.Name() + "." + handler
	}
	page := ""
	if p := obj.Page(); p != nil {
		page = p.Name()
	}
	return page + "." + obj.Name() + "." + handler
}

// EachHandler calls fn for every non-empty handler, page by page, the page's
// own handlers first.
func (d *Document) EachHandler(fn func(obj runner.Object, handler, src string)) {
	for _, p := range d.pages {
		for _, h := range p.HandlerNames() {
			fn(p, h, p.handlers[h])
		}
		for _, c := range p.Children() {
			o := c.(*Object)
			for _, h := range o.HandlerNames() {
				fn(o, h, o.handlers[h])
			}
		}
	}
}
