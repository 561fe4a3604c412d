package document

import (
	"maps"
	"sync"
)

// ObjectProxy is the script-visible face of an object, a page or the
// document.
type ObjectProxy struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	mu    sync.Mutex
	props map[string]any
	obj   *Object
}

func newProxy(obj *Object, name, kind string, props map[string]any) *ObjectProxy {
	if props == nil {
		props = make(map[string]any)
	}
	return &ObjectProxy{Name: name, Kind: kind, props: props, obj: obj}
}

// Get returns a property, or nil.
func (p *ObjectProxy) Get(key string) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props[key]
}

func (p *ObjectProxy) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[key] = value
}

// Has reports whether the property is set.
func (p *ObjectProxy) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.props[key]
	return ok
}

// Properties returns a copy of every property.
func (p *ObjectProxy) Properties() map[string]any {
	return p.snapshot()
}

func (p *ObjectProxy) snapshot() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.props)
}

// Clone adds a copy of the object to its page and returns the copy. Errors
// raised by the copy's handlers are reported against the original. Pages and
// the document cannot be cloned, and return nil.
func (p *ObjectProxy) Clone() *ObjectProxy {
	if p.obj == nil || p.obj.page == nil {
		return nil
	}
	return p.obj.page.clone(p.obj).proxy
}

// Delete removes the object from play. Deleted objects no longer receive
// broadcasts or periodic handlers.
func (p *ObjectProxy) Delete() {
	if p.obj != nil {
		p.obj.deleted.Store(true)
	}
}

func (p *ObjectProxy) IsDeleted() bool {
	return p.obj != nil && p.obj.deleted.Load()
}
