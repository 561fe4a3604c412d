package runner

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/cardrunner/internal/mainthread"
	"github.com/joeycumines/cardrunner/internal/testutil"
)

type fakeProxy struct {
	Name string `json:"name"`
}

type fakeObject struct {
	name     string
	kind     string
	handlers map[string]string
	page     *fakePage
	proxy    *fakeProxy
	deleted  bool
	clone    *fakeObject
}

func (o *fakeObject) Name() string { return o.name }
func (o *fakeObject) Kind() string { return o.kind }
func (o *fakeObject) Handler(name string) string { return o.handlers[name] }
func (o *fakeObject) Proxy() any { return o.proxy }
func (o *fakeObject) Deleted() bool { return o.deleted }

func (o *fakeObject) Page() Page {
	if o.page == nil {
		return nil
	}
	return o.page
}

func (o *fakeObject) ClonedFrom() Object {
	if o.clone == nil {
		return nil
	}
	return o.clone
}

type fakePage struct {
	fakeObject
	children []Object
}

func (p *fakePage) Page() Page { return p }
func (p *fakePage) Children() []Object { return p.children }

// add creates a child named name with the given handlers.
func (p *fakePage) add(name string, handlers map[string]string) *fakeObject {
	o := &fakeObject{name: name, kind: "button", handlers: handlers, page: p, proxy: &fakeProxy{Name: name}}
	p.children = append(p.children, o)
	return o
}

func newFakePage(name string, handlers map[string]string) *fakePage {
	p := &fakePage{}
	p.fakeObject = fakeObject{name: name, kind: KindPage, handlers: handlers, proxy: &fakeProxy{Name: name}}
	return p
}

type fakeDocument struct {
	pages []Page
	proxy *fakeProxy
}

func newFakeDocument(pages ...*fakePage) *fakeDocument {
	d := &fakeDocument{proxy: &fakeProxy{Name: "stack"}}
	for _, p := range pages {
		d.pages = append(d.pages, p)
	}
	return d
}

func (d *fakeDocument) Pages() []Page { return d.pages }
func (d *fakeDocument) Proxy() any { return d.proxy }

// recordingHost notes the calls a runner makes to its host.
type recordingHost struct {
	NopHost
	mu     sync.Mutex
	shown  []int
	alerts []string
	urls   []string
	yes    bool
}

func (h *recordingHost) ShowPage(i int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown = append(h.shown, i)
}

func (h *recordingHost) Alert(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, msg)
}

func (h *recordingHost) OpenURL(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.urls = append(h.urls, url)
}

func (h *recordingHost) AskYesNo(string) (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.yes, true
}

func (h *recordingHost) Shown() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.shown...)
}

// syncBuffer is a bytes.Buffer safe for the execution goroutine to write
// while a test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder collects values passed to the record() global.
type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) record(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

type harness struct {
	r      *Runner
	rec    *recorder
	stdout *syncBuffer
	stderr *syncBuffer
}

// newHarness starts a runner over doc with a pumped main thread, a record()
// global and fast teardown budgets. The runner is stopped when the test
// ends.
func newHarness(t *testing.T, doc Document, host Host, opts ...Option) *harness {
	t.Helper()
	disp := mainthread.New(nil)
	testutil.PumpMainThread(t, disp)
	h := &harness{rec: &recorder{}, stdout: &syncBuffer{}, stderr: &syncBuffer{}}
	base := []Option{
		WithDispatcher(disp),
		WithStdout(h.stdout),
		WithStderr(h.stderr),
		WithExitGrace(testutil.FastExitGrace),
		WithCancelWait(testutil.FastCancelWait),
		WithJoinWait(testutil.FastJoinWait),
		WithWaitSlice(testutil.PollingInterval),
		WithGlobal("record", h.rec.record),
	}
	r, err := New(doc, host, append(base, opts...)...)
	require.NoError(t, err)
	h.r = r
	t.Cleanup(func() { _ = r.Stop() })
	return h
}

// settle waits until every task queued so far has run.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, h.r.AddCallbackToMain(func() { close(done) }))
	ctx, cancel := context.WithTimeout(context.Background(), testutil.HandlerSettleTimeout)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for queued tasks")
	}
}

// start sets up the first page and waits for it.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.r.SetupPage(h.r.Document().Pages()[0])
	h.settle(t)
}
