package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/cardrunner/internal/document"
	"github.com/joeycumines/cardrunner/internal/runner"
	"github.com/joeycumines/cardrunner/internal/testutil"
)

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

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func parse(t *testing.T, src string) *document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(src))
	require.NoError(t, err)
	return doc
}

// testOptions returns loop options with fast teardown and a record()
// global, writing host output to out.
func testOptions(rec *recorder, out *syncBuffer) Options {
	return Options{
		Out:          out,
		TickInterval: 5 * time.Millisecond,
		For:          testutil.HandlerSettleTimeout,
		RunnerOptions: []runner.Option{
			runner.WithStdout(out),
			runner.WithStderr(out),
			runner.WithExitGrace(testutil.FastExitGrace),
			runner.WithCancelWait(testutil.FastCancelWait),
			runner.WithJoinWait(testutil.FastJoinWait),
			runner.WithWaitSlice(testutil.PollingInterval),
			runner.WithGlobal("record", rec.record),
		},
	}
}

func run(t *testing.T, doc *document.Document, opts Options) Result {
	t.Helper()
	l, err := NewLoop(doc, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*testutil.HandlerSettleTimeout)
	defer cancel()
	res, err := l.Run(ctx)
	require.NoError(t, err)
	return res
}

func TestNewLoop_Validates(t *testing.T) {
	doc := parse(t, "pages:\n  - name: only\n")
	_, err := NewLoop(nil, Options{})
	assert.Error(t, err)
	_, err = NewLoop(doc, Options{StartPage: 1})
	assert.Error(t, err)
	_, err = NewLoop(doc, Options{Until: "score >"})
	assert.Error(t, err)
}

func TestLoop_QuitFromScript(t *testing.T) {
	doc := parse(t, `
name: demo
pages:
  - name: intro
    handlers:
      on_setup: record("setup " + self.name)
      on_show_card: |
        record("shown " + card.name)
        quit()
    objects:
      - name: logo
        handlers:
          on_setup: record("setup " + self.name)
  - name: second
    handlers:
      on_setup: record("setup " + self.name)
`)
	rec := &recorder{}
	out := &syncBuffer{}
	res := run(t, doc, testOptions(rec, out))

	assert.Equal(t, ReasonQuit, res.Reason)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []any{"setup intro", "setup logo", "setup second", "shown intro"}, rec.Values())
	assert.Contains(t, out.String(), "[demo] card 1/2: intro")
}

func TestLoop_StartPage(t *testing.T) {
	doc := parse(t, `
pages:
  - name: a
  - name: b
    handlers:
      on_show_card: |
        record(card.name)
        goto_card("a")
  - name: c
`)
	rec := &recorder{}
	out := &syncBuffer{}
	opts := testOptions(rec, out)
	opts.StartPage = 1
	opts.For = 200 * time.Millisecond
	res := run(t, doc, opts)
	assert.Equal(t, ReasonDeadline, res.Reason)
	assert.Equal(t, []any{"b"}, rec.Values())
	assert.Contains(t, out.String(), "card 2/3: b")
	assert.Contains(t, out.String(), "card 1/3: a")
}

func TestLoop_PeriodicUntil(t *testing.T) {
	doc := parse(t, `
pages:
  - name: board
    handlers:
      on_setup: ticks = 0
      on_periodic: ticks = ticks + 1
    objects:
      - name: ball
        handlers:
          on_periodic: if (elapsed_time < 0) { record("negative") }
`)
	rec := &recorder{}
	opts := testOptions(rec, &syncBuffer{})
	opts.Until = "ticks >= 3"
	res := run(t, doc, opts)
	assert.Equal(t, ReasonUntil, res.Reason)
	assert.Empty(t, res.Errors)
	assert.Empty(t, rec.Values())
}

func TestLoop_DeadlineAndErrors(t *testing.T) {
	doc := parse(t, `
pages:
  - name: broken
    handlers:
      on_show_card: |
        boom()
`)
	opts := testOptions(&recorder{}, &syncBuffer{})
	opts.For = 50 * time.Millisecond
	opts.SyntaxErrors = map[string]runner.SyntaxIssue{
		"broken.on_click": {Line: 3, Message: "Unexpected token"},
	}
	res := run(t, doc, opts)
	assert.Equal(t, ReasonDeadline, res.Reason)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "SyntaxError in broken.on_click(), line 3: Unexpected token", res.Errors[0].Message)
	assert.Contains(t, res.Errors[1].Message, "ReferenceError in broken.on_show_card()")
}

func TestLoop_Canceled(t *testing.T) {
	doc := parse(t, "pages:\n  - name: idle\n")
	l, err := NewLoop(doc, testOptions(&recorder{}, &syncBuffer{}))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonCanceled, res.Reason)
}

func TestLoop_Dialogs(t *testing.T) {
	doc := parse(t, `
pages:
  - name: q
    handlers:
      on_show_card: |
        alert("hello")
        record(ask_yes_no("continue?"))
        record(ask_text("name?", "bob"))
        record(ask_text("again?", "x"))
        quit()
`)
	rec := &recorder{}
	out := &syncBuffer{}
	opts := testOptions(rec, out)
	opts.Answers = strings.NewReader("\nn\nalice\n")
	res := run(t, doc, opts)
	assert.Equal(t, ReasonQuit, res.Reason)
	assert.Equal(t, []any{false, "alice", nil}, rec.Values())
	assert.Contains(t, out.String(), "[alert] hello")
	assert.Contains(t, out.String(), "[ask] continue? (y/n)")
}

func TestLoop_DialogDefaults(t *testing.T) {
	doc := parse(t, `
pages:
  - name: q
    handlers:
      on_show_card: |
        record(ask_yes_no("continue?"))
        record(ask_text("name?", "bob"))
        open_url("https://example.com")
        quit()
`)
	rec := &recorder{}
	out := &syncBuffer{}
	res := run(t, doc, testOptions(rec, out))
	assert.Equal(t, ReasonQuit, res.Reason)
	assert.Equal(t, []any{true, "bob"}, rec.Values())
	assert.Contains(t, out.String(), "[open] https://example.com")
}

func TestLoop_Replay(t *testing.T) {
	doc := parse(t, `
pages:
  - name: board
    handlers:
      on_key_press: record("press " + key_name)
      on_key_release: record("release " + key_name)
      on_message: record("card " + message)
    objects:
      - name: button
        handlers:
          on_click: record("click")
          on_message: record("button " + message)
          on_mouse_press: record("mouse " + mouse_pos.x + "," + mouse_pos.y)
`)
	events, err := ParseEvents([]byte(`
- {at: 0.05, code: "quit()"}
- {at: 0, key: space}
- {at: 0, key: SPACE}
- {at: 0.01, object: button, handler: on_click}
- {at: 0.02, message: hi}
- {at: 0.03, key: space, handler: on_key_release}
- {at: 0.04, object: button, handler: on_mouse_press, pointer: {x: 3, y: 4}}
`))
	require.NoError(t, err)
	rec := &recorder{}
	opts := testOptions(rec, &syncBuffer{})
	opts.Events = events
	res := run(t, doc, opts)
	assert.Equal(t, ReasonQuit, res.Reason)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []any{
		"press Space",
		"click",
		"card hi",
		"button hi",
		"release Space",
		"mouse 3,4",
	}, rec.Values())
}

func TestLoop_WaitRedraws(t *testing.T) {
	doc := parse(t, "pages:\n  - name: slow\n    handlers:\n      on_show_card: |\n        wait(0.01)\n        quit()\n")
	l, err := NewLoop(doc, testOptions(&recorder{}, &syncBuffer{}))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*testutil.HandlerSettleTimeout)
	defer cancel()
	res, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonQuit, res.Reason)
	assert.GreaterOrEqual(t, l.Redraws(), int64(1))
}

func TestLoop_KeyHold(t *testing.T) {
	doc := parse(t, `
pages:
  - name: board
    handlers:
      on_setup: held = 0
      on_key_hold: if (key_name == "Left") { held = held + 1 }
`)
	events, err := ParseEvents([]byte("- {at: 0, key: left}\n"))
	require.NoError(t, err)
	opts := testOptions(&recorder{}, &syncBuffer{})
	opts.Events = events
	opts.Until = "held >= 2"
	assert.Equal(t, ReasonUntil, run(t, doc, opts).Reason)
}

func TestLoop_NestedDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child.yaml"), []byte(`
name: child
pages:
  - name: inner
    handlers:
      on_show_card: |
        record("child " + stack.get("setup_value"))
        return_from_stack(stack.get("setup_value") * 2)
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parent.yaml"), []byte(`
name: parent
pages:
  - name: outer
    handlers:
      on_show_card: |
        var result = run_stack("child.yaml", 1, 5)
        record("got " + result)
        quit()
`), 0o644))
	doc, err := document.Load(filepath.Join(dir, "parent.yaml"))
	require.NoError(t, err)

	rec := &recorder{}
	out := &syncBuffer{}
	res := run(t, doc, testOptions(rec, out))
	assert.Equal(t, ReasonQuit, res.Reason)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []any{"child 5", "got 10"}, rec.Values())
	assert.Contains(t, out.String(), "[child] card 1/1: inner")
}

func TestLoop_NestedQuitReturnsNull(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child.yaml"), []byte("pages:\n  - name: inner\n    handlers:\n      on_show_card: quit()\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parent.yaml"), []byte(`
pages:
  - name: outer
    handlers:
      on_show_card: |
        record(run_stack("child.yaml"))
        try { run_stack("missing.yaml") } catch (e) { record(e.message) }
        quit()
`), 0o644))
	doc, err := document.Load(filepath.Join(dir, "parent.yaml"))
	require.NoError(t, err)

	rec := &recorder{}
	res := run(t, doc, testOptions(rec, &syncBuffer{}))
	assert.Equal(t, ReasonQuit, res.Reason)
	assert.Equal(t, []any{nil, "run_stack(): Couldn't find stack 'missing.yaml'."}, rec.Values())
}

func TestLoop_ConsoleTarget(t *testing.T) {
	doc := parse(t, "pages:\n  - name: idle\n    handlers:\n      on_setup: score = 7\n")
	rec := &recorder{}
	out := &syncBuffer{}
	opts := testOptions(rec, out)
	opts.VarSnapshots = true
	l, err := NewLoop(doc, opts)
	require.NoError(t, err)
	assert.False(t, l.EnqueueCode("1"))
	assert.Nil(t, l.Vars())

	ctx, cancel := context.WithTimeout(context.Background(), 2*testutil.HandlerSettleTimeout)
	defer cancel()
	done := make(chan Result)
	go func() {
		res, err := l.Run(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	_, err = testutil.WaitForState(ctx, l.Vars, func(v map[string]any) bool {
		return v["score"] == int64(7)
	}, testutil.HandlerSettleTimeout, testutil.PollingInterval)
	require.NoError(t, err)
	cur := l.Current()
	require.NotNil(t, cur)
	assert.Same(t, doc, cur.Document())
	assert.Equal(t, 0, cur.PageIndex())
	assert.NotEmpty(t, cur.Runner().RunID())
	assert.Zero(t, cur.ErrorEvents())
	assert.Contains(t, l.BuiltinNames(), "goto_card")
	require.True(t, l.EnqueueCode(`record("from console"); nope()`))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "ReferenceError")
	}, testutil.HandlerSettleTimeout, testutil.PollingInterval)
	// console failures are echoed, not recorded
	assert.Empty(t, l.Errors())
	l.Quit()

	select {
	case res := <-done:
		assert.Equal(t, ReasonQuit, res.Reason)
	case <-time.After(testutil.HandlerSettleTimeout):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, []any{"from console"}, rec.Values())
	assert.Nil(t, l.Current())
}
