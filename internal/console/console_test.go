package console

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/cardrunner/internal/diag"
	"github.com/joeycumines/cardrunner/internal/runner"
)

type fakeTarget struct {
	code    []string
	running bool
	vars    map[string]any
	errors  []runner.ErrorRecord
}

func (f *fakeTarget) EnqueueCode(code string) bool {
	if !f.running {
		return false
	}
	f.code = append(f.code, code)
	return true
}

func (f *fakeTarget) Vars() map[string]any { return f.vars }

func (f *fakeTarget) Errors() []runner.ErrorRecord { return f.errors }

func (f *fakeTarget) BuiltinNames() []string {
	return []string{"goto_card", "goto_next_card", "wait"}
}

func newTestConsole(t *testing.T, target *fakeTarget) (*Console, *bytes.Buffer, string) {
	t.Helper()
	var out bytes.Buffer
	history := filepath.Join(t.TempDir(), "history")
	return New(target, Options{Out: &out, HistoryFile: history}), &out, history
}

func TestExecute_Code(t *testing.T) {
	target := &fakeTarget{running: true}
	c, out, history := newTestConsole(t, target)

	assert.True(t, c.Execute("  x = 1  "))
	assert.True(t, c.Execute(""))
	assert.True(t, c.Execute("x + 1"))
	assert.Equal(t, []string{"x = 1", "x + 1"}, target.code)
	assert.Empty(t, out.String())

	data, err := os.ReadFile(history)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\nx + 1\n", string(data))
	assert.Equal(t, []string{"x = 1", "x + 1"}, loadHistory(history))

	target.running = false
	assert.True(t, c.Execute("y"))
	assert.Contains(t, out.String(), "nothing is running")
}

func TestExecute_Commands(t *testing.T) {
	target := &fakeTarget{
		running: true,
		vars:    map[string]any{"score": int64(3), "name": "ann", "gone": nil},
		errors: []runner.ErrorRecord{
			{Message: "first", Count: 1},
			{Message: "second", Count: 4},
		},
	}
	c, out, _ := newTestConsole(t, target)

	assert.True(t, c.Execute(".vars"))
	assert.Equal(t, "gone = null\nname = 'ann'\nscore = 3\n", out.String())

	out.Reset()
	assert.True(t, c.Execute(".errors"))
	assert.Equal(t, "first\nsecond (x4)\n", out.String())

	out.Reset()
	assert.True(t, c.Execute(".help"))
	assert.Contains(t, out.String(), ".vars")

	assert.False(t, c.Execute(".exit"))
	assert.Empty(t, target.code)
}

func TestExecute_Empty(t *testing.T) {
	c, out, _ := newTestConsole(t, &fakeTarget{})
	c.Execute(".vars")
	c.Execute(".errors")
	assert.Equal(t, "no variables\nno errors\n", out.String())
}

func TestSuggest(t *testing.T) {
	target := &fakeTarget{vars: map[string]any{"gold": 1, "goto_card": "shadowed"}}
	c, _, _ := newTestConsole(t, target)

	texts := func(before string) ([]string, int) {
		suggestions, start := c.Suggest(before)
		var out []string
		for _, s := range suggestions {
			out = append(out, s.Text)
		}
		return out, start
	}

	got, start := texts("x = go")
	assert.Equal(t, []string{"gold", "goto_card", "goto_next_card"}, got)
	assert.Equal(t, 4, start)

	got, _ = texts("goto_card")
	assert.Equal(t, []string{"goto_next_card"}, got)

	got, start = texts("print(")
	assert.Empty(t, got)
	assert.Equal(t, 6, start)

	got, start = texts(".e")
	assert.Equal(t, []string{".errors", ".exit"}, got)
	assert.Equal(t, 0, start)

	suggestions, _ := c.Suggest("go")
	assert.Equal(t, "variable", suggestions[0].Description)
	assert.Equal(t, "built-in", suggestions[1].Description)
}

func TestExecute_Log(t *testing.T) {
	c, out, _ := newTestConsole(t, &fakeTarget{})
	assert.True(t, c.Execute(".log"))
	assert.Equal(t, "no diagnostics\n", out.String())

	logger := diag.NewLogger(diag.Options{BufferSize: 10})
	logger.Info("document started", "document", "game")
	logger.Warn("handler error", "page", "intro")
	c.ring = logger.Ring

	out.Reset()
	assert.True(t, c.Execute(".log"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "INFO  document started document=game"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "WARN  handler error page=intro"), lines[1])

	out.Reset()
	assert.True(t, c.Execute(".log  intro "))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "handler error")
}

func TestHistory_NoFile(t *testing.T) {
	assert.NoError(t, appendHistory("", "x"))
	assert.Nil(t, loadHistory(""))
	assert.Nil(t, loadHistory(filepath.Join(t.TempDir(), "missing")))
}
