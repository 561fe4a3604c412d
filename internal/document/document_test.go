package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/cardrunner/internal/runner"
)

const sample = `
name: demo
properties:
  title: Demo
pages:
  - name: intro
    handlers:
      on_show_card: |
        record(card.name)
    properties:
      color: blue
    objects:
      - name: start
        kind: button
        handlers:
          on_click: goto_card("game")
      - name: group
        kind: group
        objects:
          - name: ball
            properties:
              speed: 3
            handlers:
              on_periodic: self.set("speed", self.get("speed") + 1)
  - name: game
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "demo", doc.Name())

	pages := doc.Pages()
	require.Len(t, pages, 2)
	intro := pages[0]
	assert.Equal(t, "intro", intro.Name())
	assert.Equal(t, runner.KindPage, intro.Kind())
	assert.Same(t, intro, intro.Page())
	assert.Contains(t, intro.Handler("on_show_card"), "record(card.name)")

	var names []string
	for _, c := range intro.Children() {
		names = append(names, c.Name())
		assert.Same(t, intro, c.Page())
	}
	assert.Equal(t, []string{"start", "group", "ball"}, names)

	p, _ := doc.PageAt(0)
	ball, ok := p.Find("ball")
	require.True(t, ok)
	assert.Equal(t, DefaultKind, ball.Kind())
	assert.Equal(t, 3, ball.proxy.Get("speed"))
	assert.Nil(t, ball.ClonedFrom())

	_, idx, ok := doc.PageNamed("game")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Empty(t, pages[1].Children())
}

func TestParse_Rejects(t *testing.T) {
	for name, src := range map[string]string{
		"no pages":       "name: x\n",
		"empty":          "",
		"unnamed page":   "pages:\n  - handlers: {}\n",
		"duplicate page": "pages:\n  - name: a\n  - name: a\n",
		"duplicate object": `pages:
  - name: a
    objects:
      - name: x
      - name: g
        objects:
          - name: x
`,
		"unnamed object": "pages:\n  - name: a\n    objects:\n      - kind: button\n",
		"reserved kind":  "pages:\n  - name: a\n    objects:\n      - name: x\n        kind: card\n",
		"unknown field":  "pages:\n  - name: a\n    colour: red\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Error(t, err)
		})
	}
	_, err := Parse([]byte("name: x\n"))
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestSameNameOnDifferentPages(t *testing.T) {
	_, err := Parse([]byte("pages:\n  - name: a\n    objects: [{name: x}]\n  - name: b\n    objects: [{name: x}]\n"))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pages:\n  - name: only\n"), 0o644))
	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "game", doc.Name())
	assert.Equal(t, path, doc.Path())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	page, _ := doc.PageAt(0)
	ball, _ := page.Find("ball")

	c1 := ball.proxy.Clone()
	require.NotNil(t, c1)
	assert.Equal(t, "ball_2", c1.Name)
	c2 := c1.Clone()
	assert.Equal(t, "ball_3", c2.Name)

	clone, ok := page.Find("ball_3")
	require.True(t, ok)
	assert.Same(t, ball, clone.ClonedFrom())
	assert.Equal(t, ball.Handler("on_periodic"), clone.Handler("on_periodic"))
	assert.Equal(t, 3, clone.proxy.Get("speed"))

	// properties are copied, not shared
	c2.Set("speed", 9)
	assert.Equal(t, 3, ball.proxy.Get("speed"))

	assert.Len(t, page.Children(), 5)
	assert.Nil(t, page.proxy.Clone())
}

func TestDelete(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	page, _ := doc.PageAt(0)
	start, _ := page.Find("start")
	assert.False(t, start.Deleted())
	start.proxy.Delete()
	assert.True(t, start.Deleted())
	assert.True(t, start.proxy.IsDeleted())
}

func TestEachHandler(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	var keys []string
	doc.EachHandler(func(obj runner.Object, handler, src string) {
		keys = append(keys, HandlerKey(obj, handler))
		assert.NotEmpty(t, src)
	})
	assert.Equal(t, []string{"intro.on_show_card", "intro.start.on_click", "intro.ball.on_periodic"}, keys)
}

func TestProxyFromScript(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	page, _ := doc.PageAt(0)
	ball, _ := page.Find("ball")

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	require.NoError(t, vm.Set("self", ball.Proxy()))
	require.NoError(t, vm.Set("stack", doc.Proxy()))
	doc.SetSetupValue("from parent")

	v, err := vm.RunString(`
		self.set("speed", self.get("speed") + 1);
		var copy = self.clone();
		[self.name, self.kind, self.get("speed"), copy.name, stack.get("setup_value"), stack.kind].join(",")
	`)
	require.NoError(t, err)
	assert.Equal(t, "ball,object,4,ball_2,from parent,stack", v.String())
}
