package command

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/cardrunner/internal/config"
)

type stubCommand struct {
	*BaseCommand
	ran []string
}

func (c *stubCommand) Execute(args []string, stdout, stderr io.Writer) error {
	c.ran = args
	return nil
}

func newRegistry() *Registry {
	r := NewRegistry()
	r.Register(&stubCommand{BaseCommand: NewBaseCommand("zeta", "Last command", "zeta")})
	r.Register(NewVersionCommand("1.2.3"))
	r.Register(NewRunCommand(config.NewConfig()))
	r.Register(NewHelpCommand(r))
	return r
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	if got := strings.Join(r.List(), ","); got != "help,run,version,zeta" {
		t.Fatalf("List() = %q", got)
	}
	cmd, err := r.Get("zeta")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cmd.Description() != "Last command" {
		t.Errorf("Description() = %q", cmd.Description())
	}
	if _, err := r.Get("missing"); err == nil || !strings.Contains(err.Error(), "command not found: missing") {
		t.Errorf("Get(missing) error = %v", err)
	}
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	help, _ := r.Get("help")

	var out bytes.Buffer
	if err := help.Execute(nil, &out, io.Discard); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Usage: cardrunner <command>", "  run ", "Run a document", "  zeta "} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := help.Execute([]string{"run"}, &out, io.Discard); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Usage: cardrunner run [options]", "-console", "-until", "-answers"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help run missing %q:\n%s", want, out.String())
		}
	}

	var errOut bytes.Buffer
	if err := help.Execute([]string{"nope"}, io.Discard, &errOut); err == nil {
		t.Error("expected error for unknown command")
	}
	if !strings.Contains(errOut.String(), "Unknown command: nope") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if err := NewVersionCommand("1.2.3").Execute(nil, &out, io.Discard); err != nil {
		t.Fatal(err)
	}
	if out.String() != "cardrunner version 1.2.3\n" {
		t.Errorf("output = %q", out.String())
	}
	if err := NewVersionCommand("1").Execute([]string{"x"}, io.Discard, io.Discard); err == nil {
		t.Error("expected error for arguments")
	}
}

func TestConfigCommand_Get(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetSectionOption(config.SectionRunner, "tick-interval", "10ms")
	c := NewConfigCommand(cfg, "")

	for key, want := range map[string]string{
		"color":                "color: auto\n",
		"runner.tick-interval": "runner.tick-interval: 10ms\n",
		"runner.drain-budget":  "runner.drain-budget: 4\n",
		"bogus":                "Configuration key 'bogus' not found\n",
	} {
		var out bytes.Buffer
		if err := c.Execute([]string{key}, &out, io.Discard); err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if out.String() != want {
			t.Errorf("%s: output = %q, want %q", key, out.String(), want)
		}
	}
}

func TestConfigCommand_Set(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := config.NewConfig()
	c := NewConfigCommand(cfg, path)

	var out bytes.Buffer
	if err := c.Execute([]string{"color", "never"}, &out, io.Discard); err != nil {
		t.Fatal(err)
	}
	if out.String() != "Set configuration: color = never\n" {
		t.Errorf("output = %q", out.String())
	}
	if v, _ := cfg.GetGlobalOption("color"); v != "never" {
		t.Errorf("in-memory color = %q", v)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "color never") {
		t.Errorf("config file = %q", data)
	}

	var errOut bytes.Buffer
	if err := c.Execute([]string{"runner.tick-interval", "5ms"}, io.Discard, &errOut); err == nil {
		t.Error("expected error setting a section option")
	}
}

func TestConfigCommand_ValidateAndAll(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetGlobalOption("log-buffer", "lots")
	c := NewConfigCommand(cfg, "")

	var out bytes.Buffer
	if err := c.Execute([]string{"validate"}, &out, io.Discard); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "issue(s)") || !strings.Contains(out.String(), "log-buffer") {
		t.Errorf("validate output = %q", out.String())
	}

	out.Reset()
	c.showAll = true
	if err := c.Execute(nil, &out, io.Discard); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"log-level", "runner.exit-grace", "console.prefix"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("-all output missing %q", want)
		}
	}
}

func TestCompletionCommand(t *testing.T) {
	t.Parallel()
	c := NewCompletionCommand(newRegistry())
	for _, shell := range []string{"bash", "zsh", "fish"} {
		var out bytes.Buffer
		if err := c.Execute([]string{shell}, &out, io.Discard); err != nil {
			t.Fatalf("%s: %v", shell, err)
		}
		if !strings.Contains(out.String(), "version") || strings.Contains(out.String(), "%!") {
			t.Errorf("%s script:\n%s", shell, out.String())
		}
	}
	if err := c.Execute([]string{"tcsh"}, io.Discard, io.Discard); err == nil {
		t.Error("expected error for unsupported shell")
	}
}
