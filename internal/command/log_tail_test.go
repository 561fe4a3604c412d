package command

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/cardrunner/internal/config"
)

const sampleLog = `{"time":"2026-01-02T03:04:05.000Z","level":"INFO","msg":"document started","document":"game","page":"intro"}
{"time":"2026-01-02T03:04:06.000Z","level":"DEBUG","msg":"tick skipped","document":"game"}
{"time":"2026-01-02T03:04:07.000Z","level":"WARN","msg":"handler error","document":"child"}
not json
{"time":"2026-01-02T03:04:08.000Z","level":"ERROR","msg":"teardown","document":"game"}
`

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cardrunner.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runLog(t *testing.T, c *LogCommand, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := c.Execute(args, &out, io.Discard)
	return out.String(), err
}

func TestLogCommand_Last(t *testing.T) {
	t.Parallel()
	c := NewLogCommand(config.NewConfig())
	c.file, c.lines = writeLog(t), 2
	out, err := runLog(t, c)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "not json" {
		t.Fatalf("output:\n%s", out)
	}
	if !strings.HasSuffix(lines[1], "ERROR teardown document=game") {
		t.Errorf("formatted line = %q", lines[1])
	}
}

func TestLogCommand_Filters(t *testing.T) {
	t.Parallel()
	path := writeLog(t)

	c := NewLogCommand(config.NewConfig())
	c.file, c.lines, c.level = path, 10, "warn"
	out, err := runLog(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "\n") != 2 || !strings.Contains(out, "handler error") || !strings.Contains(out, "teardown") {
		t.Errorf("level filter output:\n%s", out)
	}

	c = NewLogCommand(config.NewConfig())
	c.file, c.lines, c.document, c.raw = path, 10, "game", true
	out, err = runLog(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "\n") != 3 || !strings.HasPrefix(out, `{"time"`) {
		t.Errorf("document filter output:\n%s", out)
	}

	c = NewLogCommand(config.NewConfig())
	c.file, c.level = path, "loud"
	if _, err := runLog(t, c); err == nil {
		t.Error("expected error for a bad level")
	}
}

func TestLogCommand_ConfigAndErrors(t *testing.T) {
	t.Setenv("CARDRUNNER_LOG_FILE", "")
	_ = os.Unsetenv("CARDRUNNER_LOG_FILE")
	cfg := config.NewConfig()
	c := NewLogCommand(cfg)
	if _, err := runLog(t, c); err == nil {
		t.Error("expected error with no log file configured")
	}

	path := writeLog(t)
	cfg.SetGlobalOption("log-file", path)
	c = NewLogCommand(cfg)
	c.lines = 1
	if out, err := runLog(t, c); err != nil || !strings.Contains(out, "teardown") {
		t.Errorf("out = %q, err = %v", out, err)
	}

	c = NewLogCommand(cfg)
	if _, err := runLog(t, c, "bogus"); err == nil {
		t.Error("expected error for an unknown subcommand")
	}
	c = NewLogCommand(cfg)
	c.file = filepath.Join(t.TempDir(), "none.log")
	if _, err := runLog(t, c); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLastLines(t *testing.T) {
	t.Parallel()
	all := func(string) bool { return true }
	if got := lastLines(strings.NewReader("a\nb\nc\n"), 5, all); strings.Join(got, ",") != "a,b,c" {
		t.Errorf("got %v", got)
	}
	if got := lastLines(strings.NewReader("a\nb\nc\nd\n"), 2, all); strings.Join(got, ",") != "c,d" {
		t.Errorf("got %v", got)
	}
	if got := lastLines(strings.NewReader("a\n"), 0, all); got != nil {
		t.Errorf("got %v", got)
	}
	if got := lastLines(strings.NewReader(""), 3, all); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestFollow(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "f.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var (
		mu  sync.Mutex
		got []string
	)
	lines := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- follow(ctx, path, 4, 5*time.Millisecond, func(s string) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		})
	}()
	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for len(lines()) < n {
			if time.Now().After(deadline) {
				t.Fatalf("timed out, have %v", lines())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("one\ntw")
	_ = f.Sync()
	waitFor(1)
	_, _ = f.WriteString("o\n")
	_ = f.Close()
	waitFor(2)

	// rotation: the file is replaced by a shorter one
	if err := os.WriteFile(path, []byte("r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(3)
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("follow returned %v", err)
	}
	if got := strings.Join(lines(), ","); got != "one,two,r" {
		t.Errorf("lines = %q", got)
	}
}
