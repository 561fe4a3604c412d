package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/joeycumines/cardrunner/internal/config"
	"github.com/joeycumines/cardrunner/internal/diag"
)

// LogCommand prints the end of the diagnostic log, optionally following it.
type LogCommand struct {
	*BaseCommand
	config   *config.Config
	follow   bool
	lines    int
	file     string
	level    string
	document string
	raw      bool

	// pollInterval is how often a followed file is checked for new lines.
	pollInterval time.Duration
}

func NewLogCommand(cfg *config.Config) *LogCommand {
	return &LogCommand{
		BaseCommand:  NewBaseCommand("log", "Show the diagnostic log", "log [tail] [options]"),
		config:       cfg,
		pollInterval: 200 * time.Millisecond,
	}
}

func (c *LogCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.follow, "f", false, "Follow the log as it grows")
	fs.IntVar(&c.lines, "n", 10, "Entries to show from the end of the log")
	fs.StringVar(&c.file, "file", "", "Log file (overrides config log-file)")
	fs.StringVar(&c.level, "level", "", "Only show entries at or above this level")
	fs.StringVar(&c.document, "document", "", "Only show entries logged for this document")
	fs.BoolVar(&c.raw, "raw", false, "Print entries as stored")
}

func (c *LogCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "tail" {
		c.follow = true
		args = args[1:]
	}
	if len(args) > 0 {
		fmt.Fprintf(stderr, "unknown subcommand: %s\n", args[0])
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
	path := c.file
	if path == "" {
		path = config.DefaultSchema().Resolve(c.config, "", "log-file")
	}
	if path == "" {
		fmt.Fprintln(stderr, "No log file configured. Use -file or set log-file in the config.")
		return errors.New("no log file configured")
	}
	filter, err := c.newFilter()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "Log file does not exist: %s\n", path)
		}
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	for _, line := range lastLines(f, c.lines, filter.match) {
		fmt.Fprintln(stdout, filter.format(line))
	}
	if !c.follow {
		return nil
	}
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seeking log file: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = follow(ctx, path, pos, c.pollInterval, func(line string) {
		if filter.match(line) {
			fmt.Fprintln(stdout, filter.format(line))
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// entryFilter selects and renders JSON log lines.
type entryFilter struct {
	minLevel *slog.Level
	document string
	raw      bool
}

func (c *LogCommand) newFilter() (entryFilter, error) {
	f := entryFilter{document: c.document, raw: c.raw}
	if c.level != "" {
		level, err := diag.ParseLevel(c.level)
		if err != nil {
			return f, err
		}
		f.minLevel = &level
	}
	return f, nil
}

type logEntry struct {
	Time     time.Time `json:"time"`
	Level    string    `json:"level"`
	Msg      string    `json:"msg"`
	Document string    `json:"document"`
}

func (f entryFilter) match(line string) bool {
	if f.minLevel == nil && f.document == "" {
		return true
	}
	var e logEntry
	if json.Unmarshal([]byte(line), &e) != nil {
		return false
	}
	if f.document != "" && e.Document != f.document {
		return false
	}
	if f.minLevel != nil {
		var level slog.Level
		if level.UnmarshalText([]byte(e.Level)) != nil || level < *f.minLevel {
			return false
		}
	}
	return true
}

// format renders a JSON entry as "time LEVEL msg key=value...". Lines that
// are not JSON objects, and every line in raw mode, pass through.
func (f entryFilter) format(line string) string {
	if f.raw {
		return line
	}
	var fields map[string]any
	if json.Unmarshal([]byte(line), &fields) != nil {
		return line
	}
	var e logEntry
	_ = json.Unmarshal([]byte(line), &e)
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Format("15:04:05.000 "))
	}
	fmt.Fprintf(&b, "%-5s %s", e.Level, e.Msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		switch k {
		case "time", "level", "msg":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// lastLines returns the last n lines of r accepted by keep.
func lastLines(r io.Reader, n int, keep func(string) bool) []string {
	if n <= 0 {
		return nil
	}
	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := sc.Text(); keep(line) {
			ring[count%n] = line
			count++
		}
	}
	total := min(count, n)
	out := make([]string, total)
	for i := range total {
		out[i] = ring[(count-total+i)%n]
	}
	return out
}

// follow polls path from offset pos, handing complete lines to emit. A
// file that shrinks, as it does after rotation, is read again from the
// start.
func follow(ctx context.Context, path string, pos int64, every time.Duration, emit func(string)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var partial string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if info.Size() < pos {
			pos, partial = 0, ""
		}
		if info.Size() == pos {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(io.NewSectionReader(f, pos, info.Size()-pos))
		_ = f.Close()
		if err != nil {
			return err
		}
		pos += int64(len(data))
		chunk := partial + string(data)
		lines := strings.Split(chunk, "\n")
		partial = lines[len(lines)-1]
		for _, line := range lines[:len(lines)-1] {
			emit(strings.TrimRight(line, "\r"))
		}
	}
}
