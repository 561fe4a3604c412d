package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/cardrunner/internal/config"
	"github.com/joeycumines/cardrunner/internal/console"
	"github.com/joeycumines/cardrunner/internal/document"
	"github.com/joeycumines/cardrunner/internal/host"
	"github.com/joeycumines/cardrunner/internal/runner"
)

// ErrHandlerErrors is returned by run when the document recorded errors.
var ErrHandlerErrors = errors.New("document reported errors")

// RunCommand runs a document headlessly.
type RunCommand struct {
	*BaseCommand
	config *config.Config

	console  bool
	events   string
	until    string
	page     int
	duration time.Duration
	answers  string
	logFile  string
	logLevel string

	// stdin backs "-answers -". Tests replace it.
	stdin io.Reader
}

func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand("run", "Run a document", "run [options] <document.yaml>"),
		config:      cfg,
		page:        1,
		stdin:       os.Stdin,
	}
}

func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.console, "console", false, "Open the developer console")
	fs.StringVar(&c.events, "events", "", "Replay input events from a YAML file")
	fs.StringVar(&c.until, "until", "", "Stop once this expression over the document's variables is true")
	fs.IntVar(&c.page, "page", 1, "Card to show first (1-based)")
	fs.DurationVar(&c.duration, "for", 0, "Stop after this long (0 runs until the document quits)")
	fs.StringVar(&c.answers, "answers", "", "Answer dialogs from this file, one line each ('-' for stdin)")
	fs.StringVar(&c.logFile, "log-file", "", "Diagnostic log file (overrides config)")
	fs.StringVar(&c.logLevel, "log-level", "", "Diagnostic log level (overrides config)")
}

// runnerOptions maps the [runner] section onto runner options.
func runnerOptions(cfg *config.Config) []runner.Option {
	s := config.DefaultSchema()
	sec := config.SectionRunner
	return []runner.Option{
		runner.WithDrainBudget(s.Int(cfg, sec, "drain-budget")),
		runner.WithCancelRetries(s.Int(cfg, sec, "cancel-retries")),
		runner.WithCancelWait(s.Duration(cfg, sec, "cancel-wait")),
		runner.WithJoinWait(s.Duration(cfg, sec, "join-wait")),
		runner.WithExitGrace(s.Duration(cfg, sec, "exit-grace")),
		runner.WithWaitSlice(s.Duration(cfg, sec, "wait-slice")),
	}
}

func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "Usage: cardrunner %s\n", c.Usage())
		return errors.New("expected one document")
	}
	if c.console && c.answers == "-" {
		return errors.New("-answers - cannot be combined with -console")
	}
	doc, err := document.Load(args[0])
	if err != nil {
		return err
	}
	var events []host.ReplayEvent
	if c.events != "" {
		if events, err = host.LoadEvents(c.events); err != nil {
			return err
		}
	}
	lc, err := resolveLogConfig(c.logFile, c.logLevel, c.config)
	if err != nil {
		return err
	}
	defer lc.Close()

	problems, _ := checkDocument(doc)
	schema := config.DefaultSchema()
	opts := host.Options{
		Out:           stdout,
		Logger:        lc.logger.Logger,
		RunnerOptions: append(runnerOptions(c.config), runner.WithStdout(stdout), runner.WithStderr(stderr)),
		TickInterval:  schema.Duration(c.config, config.SectionRunner, "tick-interval"),
		StartPage:     c.page - 1,
		Events:        events,
		Until:         c.until,
		For:           c.duration,
		VarSnapshots:  c.console,
		SyntaxErrors:  issueMap(problems),
	}
	switch c.answers {
	case "":
	case "-":
		opts.Answers = c.stdin
	default:
		f, err := os.Open(c.answers)
		if err != nil {
			return fmt.Errorf("opening answers: %w", err)
		}
		defer f.Close()
		opts.Answers = f
	}

	loop, err := host.NewLoop(doc, opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if c.console {
		con := console.New(loop, console.Options{
			Out:         stdout,
			Prefix:      schema.Resolve(c.config, config.SectionConsole, "prefix"),
			HistoryFile: schema.Resolve(c.config, config.SectionConsole, "history-file"),
			Logger:      lc.logger.Logger,
			Diagnostics: lc.logger.Ring,
		})
		conCtx, conDone := context.WithCancel(ctx)
		defer conDone()
		go func() {
			con.Run(conCtx)
			loop.Quit()
		}()
	}

	res, err := loop.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "finished: %s\n", res.Reason)
	if len(res.Errors) > 0 {
		writeReport(stdout, res.Errors, useColor(schema.Resolve(c.config, "", "color"), stdout))
		return ErrHandlerErrors
	}
	return nil
}
