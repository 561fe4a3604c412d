package command

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/joeycumines/cardrunner/internal/config"
)

// HelpCommand lists commands, or describes one.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand("help", "Display help information for commands", "help [command]"),
		registry:    registry,
	}
}

func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stdout, "cardrunner - run card documents and their event handlers")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Usage: cardrunner <command> [options] [args...]")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Commands:")
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Use 'cardrunner help <command>' for a command's flags.")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	fmt.Fprintf(stdout, "Usage: cardrunner %s\n", cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	var buf bytes.Buffer
	fs.SetOutput(&buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Flags:")
		fmt.Fprint(stdout, buf.String())
	}
	return nil
}

type VersionCommand struct {
	*BaseCommand
	version string
}

func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand("version", "Display version information", "version"),
		version:     version,
	}
}

func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return errors.New("unexpected arguments")
	}
	fmt.Fprintf(stdout, "cardrunner version %s\n", c.version)
	return nil
}

// ConfigCommand shows, validates and sets configuration. Keys inside a
// section are written "section.key".
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showAll    bool
}

// NewConfigCommand returns the config command. With an empty configPath,
// values set are not persisted.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand("config", "Show and change configuration", "config [options] [key [value] | validate | schema]"),
		config:      cfg,
		configPath:  configPath,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showAll, "all", false, "Show every option with its effective value")
}

func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	if len(args) == 0 {
		if c.showAll {
			c.printAll(stdout, schema)
			return nil
		}
		fmt.Fprintln(stdout, "Configuration management:")
		fmt.Fprintln(stdout, "  config <key>          - Get an effective value")
		fmt.Fprintln(stdout, "  config <key> <value>  - Set a global value")
		fmt.Fprintln(stdout, "  config -all           - Show every option")
		fmt.Fprintln(stdout, "  config validate       - Validate the configuration file")
		fmt.Fprintln(stdout, "  config schema         - Describe every option")
		return nil
	}

	switch args[0] {
	case "validate":
		c.validate(stdout)
		return nil
	case "schema":
		fmt.Fprint(stdout, schema.FormatHelp())
		return nil
	}

	section, key := splitKey(args[0])
	switch len(args) {
	case 1:
		if schema.Lookup(section, key) == nil {
			if _, ok := lookup(c.config, section, key); !ok {
				fmt.Fprintf(stdout, "Configuration key '%s' not found\n", args[0])
				return nil
			}
		}
		fmt.Fprintf(stdout, "%s: %s\n", args[0], schema.Resolve(c.config, section, key))
		return nil
	case 2:
		if section != "" {
			fmt.Fprintf(stderr, "only global options can be set here; edit the [%s] section of %s\n", section, c.configPath)
			return errors.New("cannot set section option")
		}
		c.config.SetGlobalOption(key, args[1])
		if c.configPath != "" {
			if err := config.SetKeyInFile(c.configPath, key, args[1]); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
			}
		}
		fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, args[1])
		return nil
	}
	fmt.Fprintln(stderr, "Invalid number of arguments")
	return errors.New("invalid arguments")
}

func (c *ConfigCommand) printAll(stdout io.Writer, schema *config.ConfigSchema) {
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	for _, section := range append([]string{""}, schema.Sections()...) {
		for _, opt := range schema.SectionOptions(section) {
			name := opt.Key
			if section != "" {
				name = section + "." + opt.Key
			}
			fmt.Fprintf(w, "%s\t%s\n", name, schema.Resolve(c.config, section, opt.Key))
		}
	}
	_ = w.Flush()
}

func (c *ConfigCommand) validate(stdout io.Writer) {
	issues := config.ValidateConfig(c.config, config.DefaultSchema())
	if len(issues) == 0 {
		fmt.Fprintln(stdout, "Configuration is valid.")
		return
	}
	fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		fmt.Fprintf(stdout, "  - %s\n", issue)
	}
}

func splitKey(s string) (section, key string) {
	if before, after, ok := strings.Cut(s, "."); ok {
		return before, after
	}
	return "", s
}

func lookup(cfg *config.Config, section, key string) (string, bool) {
	if section == "" {
		return cfg.GetGlobalOption(key)
	}
	return cfg.GetSectionOption(section, key)
}
