package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
)

// ConfigOption declares one option.
type ConfigOption struct {
	// Key is the option name as written in the file (kebab-case).
	Key     string
	Type    OptionType
	Default string
	// Description is shown by "cardrunner config schema".
	Description string
	// Section is "" for global options.
	Section string
	// EnvVar, if set, overrides both the file and the default.
	EnvVar string
}

// ConfigSchema is the set of known options. It drives validation, typed
// lookups with defaults, environment overrides and the help text.
type ConfigSchema struct {
	options   []*ConfigOption
	bySection map[string]map[string]*ConfigOption
}

// NewSchema returns an empty schema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{bySection: make(map[string]map[string]*ConfigOption)}
}

// Register adds opt. A later registration of the same section and key wins.
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := &opt
	s.options = append(s.options, ref)
	if s.bySection[opt.Section] == nil {
		s.bySection[opt.Section] = make(map[string]*ConfigOption)
	}
	s.bySection[opt.Section][opt.Key] = ref
}

// RegisterAll adds every option in opts.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the declaration for key in section ("" for global), or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.bySection[section][key]
}

// Sections returns the named sections in sorted order.
func (s *ConfigSchema) Sections() []string {
	var out []string
	for sec := range s.bySection {
		if sec != "" {
			out = append(out, sec)
		}
	}
	sort.Strings(out)
	return out
}

// SectionOptions returns the options of section in registration order.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Resolve returns the effective value of section/key: the declared
// environment variable if set, then the file, then the declared default.
func (s *ConfigSchema) Resolve(c *Config, section, key string) string {
	opt := s.Lookup(section, key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if c != nil {
		var (
			v  string
			ok bool
		)
		if section == "" {
			v, ok = c.GetGlobalOption(key)
		} else {
			v, ok = c.Sections[section][key]
		}
		if ok {
			return v
		}
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// Int resolves section/key as an int. An unparsable value falls back to the
// declared default.
func (s *ConfigSchema) Int(c *Config, section, key string) int {
	if n, err := strconv.Atoi(s.Resolve(c, section, key)); err == nil {
		return n
	}
	if opt := s.Lookup(section, key); opt != nil {
		n, _ := strconv.Atoi(opt.Default)
		return n
	}
	return 0
}

// Duration resolves section/key as a time.Duration, with the same fallback
// as Int.
func (s *ConfigSchema) Duration(c *Config, section, key string) time.Duration {
	if d, err := time.ParseDuration(s.Resolve(c, section, key)); err == nil {
		return d
	}
	if opt := s.Lookup(section, key); opt != nil {
		d, _ := time.ParseDuration(opt.Default)
		return d
	}
	return 0
}

// Bool resolves section/key as a bool, with the same fallback as Int.
func (s *ConfigSchema) Bool(c *Config, section, key string) bool {
	if b, err := parseBool(s.Resolve(c, section, key)); err == nil {
		return b
	}
	if opt := s.Lookup(section, key); opt != nil {
		b, _ := parseBool(opt.Default)
		return b
	}
	return false
}

// ValidateConfig reports unknown options, unknown sections and values that
// do not parse as their declared type. The result is sorted.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	check := func(section, key, value string) {
		opt := s.Lookup(section, key)
		if opt == nil {
			if section == "" {
				issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			} else {
				issues = append(issues, fmt.Sprintf("unknown option in [%s]: %q (value: %q)", section, key, value))
			}
			return
		}
		if err := validateType(opt.Type, value); err != nil {
			if section == "" {
				issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
			} else {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	for key, value := range c.Global {
		check("", key, value)
	}
	for section, opts := range c.Sections {
		if _, known := s.bySection[section]; !known {
			issues = append(issues, fmt.Sprintf("unknown section: [%s]", section))
			continue
		}
		for key, value := range opts {
			check(section, key, value)
		}
	}
	sort.Strings(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp renders every option grouped by section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if globals := s.SectionOptions(""); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// Section names.
const (
	SectionRunner  = "runner"
	SectionConsole = "console"
)

// DefaultSchema declares every option cardrunner understands.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "log-level", Type: TypeString, Default: "info", Description: "Diagnostic log level: debug, info, warn, error", EnvVar: "CARDRUNNER_LOG_LEVEL"},
		{Key: "log-file", Type: TypeString, Description: "Diagnostic log file (JSON lines)", EnvVar: "CARDRUNNER_LOG_FILE"},
		{Key: "log-max-size-mb", Type: TypeInt, Default: "10", Description: "Log size in MB before rotation"},
		{Key: "log-max-files", Type: TypeInt, Default: "5", Description: "Rotated log files to keep"},
		{Key: "log-buffer", Type: TypeInt, Default: "1000", Description: "In-memory diagnostic entries to keep"},
		{Key: "color", Type: TypeString, Default: "auto", Description: "Styled error reports: auto, always, never"},

		{Section: SectionRunner, Key: "drain-budget", Type: TypeInt, Default: "4", Description: "Tasks still processed after a stop request"},
		{Section: SectionRunner, Key: "cancel-retries", Type: TypeInt, Default: "4", Description: "Forced cancellation attempts before giving up"},
		{Section: SectionRunner, Key: "cancel-wait", Type: TypeDuration, Default: "200ms", Description: "Wait after each forced cancellation"},
		{Section: SectionRunner, Key: "join-wait", Type: TypeDuration, Default: "50ms", Description: "Join attempt after each forced cancellation"},
		{Section: SectionRunner, Key: "exit-grace", Type: TypeDuration, Default: "200ms", Description: "Wait for exit handlers before forcing cancellation"},
		{Section: SectionRunner, Key: "wait-slice", Type: TypeDuration, Default: "250ms", Description: "Longest uninterrupted sleep inside wait()"},
		{Section: SectionRunner, Key: "tick-interval", Type: TypeDuration, Default: "30ms", Description: "Periodic handler interval"},

		{Section: SectionConsole, Key: "prefix", Type: TypeString, Default: ">>> ", Description: "Console prompt"},
		{Section: SectionConsole, Key: "history-file", Type: TypeString, Default: ".cardrunner_history", Description: "Console history file"},
	})
	return s
}
