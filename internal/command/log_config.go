package command

import (
	"fmt"
	"io"

	"github.com/joeycumines/cardrunner/internal/config"
	"github.com/joeycumines/cardrunner/internal/diag"
)

// logConfig is the resolved diagnostic logger and the file behind it, if
// any. The caller closes it when the run ends.
type logConfig struct {
	logger *diag.Logger
	file   io.Closer
}

func (lc logConfig) Close() error {
	if lc.file == nil {
		return nil
	}
	return lc.file.Close()
}

// resolveLogConfig builds the diagnostic logger. Flags win over the
// configuration, which wins over the schema defaults.
func resolveLogConfig(flagPath, flagLevel string, cfg *config.Config) (logConfig, error) {
	schema := config.DefaultSchema()
	var lc logConfig

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = schema.Resolve(cfg, "", "log-level")
	}
	level, err := diag.ParseLevel(levelStr)
	if err != nil {
		return lc, err
	}
	opts := diag.Options{
		Level:      level,
		BufferSize: schema.Int(cfg, "", "log-buffer"),
	}

	path := flagPath
	if path == "" {
		path = schema.Resolve(cfg, "", "log-file")
	}
	if path != "" {
		w, err := diag.NewRotatingFileWriter(path, schema.Int(cfg, "", "log-max-size-mb"), schema.Int(cfg, "", "log-max-files"))
		if err != nil {
			return lc, fmt.Errorf("opening log file: %w", err)
		}
		opts.File = w
		lc.file = w
	}
	lc.logger = diag.NewLogger(opts)
	return lc, nil
}
