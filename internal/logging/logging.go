// Package logging configures the shared zerolog.Logger both binaries use:
// one process-wide logging setup driven by CLI flags.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Options mirrors the --log-level/--log-dir/--log-file flags shared by both
// the Agent and the Proxy CLI.
type Options struct {
	Level string
	Dir   string
	File  string
}

// New builds a logger writing to stderr (human-readable console format) and,
// when Dir/File are set, additionally appending JSON lines to Dir/File. The
// file is not rotated.
func New(opts Options) (zerolog.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	var writer io.Writer = console

	if opts.Dir != "" && opts.File != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("logging: create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, opts.File), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("logging: open log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(console, f)
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, nil
}

func parseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}
