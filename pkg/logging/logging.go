// Package logging builds the zerolog loggers used across wikigraph.
//
// Every component derives a child logger tagged with its name:
//
//	base, err := logging.New(cfg.Logging, os.Stderr)
//	sweepLog := logging.Component(base, "retention")
//	sweepLog.Info().Int("removed_nodes", 3).Msg("Sweep complete")
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/wikigraph/pkg/config"
)

// New creates the root logger. Format "json" writes one JSON object per line;
// "console" writes human-readable output. A nil w writes to stderr.
func New(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	switch cfg.Format {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Component returns a child of logger tagged with component=name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
