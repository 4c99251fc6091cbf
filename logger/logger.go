// Package logger builds the service's zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Level is a zerolog level name. Unknown or empty names mean info.
	Level string
	// Pretty switches from JSON lines to human-readable console output.
	Pretty bool
	// Output defaults to stdout.
	Output io.Writer
}

// New returns a timestamped logger writing to cfg.Output at cfg.Level.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// SetGlobalLogger makes l the logger behind github.com/rs/zerolog/log, which
// main uses before and after the handler stack exists.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
