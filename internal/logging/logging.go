// internal/logging/logging.go
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

/*
 * Logger construction.
 *
 * One constructor shared by every command: level string plus output format
 * (json for machine consumption, console for humans). Components receive a
 * zerolog.Logger by value and derive their own sub-loggers via With().
 */

// New builds the root logger for the given level and format.
// Format is "json" or "console"; level accepts zerolog's level names.
func New(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var out io.Writer = os.Stderr
	switch strings.ToLower(format) {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want json or console)", format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
