package obs

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger. LOG_LEVEL selects the level
// (default info); output is JSON on stdout, one event per line.
func NewLogger(service string) zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
}
