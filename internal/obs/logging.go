// Package obs holds the engine's logging setup, kept verbatim from the
// teacher's internal/util.InitLogger: structured zerolog output, pretty
// console in a TTY and JSON otherwise.
package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// InitLogger initializes and returns a zerolog logger based on whether
// stdout is a terminal. It supports both JSON (production) and pretty
// console (development) output.
func InitLogger() *zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var logger zerolog.Logger
	if isTerminal() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "chainindex-syncengine").
			Logger()
	}
	return &logger
}

func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
