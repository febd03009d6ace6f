package internal

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger writes to stderr and, when logFile is set, appends to that file
// as well. A log file that cannot be opened is reported and skipped.
func NewLogger(logFile string) (zerolog.Logger, func() error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	closer := func() error { return nil }

	var writer io.Writer = console
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger := zerolog.New(console).With().Timestamp().Logger()
			logger.Warn().Err(err).Str("path", logFile).Msg("Failed to open log file, logging to console only")
			return logger, closer
		}
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file.Close
	}

	return zerolog.New(writer).With().Timestamp().Logger(), closer
}
