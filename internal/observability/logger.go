package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global logger with the specified level.
// Console output goes to stderr so the stdout sink stays machine-readable.
// If logFile is not empty, JSON lines are appended to it as well.
// The returned function closes the log file.
func InitLogger(level string, logFile string) func() error {
	return initLogger(os.Stderr, level, logFile)
}

func initLogger(console io.Writer, level string, logFile string) func() error {
	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "2006-01-02 15:04:05",
		},
	}

	closeFn := func() error { return nil }
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			// Use fmt: the logger is not ready yet
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, using console only\n", logFile, err)
		} else {
			// Raw writer: zerolog's native JSON
			writers = append(writers, file)
			closeFn = file.Close
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	logLevel := parseLogLevel(level)
	zerolog.SetGlobalLevel(logLevel)

	log.Info().
		Str("level", logLevel.String()).
		Str("file", logFile).
		Msg("Logger initialized")

	return closeFn
}

// parseLogLevel parses a string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
