package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger installs the console logger on stderr.
func SetupLogger() {
	SetupLoggerWithWriter(os.Stderr)
}

// SetupLoggerWithWriter installs the console logger on w. Color is disabled so log output never carries ANSI
// escape codes, which keeps it readable when a progress bar shares the terminal.
func SetupLoggerWithWriter(w io.Writer) {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("[ %s ]", i)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// GetLogger returns the process wide logger. Call it at the point of use rather than caching it in a package
// variable, SetupLogger replaces the logger at startup.
func GetLogger() zerolog.Logger {
	return log.Logger
}

// SetLevel sets the global log level from its name. Unknown names fall back to info.
func SetLevel(level string) {
	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
