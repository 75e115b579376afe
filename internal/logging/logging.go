// Package logging builds the process zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	EnvLogLevel  = "FLEET_LOG_LEVEL"
	EnvLogFormat = "FLEET_LOG_FORMAT"
)

// Options controls New. Zero values fall back to environment, then defaults.
type Options struct {
	Out    io.Writer
	Level  string
	Format string // "console" or "json"
	App    string
}

// New returns a logger with a timestamp and app field.
// Console output is used when Format says so, or when Out is a terminal.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	level := opts.Level
	if level == "" {
		level = os.Getenv(EnvLogLevel)
	}
	format := opts.Format
	if format == "" {
		format = os.Getenv(EnvLogFormat)
	}
	if useConsole(format, out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	app := opts.App
	if app == "" {
		app = "fleetbot"
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
}

func useConsole(format string, out io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ParseLevel maps the usual names; "off" disables logging.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "disabled", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// Component tags a child logger.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
