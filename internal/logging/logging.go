// Package logging builds the slog loggers used by the wsclient command.
//
// Library code takes a *slog.Logger through websocket.Config and never
// creates one itself; this package turns command-line settings into one.
//
//	logger := logging.FromFlags("debug", "json", os.Stderr)
//	cfg := &websocket.Config{Logger: logger}
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config describes a logger. The zero value logs text at info level to
// os.Stderr.
type Config struct {
	Level     Level
	Format    Format
	Output    io.Writer
	AddSource bool
}

// New returns a logger for cfg. Every record carries component=wsclient.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h).With("component", "wsclient")
}

// Nop returns a logger that discards every record.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// FromFlags returns the logger for a level and format given as text. The
// levels "off" and "none" turn logging off entirely.
func FromFlags(level, format string, out io.Writer) *slog.Logger {
	if Off(level) {
		return Nop()
	}
	return New(Config{Level: ParseLevel(level), Format: ParseFormat(format), Output: out})
}

// Off reports whether level names no logging at all.
func Off(level string) bool {
	switch strings.ToLower(level) {
	case "off", "none":
		return true
	}
	return false
}

// ParseLevel parses "debug", "info", "warn"/"warning" or "error", ignoring
// case. Anything else is LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat parses "text" or "json", ignoring case. Anything else is
// FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}
