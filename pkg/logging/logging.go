package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is a slog level.
type Level = slog.Level

// Levels accepted by ParseLevel.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format string

// Formats accepted by ParseFormat.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config selects level, format and destination. A nil Output writes to
// stderr.
type Config struct {
	Level     Level
	Format    Format
	Output    io.Writer
	AddSource bool
}

func (c Config) handler() slog.Handler {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: c.Level, AddSource: c.AddSource}
	if c.Format == FormatJSON {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// New builds a logger from cfg.
func New(cfg Config) *slog.Logger {
	return slog.New(cfg.handler())
}

var nop = slog.New(slog.DiscardHandler)

// Nop returns a logger that drops every record.
func Nop() *slog.Logger { return nop }

// OrNop returns log, or Nop when log is nil.
func OrNop(log *slog.Logger) *slog.Logger {
	if log == nil {
		return nop
	}
	return log
}

// ForListener tags every record with the listener identity.
func ForListener(log *slog.Logger, protocol, name string) *slog.Logger {
	return OrNop(log).With("component", "listener", "protocol", protocol, "listener", name)
}

// ParseLevel maps a case-insensitive level name to a Level. Unknown names
// yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// ParseFormat maps "json" (any case) to FormatJSON and anything else to
// FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}
