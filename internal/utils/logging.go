package utils

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	console "github.com/phsym/console-slog"
)

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return l, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger. format is console, json or text.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "console":
		h = console.NewHandler(w, &console.HandlerOptions{
			Level:      l,
			TimeFormat: time.DateTime,
		})
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l})
	case "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return slog.New(h), nil
}
