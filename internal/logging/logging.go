// Package logging builds slog loggers from configuration strings.
//
// The daemon owns exactly one logger and injects it everywhere (the DB, the
// server, the CLI); nothing in this module logs through a global.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	// ErrBadLevel is returned for a level string that is not debug, info,
	// warn, or error.
	ErrBadLevel = errors.New("logging: unknown level")

	// ErrBadFormat is returned for a format string that is not text or json.
	ErrBadFormat = errors.New("logging: unknown format")
)

// ParseLevel maps a config string to a slog level. The empty string means
// info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadLevel, level)
	}
}

// ParseFormat validates a config format string. The empty string means text.
func ParseFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadFormat, format)
	}
}

// New returns a logger writing to w at the given level and format. Level
// and format strings follow [ParseLevel] and [ParseFormat].
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	slogLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	parsedFormat, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	if parsedFormat == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), nil
}
