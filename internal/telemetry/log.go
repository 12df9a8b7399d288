package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SetupLogger installs the process default slog logger. format is "json" or "text".
func SetupLogger(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("log format %q: must be json or text", format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}
