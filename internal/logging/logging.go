// Package logging configures the process-wide slog default handler.
// Every other package logs via the package-level slog functions directly
// (slog.Info, slog.Warn, ...), matching the teacher's convention of never
// threading a *slog.Logger through call signatures.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Options configures the default handler.
type Options struct {
	// Format is "json" or "text" (default "text").
	Format string
	// Level is "debug", "info", "warn", or "error" (default "info").
	Level string
}

// Setup installs a process-wide slog default handler per Options and
// returns the resolved level, useful for a one-line startup log message.
func Setup(opts Options) slog.Level {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return level
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
