package config

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// ConfigureLogger installs the default slog logger per logLevel ("none",
// "error", "warn", "info", "debug") and, if logFile is non-empty, routes
// output there as JSON instead of stdout text — matching the teacher's
// stdout-text/file-JSON split. Every endpoint gets a stable per-process
// correlation id attached to the default logger, since SoundBridge runs two
// cooperating OS processes (spec.md §4.5) whose log lines need to be told
// apart in a shared file or journal.
//
// Returns the *os.File the logger writes to (nil for stdout), so callers can
// close it on shutdown.
func ConfigureLogger(logLevel, logFile string) (*os.File, error) {
	var opts slog.HandlerOptions
	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("config: unrecognized log level " + logLevel)
	}

	var f *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		var err error
		f, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		handler = slog.NewJSONHandler(f, &opts)
	}

	slog.SetDefault(slog.New(handler).With("process", uuid.New()))
	return f, nil
}
