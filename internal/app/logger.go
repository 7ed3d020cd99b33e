package app

import (
	"io"
	"log/slog"
)

// serviceName is attached to every record.
const serviceName = "ftpgo"

// newLogger creates the server's slog.Logger. It does not set the global
// logger, so every App owns an isolated one. Unknown levels fall back to
// info.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if levelStr != "" {
		if err := level.UnmarshalText([]byte(levelStr)); err != nil {
			level = slog.LevelInfo
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}

	return slog.New(handler).With("service", serviceName)
}
