// Package logging builds the slog logger used by authcore-server.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MrEthical07/authcore/internal/config"
)

const serviceName = "authcore"

// New returns a logger configured by cfg. Every record carries service and
// version attributes.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		w = os.Stderr
	}
	return newWithWriter(cfg, version, w)
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// parseLevel maps a level name to slog.Level. Unknown names yield info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
