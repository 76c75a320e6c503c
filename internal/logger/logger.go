// Package logger configures the process-wide slog handler: a tinted handler
// on interactive terminals, the plain text handler everywhere else.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var level = &slog.LevelVar{}

// Setup installs the default handler and sets the level by name.
func Setup(levelName string) {
	SetLevel(levelName)

	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		h = tint.NewHandler(os.Stderr, &tint.Options{
			Level: level,
		})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	}
	slog.SetDefault(slog.New(h))
}

func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "err", "error":
		level.Set(slog.LevelError)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "debug":
		level.Set(slog.LevelDebug)
	default:
		level.Set(slog.LevelInfo)
	}
}

// New returns a logger tagged with its component name.
func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
