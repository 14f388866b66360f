package telemetry

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Verbose reports whether LOG_LEVEL asks for debug output.
func Verbose() bool {
	return strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug")
}

func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}
