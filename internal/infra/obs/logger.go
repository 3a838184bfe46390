package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a tinted text logger for local environments and a JSON
// logger tagged with service and env everywhere else.
func NewLogger(env, level string) *slog.Logger {
	return newLogger(env, level, os.Stdout)
}

func newLogger(env, level string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)
	switch strings.ToLower(env) {
	case "dev", "local":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}))
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: true})
	return slog.New(h).With("service", "staybook", "env", env)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
