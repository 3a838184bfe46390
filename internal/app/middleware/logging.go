package middleware

import (
	"context"
	"log/slog"
	"time"

	"staybook/internal/app/commands"
)

// Logging reports every command with its outcome and duration. Expected
// business rejections are logged at debug so conflicts do not flood the log.
func Logging(logger *slog.Logger, expected func(error) bool) CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			attrs := []any{"command", cmd.Key(), "duration_ms", time.Since(start).Milliseconds()}
			switch {
			case err == nil:
				logger.Debug("command handled", attrs...)
			case expected != nil && expected(err):
				logger.Debug("command rejected", append(attrs, "error", err)...)
			default:
				logger.Warn("command failed", append(attrs, "error", err)...)
			}
			return res, err
		})
	}
}
