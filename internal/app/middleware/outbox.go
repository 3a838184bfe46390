package middleware

import (
	"context"
	"log/slog"

	"staybook/internal/app/commands"
	"staybook/internal/app/outbox"
	"staybook/internal/app/uow"
)

// OutboxFlush wakes the relay once a command's events are durable. Inside a
// Transaction unit the flush waits for the commit, so a rolled-back reserve
// never nudges the relay. Commands that open their own units flush as soon
// as they return. A failed flush is logged; the relay's poll still finds the
// records.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			flush := func(ctx context.Context) {
				if err := box.Flush(ctx); err != nil {
					logger.Warn("outbox flush failed", "command", cmd.Key(), "error", err)
				}
			}
			if uow.AfterCommit(ctx, flush) != nil {
				flush(ctx)
			}
			return res, nil
		})
	}
}
