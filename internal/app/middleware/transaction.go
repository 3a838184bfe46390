package middleware

import (
	"context"
	"log/slog"

	"staybook/internal/app/commands"
	"staybook/internal/app/uow"
)

const defaultTxAttempts = 3

type TransactionOptions struct {
	// Attempts bounds how often a command is re-run after a transient
	// failure reported by the factory. Zero means 3.
	Attempts int
	Logger   *slog.Logger
}

// UnitScoped is implemented by commands whose handlers open one unit per
// item. Transaction passes them through untouched.
type UnitScoped interface {
	commands.Command
	OpensOwnUnits()
}

// Transaction runs each command in its own unit of work. Commit hooks fire
// only after a successful commit. When the factory classifies a failure as
// transient the whole command runs again on a fresh unit.
func Transaction(factory uow.UoWFactory, opts *TransactionOptions) CommandMiddleware {
	if factory == nil {
		panic("middleware: uow factory required")
	}
	attempts := defaultTxAttempts
	logger := slog.Default()
	if opts != nil {
		if opts.Attempts > 0 {
			attempts = opts.Attempts
		}
		if opts.Logger != nil {
			logger = opts.Logger
		}
	}
	classifier, _ := factory.(uow.TransientClassifier)

	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if _, ok := cmd.(UnitScoped); ok {
				return next.Dispatch(ctx, cmd)
			}
			for attempt := 1; ; attempt++ {
				res, err := runInUnit(ctx, factory, next, cmd, logger)
				if err == nil {
					return res, nil
				}
				if classifier == nil || attempt >= attempts || !classifier.Transient(err) || ctx.Err() != nil {
					return nil, err
				}
				logger.Warn("transient transaction failure, retrying", "command", cmd.Key(), "attempt", attempt, "error", err)
			}
		})
	}
}

func runInUnit(ctx context.Context, factory uow.UoWFactory, next commands.Bus, cmd commands.Command, logger *slog.Logger) (any, error) {
	unit, err := factory.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	execCtx := ctx
	if injector, ok := unit.(uow.ContextInjector); ok {
		execCtx = injector.InjectContext(ctx)
	}
	execCtx = uow.ContextWithUnitOfWork(execCtx, unit)
	execCtx, hooks := uow.ContextWithCommitHooks(execCtx)

	res, err := next.Dispatch(execCtx, cmd)
	if err != nil {
		if rbErr := unit.Rollback(execCtx); rbErr != nil {
			logger.Error("rollback failed", "command", cmd.Key(), "error", rbErr)
		}
		return nil, err
	}
	if err := unit.Commit(execCtx); err != nil {
		return nil, err
	}
	hooks.Run(ctx)
	return res, nil
}
