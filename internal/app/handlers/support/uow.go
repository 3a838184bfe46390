package support

import (
	"context"

	"staybook/internal/app/uow"
)

// BeginReadOnlyUnit reuses the unit carried by ctx or opens a read-only one.
// The returned cleanup is nil when the unit was not opened here.
func BeginReadOnlyUnit(ctx context.Context, factory uow.UoWFactory) (uow.UnitOfWork, context.Context, func(), error) {
	unit, ok := uow.FromContext(ctx)
	if ok {
		return unit, ctx, nil, nil
	}
	if factory == nil {
		return nil, ctx, nil, uow.ErrUnitOfWorkMissing
	}
	newUnit, err := factory.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, ctx, nil, err
	}
	execCtx := inject(ctx, newUnit)
	cleanup := func() {
		_ = newUnit.Rollback(execCtx)
	}
	return newUnit, execCtx, cleanup, nil
}

// InUnit runs fn inside the unit carried by ctx. Without one it opens a unit,
// commits it when fn succeeds and then runs the commit hooks fn registered.
func InUnit[R any](ctx context.Context, factory uow.UoWFactory, fn func(ctx context.Context, unit uow.UnitOfWork) (R, error)) (R, error) {
	if unit, ok := uow.FromContext(ctx); ok {
		return fn(ctx, unit)
	}
	var zero R
	if factory == nil {
		return zero, uow.ErrUnitOfWorkMissing
	}
	unit, err := factory.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return zero, err
	}
	execCtx := inject(ctx, unit)
	execCtx, hooks := uow.ContextWithCommitHooks(execCtx)
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()

	res, err := fn(execCtx, unit)
	if err != nil {
		return zero, err
	}
	if err := unit.Commit(execCtx); err != nil {
		return zero, err
	}
	committed = true
	hooks.Run(ctx)
	return res, nil
}

func inject(ctx context.Context, unit uow.UnitOfWork) context.Context {
	if injector, ok := unit.(uow.ContextInjector); ok {
		ctx = injector.InjectContext(ctx)
	}
	return uow.ContextWithUnitOfWork(ctx, unit)
}
