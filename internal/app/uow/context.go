package uow

import (
	"context"
	"errors"
	"sync"
)

var ErrUnitOfWorkMissing = errors.New("uow: unit of work missing from context")

type ctxKey struct{}

type hooksKey struct{}

func ContextWithUnitOfWork(ctx context.Context, unit UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, unit)
}

func FromContext(ctx context.Context) (UnitOfWork, bool) {
	val := ctx.Value(ctxKey{})
	if val == nil {
		return nil, false
	}
	unit, ok := val.(UnitOfWork)
	return unit, ok
}

// CommitHooks collects work that may only start once the surrounding unit
// has committed, such as calls to external providers.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

// ContextWithCommitHooks installs a fresh hook list on ctx.
func ContextWithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	hooks := &CommitHooks{}
	return context.WithValue(ctx, hooksKey{}, hooks), hooks
}

// AfterCommit registers fn on the hooks carried by ctx.
func AfterCommit(ctx context.Context, fn func(context.Context)) error {
	hooks, ok := ctx.Value(hooksKey{}).(*CommitHooks)
	if !ok || hooks == nil {
		return ErrUnitOfWorkMissing
	}
	hooks.mu.Lock()
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
	return nil
}

// Run executes the registered hooks in order. The context passed to them is
// detached from ctx's cancellation.
func (h *CommitHooks) Run(ctx context.Context) {
	if h == nil {
		return
	}
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	detached := context.WithoutCancel(ctx)
	for _, fn := range fns {
		fn(detached)
	}
}
