package queries

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrHandlerNotFound = errors.New("queries: handler not found")
	ErrInvalidQuery    = errors.New("queries: invalid query for handler")
	ErrResultType      = errors.New("queries: result type mismatch")
	ErrNilBus          = errors.New("queries: nil bus")
)

// Query reads calendars, quotes and bookings without writing. Queries skip
// the transaction and idempotency middleware, so a handler that needs a
// consistent view opens its own read-only unit.
type Query interface {
	Key() string
}

type Handler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

type Bus interface {
	Ask(ctx context.Context, query Query) (any, error)
}

// Ask runs query and returns the handler's result as R.
func Ask[Q Query, R any](ctx context.Context, bus Bus, query Q) (R, error) {
	var zero R
	if bus == nil {
		return zero, ErrNilBus
	}
	res, err := bus.Ask(ctx, query)
	if err != nil {
		return zero, err
	}
	switch value := res.(type) {
	case nil:
		return zero, nil
	case R:
		return value, nil
	default:
		return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, query.Key(), res)
	}
}
