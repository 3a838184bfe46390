package middleware_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/app/commands"
	"staybook/internal/app/middleware"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/uow"
	"staybook/internal/infra/storage/memory"
)

type reserveCmd struct {
	Nights  int
	IdemKey string
}

func (reserveCmd) Key() string { return "test.reserve" }

func (c reserveCmd) IdempotencyKey() string { return c.IdemKey }

func (reserveCmd) ResultPrototype() any { return &reserveResult{} }

type reserveResult struct {
	Seq int `json:"seq"`
}

func newBus(t *testing.T, handle func(ctx context.Context, cmd reserveCmd) (*reserveResult, error)) *commands.InMemoryBus {
	t.Helper()
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, commands.HandlerFunc[reserveCmd, *reserveResult](handle))
	return bus
}

func TestIdempotencyReplaysFirstResult(t *testing.T) {
	var calls atomic.Int32
	bus := middleware.ChainCommands(newBus(t, func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		return &reserveResult{Seq: int(calls.Add(1))}, nil
	}), middleware.Idempotency(memory.NewIdempotencyStore(time.Hour)))

	first, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 3, IdemKey: "k-1"})
	require.NoError(t, err)
	again, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 3, IdemKey: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.EqualValues(t, 1, calls.Load())

	_, err = commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "empty key is not deduplicated")
}

func TestIdempotencyRejectsReusedKey(t *testing.T) {
	bus := middleware.ChainCommands(newBus(t, func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		return &reserveResult{Seq: cmd.Nights}, nil
	}), middleware.Idempotency(memory.NewIdempotencyStore(time.Hour)))

	_, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 3, IdemKey: "k-1"})
	require.NoError(t, err)
	_, err = commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 4, IdemKey: "k-1"})
	assert.ErrorIs(t, err, middleware.ErrIdempotencyKeyReused)
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	var calls atomic.Int32
	bus := middleware.ChainCommands(newBus(t, func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("ledger busy")
		}
		return &reserveResult{Seq: 2}, nil
	}), middleware.Idempotency(memory.NewIdempotencyStore(time.Hour)))

	_, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{IdemKey: "k-1"})
	require.Error(t, err)
	res, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{IdemKey: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Seq)
}

func TestIdempotencyCollapsesConcurrentRetries(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	bus := middleware.ChainCommands(newBus(t, func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		<-release
		return &reserveResult{Seq: int(calls.Add(1))}, nil
	}), middleware.Idempotency(memory.NewIdempotencyStore(time.Hour)))

	var wg sync.WaitGroup
	results := make([]*reserveResult, 4)
	for i := range results {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{IdemKey: "k-1"})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Seq)
	}
	assert.EqualValues(t, 1, calls.Load())
}

type flakyFactory struct {
	memory.Factory
	transient error
}

func (f flakyFactory) Transient(err error) bool { return errors.Is(err, f.transient) }

func TestTransactionRunsHooksOnlyAfterCommit(t *testing.T) {
	factory := memory.Factory{Store: memory.NewStore(nil)}
	var fired atomic.Int32
	boom := errors.New("boom")
	bus := middleware.ChainCommands(newBus(t, func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		_, ok := uow.FromContext(ctx)
		require.True(t, ok)
		require.NoError(t, uow.AfterCommit(ctx, func(context.Context) { fired.Add(1) }))
		if cmd.Nights == 0 {
			return nil, boom
		}
		return &reserveResult{}, nil
	}), middleware.Transaction(factory, nil))

	_, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, fired.Load())

	_, err = commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, fired.Load())
}

func TestTransactionRetriesTransientFailures(t *testing.T) {
	writeConflict := errors.New("write conflict")
	factory := flakyFactory{Factory: memory.Factory{Store: memory.NewStore(nil)}, transient: writeConflict}
	var calls atomic.Int32
	bus := middleware.ChainCommands(newBus(t, func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		if n := calls.Add(1); n < int32(cmd.Nights) {
			return nil, writeConflict
		}
		return &reserveResult{Seq: int(calls.Load())}, nil
	}), middleware.Transaction(factory, &middleware.TransactionOptions{Attempts: 3}))

	res, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seq)

	calls.Store(0)
	_, err = commands.Dispatch[reserveCmd, *reserveResult](context.Background(), bus, reserveCmd{Nights: 5})
	assert.ErrorIs(t, err, writeConflict)
	assert.EqualValues(t, 3, calls.Load())
}

type countingOutbox struct {
	flushes atomic.Int32
}

func (o *countingOutbox) Add(context.Context, appoutbox.EventRecord) error { return nil }

func (o *countingOutbox) Flush(context.Context) error {
	o.flushes.Add(1)
	return nil
}

var errCommit = errors.New("commit refused")

type refusingFactory struct {
	memory.Factory
}

func (f refusingFactory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	unit, err := f.Factory.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return refusingUnit{UnitOfWork: unit}, nil
}

type refusingUnit struct {
	uow.UnitOfWork
}

func (refusingUnit) Commit(context.Context) error { return errCommit }

func TestOutboxFlushWaitsForCommit(t *testing.T) {
	handle := func(ctx context.Context, cmd reserveCmd) (*reserveResult, error) {
		return &reserveResult{Seq: cmd.Nights}, nil
	}

	box := &countingOutbox{}
	refused := middleware.ChainCommands(newBus(t, handle),
		middleware.Transaction(refusingFactory{Factory: memory.Factory{Store: memory.NewStore(nil)}}, nil),
		middleware.OutboxFlush(box, nil),
	)
	_, err := commands.Dispatch[reserveCmd, *reserveResult](context.Background(), refused, reserveCmd{Nights: 2})
	require.ErrorIs(t, err, errCommit)
	assert.Zero(t, box.flushes.Load())

	committed := middleware.ChainCommands(newBus(t, handle),
		middleware.Transaction(memory.Factory{Store: memory.NewStore(nil)}, nil),
		middleware.OutboxFlush(box, nil),
	)
	_, err = commands.Dispatch[reserveCmd, *reserveResult](context.Background(), committed, reserveCmd{Nights: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, box.flushes.Load())
}

type sweepCmd struct{}

func (sweepCmd) Key() string { return "test.sweep" }

func (sweepCmd) OpensOwnUnits() {}

func TestUnitScopedCommandBypassesTransaction(t *testing.T) {
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, commands.HandlerFunc[sweepCmd, int](func(ctx context.Context, _ sweepCmd) (int, error) {
		_, inUnit := uow.FromContext(ctx)
		assert.False(t, inUnit)
		return 7, nil
	}))
	box := &countingOutbox{}
	chained := middleware.ChainCommands(bus,
		middleware.Transaction(refusingFactory{Factory: memory.Factory{Store: memory.NewStore(nil)}}, nil),
		middleware.OutboxFlush(box, nil),
	)

	n, err := commands.Dispatch[sweepCmd, int](context.Background(), chained, sweepCmd{})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.EqualValues(t, 1, box.flushes.Load())
}
