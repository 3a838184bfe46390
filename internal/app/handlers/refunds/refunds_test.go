package refunds_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"staybook/internal/app/clock"
	"staybook/internal/app/handlers/refunds"
	domainbooking "staybook/internal/domain/booking"
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/domain/shared/money"
	"staybook/internal/infra/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type flakyGateway struct {
	failures int32
	calls    atomic.Int32
}

func (g *flakyGateway) Refund(ctx context.Context, reference string, bookingID domainbooking.BookingID, amount money.Money) (string, error) {
	n := g.calls.Add(1)
	if n <= g.failures {
		return "", errors.New("provider unavailable")
	}
	return "re_" + reference, nil
}

func seedRefund(t *testing.T, store *memory.Store, amount int64) string {
	t.Helper()
	return seedRefundAt(t, store, "r-1", amount, time.Now().UTC())
}

func seedRefundAt(t *testing.T, store *memory.Store, id string, amount int64, at time.Time) string {
	t.Helper()
	rec := &domainpayments.RefundRecord{
		ID:        id,
		BookingID: "b-1",
		Amount:    money.Money{Amount: amount, Currency: "AED"},
		CreatedAt: at,
	}
	require.NoError(t, store.Refunds.Append(context.Background(), rec))
	return rec.ID
}

func outcomes(t *testing.T, store *memory.Store, refundID string) []domainpayments.AttemptOutcome {
	t.Helper()
	attempts, err := store.Refunds.Attempts(context.Background(), refundID)
	require.NoError(t, err)
	out := make([]domainpayments.AttemptOutcome, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Outcome)
	}
	return out
}

func TestBackoffDelay(t *testing.T) {
	backoff := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	assert.Equal(t, time.Second, refunds.BackoffDelay(backoff, 0))
	assert.Equal(t, 5*time.Second, refunds.BackoffDelay(backoff, 2))
	assert.Equal(t, 30*time.Second, refunds.BackoffDelay(backoff, 3))
	assert.Equal(t, 60*time.Second, refunds.BackoffDelay(backoff, 4))
	assert.Equal(t, 120*time.Second, refunds.BackoffDelay(backoff, 5))
	assert.Equal(t, time.Second, refunds.BackoffDelay(nil, 3))
}

func TestExecutorSkipsAfterSuccess(t *testing.T) {
	store := memory.NewStore(nil)
	gateway := &flakyGateway{}
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: store}, Gateway: gateway}
	id := seedRefund(t, store, 320)

	require.NoError(t, exec.Attempt(context.Background(), id, 1))
	require.NoError(t, exec.Attempt(context.Background(), id, 2))
	assert.EqualValues(t, 1, gateway.calls.Load())
	assert.Equal(t, []domainpayments.AttemptOutcome{domainpayments.AttemptSucceeded}, outcomes(t, store, id))
}

func TestExecutorWithoutGateway(t *testing.T) {
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: memory.NewStore(nil)}}
	assert.ErrorIs(t, exec.Attempt(context.Background(), "r-1", 1), refunds.ErrGatewayMissing)
}

func TestInlineDispatcherRetriesUntilSuccess(t *testing.T) {
	store := memory.NewStore(nil)
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: store}, Gateway: &flakyGateway{failures: 2}}
	d := refunds.NewInlineDispatcher(exec, []time.Duration{time.Millisecond}, 5)
	defer d.Close()
	id := seedRefund(t, store, 160)

	require.NoError(t, d.Dispatch(context.Background(), id))
	require.Eventually(t, func() bool { return len(outcomes(t, store, id)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domainpayments.AttemptOutcome{
		domainpayments.AttemptFailed,
		domainpayments.AttemptFailed,
		domainpayments.AttemptSucceeded,
	}, outcomes(t, store, id))
}

func TestInlineDispatcherRecordsExhaustion(t *testing.T) {
	store := memory.NewStore(nil)
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: store}, Gateway: &flakyGateway{failures: 100}}
	d := refunds.NewInlineDispatcher(exec, []time.Duration{time.Millisecond}, 2)
	id := seedRefund(t, store, 160)

	require.NoError(t, d.Dispatch(context.Background(), id))
	require.Eventually(t, func() bool { return len(outcomes(t, store, id)) == 3 }, time.Second, 5*time.Millisecond)
	d.Close()

	attempts, err := store.Refunds.Attempts(context.Background(), id)
	require.NoError(t, err)
	last := attempts[len(attempts)-1]
	assert.Equal(t, domainpayments.AttemptExhausted, last.Outcome)
	assert.Equal(t, 2, last.Attempt)
	assert.Contains(t, last.Error, "provider unavailable")

	assert.ErrorIs(t, d.Dispatch(context.Background(), id), refunds.ErrDispatcherClosed)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, refundID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, refundID)
	return nil
}

func TestSweepResumesRefundCutShortByShutdown(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	manual := clock.NewManual(start)
	store := memory.NewStore(nil)
	gateway := &flakyGateway{failures: 1}
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: store}, Gateway: gateway, Clock: manual}
	id := seedRefundAt(t, store, "r-1", 160, start)

	first := refunds.NewInlineDispatcher(exec, []time.Duration{time.Hour}, 5)
	require.NoError(t, first.Dispatch(context.Background(), id))
	require.Eventually(t, func() bool { return len(outcomes(t, store, id)) == 1 }, time.Second, 5*time.Millisecond)
	first.Close()
	assert.Equal(t, []domainpayments.AttemptOutcome{domainpayments.AttemptFailed}, outcomes(t, store, id))

	second := refunds.NewInlineDispatcher(exec, []time.Duration{time.Millisecond}, 5)
	defer second.Close()
	sweeper := &refunds.Sweeper{
		UoWFactory: memory.Factory{Store: store},
		Dispatcher: second,
		Clock:      manual,
		IdleAfter:  10 * time.Minute,
	}

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a refund still inside its retry window is left alone")

	manual.Advance(time.Hour)
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool { return len(outcomes(t, store, id)) == 2 }, time.Second, 5*time.Millisecond)

	attempts, err := store.Refunds.Attempts(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domainpayments.AttemptSucceeded, attempts[1].Outcome)
	assert.Equal(t, 2, attempts[1].Attempt)
	assert.EqualValues(t, 2, gateway.calls.Load())

	manual.Advance(time.Hour)
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepFindsRefundNeverDispatched(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	lost := seedRefundAt(t, store, "r-lost", 160, start)
	seedRefundAt(t, store, "r-free", 0, start)
	paid := seedRefundAt(t, store, "r-paid", 90, start)
	require.NoError(t, store.Refunds.AppendAttempt(context.Background(), domainpayments.RefundAttempt{
		RefundID: paid, Attempt: 1, Outcome: domainpayments.AttemptSucceeded, At: start,
	}))

	dispatcher := &recordingDispatcher{}
	sweeper := &refunds.Sweeper{
		UoWFactory: memory.Factory{Store: store},
		Dispatcher: dispatcher,
		Clock:      clock.NewManual(start.Add(time.Hour)),
	}
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{lost}, dispatcher.ids)

	dispatcher.err = errors.New("redis unavailable")
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInlineDispatcherIgnoresRefundAlreadyInFlight(t *testing.T) {
	store := memory.NewStore(nil)
	gateway := &flakyGateway{failures: 100}
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: store}, Gateway: gateway}
	d := refunds.NewInlineDispatcher(exec, []time.Duration{time.Hour}, 5)
	defer d.Close()
	id := seedRefund(t, store, 160)

	require.NoError(t, d.Dispatch(context.Background(), id))
	require.Eventually(t, func() bool { return gateway.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Dispatch(context.Background(), id))
	assert.Never(t, func() bool { return gateway.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestInlineDispatcherExhaustsResumedRefundWithoutCalling(t *testing.T) {
	store := memory.NewStore(nil)
	gateway := &flakyGateway{}
	exec := &refunds.Executor{UoWFactory: memory.Factory{Store: store}, Gateway: gateway}
	id := seedRefund(t, store, 160)
	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, store.Refunds.AppendAttempt(context.Background(), domainpayments.RefundAttempt{
			RefundID: id, Attempt: attempt, Outcome: domainpayments.AttemptFailed, Error: "provider unavailable", At: time.Now().UTC(),
		}))
	}

	d := refunds.NewInlineDispatcher(exec, []time.Duration{time.Millisecond}, 2)
	require.NoError(t, d.Dispatch(context.Background(), id))
	require.Eventually(t, func() bool { return len(outcomes(t, store, id)) == 3 }, time.Second, 5*time.Millisecond)
	d.Close()

	attempts, err := store.Refunds.Attempts(context.Background(), id)
	require.NoError(t, err)
	last := attempts[len(attempts)-1]
	assert.Equal(t, domainpayments.AttemptExhausted, last.Outcome)
	assert.Contains(t, last.Error, "provider unavailable")
	assert.Zero(t, gateway.calls.Load())
}
