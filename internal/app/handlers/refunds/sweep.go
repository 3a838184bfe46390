package refunds

import (
	"context"
	"log/slog"
	"time"

	"staybook/internal/app/clock"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
)

const (
	defaultSweepIdle  = 10 * time.Minute
	defaultSweepBatch = 100
)

// Sweeper hands refunds that went quiet without a final outcome back to the
// dispatcher. It covers a dispatch that failed after commit and retries cut
// short by a shutdown.
type Sweeper struct {
	UoWFactory uow.UoWFactory
	Dispatcher policies.RefundDispatcher
	Clock      clock.Clock
	// IdleAfter is how long a refund must go without an attempt before it
	// counts as dropped. It has to exceed the longest backoff step.
	IdleAfter time.Duration
	Batch     int
	Metrics   policies.Metrics
	Logger    *slog.Logger
}

// Sweep runs one pass and returns how many refunds were dispatched again.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.Dispatcher == nil {
		return 0, nil
	}
	ids, err := s.unsettled(ctx)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, id := range ids {
		if err := s.Dispatcher.Dispatch(ctx, id); err != nil {
			s.logger().Error("refund requeue failed", "refund_id", id, "error", err, "alert", true)
			continue
		}
		requeued++
		s.metrics().RefundDispatch("REQUEUED")
		s.logger().Warn("refund requeued", "refund_id", id)
	}
	return requeued, nil
}

func (s *Sweeper) unsettled(ctx context.Context) ([]string, error) {
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, s.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	idle := s.IdleAfter
	if idle <= 0 {
		idle = defaultSweepIdle
	}
	batch := s.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	refunds, err := unit.Refunds().ListUnsettled(ctx, s.now().Add(-idle), batch)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refunds))
	for _, r := range refunds {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Sweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) metrics() policies.Metrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return policies.NopMetrics{}
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
