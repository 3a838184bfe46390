package holds

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainholds "staybook/internal/domain/holds"
)

const expireHoldsKey = "holds.expire"

type ExpireHoldsCommand struct {
	Limit int `validate:"gte=0"`
}

func (c ExpireHoldsCommand) Key() string { return expireHoldsKey }

// OpensOwnUnits keeps the command out of the shared transaction: every hold
// expires in its own unit.
func (ExpireHoldsCommand) OpensOwnUnits() {}

type ExpireHoldsResult struct {
	Scanned int
	Expired int
	Failed  int
}

// ExpireHoldsHandler is the hold reaper. Only the caller that wins the
// ACTIVE -> EXPIRED write releases the ledger days. A failure on one hold is
// logged and does not undo the others.
type ExpireHoldsHandler struct {
	UoWFactory uow.UoWFactory
	Clock      clock.Clock
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Metrics    policies.Metrics
	Logger     *slog.Logger
}

func (h *ExpireHoldsHandler) Handle(ctx context.Context, cmd ExpireHoldsCommand) (*ExpireHoldsResult, error) {
	now := h.now()
	due, err := h.due(ctx, now, limitOrDefault(cmd.Limit))
	if err != nil {
		return nil, err
	}
	res := &ExpireHoldsResult{Scanned: len(due)}
	for _, id := range due {
		id := id // per-iteration copy; go.mod targets go1.21 loop semantics
		expired, err := support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (bool, error) {
			return h.expire(ctx, unit, id, now)
		})
		switch {
		case err != nil:
			res.Failed++
			h.logger().Error("hold expiry failed", "hold_id", id, "error", err)
		case expired:
			res.Expired++
		}
	}
	if res.Expired > 0 {
		h.metrics().HoldsExpired(res.Expired)
		h.logger().Info("holds expired", "count", res.Expired, "failed", res.Failed)
	}
	return res, nil
}

func (h *ExpireHoldsHandler) due(ctx context.Context, now time.Time, limit int) ([]domainholds.HoldID, error) {
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	holds, err := unit.Holds().ListExpired(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]domainholds.HoldID, 0, len(holds))
	for _, hold := range holds {
		ids = append(ids, hold.ID)
	}
	return ids, nil
}

// expire reloads the hold inside unit and reports whether this call moved it
// to EXPIRED. Losing to a concurrent consume is not an error.
func (h *ExpireHoldsHandler) expire(ctx context.Context, unit uow.UnitOfWork, id domainholds.HoldID, now time.Time) (bool, error) {
	hold, err := unit.Holds().ByID(ctx, id)
	if err != nil {
		return false, err
	}
	if err := hold.Expire(now); err != nil {
		return false, nil
	}
	if err := unit.Holds().Save(ctx, hold); err != nil {
		if errors.Is(err, domainholds.ErrConcurrentUpdate) {
			h.logger().Debug("hold changed before expiry, skipping", "hold_id", hold.ID)
			return false, nil
		}
		return false, err
	}
	if err := unit.Ledger().Release(ctx, hold.PropertyID, hold.Range, string(hold.ID)); err != nil {
		return false, err
	}
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, hold); err != nil {
		return false, err
	}
	return true, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (h *ExpireHoldsHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *ExpireHoldsHandler) metrics() policies.Metrics {
	if h.Metrics != nil {
		return h.Metrics
	}
	return policies.NopMetrics{}
}

func (h *ExpireHoldsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ commands.Handler[ExpireHoldsCommand, *ExpireHoldsResult] = (*ExpireHoldsHandler)(nil)
