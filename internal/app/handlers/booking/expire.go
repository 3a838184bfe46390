package booking

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
	domainbooking "staybook/internal/domain/booking"
)

const expireBookingsKey = "booking.expire"

const paymentWindowElapsed = "payment window elapsed"

type ExpireBookingsCommand struct {
	Limit int `validate:"gte=0"`
}

func (c ExpireBookingsCommand) Key() string { return expireBookingsKey }

// OpensOwnUnits keeps the command out of the shared transaction: every
// booking expires in its own unit.
func (ExpireBookingsCommand) OpensOwnUnits() {}

type ExpireBookingsResult struct {
	Scanned int
	Expired int
	Failed  int
}

// ExpireBookingsHandler is the payment-deadline reaper.
type ExpireBookingsHandler struct {
	UoWFactory uow.UoWFactory
	Clock      clock.Clock
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Metrics    policies.Metrics
	Logger     *slog.Logger
}

func (h *ExpireBookingsHandler) Handle(ctx context.Context, cmd ExpireBookingsCommand) (*ExpireBookingsResult, error) {
	now := h.now()
	limit := cmd.Limit
	if limit <= 0 {
		limit = 100
	}
	due, err := h.due(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	res := &ExpireBookingsResult{Scanned: len(due)}
	for _, id := range due {
		id := id // per-iteration copy; go.mod targets go1.21 loop semantics
		expired, err := support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (bool, error) {
			return h.expire(ctx, unit, id, now)
		})
		switch {
		case err != nil:
			res.Failed++
			h.logger().Error("booking expiry failed", "booking_id", id, "error", err)
		case expired:
			res.Expired++
		}
	}
	if res.Expired > 0 {
		h.metrics().BookingsExpired(res.Expired)
		h.logger().Info("bookings expired", "count", res.Expired, "failed", res.Failed)
	}
	return res, nil
}

func (h *ExpireBookingsHandler) due(ctx context.Context, now time.Time, limit int) ([]domainbooking.BookingID, error) {
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	bookings, err := unit.Bookings().ListPaymentExpired(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]domainbooking.BookingID, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// expire reloads the booking inside unit and reports whether this call moved
// it to EXPIRED. A webhook that confirmed in between wins.
func (h *ExpireBookingsHandler) expire(ctx context.Context, unit uow.UnitOfWork, id domainbooking.BookingID, now time.Time) (bool, error) {
	booking, err := unit.Bookings().ByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !booking.PaymentOverdue(now) || !booking.Expire(paymentWindowElapsed, now) {
		h.logger().Debug("booking settled before expiry", "booking_id", id, "status", booking.Status)
		return false, nil
	}
	if err := unit.Bookings().Save(ctx, booking); err != nil {
		if errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			return false, nil
		}
		return false, err
	}
	if err := unit.Ledger().Release(ctx, booking.PropertyID, booking.Range, string(booking.ID)); err != nil {
		return false, err
	}
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, booking); err != nil {
		return false, err
	}
	return true, nil
}

func (h *ExpireBookingsHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *ExpireBookingsHandler) metrics() policies.Metrics {
	if h.Metrics != nil {
		return h.Metrics
	}
	return policies.NopMetrics{}
}

func (h *ExpireBookingsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ commands.Handler[ExpireBookingsCommand, *ExpireBookingsResult] = (*ExpireBookingsHandler)(nil)
