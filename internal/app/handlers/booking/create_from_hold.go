package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/middleware"
	"staybook/internal/app/outbox"
	"staybook/internal/app/schedule"
	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/cancellation"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
)

const createFromHoldKey = "booking.create_from_hold"

type CreateFromHoldCommand struct {
	HoldID          string `validate:"required"`
	CustomerID      string `validate:"required"`
	IdempotencyKeyV string
}

func (c CreateFromHoldCommand) Key() string { return createFromHoldKey }

func (c CreateFromHoldCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c CreateFromHoldCommand) ResultPrototype() any { return &dto.Booking{} }

// CreateFromHoldHandler consumes a hold and turns its claim into a
// PENDING_PAYMENT booking in one unit of work.
type CreateFromHoldHandler struct {
	UoWFactory uow.UoWFactory
	Policies   *cancellation.Book
	Clock      clock.Clock
	NewID      func() string
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Scheduler  schedule.Scheduler
	Logger     *slog.Logger
}

func (h *CreateFromHoldHandler) Handle(ctx context.Context, cmd CreateFromHoldCommand) (*dto.Booking, error) {
	return support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (*dto.Booking, error) {
		now := h.now()
		hold, err := h.consume(ctx, unit, domainholds.HoldID(cmd.HoldID), now)
		if err != nil {
			return nil, err
		}

		policy := h.policyFor(ctx, unit, hold)
		booking, err := domainbooking.FromHold(domainbooking.BookingID(h.newID()), hold, cmd.CustomerID, policy, now)
		if err != nil {
			return nil, err
		}
		if err := unit.Ledger().Repoint(ctx, hold.PropertyID, hold.Range, string(hold.ID), string(booking.ID), domainavailability.ClaimBooking); err != nil {
			return nil, err
		}
		if err := unit.Bookings().Save(ctx, booking); err != nil {
			return nil, err
		}
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, hold, booking); err != nil {
			return nil, err
		}

		if h.Scheduler != nil {
			if err := uow.AfterCommit(ctx, func(ctx context.Context) { h.scheduleExpiry(ctx, booking) }); err != nil {
				return nil, err
			}
		}

		h.logger().Info("booking created",
			"booking_id", booking.ID,
			"hold_id", hold.ID,
			"property_id", booking.PropertyID,
			"total", booking.Total.Amount,
			"currency", booking.Total.Currency,
			"payment_expires_at", booking.PaymentExpiresAt,
		)
		res := dto.MapBooking(booking)
		return &res, nil
	})
}

// consume moves the hold to CONSUMED. When another writer got there first the
// hold is reloaded so the caller sees why it can no longer be used.
func (h *CreateFromHoldHandler) consume(ctx context.Context, unit uow.UnitOfWork, id domainholds.HoldID, now time.Time) (*domainholds.Hold, error) {
	hold, err := unit.Holds().ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := hold.Consume(now); err != nil {
		return nil, err
	}
	err = unit.Holds().Save(ctx, hold)
	if err == nil {
		return hold, nil
	}
	if !errors.Is(err, domainholds.ErrConcurrentUpdate) {
		return nil, err
	}
	fresh, loadErr := unit.Holds().ByID(ctx, id)
	if loadErr != nil {
		return nil, errors.Join(err, loadErr)
	}
	if consumeErr := fresh.Consume(now); consumeErr != nil {
		return nil, consumeErr
	}
	return nil, err
}

// policyFor snapshots the live policy of the hold's property. The quote is
// re-derived from current rates only to flag drift; the hold total stands.
func (h *CreateFromHoldHandler) policyFor(ctx context.Context, unit uow.UnitOfWork, hold *domainholds.Hold) cancellation.Policy {
	policyID := ""
	listing, err := unit.Listings().ByID(ctx, hold.PropertyID)
	switch {
	case err == nil:
		policyID = listing.CancellationPolicyID
		h.checkStaleQuote(listing, hold)
	case errors.Is(err, domainlistings.ErrListingNotFound):
		h.logger().Warn("listing missing for hold, using default policy", "hold_id", hold.ID, "property_id", hold.PropertyID)
	default:
		h.logger().Error("listing lookup failed, using default policy", "hold_id", hold.ID, "error", err)
	}
	if h.Policies == nil {
		return cancellation.Policy{ID: policyID}
	}
	return h.Policies.Lookup(policyID)
}

func (h *CreateFromHoldHandler) checkStaleQuote(listing *domainlistings.Listing, hold *domainholds.Hold) {
	current, err := pricing.Calculate(listing.RateConfig(), hold.Range, hold.Guests)
	if err != nil || current.Total == hold.Quote.Total {
		return
	}
	h.logger().Warn("stale quote honored",
		"hold_id", hold.ID,
		"quoted_total", hold.Quote.Total,
		"current_total", current.Total,
		"currency", hold.Quote.Currency,
	)
}

// scheduleExpiry asks for a reaper pass right at the payment deadline. The
// periodic reaper still covers bookings whose job is lost.
func (h *CreateFromHoldHandler) scheduleExpiry(ctx context.Context, booking *domainbooking.Booking) {
	payload := schedule.ExpiryPayload{BookingID: string(booking.ID)}
	if err := h.Scheduler.Schedule(ctx, schedule.JobExpireBookings, payload, booking.PaymentExpiresAt); err != nil {
		h.logger().Warn("booking expiry not scheduled", "booking_id", booking.ID, "error", err)
	}
}

func (h *CreateFromHoldHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *CreateFromHoldHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func (h *CreateFromHoldHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ commands.Handler[CreateFromHoldCommand, *dto.Booking] = (*CreateFromHoldHandler)(nil)
var _ middleware.IdempotentCommand = CreateFromHoldCommand{}
