package holds

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
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
)

const reserveKey = "holds.reserve"

const DefaultTTL = 15 * time.Minute

type ReserveCommand struct {
	PropertyID      string `validate:"required"`
	CheckIn         string `validate:"required"`
	CheckOut        string `validate:"required"`
	Guests          int
	IdempotencyKeyV string
}

func (c ReserveCommand) Key() string { return reserveKey }

func (c ReserveCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c ReserveCommand) ResultPrototype() any { return &dto.Hold{} }

// ReserveHandler quotes the stay, claims the nights on the ledger and
// persists an ACTIVE hold. Quoting fails before the ledger is touched.
type ReserveHandler struct {
	UoWFactory uow.UoWFactory
	Clock      clock.Clock
	TTL        time.Duration
	NewID      func() string
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Metrics    policies.Metrics
	Logger     *slog.Logger
}

func (h *ReserveHandler) Handle(ctx context.Context, cmd ReserveCommand) (*dto.Hold, error) {
	dr, err := daterange.Parse(cmd.CheckIn, cmd.CheckOut)
	if err != nil {
		return nil, err
	}
	return support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (*dto.Hold, error) {
		now := h.now()
		listing, err := unit.Listings().ByID(ctx, domainlistings.ListingID(cmd.PropertyID))
		if err != nil {
			return nil, err
		}
		if err := listing.Bookable(); err != nil {
			return nil, err
		}
		quote, err := pricing.Calculate(listing.RateConfig(), dr, cmd.Guests)
		if err != nil {
			return nil, err
		}
		hold, err := domainholds.New(domainholds.CreateParams{
			ID:         domainholds.HoldID(h.newID()),
			PropertyID: listing.ID,
			Range:      dr,
			Guests:     cmd.Guests,
			Quote:      quote,
			Now:        now,
			TTL:        h.ttl(),
		})
		if err != nil {
			return nil, err
		}

		if err := unit.Ledger().TryClaim(ctx, listing.ID, dr, domainavailability.ClaimHold, string(hold.ID)); err != nil {
			if errors.Is(err, domainavailability.ErrConflict) {
				h.metrics().LedgerConflict(string(domainavailability.ClaimHold))
			}
			return nil, err
		}
		if err := unit.Holds().Create(ctx, hold); err != nil {
			return nil, err
		}
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, hold); err != nil {
			return nil, err
		}
		if err := uow.AfterCommit(ctx, func(context.Context) { h.metrics().HoldCreated() }); err != nil {
			return nil, err
		}

		h.logger().Info("hold created",
			"hold_id", hold.ID,
			"property_id", hold.PropertyID,
			"range", hold.Range.String(),
			"expires_at", hold.ExpiresAt,
		)
		res := dto.MapHold(hold)
		return &res, nil
	})
}

func (h *ReserveHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *ReserveHandler) ttl() time.Duration {
	if h.TTL > 0 {
		return h.TTL
	}
	return DefaultTTL
}

func (h *ReserveHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func (h *ReserveHandler) metrics() policies.Metrics {
	if h.Metrics != nil {
		return h.Metrics
	}
	return policies.NopMetrics{}
}

func (h *ReserveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ commands.Handler[ReserveCommand, *dto.Hold] = (*ReserveHandler)(nil)
var _ middleware.IdempotentCommand = ReserveCommand{}
