package quote

import (
	"context"

	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
)

const getQuoteKey = "pricing.quote"

type GetQuoteQuery struct {
	PropertyID string `validate:"required"`
	CheckIn    string `validate:"required"`
	CheckOut   string `validate:"required"`
	Guests     int
}

func (q GetQuoteQuery) Key() string { return getQuoteKey }

type GetQuoteHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetQuoteHandler) Handle(ctx context.Context, q GetQuoteQuery) (dto.Quote, error) {
	dr, err := daterange.Parse(q.CheckIn, q.CheckOut)
	if err != nil {
		return dto.Quote{}, err
	}
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.Quote{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	listing, err := unit.Listings().ByID(ctx, domainlistings.ListingID(q.PropertyID))
	if err != nil {
		return dto.Quote{}, err
	}
	if err := listing.Bookable(); err != nil {
		return dto.Quote{}, err
	}
	quote, err := pricing.Calculate(listing.RateConfig(), dr, q.Guests)
	if err != nil {
		return dto.Quote{}, err
	}
	return dto.MapQuote(quote), nil
}

var _ queries.Handler[GetQuoteQuery, dto.Quote] = (*GetQuoteHandler)(nil)
