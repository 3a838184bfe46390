package availability

import (
	"context"

	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

const getCalendarKey = "availability.calendar"

type GetCalendarQuery struct {
	PropertyID string `validate:"required"`
	From       string `validate:"required"`
	To         string `validate:"required"`
}

func (q GetCalendarQuery) Key() string { return getCalendarKey }

type GetCalendarHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetCalendarHandler) Handle(ctx context.Context, q GetCalendarQuery) (dto.Calendar, error) {
	dr, err := daterange.Parse(q.From, q.To)
	if err != nil {
		return dto.Calendar{}, err
	}
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.Calendar{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	propertyID := domainlistings.ListingID(q.PropertyID)
	if _, err := unit.Listings().ByID(ctx, propertyID); err != nil {
		return dto.Calendar{}, err
	}
	days, err := unit.Ledger().QueryStatus(ctx, propertyID, dr)
	if err != nil {
		return dto.Calendar{}, err
	}
	return dto.MapCalendar(propertyID, dr, days), nil
}

var _ queries.Handler[GetCalendarQuery, dto.Calendar] = (*GetCalendarHandler)(nil)
