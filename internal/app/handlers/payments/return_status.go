package payments

import (
	"context"
	"errors"

	"staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
)

const returnStatusKey = "payments.return_status"

const StatusUnknown = "UNKNOWN"

// ReturnStatusQuery backs the provider return redirect. It only reads.
type ReturnStatusQuery struct {
	Provider  string
	BookingID string
}

func (q ReturnStatusQuery) Key() string { return returnStatusKey }

type ReturnStatus struct {
	BookingID string
	Status    string
}

type ReturnStatusHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ReturnStatusHandler) Handle(ctx context.Context, q ReturnStatusQuery) (ReturnStatus, error) {
	out := ReturnStatus{BookingID: q.BookingID, Status: StatusUnknown}
	if q.BookingID == "" {
		return out, nil
	}
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return out, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	booking, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(q.BookingID))
	if errors.Is(err, domainbooking.ErrBookingNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Status = string(booking.Status)
	return out, nil
}

var _ queries.Handler[ReturnStatusQuery, ReturnStatus] = (*ReturnStatusHandler)(nil)
