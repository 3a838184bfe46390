package payments

import (
	"time"

	"staybook/internal/domain/booking"
	"staybook/internal/domain/shared/money"
)

type RefundRecorded struct {
	RefundID  string
	BookingID booking.BookingID
	Amount    money.Money
	Penalty   money.Money
	Rationale string
	At        time.Time
}

func (e RefundRecorded) EventName() string     { return "refund.recorded" }
func (e RefundRecorded) AggregateID() string   { return string(e.BookingID) }
func (e RefundRecorded) OccurredAt() time.Time { return e.At }
