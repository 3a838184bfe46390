package dto

import (
	"time"

	"github.com/samber/lo"

	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

type MoneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func MapMoney(value money.Money) MoneyDTO {
	return MoneyDTO{Amount: value.Amount, Currency: value.Currency}
}

// Booking is the public booking document. ExpiresAt is only present while
// the booking awaits payment.
type Booking struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	PropertyID  string     `json:"propertyId"`
	CustomerID  string     `json:"customerId"`
	HoldID      string     `json:"holdId"`
	CheckIn     string     `json:"checkIn"`
	CheckOut    string     `json:"checkOut"`
	Guests      int        `json:"guests"`
	TotalAmount int64      `json:"totalAmount"`
	Currency    string     `json:"currency"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	PolicyID    string     `json:"cancellationPolicy"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func MapBooking(b *domainbooking.Booking) Booking {
	out := Booking{
		ID:          string(b.ID),
		Status:      string(b.Status),
		PropertyID:  string(b.PropertyID),
		CustomerID:  b.CustomerID,
		HoldID:      string(b.HoldID),
		CheckIn:     b.Range.CheckIn.Format(daterange.DayLayout),
		CheckOut:    b.Range.CheckOut.Format(daterange.DayLayout),
		Guests:      b.Guests,
		TotalAmount: b.Total.Amount,
		Currency:    b.Total.Currency,
		PolicyID:    b.Policy.ID,
		CreatedAt:   b.CreatedAt,
	}
	if b.Status == domainbooking.StatusPendingPayment {
		out.ExpiresAt = lo.ToPtr(b.PaymentExpiresAt)
	}
	return out
}

// Cancellation is the result of cancelling a booking.
type Cancellation struct {
	BookingID string   `json:"bookingId"`
	Status    string   `json:"status"`
	RefundID  string   `json:"refundId,omitempty"`
	Refund    MoneyDTO `json:"refund"`
	Penalty   MoneyDTO `json:"penalty"`
	Percent   int      `json:"refundPercent"`
	Rationale string   `json:"rationale"`
}
