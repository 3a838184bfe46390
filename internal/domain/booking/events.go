package booking

import (
	"time"

	"staybook/internal/domain/holds"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

type BookingCreated struct {
	BookingID        BookingID
	PropertyID       listings.ListingID
	CustomerID       string
	HoldID           holds.HoldID
	Range            daterange.DateRange
	Total            money.Money
	PaymentExpiresAt time.Time
	At               time.Time
}

func (e BookingCreated) EventName() string     { return "booking.created" }
func (e BookingCreated) AggregateID() string   { return string(e.BookingID) }
func (e BookingCreated) OccurredAt() time.Time { return e.At }

type BookingConfirmed struct {
	BookingID  BookingID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	Total      money.Money
	At         time.Time
}

func (e BookingConfirmed) EventName() string     { return "booking.confirmed" }
func (e BookingConfirmed) AggregateID() string   { return string(e.BookingID) }
func (e BookingConfirmed) OccurredAt() time.Time { return e.At }

type BookingExpired struct {
	BookingID  BookingID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	Reason     string
	At         time.Time
}

func (e BookingExpired) EventName() string     { return "booking.expired" }
func (e BookingExpired) AggregateID() string   { return string(e.BookingID) }
func (e BookingExpired) OccurredAt() time.Time { return e.At }

type BookingCancelled struct {
	BookingID  BookingID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	Status     Status
	Refund     money.Money
	Penalty    money.Money
	Reason     string
	At         time.Time
}

func (e BookingCancelled) EventName() string     { return "booking.cancelled" }
func (e BookingCancelled) AggregateID() string   { return string(e.BookingID) }
func (e BookingCancelled) OccurredAt() time.Time { return e.At }
