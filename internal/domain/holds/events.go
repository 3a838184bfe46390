package holds

import (
	"time"

	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

type HoldCreated struct {
	HoldID     HoldID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	Total      money.Money
	ExpiresAt  time.Time
	At         time.Time
}

func (e HoldCreated) EventName() string     { return "hold.created" }
func (e HoldCreated) AggregateID() string   { return string(e.HoldID) }
func (e HoldCreated) OccurredAt() time.Time { return e.At }

type HoldConsumed struct {
	HoldID     HoldID
	PropertyID listings.ListingID
	At         time.Time
}

func (e HoldConsumed) EventName() string     { return "hold.consumed" }
func (e HoldConsumed) AggregateID() string   { return string(e.HoldID) }
func (e HoldConsumed) OccurredAt() time.Time { return e.At }

type HoldExpired struct {
	HoldID     HoldID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	At         time.Time
}

func (e HoldExpired) EventName() string     { return "hold.expired" }
func (e HoldExpired) AggregateID() string   { return string(e.HoldID) }
func (e HoldExpired) OccurredAt() time.Time { return e.At }
