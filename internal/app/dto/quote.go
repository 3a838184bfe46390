package dto

import (
	"time"

	domainholds "staybook/internal/domain/holds"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
)

type Quote struct {
	Nights       int    `json:"nights"`
	NightlyRate  int64  `json:"nightlyRate"`
	NightlyTotal int64  `json:"nightlyTotal"`
	CleaningFee  int64  `json:"cleaningFee"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
}

func MapQuote(q pricing.Quote) Quote {
	return Quote(q)
}

type Hold struct {
	HoldID     string    `json:"holdId"`
	PropertyID string    `json:"propertyId"`
	CheckIn    string    `json:"checkIn"`
	CheckOut   string    `json:"checkOut"`
	Guests     int       `json:"guests"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Quote      Quote     `json:"quote"`
}

func MapHold(h *domainholds.Hold) Hold {
	return Hold{
		HoldID:     string(h.ID),
		PropertyID: string(h.PropertyID),
		CheckIn:    h.Range.CheckIn.Format(daterange.DayLayout),
		CheckOut:   h.Range.CheckOut.Format(daterange.DayLayout),
		Guests:     h.Guests,
		Status:     string(h.Status),
		ExpiresAt:  h.ExpiresAt,
		Quote:      MapQuote(h.Quote),
	}
}
