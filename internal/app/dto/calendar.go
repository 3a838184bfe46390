package dto

import (
	"github.com/samber/lo"

	"staybook/internal/domain/availability"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

type CalendarDay struct {
	Date    string `json:"date"`
	Status  string `json:"status"`
	ClaimID string `json:"claimId,omitempty"`
}

type Calendar struct {
	PropertyID string        `json:"propertyId"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	Days       []CalendarDay `json:"days"`
}

func MapCalendar(propertyID listings.ListingID, dr daterange.DateRange, days []availability.CalendarDay) Calendar {
	return Calendar{
		PropertyID: string(propertyID),
		From:       dr.CheckIn.Format(daterange.DayLayout),
		To:         dr.CheckOut.Format(daterange.DayLayout),
		Days: lo.Map(days, func(d availability.CalendarDay, _ int) CalendarDay {
			return CalendarDay{
				Date:    d.Date.Format(daterange.DayLayout),
				Status:  string(d.Status),
				ClaimID: d.ClaimID,
			}
		}),
	}
}
