package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

var (
	ErrConflict      = errors.New("availability: dates unavailable")
	ErrClaimMismatch = errors.New("availability: days are not owned by the claim")
	ErrInvalidClaim  = errors.New("availability: claim id and kind are required")
)

type DayStatus string

const (
	StatusAvailable DayStatus = "AVAILABLE"
	StatusHold      DayStatus = "HOLD"
	StatusBooked    DayStatus = "BOOKED"
	StatusBlocked   DayStatus = "BLOCKED"
)

type ClaimKind string

const (
	ClaimHold    ClaimKind = "HOLD"
	ClaimBooking ClaimKind = "BOOKING"
	ClaimBlock   ClaimKind = "BLOCK"
)

// Status maps a claim kind to the day status it produces.
func (k ClaimKind) Status() DayStatus {
	switch k {
	case ClaimHold:
		return StatusHold
	case ClaimBooking:
		return StatusBooked
	case ClaimBlock:
		return StatusBlocked
	default:
		return StatusAvailable
	}
}

func (k ClaimKind) Valid() bool {
	return k == ClaimHold || k == ClaimBooking || k == ClaimBlock
}

// CalendarDay is the occupancy of one night. ClaimID is empty when AVAILABLE.
type CalendarDay struct {
	PropertyID listings.ListingID
	Date       time.Time
	Status     DayStatus
	ClaimID    string
}

// Ledger is the single authority over per-day occupancy. Every claim is
// all-or-nothing across the days of the range.
type Ledger interface {
	// TryClaim marks every day of the range with claimID, or none of them.
	// A taken day yields *ConflictError.
	TryClaim(ctx context.Context, propertyID listings.ListingID, dr daterange.DateRange, kind ClaimKind, claimID string) error
	// Release frees the days of the range owned by claimID; days owned by
	// anyone else are left untouched.
	Release(ctx context.Context, propertyID listings.ListingID, dr daterange.DateRange, claimID string) error
	// Repoint hands every day owned by fromClaimID to toClaimID without the
	// days ever becoming AVAILABLE.
	Repoint(ctx context.Context, propertyID listings.ListingID, dr daterange.DateRange, fromClaimID, toClaimID string, kind ClaimKind) error
	// QueryStatus returns one entry per night of the range.
	QueryStatus(ctx context.Context, propertyID listings.ListingID, dr daterange.DateRange) ([]CalendarDay, error)
}

// Locker serializes ledger writes per property across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockKey is the advisory lock name for a property's calendar.
func LockKey(propertyID listings.ListingID) string {
	return "ledger:" + string(propertyID)
}

// ConflictError lists the nights that prevented a claim.
type ConflictError struct {
	PropertyID listings.ListingID
	Dates      []time.Time
}

// NewConflict builds a conflict with sorted, de-duplicated dates.
func NewConflict(propertyID listings.ListingID, dates []time.Time) *ConflictError {
	uniq := lo.UniqBy(dates, func(d time.Time) int64 { return daterange.Day(d).Unix() })
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Before(uniq[j]) })
	return &ConflictError{PropertyID: propertyID, Dates: uniq}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("availability: property %s unavailable on %s", e.PropertyID, strings.Join(e.ConflictingDates(), ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConflictingDates renders the dates as YYYY-MM-DD.
func (e *ConflictError) ConflictingDates() []string {
	return lo.Map(e.Dates, func(d time.Time, _ int) string { return d.Format(daterange.DayLayout) })
}

// Fill expands claimed days into a full per-night view of the range, marking
// every unclaimed night AVAILABLE.
func Fill(propertyID listings.ListingID, dr daterange.DateRange, claimed []CalendarDay) []CalendarDay {
	byDay := lo.KeyBy(claimed, func(d CalendarDay) int64 { return daterange.Day(d.Date).Unix() })
	days := dr.Days()
	out := make([]CalendarDay, 0, len(days))
	for _, day := range days {
		if c, ok := byDay[day.Unix()]; ok {
			c.PropertyID = propertyID
			c.Date = day
			out = append(out, c)
			continue
		}
		out = append(out, CalendarDay{PropertyID: propertyID, Date: day, Status: StatusAvailable})
	}
	return out
}

// ValidateClaim checks arguments shared by every ledger implementation.
func ValidateClaim(dr daterange.DateRange, kind ClaimKind, claimID string) error {
	if err := dr.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(claimID) == "" || !kind.Valid() {
		return ErrInvalidClaim
	}
	return nil
}
