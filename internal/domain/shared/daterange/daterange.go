package daterange

import (
	"errors"
	"fmt"
	"time"
)

// DayLayout is the calendar-day wire format used across the ledger.
const DayLayout = "2006-01-02"

// MaxNights caps every range, both stays and calendar windows, so one
// request never touches more than a year of ledger rows.
const MaxNights = 366

var (
	ErrInvalidRange = errors.New("daterange: checkout must be after checkin")
	ErrRangeTooLong = fmt.Errorf("%w: range exceeds %d nights", ErrInvalidRange, MaxNights)
)

// DateRange represents a half-open interval of nights [checkIn, checkOut).
// Both bounds are normalized to UTC midnight.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

func New(checkIn, checkOut time.Time) (DateRange, error) {
	dr := DateRange{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
	if err := dr.Validate(); err != nil {
		return DateRange{}, err
	}
	return dr, nil
}

// Parse builds a range from two YYYY-MM-DD strings.
func Parse(checkIn, checkOut string) (DateRange, error) {
	in, err := time.Parse(DayLayout, checkIn)
	if err != nil {
		return DateRange{}, errors.Join(ErrInvalidRange, err)
	}
	out, err := time.Parse(DayLayout, checkOut)
	if err != nil {
		return DateRange{}, errors.Join(ErrInvalidRange, err)
	}
	return New(in, out)
}

// Day truncates t to the UTC calendar day it falls on.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (dr DateRange) Validate() error {
	if dr.CheckOut.IsZero() || dr.CheckIn.IsZero() {
		return ErrInvalidRange
	}
	if !dr.CheckOut.After(dr.CheckIn) {
		return ErrInvalidRange
	}
	if dr.Nights() > MaxNights {
		return ErrRangeTooLong
	}
	return nil
}

func (dr DateRange) Nights() int {
	return int(dr.CheckOut.Sub(dr.CheckIn).Hours() / 24)
}

// Days lists every night in the range, check-in included and check-out excluded.
func (dr DateRange) Days() []time.Time {
	n := dr.Nights()
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	for d := dr.CheckIn; d.Before(dr.CheckOut); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func (dr DateRange) Overlaps(other DateRange) bool {
	return dr.CheckIn.Before(other.CheckOut) && other.CheckIn.Before(dr.CheckOut)
}

func (dr DateRange) Contains(other DateRange) bool {
	return (dr.CheckIn.Before(other.CheckIn) || dr.CheckIn.Equal(other.CheckIn)) &&
		(dr.CheckOut.After(other.CheckOut) || dr.CheckOut.Equal(other.CheckOut))
}

func (dr DateRange) ContainsDate(t time.Time) bool {
	t = t.UTC()
	return (t.Equal(dr.CheckIn) || t.After(dr.CheckIn)) && t.Before(dr.CheckOut)
}

func (dr DateRange) String() string {
	return dr.CheckIn.Format(DayLayout) + "/" + dr.CheckOut.Format(DayLayout)
}
