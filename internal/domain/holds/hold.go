package holds

import (
	"context"
	"errors"
	"time"

	"staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/events"
	"staybook/internal/domain/shared/money"
)

var (
	ErrHoldNotFound     = errors.New("holds: hold not found")
	ErrHoldExpired      = errors.New("holds: hold expired")
	ErrHoldNotActive    = errors.New("holds: hold is no longer active")
	ErrHoldNotDue       = errors.New("holds: hold has not reached its expiry")
	ErrConcurrentUpdate = errors.New("holds: concurrent update detected")
	ErrInvalidTTL       = errors.New("holds: ttl must be positive")
	ErrPropertyRequired = errors.New("holds: property id required")
	ErrCheckInPast      = errors.New("holds: check-in date is in the past")
)

type HoldID string

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusConsumed Status = "CONSUMED"
	StatusExpired  Status = "EXPIRED"
)

// Hold is a short-lived exclusive claim on a property's dates taken before payment.
// It leaves ACTIVE exactly once, either by consumption or by expiry.
type Hold struct {
	ID         HoldID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	Guests     int
	Quote      pricing.Quote
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UpdatedAt  time.Time
	Version    int64
	events.EventRecorder
}

type Repository interface {
	Create(ctx context.Context, hold *Hold) error
	ByID(ctx context.Context, id HoldID) (*Hold, error)
	// Save persists a status change only if the stored version still equals
	// hold.Version, returning ErrConcurrentUpdate otherwise.
	Save(ctx context.Context, hold *Hold) error
	// ListExpired returns ACTIVE holds whose expiry is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Hold, error)
}

type CreateParams struct {
	ID         HoldID
	PropertyID listings.ListingID
	Range      daterange.DateRange
	Guests     int
	Quote      pricing.Quote
	Now        time.Time
	TTL        time.Duration
}

func New(params CreateParams) (*Hold, error) {
	if params.PropertyID == "" {
		return nil, ErrPropertyRequired
	}
	if params.TTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if err := params.Range.Validate(); err != nil {
		return nil, err
	}
	now := params.Now.UTC()
	if params.Range.CheckIn.Before(daterange.Day(now)) {
		return nil, ErrCheckInPast
	}
	h := &Hold{
		ID:         params.ID,
		PropertyID: params.PropertyID,
		Range:      params.Range,
		Guests:     params.Guests,
		Quote:      params.Quote,
		Status:     StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(params.TTL),
		UpdatedAt:  now,
	}
	h.Record(HoldCreated{HoldID: h.ID, PropertyID: h.PropertyID, Range: h.Range, Total: h.QuotedTotal(), ExpiresAt: h.ExpiresAt, At: now})
	return h, nil
}

// QuotedTotal is the price promised to the guest when the hold was taken.
func (h *Hold) QuotedTotal() money.Money {
	return h.Quote.TotalMoney()
}

// ExpiredAt reports whether the hold's TTL has elapsed at now.
func (h *Hold) ExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Consume moves an ACTIVE, unexpired hold to CONSUMED.
func (h *Hold) Consume(now time.Time) error {
	switch h.Status {
	case StatusConsumed:
		return ErrHoldNotActive
	case StatusExpired:
		return ErrHoldExpired
	}
	if h.ExpiredAt(now) {
		return ErrHoldExpired
	}
	h.Status = StatusConsumed
	h.UpdatedAt = now.UTC()
	h.Record(HoldConsumed{HoldID: h.ID, PropertyID: h.PropertyID, At: h.UpdatedAt})
	return nil
}

// Expire moves an ACTIVE hold past its expiry to EXPIRED.
func (h *Hold) Expire(now time.Time) error {
	if h.Status != StatusActive {
		return ErrHoldNotActive
	}
	if !h.ExpiredAt(now) {
		return ErrHoldNotDue
	}
	h.Status = StatusExpired
	h.UpdatedAt = now.UTC()
	h.Record(HoldExpired{HoldID: h.ID, PropertyID: h.PropertyID, Range: h.Range, At: h.UpdatedAt})
	return nil
}

// Clone returns a copy without pending events.
func (h *Hold) Clone() *Hold {
	cp := *h
	cp.EventRecorder = events.EventRecorder{}
	return &cp
}
