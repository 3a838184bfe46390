package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"staybook/internal/domain/cancellation"
	"staybook/internal/domain/holds"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/events"
	"staybook/internal/domain/shared/money"
)

var (
	ErrBookingNotFound  = errors.New("booking: not found")
	ErrCustomerRequired = errors.New("booking: customer id required")
	ErrConcurrentUpdate = errors.New("booking: concurrent update detected")
	ErrHoldNotConsumed  = errors.New("booking: hold must be consumed before booking")
	ErrInvalidTotal     = errors.New("booking: total must be positive")
)

type BookingID string

type Status string

const (
	StatusPendingPayment    Status = "PENDING_PAYMENT"
	StatusConfirmed         Status = "CONFIRMED"
	StatusCancelled         Status = "CANCELLED"
	StatusExpired           Status = "EXPIRED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Booking is the durable, payment-gated reservation. It is never deleted;
// every end of life is a status.
type Booking struct {
	ID               BookingID
	PropertyID       listings.ListingID
	CustomerID       string
	HoldID           holds.HoldID
	Range            daterange.DateRange
	Guests           int
	Quote            pricing.Quote
	Total            money.Money
	Status           Status
	Policy           cancellation.Policy
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaymentExpiresAt time.Time
	Version          int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	// Save inserts when Version is zero, otherwise updates only if the stored
	// version matches, returning ErrConcurrentUpdate on a lost race.
	Save(ctx context.Context, booking *Booking) error
	// ListPaymentExpired returns PENDING_PAYMENT bookings due at or before now.
	ListPaymentExpired(ctx context.Context, now time.Time, limit int) ([]*Booking, error)
	ListByProperty(ctx context.Context, propertyID listings.ListingID) ([]*Booking, error)
}

// FromHold builds a PENDING_PAYMENT booking out of a consumed hold. The
// payment deadline is the hold's own expiry and the total is the quoted one.
func FromHold(id BookingID, hold *holds.Hold, customerID string, policy cancellation.Policy, now time.Time) (*Booking, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrCustomerRequired
	}
	if hold.Status != holds.StatusConsumed {
		return nil, ErrHoldNotConsumed
	}
	total := hold.QuotedTotal()
	if total.Amount <= 0 {
		return nil, ErrInvalidTotal
	}
	now = now.UTC()
	b := &Booking{
		ID:               id,
		PropertyID:       hold.PropertyID,
		CustomerID:       strings.TrimSpace(customerID),
		HoldID:           hold.ID,
		Range:            hold.Range,
		Guests:           hold.Guests,
		Quote:            hold.Quote,
		Total:            total,
		Status:           StatusPendingPayment,
		Policy:           policy.Snapshot(),
		CreatedAt:        now,
		UpdatedAt:        now,
		PaymentExpiresAt: hold.ExpiresAt,
	}
	b.Record(BookingCreated{BookingID: b.ID, PropertyID: b.PropertyID, CustomerID: b.CustomerID, HoldID: b.HoldID, Range: b.Range, Total: b.Total, PaymentExpiresAt: b.PaymentExpiresAt, At: now})
	return b, nil
}

// Confirm applies PENDING_PAYMENT -> CONFIRMED. From any other status it is
// a no-op and reports false.
func (b *Booking) Confirm(now time.Time) bool {
	if b.Status != StatusPendingPayment {
		return false
	}
	b.Status = StatusConfirmed
	b.UpdatedAt = now.UTC()
	b.Record(BookingConfirmed{BookingID: b.ID, PropertyID: b.PropertyID, Range: b.Range, Total: b.Total, At: b.UpdatedAt})
	return true
}

// Expire applies PENDING_PAYMENT -> EXPIRED, a no-op otherwise.
func (b *Booking) Expire(reason string, now time.Time) bool {
	if b.Status != StatusPendingPayment {
		return false
	}
	b.Status = StatusExpired
	b.UpdatedAt = now.UTC()
	b.Record(BookingExpired{BookingID: b.ID, PropertyID: b.PropertyID, Range: b.Range, Reason: reason, At: b.UpdatedAt})
	return true
}

// PaymentOverdue reports whether a pending booking is past its payment deadline.
func (b *Booking) PaymentOverdue(now time.Time) bool {
	return b.Status == StatusPendingPayment && !now.Before(b.PaymentExpiresAt)
}

// EvaluateCancellation applies the booking's own policy snapshot at now.
func (b *Booking) EvaluateCancellation(now time.Time) (cancellation.Decision, error) {
	if b.Status != StatusConfirmed {
		return cancellation.Decision{}, cancellation.ErrNotCancellable
	}
	return cancellation.Evaluate(b.Policy, b.Total, b.Range.CheckIn, now)
}

// Cancel applies CONFIRMED -> REFUNDED, PARTIALLY_REFUNDED or CANCELLED
// depending on how much of the total the decision gives back.
func (b *Booking) Cancel(decision cancellation.Decision, reason string, now time.Time) error {
	if b.Status != StatusConfirmed {
		return cancellation.ErrNotCancellable
	}
	switch {
	case decision.Refundable.IsZero():
		b.Status = StatusCancelled
	case decision.FullRefund():
		b.Status = StatusRefunded
	default:
		b.Status = StatusPartiallyRefunded
	}
	b.UpdatedAt = now.UTC()
	b.Record(BookingCancelled{BookingID: b.ID, PropertyID: b.PropertyID, Range: b.Range, Status: b.Status, Refund: decision.Refundable, Penalty: decision.Penalty, Reason: reason, At: b.UpdatedAt})
	return nil
}

// HoldsInventory reports whether the booking still owns its ledger days.
func (b *Booking) HoldsInventory() bool {
	return b.Status == StatusPendingPayment || b.Status == StatusConfirmed
}

// Clone returns a copy without pending events.
func (b *Booking) Clone() *Booking {
	cp := *b
	cp.Policy = b.Policy.Snapshot()
	cp.EventRecorder = events.EventRecorder{}
	return &cp
}
