package payments

import (
	"context"
	"errors"
	"time"

	"staybook/internal/domain/booking"
	"staybook/internal/domain/cancellation"
	"staybook/internal/domain/shared/events"
	"staybook/internal/domain/shared/money"
)

var (
	ErrRefundNotFound = errors.New("payments: refund not found")
	ErrRefundAmount   = errors.New("payments: refund amount cannot be negative")
)

// RefundRecord is the immutable outcome of a cancellation: what is owed back
// and the policy snapshot that decided it.
type RefundRecord struct {
	ID             string
	BookingID      booking.BookingID
	Amount         money.Money
	Penalty        money.Money
	Reason         string
	PolicySnapshot cancellation.Policy
	Rationale      string
	CreatedAt      time.Time
	events.EventRecorder
}

func NewRefund(id string, b *booking.Booking, decision cancellation.Decision, reason string, now time.Time) (*RefundRecord, error) {
	if decision.Refundable.Amount < 0 {
		return nil, ErrRefundAmount
	}
	r := &RefundRecord{
		ID:             id,
		BookingID:      b.ID,
		Amount:         decision.Refundable,
		Penalty:        decision.Penalty,
		Reason:         reason,
		PolicySnapshot: b.Policy.Snapshot(),
		Rationale:      decision.Rationale,
		CreatedAt:      now.UTC(),
	}
	r.Record(RefundRecorded{RefundID: r.ID, BookingID: r.BookingID, Amount: r.Amount, Penalty: r.Penalty, Rationale: r.Rationale, At: r.CreatedAt})
	return r, nil
}

// Payable reports whether any funds have to move.
func (r *RefundRecord) Payable() bool {
	return r.Amount.Amount > 0
}

type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "SUCCEEDED"
	AttemptFailed    AttemptOutcome = "FAILED"
	AttemptExhausted AttemptOutcome = "EXHAUSTED"
)

// Final reports whether no attempt may follow this outcome.
func (o AttemptOutcome) Final() bool {
	return o == AttemptSucceeded || o == AttemptExhausted
}

// RefundAttempt logs one funds-movement try against the provider.
type RefundAttempt struct {
	RefundID    string
	Attempt     int
	Outcome     AttemptOutcome
	ProviderRef string
	Error       string
	At          time.Time
}

// Settled reports whether the attempt log closes the refund, either paid or
// given up on.
func Settled(attempts []RefundAttempt) bool {
	for _, a := range attempts {
		if a.Outcome.Final() {
			return true
		}
	}
	return false
}

// LastActivity is the time of the latest attempt, or createdAt when there is none.
func LastActivity(createdAt time.Time, attempts []RefundAttempt) time.Time {
	last := createdAt
	for _, a := range attempts {
		if a.At.After(last) {
			last = a.At
		}
	}
	return last
}

type RefundRepository interface {
	Append(ctx context.Context, refund *RefundRecord) error
	ByID(ctx context.Context, id string) (*RefundRecord, error)
	ListByBooking(ctx context.Context, bookingID booking.BookingID) ([]*RefundRecord, error)
	AppendAttempt(ctx context.Context, attempt RefundAttempt) error
	Attempts(ctx context.Context, refundID string) ([]RefundAttempt, error)
	// ListUnsettled returns payable refunds that are not Settled and saw no
	// activity after idleSince, oldest first.
	ListUnsettled(ctx context.Context, idleSince time.Time, limit int) ([]*RefundRecord, error)
}
