package policies

import (
	"context"

	"staybook/internal/domain/booking"
	"staybook/internal/domain/shared/money"
)

// RefundGateway moves funds back to the guest through the payment provider.
// reference is stable across retries so the provider can deduplicate.
type RefundGateway interface {
	Refund(ctx context.Context, reference string, bookingID booking.BookingID, amount money.Money) (providerRef string, err error)
}

// RefundDispatcher schedules the funds movement for a recorded refund. It is
// called after the cancellation committed and never undoes it.
type RefundDispatcher interface {
	Dispatch(ctx context.Context, refundID string) error
}

// SignatureVerifier authenticates raw webhook bodies per provider.
type SignatureVerifier interface {
	Verify(provider string, body []byte, signature string) error
}
