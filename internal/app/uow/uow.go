package uow

import (
	"context"

	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	domainpayments "staybook/internal/domain/payments"
)

// UnitOfWork coordinates repositories inside a transaction boundary.
type UnitOfWork interface {
	Listings() domainlistings.ListingRepository
	Ledger() domainavailability.Ledger
	Holds() domainholds.Repository
	Bookings() domainbooking.Repository
	PaymentEvents() domainpayments.EventRepository
	Refunds() domainpayments.RefundRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

type TxOptions struct {
	ReadOnly bool
}

// ContextInjector is implemented by units whose repositories read the
// transaction from the context, such as a database session.
type ContextInjector interface {
	InjectContext(ctx context.Context) context.Context
}

// TransientClassifier is implemented by factories that can tell when a failed
// unit is worth running again from scratch.
type TransientClassifier interface {
	Transient(err error) bool
}
